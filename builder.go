package goAuthClient

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/goAuthClient/kvstore"
	"github.com/MrEthical07/goAuthClient/transport"
)

// Builder assembles a Client. Builders are single-use.
type Builder struct {
	config Config

	redis      redis.UniversalClient
	store      kvstore.Store
	persistent kvstore.Store
	httpClient *http.Client
	doer       transport.Doer
	csrf       transport.CSRFAccessor
	auditSink  AuditSink
	logger     *slog.Logger
	now        func() time.Time

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

// WithBaseURL overrides API.BaseURL.
func (b *Builder) WithBaseURL(baseURL string) *Builder {
	b.config.API.BaseURL = baseURL
	return b
}

// WithRedis stores attempt records in Redis, overriding Store.Backend.
// The caller keeps ownership of client.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithStore injects the session-scoped store used by the attempt guards.
func (b *Builder) WithStore(store kvstore.Store) *Builder {
	b.store = store
	return b
}

// WithPersistentStore injects the durable store used for the remember-me
// flag. Defaults to the attempt store.
func (b *Builder) WithPersistentStore(store kvstore.Store) *Builder {
	b.persistent = store
	return b
}

// WithHTTPClient supplies the HTTP client; its Jar carries the refresh and
// CSRF cookies.
func (b *Builder) WithHTTPClient(client *http.Client) *Builder {
	b.httpClient = client
	return b
}

// WithDoer replaces request execution, e.g. with a fake in tests.
func (b *Builder) WithDoer(doer transport.Doer) *Builder {
	b.doer = doer
	return b
}

func (b *Builder) WithCSRF(csrf transport.CSRFAccessor) *Builder {
	b.csrf = csrf
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithClock overrides the time source for lockouts and token expiry.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires the client.
func (b *Builder) Build() (*Client, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := b.config
	if b.redis != nil || b.store != nil {
		// An injected store makes the address settings irrelevant.
		cfg.Store.Backend = StoreMemory
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.redis != nil {
		cfg.Store.Backend = StoreRedis
	}

	logger := b.logger
	if logger == nil {
		var err error
		logger, err = NewLogger(cfg.Logging, nil)
		if err != nil {
			return nil, err
		}
	}
	now := b.now
	if now == nil {
		now = time.Now
	}

	c := &Client{config: cfg, logger: logger}

	// -------- STORES --------
	store := b.store
	if store == nil {
		switch {
		case b.redis != nil:
			store = kvstore.NewRedis(b.redis, cfg.Store.Prefix)
		case cfg.Store.Backend == StoreRedis:
			rdb := redis.NewClient(&redis.Options{
				Addr:     cfg.Store.RedisAddr,
				Password: cfg.Store.RedisPassword,
				DB:       cfg.Store.RedisDB,
			})
			c.ownedRedis = rdb
			store = kvstore.NewRedis(rdb, cfg.Store.Prefix)
		default:
			store = kvstore.NewMemory()
		}
	}
	persistent := b.persistent
	if persistent == nil {
		persistent = store
	}

	// -------- TRANSPORT --------
	httpClient, err := transport.New(transport.Config{
		BaseURL:        cfg.API.BaseURL,
		HTTPClient:     b.httpClient,
		Doer:           b.doer,
		CSRF:           b.csrf,
		CSRFCookieName: cfg.API.CSRFCookie,
		CSRFHeaderName: cfg.API.CSRFHeader,
		RefreshPath:    cfg.Endpoints.Refresh,
		Timeout:        cfg.API.Timeout,
		UserAgent:      cfg.API.UserAgent,
		Logger:         logger,
	})
	if err != nil {
		c.closeRedis()
		return nil, err
	}
	c.http = httpClient

	// -------- OBSERVABILITY --------
	c.metrics = NewMetrics(cfg.Metrics)
	c.audit = newAuditRelay(cfg.Audit, b.auditSink)
	emitter := auditEmitter{relay: c.audit}

	// -------- SESSION & GUARDS --------
	c.session = newSessionManager(httpClient, cfg, logger, c.metrics, emitter, now)
	c.guard = NewBruteForceGuard(store, cfg.Guard, now)
	c.guard.logger = logger
	c.mfaGuard = NewBruteForceGuard(store, cfg.MFAGuard, now)
	c.mfaGuard.logger = logger
	c.remember = NewRememberMe(persistent, cfg.Flow.RememberMeKey)

	b.built = true
	return c, nil
}
