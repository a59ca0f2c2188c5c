// goauthctl signs in to the asset console backend from a terminal, using
// the same session and login-flow logic as the console itself. It is handy
// for checking a deployment's auth endpoints and for scripting calls that
// need a bearer token.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"
	"golang.org/x/term"

	goAuthClient "github.com/MrEthical07/goAuthClient"
	"github.com/MrEthical07/goAuthClient/metrics/export/prometheus"
	"github.com/MrEthical07/goAuthClient/transport"
)

type options struct {
	configPath   string
	baseURL      string
	email        string
	passwordFile string
	redisAddr    string
	logLevel     string
	logFormat    string
	get          string
	remember     bool
	logout       bool
	printToken   bool
	printMetrics bool
}

func main() {
	if err := run(); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var opts options
	flagSet := pflag.NewFlagSet("goauthctl", pflag.ContinueOnError)
	flagSet.StringVarP(&opts.configPath, "config", "c", "", "YAML config file (defaults apply when empty)")
	flagSet.StringVar(&opts.baseURL, "base-url", "", "API base URL, overriding the config")
	flagSet.StringVarP(&opts.email, "email", "e", "", "account email; prompted when empty")
	flagSet.StringVar(&opts.passwordFile, "password-file", "", "read the password from this file instead of prompting")
	flagSet.StringVar(&opts.redisAddr, "redis-addr", "", "share attempt counters through this Redis")
	flagSet.StringVar(&opts.logLevel, "log-level", "", "debug, info, warn or error")
	flagSet.StringVar(&opts.logFormat, "log-format", "", "text or json")
	flagSet.StringVar(&opts.get, "get", "", "after signing in, GET this API path and print the JSON body")
	flagSet.BoolVar(&opts.remember, "remember", false, "persist the remember-me preference")
	flagSet.BoolVar(&opts.logout, "logout", false, "log out before exiting")
	flagSet.BoolVar(&opts.printToken, "print-token", false, "print the access token to stdout")
	flagSet.BoolVar(&opts.printMetrics, "metrics", false, "print client metrics in Prometheus format before exiting")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		return err
	}

	cfg := goAuthClient.DefaultConfig()
	if opts.configPath != "" {
		loaded, err := goAuthClient.LoadConfig(opts.configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if opts.baseURL != "" {
		cfg.API.BaseURL = opts.baseURL
	}
	if opts.logLevel != "" {
		cfg.Logging.Level = opts.logLevel
	}
	if opts.logFormat != "" {
		cfg.Logging.Format = opts.logFormat
	}

	logger, err := goAuthClient.NewLogger(cfg.Logging, os.Stderr)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	runID := uuid.NewString()
	ctx = goAuthClient.WithRequestID(ctx, runID)
	logger = logger.With("run_id", runID)

	builder := goAuthClient.New().
		WithConfig(cfg).
		WithLogger(logger).
		WithAuditSink(goAuthClient.NewSlogSink(logger))
	if opts.redisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: opts.redisAddr})
		defer rdb.Close()
		builder.WithRedis(rdb)
	}
	client, err := builder.Build()
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.Bootstrap(ctx); err != nil {
		logger.Warn("could not restore a session", "error", err)
	}

	if !client.Session().IsAuthenticated() {
		if err := interactiveLogin(ctx, client, opts, logger); err != nil {
			return err
		}
	}

	user := client.Session().User()
	fmt.Fprintf(os.Stderr, "signed in as %s (%s)\n", user.Email, user.ID)
	if opts.printToken {
		fmt.Println(client.Session().State().AccessToken)
	}

	if opts.get != "" {
		var body json.RawMessage
		if err := client.Do(ctx, transport.Request{Method: http.MethodGet, Path: opts.get}, &body); err != nil {
			return fmt.Errorf("GET %s: %s", opts.get, goAuthClient.Message(err))
		}
		if err := printJSON(os.Stdout, body); err != nil {
			return err
		}
	}

	if opts.logout {
		if err := client.Logout(ctx); err != nil {
			return err
		}
		fmt.Fprintln(os.Stderr, "logged out")
	}
	if opts.printMetrics {
		fmt.Print(prometheus.NewPrometheusExporter(client).Render())
	}
	return nil
}

func interactiveLogin(ctx context.Context, client *goAuthClient.Client, opts options, logger *slog.Logger) error {
	stdin := bufio.NewReader(os.Stdin)
	flow := client.NewLoginFlow(ctx)
	if opts.remember {
		flow.SetRememberMe(true)
	}

	email := opts.email
	for {
		if email == "" {
			line, err := prompt(stdin, "Email: ")
			if err != nil {
				return err
			}
			email = line
		}
		if err := flow.SubmitIdentifier(ctx, email); err != nil {
			if errors.Is(err, goAuthClient.ErrLockout) || opts.email != "" {
				return errors.New(flow.Snapshot().Error)
			}
			fmt.Fprintln(os.Stderr, flow.Snapshot().Error)
			email = ""
			continue
		}
		break
	}

	for {
		password, err := readPassword(opts.passwordFile)
		if err != nil {
			return err
		}
		outcome, err := flow.SubmitPassword(ctx, password)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			snap := flow.Snapshot()
			if snap.Locked(time.Now()) || snap.PasswordExpired || opts.passwordFile != "" {
				return errors.New(snap.Error)
			}
			fmt.Fprintln(os.Stderr, snap.Error)
			continue
		}
		if outcome.Kind == goAuthClient.OutcomeAuthenticated {
			return nil
		}
		break
	}

	fmt.Fprintln(os.Stderr, "Enter the code from your authenticator app (\"resend\" for a new code).")
	for {
		code, err := prompt(stdin, "Code: ")
		if err != nil {
			return err
		}
		if strings.EqualFold(code, "resend") {
			if err := flow.ResendMFA(ctx); err != nil {
				logger.Warn("resend failed", "error", err)
				fmt.Fprintln(os.Stderr, flow.Snapshot().Error)
				continue
			}
			fmt.Fprintln(os.Stderr, flow.Snapshot().Notice)
			continue
		}
		if _, err := flow.SubmitMFA(ctx, code); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			snap := flow.Snapshot()
			if errors.Is(err, goAuthClient.ErrLockout) {
				return errors.New(snap.Error)
			}
			fmt.Fprintln(os.Stderr, snap.Error)
			continue
		}
		return nil
	}
}

func prompt(r *bufio.Reader, label string) (string, error) {
	fmt.Fprint(os.Stderr, label)
	line, err := r.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", fmt.Errorf("reading input: %w", err)
	}
	return strings.TrimSpace(line), nil
}

// readPassword prompts on the terminal with echo disabled, or reads path
// when given.
func readPassword(path string) (string, error) {
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("reading %s: %w", path, err)
		}
		return strings.TrimRight(string(data), "\r\n"), nil
	}

	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errors.New("no terminal available for the password prompt (use --password-file)")
	}
	fmt.Fprint(os.Stderr, "Password: ")
	raw, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return string(raw), nil
}

func printJSON(w io.Writer, raw json.RawMessage) error {
	if len(raw) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		_, err = w.Write(raw)
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
