package goAuthClient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/MrEthical07/goAuthClient/transport"
)

func TestWithRequestIDPinsHeader(t *testing.T) {
	var (
		mu   sync.Mutex
		seen []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen = append(seen, r.Header.Get(transport.RequestIDHeader))
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{}`))
	}))
	t.Cleanup(srv.Close)

	client, err := New().WithBaseURL(srv.URL).WithLogger(discardLogger()).Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	ctx := WithRequestID(context.Background(), "run-7")
	for i := 0; i < 2; i++ {
		if err := client.Do(ctx, transport.Request{Method: http.MethodGet, Path: "/items"}, nil); err != nil {
			t.Fatalf("do: %v", err)
		}
	}
	if err := client.Do(context.Background(), transport.Request{Method: http.MethodGet, Path: "/items"}, nil); err != nil {
		t.Fatalf("do: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 3 {
		t.Fatalf("expected 3 requests, got %d", len(seen))
	}
	if seen[0] != "run-7" || seen[1] != "run-7" {
		t.Fatalf("pinned request id not sent: %v", seen)
	}
	if seen[2] == "" || seen[2] == "run-7" {
		t.Fatalf("expected a fresh request id without the pin, got %q", seen[2])
	}
}
