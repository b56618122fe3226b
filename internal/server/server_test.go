package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"
)

func testServer(t *testing.T) (*Server, net.Listener) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "ok")
	})
	srv := New(handler, Options{ShutdownTimeout: 2 * time.Second}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return srv, ln
}

func TestServe_ShutdownOrder(t *testing.T) {
	srv, ln := testServer(t)

	var mu sync.Mutex
	var order []string
	for _, name := range []string{"first", "second", "third"} {
		name := name
		srv.OnShutdown(name, func(context.Context) error {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, name)
			return nil
		})
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String())
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	_ = resp.Body.Close()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}

	if got := strings.Join(order, ","); got != "third,second,first" {
		t.Errorf("shutdown order = %s, want third,second,first", got)
	}
}

func TestServe_ShutdownErrorsJoined(t *testing.T) {
	srv, ln := testServer(t)
	boom := errors.New("boom")
	srv.OnShutdown("store", func(context.Context) error { return boom })
	srv.OnShutdown("cache", func(context.Context) error { return nil })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := srv.Serve(ctx, ln)
	if !errors.Is(err, boom) {
		t.Fatalf("Serve() error = %v, want wrapping boom", err)
	}
	if !strings.Contains(err.Error(), "store") {
		t.Errorf("error %q does not name the component", err)
	}
}
