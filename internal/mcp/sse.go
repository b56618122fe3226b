package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
)

// sseTransport implements the legacy HTTP+SSE transport: responses arrive on
// a long-lived GET stream, requests are POSTed to the endpoint it announces.
type sseTransport struct {
	headers  map[string]string
	client   *http.Client
	endpoint string
	nextID   atomic.Int64

	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	pending map[int64]chan rpcResponse
	err     error
}

func startSSE(ctx context.Context, cfg ServerConfig, client *http.Client) (*sseTransport, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("%s server requires a url", TransportSSE)
	}
	base, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	if client == nil {
		client = http.DefaultClient
	}

	// The stream lives until close, independent of the caller's ctx and of
	// client.Timeout, which would otherwise cut the body read short.
	stream := *client
	stream.Timeout = 0

	streamCtx, cancel := context.WithCancel(context.Background())
	// Until the endpoint event arrives the handshake is bound by ctx.
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, cfg.URL, nil)
	if err != nil {
		cancel()
		return nil, err
	}
	for k, v := range cfg.Headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := stream.Do(req)
	if err != nil {
		cancel()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("open stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("open stream: status %d", resp.StatusCode)
	}

	t := &sseTransport{
		headers: cfg.Headers,
		client:  client,
		cancel:  cancel,
		done:    make(chan struct{}),
		pending: make(map[int64]chan rpcResponse),
	}

	endpoint := make(chan string, 1)
	go t.readLoop(resp.Body, endpoint)

	select {
	case <-ctx.Done():
		t.close()
		return nil, ctx.Err()
	case <-t.done:
		return nil, fmt.Errorf("stream closed before endpoint event: %w", t.failure())
	case ep := <-endpoint:
		ref, err := url.Parse(ep)
		if err != nil {
			t.close()
			return nil, fmt.Errorf("parse endpoint: %w", err)
		}
		t.endpoint = base.ResolveReference(ref).String()
	}
	if !stop() {
		t.close()
		return nil, ctx.Err()
	}

	return t, nil
}

func (t *sseTransport) readLoop(body io.ReadCloser, endpoint chan<- string) {
	defer close(t.done)
	defer body.Close()

	sent := false
	err := readSSE(body, func(event, data string) bool {
		switch event {
		case "endpoint":
			if !sent {
				endpoint <- data
				sent = true
			}
		case "message":
			var msg rpcResponse
			if err := json.Unmarshal([]byte(data), &msg); err != nil || msg.Method != "" {
				return true
			}
			id, err := strconv.ParseInt(string(msg.ID), 10, 64)
			if err != nil {
				return true
			}
			t.mu.Lock()
			ch, ok := t.pending[id]
			delete(t.pending, id)
			t.mu.Unlock()
			if ok {
				ch <- msg
			}
		}
		return true
	})

	t.mu.Lock()
	if err == nil {
		err = ErrConnectionClosed
	}
	t.err = err
	t.mu.Unlock()
}

func (t *sseTransport) failure() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.err == nil {
		return ErrConnectionClosed
	}
	return t.err
}

func (t *sseTransport) post(ctx context.Context, msg rpcRequest) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", msg.Method, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(data))
	if err != nil {
		return err
	}
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", msg.Method, err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("post %s: status %d", msg.Method, resp.StatusCode)
	}
	return nil
}

func (t *sseTransport) call(ctx context.Context, method string, params, result any) error {
	id := t.nextID.Add(1)
	ch := make(chan rpcResponse, 1)

	t.mu.Lock()
	t.pending[id] = ch
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		delete(t.pending, id)
		t.mu.Unlock()
	}()

	if err := t.post(ctx, rpcRequest{JSONRPC: "2.0", ID: &id, Method: method, Params: params}); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.done:
		if err := t.failure(); !errors.Is(err, ErrConnectionClosed) {
			return fmt.Errorf("%w: %v", ErrConnectionClosed, err)
		}
		return ErrConnectionClosed
	case msg := <-ch:
		return msg.decode(result)
	}
}

func (t *sseTransport) notify(ctx context.Context, method string, params any) error {
	return t.post(ctx, rpcRequest{JSONRPC: "2.0", Method: method, Params: params})
}

func (t *sseTransport) close() error {
	t.cancel()
	<-t.done
	return nil
}
