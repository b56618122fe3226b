package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
)

const sessionHeader = "Mcp-Session-Id"

// readSSE parses a text/event-stream body and hands each event to fn.
// Parsing stops when fn returns false or the stream ends.
func readSSE(r io.Reader, fn func(event, data string) bool) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxMessageSize)

	var event string
	var data []string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if len(data) > 0 {
				if event == "" {
					event = "message"
				}
				if !fn(event, strings.Join(data, "\n")) {
					return nil
				}
			}
			event, data = "", nil
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if len(data) > 0 {
		if event == "" {
			event = "message"
		}
		fn(event, strings.Join(data, "\n"))
	}
	return scanner.Err()
}

// httpTransport implements the streamable HTTP transport: every message is a
// POST and the server answers with JSON or a short event stream.
type httpTransport struct {
	url     string
	headers map[string]string
	client  *http.Client
	nextID  atomic.Int64

	mu        sync.Mutex
	sessionID string
}

func newHTTPTransport(cfg ServerConfig, client *http.Client) (*httpTransport, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("%s server requires a url", TransportStreamableHTTP)
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &httpTransport{url: cfg.URL, headers: cfg.Headers, client: client}, nil
}

func (t *httpTransport) session() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessionID
}

func (t *httpTransport) newRequest(ctx context.Context, method string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, t.url, body)
	if err != nil {
		return nil, err
	}
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}
	if sid := t.session(); sid != "" {
		req.Header.Set(sessionHeader, sid)
	}
	return req, nil
}

func (t *httpTransport) post(ctx context.Context, msg rpcRequest) (*http.Response, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", msg.Method, err)
	}

	req, err := t.newRequest(ctx, http.MethodPost, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post %s: %w", msg.Method, err)
	}

	if sid := resp.Header.Get(sessionHeader); sid != "" {
		t.mu.Lock()
		t.sessionID = sid
		t.mu.Unlock()
	}

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, fmt.Errorf("post %s: status %d: %s", msg.Method, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return resp, nil
}

func (t *httpTransport) call(ctx context.Context, method string, params, result any) error {
	id := t.nextID.Add(1)
	resp, err := t.post(ctx, rpcRequest{JSONRPC: "2.0", ID: &id, Method: method, Params: params})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if mediaType == "text/event-stream" {
		var found *rpcResponse
		var decodeErr error
		err := readSSE(resp.Body, func(event, data string) bool {
			if event != "message" {
				return true
			}
			var msg rpcResponse
			if err := json.Unmarshal([]byte(data), &msg); err != nil {
				decodeErr = fmt.Errorf("decode event: %w", err)
				return true
			}
			if msg.matches(id) {
				found = &msg
				return false
			}
			return true
		})
		if found != nil {
			return found.decode(result)
		}
		if err != nil {
			return fmt.Errorf("read %s stream: %w", method, err)
		}
		if decodeErr != nil {
			return decodeErr
		}
		return fmt.Errorf("%s: stream ended without a response", method)
	}

	var msg rpcResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxMessageSize)).Decode(&msg); err != nil {
		return fmt.Errorf("decode %s response: %w", method, err)
	}
	if !msg.matches(id) {
		return fmt.Errorf("%s: response id mismatch", method)
	}
	return msg.decode(result)
}

func (t *httpTransport) notify(ctx context.Context, method string, params any) error {
	resp, err := t.post(ctx, rpcRequest{JSONRPC: "2.0", Method: method, Params: params})
	if err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.Body.Close()
}

// close terminates the server-side session if one was issued.
func (t *httpTransport) close() error {
	if t.session() == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), stdioShutdownGrace)
	defer cancel()

	req, err := t.newRequest(ctx, http.MethodDelete, nil)
	if err != nil {
		return err
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	return resp.Body.Close()
}
