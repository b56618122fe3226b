package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"
)

// ErrConnectionClosed is returned when the server goes away mid-call.
var ErrConnectionClosed = errors.New("mcp connection closed")

const (
	maxMessageSize     = 4 * 1024 * 1024
	stdioShutdownGrace = 2 * time.Second
)

// transport carries JSON-RPC messages to a server.
type transport interface {
	call(ctx context.Context, method string, params, result any) error
	notify(ctx context.Context, method string, params any) error
	close() error
}

// stdioTransport talks newline-delimited JSON-RPC to a child process.
type stdioTransport struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	nextID atomic.Int64

	// done is closed when stdout reaches EOF.
	done chan struct{}

	// wmu serializes writes to stdin.
	wmu       sync.Mutex
	mu        sync.Mutex
	pending   map[int64]chan rpcResponse
	closeOnce sync.Once
}

// startStdio spawns the server process. The process is not bound to ctx so it
// outlives the request that created it.
func startStdio(cfg ServerConfig) (*stdioTransport, error) {
	if cfg.Command == "" {
		return nil, errors.New("stdio server requires a command")
	}

	cmd := exec.Command(cfg.Command, cfg.Args...)
	cmd.Env = os.Environ()
	for k, v := range cfg.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	cmd.Stderr = io.Discard

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", cfg.Command, err)
	}

	t := &stdioTransport{
		cmd:     cmd,
		stdin:   stdin,
		done:    make(chan struct{}),
		pending: make(map[int64]chan rpcResponse),
	}
	go t.readLoop(stdout)

	return t, nil
}

// readLoop hands each response to the call waiting on its id. Anything else,
// including server notifications, is dropped so stdout never backs up.
func (t *stdioTransport) readLoop(r io.Reader) {
	defer close(t.done)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxMessageSize)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var msg rpcResponse
		if err := json.Unmarshal(line, &msg); err != nil || msg.Method != "" || len(msg.ID) == 0 {
			continue
		}
		var id int64
		if err := json.Unmarshal(msg.ID, &id); err != nil {
			continue
		}

		t.mu.Lock()
		ch, ok := t.pending[id]
		delete(t.pending, id)
		t.mu.Unlock()
		if ok {
			ch <- msg
		}
	}
}

func (t *stdioTransport) write(msg rpcRequest) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", msg.Method, err)
	}
	data = append(data, '\n')

	t.wmu.Lock()
	defer t.wmu.Unlock()
	if _, err := t.stdin.Write(data); err != nil {
		return fmt.Errorf("write %s: %w", msg.Method, err)
	}
	return nil
}

func (t *stdioTransport) call(ctx context.Context, method string, params, result any) error {
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

	if err := t.write(rpcRequest{JSONRPC: "2.0", ID: &id, Method: method, Params: params}); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case msg := <-ch:
		return msg.decode(result)
	case <-t.done:
		// A response may have been dispatched just before EOF.
		select {
		case msg := <-ch:
			return msg.decode(result)
		default:
			return ErrConnectionClosed
		}
	}
}

func (t *stdioTransport) notify(ctx context.Context, method string, params any) error {
	return t.write(rpcRequest{JSONRPC: "2.0", Method: method, Params: params})
}

func (t *stdioTransport) close() error {
	t.closeOnce.Do(func() {
		_ = t.stdin.Close()

		done := make(chan struct{})
		go func() {
			_ = t.cmd.Wait()
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(stdioShutdownGrace):
			_ = t.cmd.Process.Kill()
			<-done
		}
		// Wait closes stdout, which ends readLoop.
		<-t.done
	})
	return nil
}
