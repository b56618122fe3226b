package mcp

import (
	"context"
	"log/slog"
	"math/rand"
	"time"
)

// Backoff between connect attempts; the last delay repeats.
var retryDelays = []time.Duration{
	250 * time.Millisecond,
	1 * time.Second,
	4 * time.Second,
}

// maxRetries caps ServerConfig.Retries.
const maxRetries = 5

// jitterFactor is the ±fraction applied to each delay.
const jitterFactor = 0.2

// retryDelay returns the wait before retry n (0-indexed).
func retryDelay(n int) time.Duration {
	if n < 0 {
		n = 0
	}
	if n >= len(retryDelays) {
		n = len(retryDelays) - 1
	}
	base := retryDelays[n]
	jitter := (rand.Float64()*2 - 1) * float64(base) * jitterFactor
	return time.Duration(float64(base) + jitter)
}

// connectWithRetry dials up to 1+cfg.Retries times. ctx bounds the whole
// sequence, waits included.
func connectWithRetry(ctx context.Context, connect ConnectFunc, name string, cfg ServerConfig, logger *slog.Logger) (*Connection, error) {
	retries := min(max(cfg.Retries, 0), maxRetries)

	var err error
	for attempt := 0; ; attempt++ {
		var conn *Connection
		conn, err = connect(ctx, name, cfg)
		if err == nil {
			return conn, nil
		}
		if attempt >= retries || ctx.Err() != nil {
			return nil, err
		}

		delay := retryDelay(attempt)
		logger.Debug("mcp server connect retry",
			"server", name,
			"attempt", attempt+1,
			"delay", delay,
			"error", err,
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, err
		case <-timer.C:
		}
	}
}
