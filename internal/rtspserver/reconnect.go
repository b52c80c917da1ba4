package rtspserver

import (
	"context"
	"log/slog"
	"time"
)

// ReconnectConfig bounds the exponential backoff applied when restarting a
// crashed RTSP server event loop. Shape and defaults are carried over from
// the stream-capture reconnect helper, repurposed here from "reconnect to
// an upstream source" to "restart our own server loop after a crash."
type ReconnectConfig struct {
	MaxRetries    int
	RetryDelay    time.Duration
	MaxRetryDelay time.Duration
}

// DefaultReconnectConfig mirrors the upstream capture-side defaults.
func DefaultReconnectConfig() ReconnectConfig {
	return ReconnectConfig{
		MaxRetries:    5,
		RetryDelay:    time.Second,
		MaxRetryDelay: 30 * time.Second,
	}
}

func calculateBackoff(attempt int, cfg ReconnectConfig) time.Duration {
	d := cfg.RetryDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= cfg.MaxRetryDelay {
			return cfg.MaxRetryDelay
		}
	}
	return d
}

// RunWithRestart runs loopFn repeatedly, applying exponential backoff
// between crashes, until ctx is cancelled or MaxRetries is exhausted.
func RunWithRestart(ctx context.Context, loopFn func(ctx context.Context) error, cfg ReconnectConfig, logger *slog.Logger) error {
	attempt := 0
	for {
		err := loopFn(ctx)
		if err == nil || ctx.Err() != nil {
			return err
		}

		attempt++
		if attempt > cfg.MaxRetries {
			return err
		}

		backoff := calculateBackoff(attempt, cfg)
		logger.Warn("rtsp server loop crashed, restarting", "attempt", attempt, "backoff", backoff, "error", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
}
