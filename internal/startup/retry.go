// Package startup connects to the backing services, retrying while they come up.
package startup

import (
	"context"
	"fmt"
	"time"

	"github.com/supportchat/internal/logger"
)

const maxBackoff = 30 * time.Second

var initialBackoff = 2 * time.Second

// retry calls attempt until it succeeds or maxWait has passed, doubling the pause up to 30s.
func retry(ctx context.Context, what string, maxWait time.Duration, attempt func(ctx context.Context) error) error {
	deadline := time.Now().Add(maxWait)
	backoff := initialBackoff
	for {
		err := attempt(ctx)
		if err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%s (gave up after %v): %w", what, maxWait, err)
		}
		logger.Warnf("%s failed, retry in %v: %v", what, backoff, err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		if backoff < maxBackoff {
			backoff *= 2
		}
	}
}
