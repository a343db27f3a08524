package startup

import (
	"context"
	"fmt"
	"time"

	"github.com/campuschat/internal/logger"
)

const maxBackoff = 30 * time.Second

// withRetry повторяет connect с экспоненциальной задержкой, пока не истечёт maxWait:
// при недоступности хранилища на старте процесс не падает сразу.
func withRetry(ctx context.Context, what string, maxWait, backoff time.Duration, connect func(context.Context) error) error {
	deadline := time.Now().Add(maxWait)
	for {
		err := connect(ctx)
		if err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%s (gave up after %v): %w", what, maxWait, err)
		}
		logger.Errorf("%s failed, retry in %v: %v", what, backoff, err)
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s: %w", what, ctx.Err())
		case <-time.After(backoff):
		}
		if backoff < maxBackoff {
			backoff *= 2
		}
	}
}
