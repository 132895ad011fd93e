package sdk

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// linearBackOff waits attempt*base before each retry.
type linearBackOff struct {
	base    time.Duration
	attempt int
}

func (l *linearBackOff) NextBackOff() time.Duration {
	l.attempt++
	return time.Duration(l.attempt) * l.base
}

func (l *linearBackOff) Reset() {
	l.attempt = 0
}

// newBackOff allows m.retryAttempts calls in total. Only the attempt count
// bounds it; ctx cancellation stops it early.
func (m *Manager) newBackOff(ctx context.Context) backoff.BackOff {
	retries := m.retryAttempts - 1
	if retries < 0 {
		retries = 0
	}
	return backoff.WithContext(
		backoff.WithMaxRetries(&linearBackOff{base: m.retryBaseDelay}, uint64(retries)),
		ctx,
	)
}
