package realtime

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/couchcryptid/storm-watch-client/internal/observability"
)

// Supervisor keeps the feed connected. The Client itself never reconnects;
// this collaborator reruns it with exponential backoff whenever a
// connection ends in error. Subscriptions do not survive a reconnect, so
// consumers re-subscribe from their connection-status handler.
type Supervisor struct {
	client  *Client
	logger  *slog.Logger
	metrics *observability.Metrics

	initialDelay time.Duration
	maxDelay     time.Duration
}

// NewSupervisor wraps a feed client with a reconnect policy.
func NewSupervisor(client *Client, initialDelay, maxDelay time.Duration, logger *slog.Logger, metrics *observability.Metrics) *Supervisor {
	return &Supervisor{
		client:       client,
		logger:       logger,
		metrics:      metrics,
		initialDelay: initialDelay,
		maxDelay:     maxDelay,
	}
}

// Run supervises the feed until the context is cancelled or the client is
// explicitly disconnected. Each attempt blocks for the life of one
// connection; a connection that ends in error schedules the next attempt.
func (s *Supervisor) Run(ctx context.Context) error {
	retry := backoff.NewExponentialBackOff()
	retry.InitialInterval = s.initialDelay
	retry.MaxInterval = s.maxDelay
	retry.Reset()

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		runErr := s.client.Run(ctx)
		if runErr == nil {
			// Explicit disconnect; stop supervising.
			return struct{}{}, nil
		}
		if errors.Is(runErr, context.Canceled) || errors.Is(runErr, context.DeadlineExceeded) {
			return struct{}{}, backoff.Permanent(runErr)
		}
		s.metrics.Reconnects.Inc()
		return struct{}{}, runErr
	},
		backoff.WithBackOff(retry),
		backoff.WithNotify(func(err error, next time.Duration) {
			s.logger.Warn("feed connection lost, reconnecting",
				"error", err, "next_retry", next.String())
		}),
	)
	if err != nil && (ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		// Shutdown, not a supervision failure.
		return nil
	}
	return err
}
