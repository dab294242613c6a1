package dispatcher

import (
	"context"
	"time"

	"github.com/oriys/relay/internal/logging"
	"github.com/oriys/relay/internal/queue"
)

// Runner is satisfied by both OutboxDispatcher and InboxDispatcher.
type Runner interface {
	Run(ctx context.Context) (int, error)
}

// RunLoop repeatedly invokes runner.Run on pollInterval, but wakes
// early on notifier's queueType signal so a freshly enqueued row is
// picked up near-instantly instead of waiting out a full poll period.
// A Run that processes a full batch (>= the configured BatchSize, read
// from batchSize) is immediately retried without waiting, since a full
// batch implies more work may remain. notifier may be queue.NewNoopNotifier()
// for pure-polling deployments; RunLoop still converges via the ticker
// in that case.
func RunLoop(ctx context.Context, runner Runner, notifier queue.Notifier, queueType queue.QueueType, pollInterval time.Duration, batchSize int) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	wake := notifier.Subscribe(ctx, queueType)

	for {
		n, err := runner.Run(ctx)
		if err != nil {
			logging.Op().Error("dispatcher run failed", "error", err)
		}
		if ctx.Err() != nil {
			return
		}
		if batchSize > 0 && n >= batchSize {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case _, ok := <-wake:
			if !ok {
				wake = nil
			}
		case <-ticker.C:
		}
	}
}
