package dispatcher

import (
	"context"
	"errors"
	"time"

	"github.com/oriys/relay/internal/logging"
	"github.com/oriys/relay/internal/metrics"
	"github.com/oriys/relay/internal/observability"
	"github.com/oriys/relay/internal/router"
	"github.com/oriys/relay/internal/store"
)

// InboxDispatcher is the Inbox-lane analogue of OutboxDispatcher. The
// two differ only in which store methods fold outcomes back
// (Ack/Abandon/FailInbox vs MarkDispatched/Reschedule/Fail) and in that
// an inbox row with no registered handler is marked Dead immediately
// rather than retried, per §4.4 step 5.
type InboxDispatcher struct {
	router   *router.Router
	resolver *Resolver
	strategy SelectionStrategy
	cfg      Config
}

func NewInboxDispatcher(r *router.Router, resolver *Resolver, strategy SelectionStrategy, cfg Config) *InboxDispatcher {
	return &InboxDispatcher{router: r, resolver: resolver, strategy: strategy, cfg: cfg}
}

func (d *InboxDispatcher) Run(ctx context.Context) (int, error) {
	if ctx.Err() != nil {
		return 0, nil
	}

	handles := d.router.All()
	if len(handles) == 0 {
		return 0, nil
	}
	byKey := make(map[string]*router.Handle, len(handles))
	keys := make([]string, 0, len(handles))
	for _, h := range handles {
		byKey[h.Key] = h
		keys = append(keys, h.Key)
	}

	owner := NewOwnerToken(d.cfg.OwnerPrefix)
	order := d.strategy.Order(keys)

	remaining := d.cfg.BatchSize
	total := 0
	for _, key := range order {
		if remaining <= 0 || ctx.Err() != nil {
			break
		}
		h := byKey[key]
		if _, err := h.Inbox.ReapExpiredInbox(ctx); err != nil {
			logging.Op().Warn("reap expired inbox leases failed", "store", key, "error", err)
		}
		rows, err := h.Inbox.Claim(ctx, owner, d.cfg.LeaseDuration, remaining)
		if err != nil {
			logging.Op().Error("claim inbox batch failed", "store", key, "error", err)
			d.strategy.Record(key, false)
			metrics.Current().RecordClaim(key, "inbox", "error", 0)
			continue
		}
		d.strategy.Record(key, len(rows) > 0)
		metrics.Current().RecordClaim(key, "inbox", "ok", len(rows))
		remaining -= len(rows)

		for _, row := range rows {
			d.process(ctx, h, owner, row)
			total++
		}
	}
	return total, nil
}

func (d *InboxDispatcher) process(ctx context.Context, h *router.Handle, owner string, row *store.InboxRow) {
	ctx, span := observability.StartSpan(ctx, "inbox.process",
		observability.AttrStoreKey.String(h.Key),
		observability.AttrOwnerToken.String(owner),
		observability.AttrTopic.String(row.Topic),
		observability.AttrMessageID.String(row.MessageID),
		observability.AttrRetryCount.Int(row.Attempts),
	)
	defer span.End()
	start := time.Now()
	defer func() {
		metrics.Current().ObserveDispatchDuration(h.Key, "inbox", row.Topic, time.Since(start))
	}()

	handler, ok := d.resolver.TryResolve(row.Topic)
	if !ok {
		if err := h.Inbox.FailInbox(ctx, owner, row.MessageID, row.Source, "no handler"); err != nil {
			logging.Op().Error("fail unhandled inbox row", "store", h.Key, "id", row.MessageID, "error", err)
		}
		metrics.Current().RecordDeadLetter(h.Key, "inbox", row.Topic)
		observability.SetSpanError(span, errors.New("no handler"))
		return
	}

	msg := Message{ID: row.MessageID, Topic: row.Topic, Payload: row.Payload, Attempts: row.Attempts}
	err := handler.Handle(ctx, msg)
	if err == nil {
		if err := h.Inbox.Ack(ctx, owner, row.MessageID, row.Source); err != nil {
			logging.Op().Error("ack inbox row failed", "store", h.Key, "id", row.MessageID, "error", err)
		}
		metrics.Current().RecordAck(h.Key, "inbox", row.Topic)
		observability.SetSpanOK(span)
		return
	}

	metrics.Current().RecordHandlerError(row.Topic)
	observability.SetSpanError(span, err)

	if errors.Is(err, context.Canceled) {
		if aerr := h.Inbox.Abandon(ctx, owner, row.MessageID, row.Source, err.Error(), 0); aerr != nil {
			logging.Op().Error("abandon cancelled inbox row failed", "store", h.Key, "id", row.MessageID, "error", aerr)
		}
		metrics.Current().RecordReschedule(h.Key, "inbox", row.Topic)
		return
	}

	nextAttempt := row.Attempts + 1
	if nextAttempt > d.cfg.MaxAttempts {
		if ferr := h.Inbox.FailInbox(ctx, owner, row.MessageID, row.Source, err.Error()); ferr != nil {
			logging.Op().Error("fail exhausted inbox row failed", "store", h.Key, "id", row.MessageID, "error", ferr)
		}
		metrics.Current().RecordDeadLetter(h.Key, "inbox", row.Topic)
		return
	}
	delay := d.cfg.Backoff(row.Attempts)
	if aerr := h.Inbox.Abandon(ctx, owner, row.MessageID, row.Source, err.Error(), delay); aerr != nil {
		logging.Op().Error("abandon inbox row failed", "store", h.Key, "id", row.MessageID, "error", aerr)
	}
	metrics.Current().RecordReschedule(h.Key, "inbox", row.Topic)
}
