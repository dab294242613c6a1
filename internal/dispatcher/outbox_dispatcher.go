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

// OutboxDispatcher runs one multi-store claim/resolve/ack/retry Run
// against the Router's current store set, implementing §4.4 for the
// Outbox lane.
type OutboxDispatcher struct {
	router   *router.Router
	resolver *Resolver
	strategy SelectionStrategy
	cfg      Config
}

// NewOutboxDispatcher wires a Router, Resolver, and SelectionStrategy
// into a single Outbox dispatcher.
func NewOutboxDispatcher(r *router.Router, resolver *Resolver, strategy SelectionStrategy, cfg Config) *OutboxDispatcher {
	return &OutboxDispatcher{router: r, resolver: resolver, strategy: strategy, cfg: cfg}
}

// Run performs one dispatcher Run: mint a fresh owner token, order the
// live stores by the configured SelectionStrategy, claim up to
// BatchSize rows total across them, resolve each by topic, invoke its
// handler, and fold the outcome back into Ack/Reschedule/Fail. Returns
// the total number of rows processed. Cancellation observed before the
// first Claim ends the Run cleanly with zero processed.
func (d *OutboxDispatcher) Run(ctx context.Context) (int, error) {
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
		if _, err := h.Outbox.ReapExpired(ctx); err != nil {
			logging.Op().Warn("reap expired outbox leases failed", "store", key, "error", err)
		}
		rows, err := h.Outbox.ClaimDue(ctx, remaining, owner, d.cfg.LeaseDuration)
		if err != nil {
			logging.Op().Error("claim outbox batch failed", "store", key, "error", err)
			d.strategy.Record(key, false)
			metrics.Current().RecordClaim(key, "outbox", "error", 0)
			continue
		}
		d.strategy.Record(key, len(rows) > 0)
		metrics.Current().RecordClaim(key, "outbox", "ok", len(rows))
		remaining -= len(rows)

		for _, row := range rows {
			d.process(ctx, h, owner, row)
			total++
		}
	}
	return total, nil
}

func (d *OutboxDispatcher) process(ctx context.Context, h *router.Handle, owner string, row *store.OutboxRow) {
	ctx, span := observability.StartSpan(ctx, "outbox.process",
		observability.AttrStoreKey.String(h.Key),
		observability.AttrOwnerToken.String(owner),
		observability.AttrTopic.String(row.Topic),
		observability.AttrMessageID.String(row.ID),
		observability.AttrRetryCount.Int(row.RetryCount),
	)
	defer span.End()
	start := time.Now()
	defer func() {
		metrics.Current().ObserveDispatchDuration(h.Key, "outbox", row.Topic, time.Since(start))
	}()

	handler, ok := d.resolver.TryResolve(row.Topic)
	if !ok {
		if err := h.Outbox.Fail(ctx, row.ID, owner, "no handler"); err != nil {
			logging.Op().Error("fail unhandled outbox row", "store", h.Key, "id", row.ID, "error", err)
		}
		metrics.Current().RecordDeadLetter(h.Key, "outbox", row.Topic)
		observability.SetSpanError(span, errors.New("no handler"))
		return
	}

	msg := Message{ID: row.ID, Topic: row.Topic, Payload: row.Payload, Attempts: row.RetryCount}
	err := handler.Handle(ctx, msg)
	if err == nil {
		if err := h.Outbox.MarkDispatched(ctx, row.ID, owner); err != nil {
			logging.Op().Error("mark outbox dispatched failed", "store", h.Key, "id", row.ID, "error", err)
		}
		metrics.Current().RecordAck(h.Key, "outbox", row.Topic)
		observability.SetSpanOK(span)
		d.completeJoinIfChild(ctx, h, row, false)
		return
	}

	metrics.Current().RecordHandlerError(row.Topic)
	observability.SetSpanError(span, err)

	if errors.Is(err, context.Canceled) {
		if rerr := h.Outbox.Reschedule(ctx, row.ID, owner, 0, err.Error()); rerr != nil {
			logging.Op().Error("reschedule cancelled outbox row failed", "store", h.Key, "id", row.ID, "error", rerr)
		}
		metrics.Current().RecordReschedule(h.Key, "outbox", row.Topic)
		return
	}

	nextAttempt := row.RetryCount + 1
	if nextAttempt > d.cfg.MaxAttempts {
		if ferr := h.Outbox.Fail(ctx, row.ID, owner, err.Error()); ferr != nil {
			logging.Op().Error("fail exhausted outbox row failed", "store", h.Key, "id", row.ID, "error", ferr)
		}
		metrics.Current().RecordDeadLetter(h.Key, "outbox", row.Topic)
		d.completeJoinIfChild(ctx, h, row, true)
		return
	}
	delay := d.cfg.Backoff(row.RetryCount)
	if rerr := h.Outbox.Reschedule(ctx, row.ID, owner, delay, err.Error()); rerr != nil {
		logging.Op().Error("reschedule outbox row failed", "store", h.Key, "id", row.ID, "error", rerr)
	}
	metrics.Current().RecordReschedule(h.Key, "outbox", row.Topic)
}

// completeJoinIfChild notifies the join coordinator when a just-terminated
// row is a fan-out child (§4.3): a reschedule or lease-expiry reset never
// reaches here, only the two terminal outcomes (Done via MarkDispatched,
// Failed via Fail) do, matching the spec's "a child reset from InFlight to
// Ready does not count toward completion".
func (d *OutboxDispatcher) completeJoinIfChild(ctx context.Context, h *router.Handle, row *store.OutboxRow, failed bool) {
	if row.JoinID == nil || row.Topic == store.JoinWaitTopic {
		return
	}
	if err := h.Raw.CompleteJoinChild(ctx, *row.JoinID, failed); err != nil {
		logging.Op().Error("complete join child failed", "store", h.Key, "join_id", *row.JoinID, "id", row.ID, "error", err)
	}
}
