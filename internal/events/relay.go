package events

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"stockbot/internal/ledger"
)

// Handler consumes events. Errors are logged by the relay and do not block
// delivery to other handlers.
type Handler interface {
	Handle(ctx context.Context, ev Event) error
}

type HandlerFunc func(ctx context.Context, ev Event) error

func (f HandlerFunc) Handle(ctx context.Context, ev Event) error {
	return f(ctx, ev)
}

const markTimeout = 5 * time.Second

type Relay struct {
	store     ledger.Store
	log       *slog.Logger
	handlers  []Handler
	batchSize int
	observe   func(kind Kind, err error)
}

type RelayOption func(*Relay)

func WithBatchSize(n int) RelayOption {
	return func(r *Relay) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

// WithObserver registers a callback invoked once per handled event, used for
// metrics.
func WithObserver(fn func(kind Kind, err error)) RelayOption {
	return func(r *Relay) {
		r.observe = fn
	}
}

func NewRelay(store ledger.Store, logger *slog.Logger, handlers []Handler, opts ...RelayOption) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Relay{
		store:     store,
		log:       logger,
		handlers:  handlers,
		batchSize: 100,
		observe:   func(Kind, error) {},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Flush delivers one batch of pending events and returns how many were
// marked delivered. Handlers run outside any store transaction; a crash
// between dispatch and marking redelivers the batch.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	var rows []ledger.OutboxEvent
	err := r.store.WithTx(ctx, func(tx ledger.Tx) error {
		var err error
		rows, err = tx.PendingEvents(ctx, r.batchSize)
		return err
	})
	if err != nil || len(rows) == 0 {
		return 0, err
	}

	ids := make([]int64, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID)
		ev, err := Decode(row)
		if err != nil {
			r.log.Error("drop undecodable event", "event_id", row.ID, "kind", row.Kind, "err", err)
			continue
		}
		r.dispatch(ctx, row.ID, ev)
	}

	// Marking outlives ctx cancellation once handlers have run.
	markCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), markTimeout)
	defer cancel()
	err = r.store.WithTx(markCtx, func(tx ledger.Tx) error {
		return tx.MarkDelivered(markCtx, ids)
	})
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

func (r *Relay) dispatch(ctx context.Context, id int64, ev Event) {
	for _, h := range r.handlers {
		err := h.Handle(ctx, ev)
		r.observe(ev.Kind(), err)
		if err != nil {
			r.log.Error("event handler failed", "event_id", id, "kind", ev.Kind(), "err", err)
		}
	}
}

// Run flushes on every tick until ctx is done. A full batch is followed by
// an immediate flush to drain backlogs.
func (r *Relay) Run(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for {
				n, err := r.Flush(ctx)
				if err != nil {
					if !errors.Is(err, context.Canceled) {
						r.log.Warn("outbox flush failed", "err", err)
					}
					break
				}
				if n < r.batchSize {
					break
				}
			}
		}
	}
}
