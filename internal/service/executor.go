package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/the16thpythonist/lukas-chat-bear-sub001/internal/cache"
	"github.com/the16thpythonist/lukas-chat-bear-sub001/internal/model"
	"github.com/the16thpythonist/lukas-chat-bear-sub001/internal/repo"
)

// ExecutorDeps are constructor functions, not live handles. The
// execution callback may run in a process other than the one that
// registered the trigger, so every invocation resolves a fresh store
// and delivery client instead of closing over anything.
type ExecutorDeps struct {
	OpenStore   func() (repo.EventRepository, func() error, error)
	NewDelivery func() DeliveryClient
	NewReceipts func() cache.ReceiptCache // may return nil: caching disabled
}

// Executor owns the pending→terminal transition fired by the trigger
// engine. Nothing it does may propagate an error back into the engine's
// run loop; every failure ends here, in the record or in the log.
type Executor struct {
	deps ExecutorDeps
	log  *slog.Logger

	now func() time.Time
}

func NewExecutor(deps ExecutorDeps, log *slog.Logger) *Executor {
	if log == nil {
		log = slog.Default()
	}
	return &Executor{deps: deps, log: log, now: time.Now}
}

// Handle is the trigger.Handler registered at bootstrap. The job id is
// the only input; anything that cannot be derived from it is resolved
// fresh inside Execute.
func (x *Executor) Handle(ctx context.Context, jobID string) {
	eventID, ok := model.EventIDFromJobID(jobID)
	if !ok {
		x.log.Warn("ignoring trigger with unrecognized job id", "job_id", jobID)
		return
	}
	x.Execute(ctx, eventID)
}

// Execute delivers the event's message and writes the terminal status.
func (x *Executor) Execute(ctx context.Context, eventID int64) {
	corrID := uuid.NewString()
	log := x.log.With("event_id", eventID, "execution_id", corrID)

	store, closeStore, err := x.deps.OpenStore()
	if err != nil {
		log.Error("executor could not open store", "error", err)
		return
	}
	defer func() {
		if err := closeStore(); err != nil {
			log.Warn("failed to close executor store", "error", err)
		}
	}()

	ev, err := store.GetByID(ctx, eventID)
	if errors.Is(err, repo.ErrNotFound) {
		log.Warn("event vanished before execution, nothing to do")
		return
	}
	if err != nil {
		log.Error("executor could not read event", "error", err)
		return
	}

	// Idempotency guard: a second invocation (overlapping scheduler
	// instance, replayed trigger) observes the terminal status and
	// becomes a no-op instead of a double send.
	if ev.Status != model.Pending {
		log.Info("event already settled, skipping", "status", string(ev.Status))
		return
	}

	res, err := x.deps.NewDelivery().SendMessage(ctx, ev.TargetChannelID, ev.Message)
	if err != nil {
		log.Warn("delivery transport error", "error", err)
		x.markFailed(ctx, log, store, eventID, err.Error())
		return
	}
	if !res.OK {
		log.Warn("channel rejected message", "channel_error", res.Error)
		x.markFailed(ctx, log, store, eventID, res.Error)
		return
	}

	changed, err := store.MarkCompleted(ctx, eventID)
	if err != nil {
		// The message went out but the write failed; one attempt, then
		// swallow. Surfacing this would destabilize the engine.
		log.Error("failed to mark event completed", "error", err)
		return
	}
	if !changed {
		log.Warn("lost completion race, another writer settled the event first")
		return
	}

	log.Info("event delivered",
		"channel_id", ev.TargetChannelID,
		"delivery_id", res.DeliveryID,
	)

	if x.deps.NewReceipts == nil {
		return
	}
	if receipts := x.deps.NewReceipts(); receipts != nil {
		if err := receipts.StoreReceipt(ctx, eventID, res.DeliveryID, x.now()); err != nil {
			log.Warn("failed to cache delivery receipt", "error", err)
		}
	}
}

func (x *Executor) markFailed(ctx context.Context, log *slog.Logger, store repo.EventRepository, eventID int64, reason string) {
	changed, err := store.MarkFailed(ctx, eventID, reason)
	if err != nil {
		log.Error("failed to mark event failed", "error", err)
		return
	}
	if !changed {
		log.Warn("lost failure race, another writer settled the event first")
	}
}
