package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/the16thpythonist/lukas-chat-bear-sub001/internal/model"
	"github.com/the16thpythonist/lukas-chat-bear-sub001/internal/repo"
)

// TaskAction is the business logic of one recurring task. It is
// deliberately opaque to this service, which only does the run
// bookkeeping around it.
type TaskAction func(ctx context.Context) error

// CronRegistrar registers the recurring cron jobs on the trigger engine.
type CronRegistrar interface {
	AddRecurring(name, spec string, job func(ctx context.Context)) error
}

// RecurringRunner keeps the recurring-task store in step with the cron
// schedule: each fire settles the due pending run and inserts the next
// occurrence, which is what the unified view surfaces.
type RecurringRunner struct {
	repo    repo.RecurringTaskRepository
	actions map[string]TaskAction
	log     *slog.Logger

	now func() time.Time
}

func NewRecurringRunner(r repo.RecurringTaskRepository, actions map[string]TaskAction, log *slog.Logger) *RecurringRunner {
	if log == nil {
		log = slog.Default()
	}
	return &RecurringRunner{
		repo:    r,
		actions: actions,
		log:     log,
		now:     time.Now,
	}
}

// Register wires every known recurring task into the engine.
func (r *RecurringRunner) Register(engine CronRegistrar) error {
	for name, spec := range model.RecurringTaskSpecs {
		name, spec := name, spec
		if err := engine.AddRecurring(name, spec, func(ctx context.Context) {
			r.runOnce(ctx, name, spec)
		}); err != nil {
			return fmt.Errorf("register recurring task %s: %w", name, err)
		}
	}
	return nil
}

// EnsureSeeded inserts a pending next-occurrence row for any known task
// that has none, so the unified view is complete from the first start.
func (r *RecurringRunner) EnsureSeeded(ctx context.Context) error {
	for name, spec := range model.RecurringTaskSpecs {
		_, err := r.repo.NextPendingByTask(ctx, name)
		if err == nil {
			continue
		}
		if !errors.Is(err, repo.ErrNotFound) {
			return fmt.Errorf("check pending run for %s: %w", name, err)
		}
		next, err := nextFire(spec, r.now())
		if err != nil {
			return fmt.Errorf("parse spec for %s: %w", name, err)
		}
		run := &model.RecurringTaskRun{TaskName: name, ScheduledTime: next}
		if err := r.repo.InsertRun(ctx, run); err != nil {
			return err
		}
		r.log.Info("seeded recurring task run", "task", name, "scheduled_time", next)
	}
	return nil
}

// runOnce is invoked by the engine at each cron fire.
func (r *RecurringRunner) runOnce(ctx context.Context, name, spec string) {
	log := r.log.With("task", name)

	due, err := r.repo.NextPendingByTask(ctx, name)
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		log.Error("could not read due run", "error", err)
		return
	}

	var actionErr error
	if action, ok := r.actions[name]; ok && action != nil {
		actionErr = action(ctx)
	}

	if due != nil {
		if actionErr != nil {
			if _, err := r.repo.MarkRunFailed(ctx, due.ID, actionErr.Error()); err != nil {
				log.Error("could not mark run failed", "error", err)
			}
			log.Warn("recurring task failed", "error", actionErr)
		} else {
			if _, err := r.repo.MarkRunCompleted(ctx, due.ID, "ran on schedule"); err != nil {
				log.Error("could not mark run completed", "error", err)
			}
			log.Info("recurring task completed")
		}
	}

	next, err := nextFire(spec, r.now())
	if err != nil {
		log.Error("could not compute next fire time", "error", err)
		return
	}
	run := &model.RecurringTaskRun{TaskName: name, ScheduledTime: next}
	if err := r.repo.InsertRun(ctx, run); err != nil {
		log.Error("could not insert next run", "error", err)
	}
}

func nextFire(spec string, after time.Time) (time.Time, error) {
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(after).UTC(), nil
}
