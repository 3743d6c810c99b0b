package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/the16thpythonist/lukas-chat-bear-sub001/internal/model"
	"github.com/the16thpythonist/lukas-chat-bear-sub001/internal/repo"
)

var ErrUnknownRecurringTask = errors.New("unknown recurring task")

// RecurringEngine is the slice of the trigger engine the unified view
// needs for recurring-task cancellation.
type RecurringEngine interface {
	RemoveRecurring(name string) error
}

// UnifiedViewService merges one-shot events and recurring-task runs
// into a single operator-facing schedule. It is read-only towards the
// event store; CancelRecurringTask is its only mutation, and that
// reaches only into the recurring-task store.
type UnifiedViewService struct {
	events    repo.EventRepository
	recurring repo.RecurringTaskRepository
	engine    RecurringEngine
	log       *slog.Logger
}

func NewUnifiedViewService(events repo.EventRepository, recurring repo.RecurringTaskRepository, engine RecurringEngine, log *slog.Logger) *UnifiedViewService {
	if log == nil {
		log = slog.Default()
	}
	return &UnifiedViewService{
		events:    events,
		recurring: recurring,
		engine:    engine,
		log:       log,
	}
}

// GetAllScheduledEvents returns the merged schedule, sorted ascending
// by scheduled time and truncated to limit. With a pending filter each
// recurring task contributes at most its next occurrence; terminal
// filters admit only runs of the known recurring tasks, keeping ad hoc
// one-off actions logged into the same store out of the operator view.
func (s *UnifiedViewService) GetAllScheduledEvents(ctx context.Context, status *model.Status, limit int) ([]model.ScheduleEntry, error) {
	if limit <= 0 {
		limit = 50
	}

	events, err := s.events.List(ctx, status, limit, 0)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}

	runs, err := s.recurring.ListRuns(ctx, status, limit)
	if err != nil {
		return nil, fmt.Errorf("list recurring runs: %w", err)
	}

	entries := make([]model.ScheduleEntry, 0, len(events)+len(runs))
	for i := range events {
		entries = append(entries, eventEntry(&events[i]))
	}

	// Runs arrive sorted ascending, so the first pending run per task
	// is that task's next occurrence.
	seenPending := map[string]bool{}
	for i := range runs {
		run := &runs[i]
		if !model.IsKnownRecurringTask(run.TaskName) {
			continue
		}
		if run.Status == model.Pending {
			if seenPending[run.TaskName] {
				continue
			}
			seenPending[run.TaskName] = true
		}
		entries = append(entries, recurringEntry(run))
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].ScheduledTime.Before(entries[j].ScheduledTime)
	})
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// CancelRecurringTask removes the task's engine registration (best
// effort) and cancels every currently-pending occurrence, returning the
// number of runs affected.
func (s *UnifiedViewService) CancelRecurringTask(ctx context.Context, taskName string) (int64, error) {
	if !model.IsKnownRecurringTask(taskName) {
		return 0, fmt.Errorf("%w: %q", ErrUnknownRecurringTask, taskName)
	}

	if err := s.engine.RemoveRecurring(taskName); err != nil {
		s.log.Warn("recurring trigger removal failed, proceeding",
			"task", taskName, "error", err)
	}

	n, err := s.recurring.CancelPendingByTask(ctx, taskName)
	if err != nil {
		return 0, fmt.Errorf("cancel pending runs: %w", err)
	}

	s.log.Info("recurring task cancelled", "task", taskName, "runs_cancelled", n)
	return n, nil
}

func eventEntry(ev *model.ScheduledEvent) model.ScheduleEntry {
	target := ev.TargetChannelName
	if target == "" {
		target = ev.TargetChannelID
	}
	editable := ev.Status == model.Pending
	return model.ScheduleEntry{
		ID:            fmt.Sprintf("event_%d", ev.ID),
		Source:        model.SourceEvent,
		Type:          ev.EventType,
		ScheduledTime: ev.ScheduledTime,
		Status:        ev.Status,
		Target:        target,
		Message:       ev.Message,
		IsRecurring:   false,
		CreatedBy:     ev.CreatedBy(),
		CanEdit:       editable,
		CanCancel:     editable,
		ExecutedAt:    ev.ExecutedAt,
		ErrorMessage:  ev.ErrorMessage,
	}
}

func recurringEntry(run *model.RecurringTaskRun) model.ScheduleEntry {
	return model.ScheduleEntry{
		ID:             fmt.Sprintf("recurring_%s", run.ID),
		Source:         model.SourceRecurring,
		Type:           "recurring_task",
		ScheduledTime:  run.ScheduledTime,
		Status:         run.Status,
		Target:         run.TaskName,
		Message:        run.Detail,
		IsRecurring:    true,
		RecurrenceInfo: model.RecurringTaskSpecs[run.TaskName],
		CreatedBy:      "system",
		CanEdit:        false,
		CanCancel:      run.Status == model.Pending,
		JobName:        run.TaskName,
		ExecutedAt:     run.ExecutedAt,
		ErrorMessage:   run.ErrorMessage,
	}
}
