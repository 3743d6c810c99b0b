package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/the16thpythonist/lukas-chat-bear-sub001/internal/client"
	"github.com/the16thpythonist/lukas-chat-bear-sub001/internal/model"
	"github.com/the16thpythonist/lukas-chat-bear-sub001/internal/repo"
	"github.com/the16thpythonist/lukas-chat-bear-sub001/internal/timeparse"
	"github.com/the16thpythonist/lukas-chat-bear-sub001/internal/trigger"
)

var (
	ErrNotFound          = errors.New("event not found")
	ErrPastScheduledTime = errors.New("scheduled time must be in the future")
	ErrMissingChannel    = errors.New("target channel is required")
	ErrMissingMessage    = errors.New("message is required")
	ErrUnparsableTime    = errors.New("could not understand that time expression")
	ErrNotEditable       = errors.New("cannot edit event")
	ErrNotCancellable    = errors.New("cannot cancel event")
	ErrNothingToUpdate   = errors.New("nothing to update")
)

// DeliveryClient is the capability boundary to the chat API.
type DeliveryClient interface {
	SendMessage(ctx context.Context, channelID, text string) (client.SendResult, error)
}

// TriggerEngine is the slice of the trigger engine the event service
// needs. Registration calls are synchronous fire-and-acknowledge; they
// never wait for the job itself.
type TriggerEngine interface {
	Schedule(jobID string, fireAt time.Time) error
	Reschedule(jobID string, fireAt time.Time) error
	Remove(jobID string) error
}

type EventService struct {
	repo     repo.EventRepository
	engine   TriggerEngine
	resolver *timeparse.Resolver
	log      *slog.Logger

	now func() time.Time
}

func NewEventService(r repo.EventRepository, engine TriggerEngine, resolver *timeparse.Resolver, log *slog.Logger) *EventService {
	if log == nil {
		log = slog.Default()
	}
	return &EventService{
		repo:     r,
		engine:   engine,
		resolver: resolver,
		log:      log,
		now:      time.Now,
	}
}

type CreateEventParams struct {
	ScheduledTime     time.Time
	ChannelID         string
	ChannelName       string
	Message           string
	CreatedByUserID   string
	CreatedByUserName string
}

// CreateEvent persists a pending event and registers its trigger. The
// job identifier is derived from the new record's id, so it is stable
// across processes and restarts.
func (s *EventService) CreateEvent(ctx context.Context, p CreateEventParams) (*model.ScheduledEvent, error) {
	if p.ChannelID == "" {
		return nil, ErrMissingChannel
	}
	if p.Message == "" {
		return nil, ErrMissingMessage
	}
	if !p.ScheduledTime.After(s.now()) {
		return nil, ErrPastScheduledTime
	}

	ev := &model.ScheduledEvent{
		EventType:         model.EventTypeChannelMessage,
		ScheduledTime:     p.ScheduledTime.UTC(),
		TargetChannelID:   p.ChannelID,
		TargetChannelName: p.ChannelName,
		Message:           p.Message,
		Status:            model.Pending,
	}
	if p.CreatedByUserID != "" {
		ev.CreatedByUserID = &p.CreatedByUserID
	}
	if p.CreatedByUserName != "" {
		ev.CreatedByUserName = &p.CreatedByUserName
	}

	created, err := s.repo.Create(ctx, ev)
	if err != nil {
		return nil, fmt.Errorf("create event: %w", err)
	}

	jobID := model.JobIDFor(created.ID)
	if err := s.engine.Schedule(jobID, created.ScheduledTime); err != nil {
		// Without a trigger the record would never fire; undo the insert.
		if delErr := s.repo.Delete(ctx, created.ID); delErr != nil {
			s.log.Error("failed to roll back event after trigger registration failure",
				"event_id", created.ID, "error", delErr)
		}
		return nil, fmt.Errorf("register trigger: %w", err)
	}

	if err := s.repo.SetJobID(ctx, created.ID, jobID); err != nil {
		if remErr := s.engine.Remove(jobID); remErr != nil {
			s.log.Warn("failed to remove trigger after job id write failure",
				"job_id", jobID, "error", remErr)
		}
		if delErr := s.repo.Delete(ctx, created.ID); delErr != nil {
			s.log.Error("failed to roll back event after job id write failure",
				"event_id", created.ID, "error", delErr)
		}
		return nil, fmt.Errorf("persist job id: %w", err)
	}

	created.JobID = &jobID
	s.log.Info("event scheduled",
		"event_id", created.ID,
		"job_id", jobID,
		"channel_id", created.TargetChannelID,
		"fire_at", created.ScheduledTime,
	)
	return created, nil
}

// CreateFromNaturalLanguage resolves a fuzzy time expression and then
// creates the event. A failed parse touches neither storage nor the
// trigger engine.
func (s *EventService) CreateFromNaturalLanguage(ctx context.Context, timeExpression string, p CreateEventParams) (*model.ScheduledEvent, error) {
	at, ok := s.resolver.ResolveAt(timeExpression, s.now())
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnparsableTime, timeExpression)
	}
	p.ScheduledTime = at
	return s.CreateEvent(ctx, p)
}

// ResolveTime turns a natural-language time expression into a concrete
// instant without creating anything.
func (s *EventService) ResolveTime(timeExpression string) (time.Time, error) {
	at, ok := s.resolver.ResolveAt(timeExpression, s.now())
	if !ok {
		return time.Time{}, fmt.Errorf("%w: %q", ErrUnparsableTime, timeExpression)
	}
	return at, nil
}

// UpdateEvent edits the time and/or message of a pending event. A new
// time reschedules the existing trigger in place, preserving the job
// identifier.
func (s *EventService) UpdateEvent(ctx context.Context, id int64, newTime *time.Time, newMessage *string) (*model.ScheduledEvent, error) {
	if newTime == nil && newMessage == nil {
		return nil, ErrNothingToUpdate
	}

	ev, err := s.getEvent(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ev.CanBeEdited() {
		return nil, fmt.Errorf("%w: event is %s", ErrNotEditable, ev.Status)
	}
	if newTime != nil && !newTime.After(s.now()) {
		return nil, ErrPastScheduledTime
	}
	if newMessage != nil && *newMessage == "" {
		return nil, ErrMissingMessage
	}

	changed, err := s.repo.Update(ctx, id, newTime, newMessage)
	if err != nil {
		return nil, fmt.Errorf("update event: %w", err)
	}
	if !changed {
		// The event left pending between our read and the guarded write.
		cur, err := s.getEvent(ctx, id)
		if err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: event is %s", ErrNotEditable, cur.Status)
	}

	if newTime != nil {
		jobID := model.JobIDFor(id)
		if ev.JobID != nil {
			jobID = *ev.JobID
		}
		if err := s.engine.Reschedule(jobID, newTime.UTC()); err != nil {
			if errors.Is(err, trigger.ErrJobNotFound) {
				// Trigger vanished (restart window); register it fresh under
				// the same identifier.
				if schedErr := s.engine.Schedule(jobID, newTime.UTC()); schedErr != nil {
					s.log.Warn("failed to re-register trigger during update",
						"job_id", jobID, "error", schedErr)
				}
			} else {
				s.log.Warn("failed to reschedule trigger",
					"job_id", jobID, "error", err)
			}
		}
	}

	return s.getEvent(ctx, id)
}

// CancelEvent marks a pending event cancelled. The durable status is
// authoritative; removing the trigger registration is advisory cleanup
// and a failure there never blocks the cancellation.
func (s *EventService) CancelEvent(ctx context.Context, id int64) error {
	ev, err := s.getEvent(ctx, id)
	if err != nil {
		return err
	}
	if !ev.CanBeCancelled() {
		return fmt.Errorf("%w: event is %s", ErrNotCancellable, ev.Status)
	}

	if ev.JobID != nil {
		if err := s.engine.Remove(*ev.JobID); err != nil {
			s.log.Warn("trigger removal failed during cancel, proceeding",
				"event_id", id, "job_id", *ev.JobID, "error", err)
		}
	}

	changed, err := s.repo.Cancel(ctx, id)
	if err != nil {
		return fmt.Errorf("cancel event: %w", err)
	}
	if !changed {
		cur, err := s.getEvent(ctx, id)
		if err != nil {
			return err
		}
		return fmt.Errorf("%w: event is %s", ErrNotCancellable, cur.Status)
	}

	s.log.Info("event cancelled", "event_id", id)
	return nil
}

func (s *EventService) GetEvent(ctx context.Context, id int64) (*model.ScheduledEvent, error) {
	return s.getEvent(ctx, id)
}

func (s *EventService) ListEvents(ctx context.Context, status *model.Status, limit, offset int) ([]model.ScheduledEvent, error) {
	return s.repo.List(ctx, status, limit, offset)
}

func (s *EventService) ListUpcoming(ctx context.Context, limit int) ([]model.ScheduledEvent, error) {
	return s.repo.ListUpcoming(ctx, limit)
}

func (s *EventService) ListByCreator(ctx context.Context, userID string) ([]model.ScheduledEvent, error) {
	return s.repo.ListByCreator(ctx, userID)
}

func (s *EventService) CountByStatus(ctx context.Context, status model.Status) (int64, error) {
	return s.repo.CountByStatus(ctx, status)
}

// DeleteEvent removes a record entirely. This is an administrative
// operation outside the state machine; it does not consult the status.
func (s *EventService) DeleteEvent(ctx context.Context, id int64) error {
	ev, err := s.getEvent(ctx, id)
	if err != nil {
		return err
	}
	if ev.JobID != nil {
		if err := s.engine.Remove(*ev.JobID); err != nil {
			s.log.Warn("trigger removal failed during delete, proceeding",
				"event_id", id, "job_id", *ev.JobID, "error", err)
		}
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}
	return nil
}

// RestoreTriggers re-registers a trigger for every pending event. The
// engine's registrations live in memory only, so this runs once per
// process start. Pending events whose fire time already slipped past
// the misfire grace are marked failed instead of silently never firing.
func (s *EventService) RestoreTriggers(ctx context.Context) (restored, missed int, err error) {
	pending, err := s.repo.ListPending(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("list pending events: %w", err)
	}

	for _, ev := range pending {
		jobID := model.JobIDFor(ev.ID)
		if ev.JobID != nil {
			jobID = *ev.JobID
		}

		schedErr := s.engine.Schedule(jobID, ev.ScheduledTime)
		switch {
		case schedErr == nil:
			if ev.JobID == nil {
				if err := s.repo.SetJobID(ctx, ev.ID, jobID); err != nil {
					s.log.Warn("failed to backfill job id during restore",
						"event_id", ev.ID, "error", err)
				}
			}
			restored++
		case errors.Is(schedErr, trigger.ErrMissedFire):
			msg := "missed schedule: fire time passed while the scheduler was offline"
			if _, err := s.repo.MarkFailed(ctx, ev.ID, msg); err != nil {
				s.log.Error("failed to mark missed event as failed",
					"event_id", ev.ID, "error", err)
			}
			missed++
		case errors.Is(schedErr, trigger.ErrDuplicateJob):
			// Already registered in this process; nothing to do.
		default:
			s.log.Error("failed to restore trigger",
				"event_id", ev.ID, "job_id", jobID, "error", schedErr)
		}
	}

	s.log.Info("pending triggers restored", "restored", restored, "missed", missed)
	return restored, missed, nil
}

func (s *EventService) getEvent(ctx context.Context, id int64) (*model.ScheduledEvent, error) {
	ev, err := s.repo.GetByID(ctx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return ev, nil
}
