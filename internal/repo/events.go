package repo

import (
	"context"
	"errors"
	"time"

	"github.com/the16thpythonist/lukas-chat-bear-sub001/internal/model"
)

// ErrNotFound is returned by lookups for ids that do not exist.
var ErrNotFound = errors.New("not found")

// EventRepository is the durable store for scheduled events.
//
// The terminal-transition methods (MarkCompleted, MarkFailed, Cancel)
// are conditional single-row updates guarded by status = pending. They
// return false without error when the guard did not match, so racing
// writers observe a lost race instead of double-transitioning a row.
type EventRepository interface {
	Create(ctx context.Context, ev *model.ScheduledEvent) (*model.ScheduledEvent, error)
	GetByID(ctx context.Context, id int64) (*model.ScheduledEvent, error)
	GetByJobID(ctx context.Context, jobID string) (*model.ScheduledEvent, error)
	List(ctx context.Context, status *model.Status, limit, offset int) ([]model.ScheduledEvent, error)
	ListPending(ctx context.Context) ([]model.ScheduledEvent, error)
	ListUpcoming(ctx context.Context, limit int) ([]model.ScheduledEvent, error)
	ListByCreator(ctx context.Context, userID string) ([]model.ScheduledEvent, error)
	Update(ctx context.Context, id int64, scheduledTime *time.Time, message *string) (bool, error)
	SetJobID(ctx context.Context, id int64, jobID string) error
	MarkCompleted(ctx context.Context, id int64) (bool, error)
	MarkFailed(ctx context.Context, id int64, errMsg string) (bool, error)
	Cancel(ctx context.Context, id int64) (bool, error)
	Delete(ctx context.Context, id int64) error
	CountByStatus(ctx context.Context, status model.Status) (int64, error)
}
