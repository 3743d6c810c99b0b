package repo

import (
	"context"

	"github.com/google/uuid"

	"github.com/the16thpythonist/lukas-chat-bear-sub001/internal/model"
)

// RecurringTaskRepository is the store for recurring-task occurrences.
// The unified schedule view reads it; CancelPendingByTask is the only
// mutation path reaching into it from outside the task runner.
type RecurringTaskRepository interface {
	InsertRun(ctx context.Context, run *model.RecurringTaskRun) error
	ListRuns(ctx context.Context, status *model.Status, limit int) ([]model.RecurringTaskRun, error)
	NextPendingByTask(ctx context.Context, taskName string) (*model.RecurringTaskRun, error)
	CancelPendingByTask(ctx context.Context, taskName string) (int64, error)
	MarkRunCompleted(ctx context.Context, id uuid.UUID, detail string) (bool, error)
	MarkRunFailed(ctx context.Context, id uuid.UUID, errMsg string) (bool, error)
}
