package model

import (
	"time"

	"github.com/google/uuid"
)

// RecurringTaskSpecs is the fixed set of recurring background jobs this
// application owns, keyed by name with their cron schedule. Rows in the
// recurring-task store written under other names are ad hoc one-off
// actions and are excluded from the unified schedule view.
var RecurringTaskSpecs = map[string]string{
	"random_dm_task":     "0 */4 * * *",
	"daily_checkin_task": "0 9 * * *",
	"weekly_digest_task": "0 10 * * 1",
}

func IsKnownRecurringTask(name string) bool {
	_, ok := RecurringTaskSpecs[name]
	return ok
}

// RecurringJobID derives the trigger-engine identifier for a recurring task.
func RecurringJobID(name string) string {
	return "recurring_task_" + name
}

// RecurringTaskRun is one occurrence of a recurring task: either its
// next pending run or a terminal record of a past run.
type RecurringTaskRun struct {
	ID            uuid.UUID  `json:"id"`
	TaskName      string     `json:"taskName"`
	ScheduledTime time.Time  `json:"scheduledTime"`
	Status        Status     `json:"status"`
	Detail        string     `json:"detail,omitempty"`
	ExecutedAt    *time.Time `json:"executedAt,omitempty"`
	ErrorMessage  *string    `json:"errorMessage,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}
