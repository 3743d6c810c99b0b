package model

import "time"

const (
	SourceEvent     = "event"
	SourceRecurring = "recurring"
)

// ScheduleEntry is the normalized shape the unified schedule view
// exposes for both one-shot events and recurring-task occurrences.
type ScheduleEntry struct {
	ID             string     `json:"id"`
	Source         string     `json:"source"`
	Type           string     `json:"type"`
	ScheduledTime  time.Time  `json:"scheduledTime"`
	Status         Status     `json:"status"`
	Target         string     `json:"target"`
	Message        string     `json:"message"`
	IsRecurring    bool       `json:"isRecurring"`
	RecurrenceInfo string     `json:"recurrenceInfo,omitempty"`
	CreatedBy      string     `json:"createdBy"`
	CanEdit        bool       `json:"canEdit"`
	CanCancel      bool       `json:"canCancel"`
	JobName        string     `json:"jobName,omitempty"`
	ExecutedAt     *time.Time `json:"executedAt,omitempty"`
	ErrorMessage   *string    `json:"errorMessage,omitempty"`
}
