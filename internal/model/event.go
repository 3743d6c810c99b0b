package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

type Status string

const (
	Pending   Status = "pending"
	Completed Status = "completed"
	Cancelled Status = "cancelled"
	Failed    Status = "failed"
)

func (s Status) Valid() bool {
	switch s {
	case Pending, Completed, Cancelled, Failed:
		return true
	}
	return false
}

// Terminal reports whether an event in this status can never change again.
func (s Status) Terminal() bool {
	return s == Completed || s == Cancelled || s == Failed
}

// CanTransitionTo encodes the one-way state machine: the only legal
// transitions lead out of pending into a terminal status.
func (s Status) CanTransitionTo(next Status) bool {
	return s == Pending && next.Terminal()
}

// EventTypeChannelMessage is the only event type the system currently
// produces; the column exists so other kinds can be added later.
const EventTypeChannelMessage = "channel_message"

const jobIDPrefix = "scheduled_event_"

// JobIDFor derives the trigger-engine job identifier for an event.
// It depends only on the durable id so every process computes the same value.
func JobIDFor(eventID int64) string {
	return fmt.Sprintf("%s%d", jobIDPrefix, eventID)
}

// EventIDFromJobID is the inverse of JobIDFor.
func EventIDFromJobID(jobID string) (int64, bool) {
	raw, found := strings.CutPrefix(jobID, jobIDPrefix)
	if !found {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// ScheduledEvent is a one-time message delivery scheduled for a future
// instant. All timestamps are stored in UTC.
type ScheduledEvent struct {
	ID                int64      `json:"id"`
	EventType         string     `json:"eventType"`
	ScheduledTime     time.Time  `json:"scheduledTime"`
	TargetChannelID   string     `json:"targetChannelId"`
	TargetChannelName string     `json:"targetChannelName,omitempty"`
	Message           string     `json:"message"`
	Status            Status     `json:"status"`
	JobID             *string    `json:"jobId,omitempty"`
	CreatedByUserID   *string    `json:"createdByUserId,omitempty"`
	CreatedByUserName *string    `json:"createdByUserName,omitempty"`
	CreatedAt         time.Time  `json:"createdAt"`
	UpdatedAt         time.Time  `json:"updatedAt"`
	ExecutedAt        *time.Time `json:"executedAt,omitempty"`
	ErrorMessage      *string    `json:"errorMessage,omitempty"`
}

func (e *ScheduledEvent) CanBeEdited() bool    { return e.Status == Pending }
func (e *ScheduledEvent) CanBeCancelled() bool { return e.Status == Pending }

// CreatedBy returns a display name for the creator, or "system" for
// events that were not scheduled by a user.
func (e *ScheduledEvent) CreatedBy() string {
	if e.CreatedByUserName != nil && *e.CreatedByUserName != "" {
		return *e.CreatedByUserName
	}
	if e.CreatedByUserID != nil && *e.CreatedByUserID != "" {
		return *e.CreatedByUserID
	}
	return "system"
}
