package models

import (
	"time"

	"github.com/google/uuid"
)

// EventStatus is the planning state of an event. Scheduling votes are only
// open while the event is in draft; locking an event fixes its decisions.
type EventStatus string

const (
	EventDraft  EventStatus = "draft"
	EventLocked EventStatus = "locked"
)

// Event is a shared group event that polls and scheduling votes attach to.
type Event struct {
	ID          uuid.UUID   `json:"id"`
	Title       string      `json:"title"`
	Description string      `json:"description"`
	Status      EventStatus `json:"status"`
	CreatedBy   uuid.UUID   `json:"created_by"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// EventMember links a user to an event they participate in.
type EventMember struct {
	EventID  uuid.UUID `json:"event_id"`
	UserID   uuid.UUID `json:"user_id"`
	JoinedAt time.Time `json:"joined_at"`
}
