package models

import (
	"time"

	"github.com/google/uuid"
)

// PollKind selects the voting rules for a poll.
type PollKind string

const (
	// KindPoll is a generic multi-option poll: re-casting replaces the prior ballot.
	KindPoll PollKind = "poll"
	// KindSchedule is a timeslot-scheduling vote: re-casting the identical selection
	// removes the ballot (toggle), and the event creator is excluded from voting.
	KindSchedule PollKind = "schedule"
)

// PollStatus is the lifecycle state of a poll.
type PollStatus string

const (
	StatusActive PollStatus = "active"
	StatusEnded  PollStatus = "ended"
)

// Poll is a votable decision attached to an event.
type Poll struct {
	ID            uuid.UUID  `json:"id"`
	EventID       uuid.UUID  `json:"event_id"`
	Title         string     `json:"title"`
	Description   string     `json:"description"`
	Kind          PollKind   `json:"kind"`
	AllowMultiple bool       `json:"allow_multiple"`
	CreatorID     uuid.UUID  `json:"creator_id"`
	OpensAt       time.Time  `json:"opens_at"`
	ClosesAt      *time.Time `json:"closes_at,omitempty"`
	Status        PollStatus `json:"status"`
	EndedAt       *time.Time `json:"ended_at,omitempty"`
	Options       []Option   `json:"options"`
	CreatedAt     time.Time  `json:"created_at"`
}

// Option is one selectable choice within a poll. StartsAt is set only for
// schedule polls, where an option represents a candidate timeslot.
type Option struct {
	ID           uuid.UUID  `json:"id"`
	PollID       uuid.UUID  `json:"poll_id"`
	Text         string     `json:"text"`
	DisplayOrder int        `json:"display_order"`
	StartsAt     *time.Time `json:"starts_at,omitempty"`
}

// Ballot is one voter's current selection for a poll. At most one ballot
// exists per (poll, voter); re-casting replaces or toggles it, never adds a row.
type Ballot struct {
	ID        uuid.UUID   `json:"id"`
	PollID    uuid.UUID   `json:"poll_id"`
	VoterID   uuid.UUID   `json:"voter_id"`
	OptionIDs []uuid.UUID `json:"option_ids"`
	CastAt    time.Time   `json:"cast_at"`
}

// OptionResult is the aggregated tally for a single option.
type OptionResult struct {
	OptionID   uuid.UUID `json:"option_id"`
	Count      int       `json:"count"`
	Percentage float64   `json:"percentage"`
}

// ResultSnapshot is the derived aggregation of all ballots for a poll.
// Recomputed from stored ballots on demand; never the source of truth.
type ResultSnapshot struct {
	PollID         uuid.UUID      `json:"poll_id"`
	TotalBallots   int            `json:"total_ballots"`
	PerOption      []OptionResult `json:"per_option"`
	WinnerOptionID *uuid.UUID     `json:"winner_option_id"`
}
