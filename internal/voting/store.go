package voting

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/gatherhub/backend/internal/models"
)

// Store is the durable vote store: polls, options, and ballots. The ballot
// operations keyed by (poll_id, voter_id) are the single concurrency-sensitive
// surface in the subsystem and must be atomic read-modify-writes, so that two
// racing casts from the same voter leave exactly one ballot behind.
type Store interface {
	CreatePoll(ctx context.Context, poll *models.Poll) error
	GetPoll(ctx context.Context, id uuid.UUID) (*models.Poll, error)
	ListPollsByEvent(ctx context.Context, eventID uuid.UUID) ([]models.Poll, error)
	AddOption(ctx context.Context, opt *models.Option) error

	// ListExpired returns still-active polls whose closes_at has elapsed, for
	// the background sweeper that converges idle polls nobody is reading.
	ListExpired(ctx context.Context, asOf time.Time) ([]models.Poll, error)

	// MarkEnded flips the poll from active to ended. It returns true only for
	// the caller that performed the flip; racing callers get false and should
	// treat the poll as already ended.
	MarkEnded(ctx context.Context, pollID uuid.UUID) (*models.Poll, bool, error)

	// UpsertBallot atomically replaces any prior ballot for (poll, voter).
	UpsertBallot(ctx context.Context, ballot *models.Ballot) error

	// ToggleBallot atomically applies toggle semantics: if the voter's existing
	// ballot has exactly the same option set, the ballot is removed and removed
	// is true; otherwise the ballot is replaced like UpsertBallot.
	ToggleBallot(ctx context.Context, ballot *models.Ballot) (removed bool, err error)

	// DeleteBallot removes the voter's ballot, reporting whether one existed.
	DeleteBallot(ctx context.Context, pollID, voterID uuid.UUID) (bool, error)

	ListBallots(ctx context.Context, pollID uuid.UUID) ([]models.Ballot, error)
	GetBallot(ctx context.Context, pollID, voterID uuid.UUID) (*models.Ballot, error)
	HasBallots(ctx context.Context, pollID uuid.UUID) (bool, error)
}

// EventDirectory supplies event membership, the external input eligibility
// checks depend on. The full event service lives in internal/events.
type EventDirectory interface {
	IsMember(ctx context.Context, eventID, userID uuid.UUID) (bool, error)
}
