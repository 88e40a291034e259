package voting

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gatherhub/backend/internal/models"
)

// OptionInput is one option in a poll creation or append request.
type OptionInput struct {
	Text     string
	StartsAt *time.Time
}

// CreatePollInput carries the fields of a new poll.
type CreatePollInput struct {
	Title         string
	Description   string
	Kind          models.PollKind
	AllowMultiple bool
	ClosesAt      *time.Time
	Options       []OptionInput
}

// Lifecycle owns poll state transitions. A poll starts active and can only
// move to ended, either through an explicit end by its creator or lazily when
// an elapsed closes_at is first observed on any read path. There is no
// background timer in the request path; expiry is a pure computation against
// the current time (cmd/worker sweeps idle polls so clients converge without
// waiting for a read).
type Lifecycle struct {
	store     Store
	events    EventDirectory
	broadcast Broadcaster
	logger    *zap.Logger
	now       func() time.Time
}

// NewLifecycle creates a lifecycle manager.
func NewLifecycle(store Store, events EventDirectory, broadcast Broadcaster, logger *zap.Logger) *Lifecycle {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Lifecycle{store: store, events: events, broadcast: broadcast, logger: logger, now: time.Now}
}

// IsVotable reports whether ballots may be cast against the poll at asOf.
// An elapsed closes_at makes the poll unvotable regardless of the stored
// status field, which may not have caught up yet.
func IsVotable(poll *models.Poll, asOf time.Time) bool {
	if poll.Status != models.StatusActive {
		return false
	}
	return poll.ClosesAt == nil || asOf.Before(*poll.ClosesAt)
}

// CreatePoll validates and stores a new active poll, then announces it to the
// event's subscribers.
func (l *Lifecycle) CreatePoll(ctx context.Context, creatorID, eventID uuid.UUID, in CreatePollInput) (*models.Poll, error) {
	if len(in.Options) < 2 {
		return nil, ErrInvalidOptionCount
	}
	member, err := l.events.IsMember(ctx, eventID, creatorID)
	if err != nil {
		return nil, err
	}
	if !member {
		return nil, ErrNotEventMember
	}

	now := l.now()
	kind := in.Kind
	if kind == "" {
		kind = models.KindPoll
	}
	if kind == models.KindSchedule {
		for _, opt := range in.Options {
			if opt.StartsAt == nil || !opt.StartsAt.After(now) {
				return nil, ErrInvalidOptionSelection
			}
		}
	}

	poll := &models.Poll{
		ID:            uuid.New(),
		EventID:       eventID,
		Title:         in.Title,
		Description:   in.Description,
		Kind:          kind,
		AllowMultiple: in.AllowMultiple,
		CreatorID:     creatorID,
		OpensAt:       now,
		ClosesAt:      in.ClosesAt,
		Status:        models.StatusActive,
		CreatedAt:     now,
	}
	for i, opt := range in.Options {
		poll.Options = append(poll.Options, models.Option{
			ID:           uuid.New(),
			PollID:       poll.ID,
			Text:         opt.Text,
			DisplayOrder: i,
			StartsAt:     opt.StartsAt,
		})
	}
	if err := l.store.CreatePoll(ctx, poll); err != nil {
		return nil, err
	}
	l.broadcast.PollCreated(eventID, poll)
	l.logger.Info("poll created",
		zap.String("poll_id", poll.ID.String()),
		zap.String("event_id", eventID.String()),
		zap.String("kind", string(kind)))
	return poll, nil
}

// EndPoll transitions the poll to ended on behalf of its creator. Duplicate or
// racing end requests are not an error: whoever loses the transition race gets
// the current ended state back, so retried client actions converge.
func (l *Lifecycle) EndPoll(ctx context.Context, pollID, requesterID uuid.UUID) (*models.Poll, models.ResultSnapshot, error) {
	poll, err := l.store.GetPoll(ctx, pollID)
	if err != nil {
		return nil, models.ResultSnapshot{}, err
	}
	if poll.CreatorID != requesterID {
		return nil, models.ResultSnapshot{}, ErrNotCreator
	}

	ended, flipped, err := l.store.MarkEnded(ctx, pollID)
	if err != nil {
		return nil, models.ResultSnapshot{}, err
	}
	snap, err := l.snapshot(ctx, ended)
	if err != nil {
		return nil, models.ResultSnapshot{}, err
	}
	if flipped {
		l.broadcast.PollEnded(ended.EventID, ended.ID, snap)
		l.logger.Info("poll ended",
			zap.String("poll_id", ended.ID.String()),
			zap.String("requester_id", requesterID.String()))
	}
	return ended, snap, nil
}

// AddOption appends an option to a poll that has not received any ballot yet.
// The option set freezes at first-ballot time so aggregation stays meaningful.
func (l *Lifecycle) AddOption(ctx context.Context, pollID, requesterID uuid.UUID, in OptionInput) (*models.Poll, error) {
	poll, err := l.ResolvePoll(ctx, pollID)
	if err != nil {
		return nil, err
	}
	if poll.CreatorID != requesterID {
		return nil, ErrNotCreator
	}
	if !IsVotable(poll, l.now()) {
		return nil, ErrVotingClosed
	}
	voted, err := l.store.HasBallots(ctx, pollID)
	if err != nil {
		return nil, err
	}
	if voted {
		return nil, ErrOptionsFrozen
	}
	if poll.Kind == models.KindSchedule && (in.StartsAt == nil || !in.StartsAt.After(l.now())) {
		return nil, ErrInvalidOptionSelection
	}
	opt := &models.Option{
		ID:           uuid.New(),
		PollID:       pollID,
		Text:         in.Text,
		DisplayOrder: len(poll.Options),
		StartsAt:     in.StartsAt,
	}
	if err := l.store.AddOption(ctx, opt); err != nil {
		return nil, err
	}
	return l.store.GetPoll(ctx, pollID)
}

// ResolvePoll loads a poll and applies lazy expiry: the first read that
// observes an elapsed closes_at flips the stored status and emits poll_ended
// exactly once, so every subscriber converges without a timer.
func (l *Lifecycle) ResolvePoll(ctx context.Context, pollID uuid.UUID) (*models.Poll, error) {
	poll, err := l.store.GetPoll(ctx, pollID)
	if err != nil {
		return nil, err
	}
	if poll.Status == models.StatusActive && poll.ClosesAt != nil && !l.now().Before(*poll.ClosesAt) {
		ended, flipped, err := l.store.MarkEnded(ctx, pollID)
		if err != nil {
			return nil, err
		}
		poll = ended
		if flipped {
			snap, err := l.snapshot(ctx, poll)
			if err != nil {
				return nil, err
			}
			l.broadcast.PollEnded(poll.EventID, poll.ID, snap)
			l.logger.Info("poll expired", zap.String("poll_id", poll.ID.String()))
		}
	}
	return poll, nil
}

// Snapshot returns the poll and a freshly aggregated result snapshot.
func (l *Lifecycle) Snapshot(ctx context.Context, pollID uuid.UUID) (*models.Poll, models.ResultSnapshot, error) {
	poll, err := l.ResolvePoll(ctx, pollID)
	if err != nil {
		return nil, models.ResultSnapshot{}, err
	}
	snap, err := l.snapshot(ctx, poll)
	if err != nil {
		return nil, models.ResultSnapshot{}, err
	}
	return poll, snap, nil
}

func (l *Lifecycle) snapshot(ctx context.Context, poll *models.Poll) (models.ResultSnapshot, error) {
	ballots, err := l.store.ListBallots(ctx, poll.ID)
	if err != nil {
		return models.ResultSnapshot{}, err
	}
	return Aggregate(poll, ballots), nil
}
