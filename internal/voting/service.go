package voting

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gatherhub/backend/internal/models"
)

// BallotResult is the outcome of a cast, toggle, or removal, carrying the
// freshly recomputed snapshot that was also handed to the broadcaster.
type BallotResult struct {
	Poll     *models.Poll          `json:"poll"`
	Ballot   *models.Ballot        `json:"ballot,omitempty"`
	Removed  bool                  `json:"removed"`
	Snapshot models.ResultSnapshot `json:"result_snapshot"`
}

// Service validates and commits ballots. The toggle-vs-replace policy is
// resolved from the poll kind at cast time, so aggregation and broadcasting
// never need to know which variant produced a mutation.
type Service struct {
	store     Store
	events    EventDirectory
	lifecycle *Lifecycle
	broadcast Broadcaster
	logger    *zap.Logger
	now       func() time.Time
}

// NewService creates a ballot casting service.
func NewService(store Store, events EventDirectory, lifecycle *Lifecycle, broadcast Broadcaster, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:     store,
		events:    events,
		lifecycle: lifecycle,
		broadcast: broadcast,
		logger:    logger,
		now:       time.Now,
	}
}

// CastBallot validates the request in order (existence, votability,
// eligibility, selection) and then commits it as a single atomic
// read-modify-write on the voter's ballot slot. For schedule polls an
// identical resubmission toggles the ballot off instead of replacing it.
// The HTTP response never waits on fan-out: the broadcaster is handed the
// snapshot after the commit and delivery is best-effort.
func (s *Service) CastBallot(ctx context.Context, pollID, voterID uuid.UUID, optionIDs []uuid.UUID) (*BallotResult, error) {
	poll, err := s.lifecycle.ResolvePoll(ctx, pollID)
	if err != nil {
		return nil, err
	}
	if !IsVotable(poll, s.now()) {
		return nil, ErrVotingClosed
	}
	if err := s.checkEligibility(ctx, poll, voterID); err != nil {
		return nil, err
	}
	selection, err := s.validateSelection(poll, optionIDs)
	if err != nil {
		return nil, err
	}

	ballot := &models.Ballot{
		ID:        uuid.New(),
		PollID:    pollID,
		VoterID:   voterID,
		OptionIDs: selection,
		CastAt:    s.now(),
	}

	var removed bool
	if poll.Kind == models.KindSchedule {
		removed, err = s.store.ToggleBallot(ctx, ballot)
	} else {
		err = s.store.UpsertBallot(ctx, ballot)
	}
	if err != nil {
		return nil, err
	}

	return s.finish(ctx, poll, ballot, removed, voterID)
}

// RemoveBallot is the explicit-delete counterpart to CastBallot, with the same
// eligibility checks but no selection validation.
func (s *Service) RemoveBallot(ctx context.Context, pollID, voterID uuid.UUID) (*BallotResult, error) {
	poll, err := s.lifecycle.ResolvePoll(ctx, pollID)
	if err != nil {
		return nil, err
	}
	if !IsVotable(poll, s.now()) {
		return nil, ErrVotingClosed
	}
	if err := s.checkEligibility(ctx, poll, voterID); err != nil {
		return nil, err
	}

	existed, err := s.store.DeleteBallot(ctx, pollID, voterID)
	if err != nil {
		return nil, err
	}
	if !existed {
		return nil, ErrBallotNotFound
	}

	return s.finish(ctx, poll, nil, true, voterID)
}

// GetBallot returns the voter's current ballot for a poll, if any.
func (s *Service) GetBallot(ctx context.Context, pollID, voterID uuid.UUID) (*models.Ballot, error) {
	if _, err := s.store.GetPoll(ctx, pollID); err != nil {
		return nil, err
	}
	return s.store.GetBallot(ctx, pollID, voterID)
}

func (s *Service) checkEligibility(ctx context.Context, poll *models.Poll, voterID uuid.UUID) error {
	member, err := s.events.IsMember(ctx, poll.EventID, voterID)
	if err != nil {
		return err
	}
	if !member {
		return ErrNotEligible
	}
	if poll.Kind == models.KindSchedule && voterID == poll.CreatorID {
		return ErrNotEligible
	}
	return nil
}

// validateSelection checks that the selection is non-empty, references only
// this poll's options, and respects the single-choice rule. For schedule polls
// it additionally rejects timeslots that are already in the past. Duplicate
// ids collapse to one.
func (s *Service) validateSelection(poll *models.Poll, optionIDs []uuid.UUID) ([]uuid.UUID, error) {
	if len(optionIDs) == 0 {
		return nil, ErrInvalidOptionSelection
	}
	byID := make(map[uuid.UUID]*models.Option, len(poll.Options))
	for i := range poll.Options {
		byID[poll.Options[i].ID] = &poll.Options[i]
	}

	now := s.now()
	seen := make(map[uuid.UUID]struct{}, len(optionIDs))
	selection := make([]uuid.UUID, 0, len(optionIDs))
	for _, id := range optionIDs {
		opt, ok := byID[id]
		if !ok {
			return nil, ErrInvalidOptionSelection
		}
		if poll.Kind == models.KindSchedule && opt.StartsAt != nil && !opt.StartsAt.After(now) {
			return nil, ErrNotEligible
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		selection = append(selection, id)
	}
	if len(selection) > 1 && !poll.AllowMultiple {
		return nil, ErrInvalidOptionSelection
	}
	return selection, nil
}

func (s *Service) finish(ctx context.Context, poll *models.Poll, ballot *models.Ballot, removed bool, voterID uuid.UUID) (*BallotResult, error) {
	ballots, err := s.store.ListBallots(ctx, poll.ID)
	if err != nil {
		return nil, err
	}
	snap := Aggregate(poll, ballots)
	s.broadcast.BallotChanged(poll.EventID, poll.ID, snap)
	s.logger.Debug("ballot changed",
		zap.String("poll_id", poll.ID.String()),
		zap.String("voter_id", voterID.String()),
		zap.Bool("removed", removed))

	res := &BallotResult{Poll: poll, Removed: removed, Snapshot: snap}
	if !removed {
		res.Ballot = ballot
	}
	return res, nil
}
