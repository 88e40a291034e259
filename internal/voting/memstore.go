package voting

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gatherhub/backend/internal/models"
)

// ballotKey identifies the one ballot slot a (poll, voter) pair may occupy.
type ballotKey struct {
	pollID  uuid.UUID
	voterID uuid.UUID
}

// MemStore is an in-memory Store. A single mutex serializes every ballot
// read-modify-write, which is exactly the atomicity the Store contract asks
// for; the postgres store gets the same guarantee from row locks.
type MemStore struct {
	mu      sync.RWMutex
	polls   map[uuid.UUID]*models.Poll
	ballots map[ballotKey]*models.Ballot
}

// NewMemStore creates an empty in-memory vote store.
func NewMemStore() *MemStore {
	return &MemStore{
		polls:   make(map[uuid.UUID]*models.Poll),
		ballots: make(map[ballotKey]*models.Ballot),
	}
}

func (s *MemStore) CreatePoll(_ context.Context, poll *models.Poll) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := clonePoll(poll)
	s.polls[poll.ID] = cp
	return nil
}

func (s *MemStore) GetPoll(_ context.Context, id uuid.UUID) (*models.Poll, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.polls[id]
	if !ok {
		return nil, ErrPollNotFound
	}
	return clonePoll(p), nil
}

func (s *MemStore) ListPollsByEvent(_ context.Context, eventID uuid.UUID) ([]models.Poll, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Poll
	for _, p := range s.polls {
		if p.EventID == eventID {
			out = append(out, *clonePoll(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemStore) ListExpired(_ context.Context, asOf time.Time) ([]models.Poll, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Poll
	for _, p := range s.polls {
		if p.Status == models.StatusActive && p.ClosesAt != nil && !asOf.Before(*p.ClosesAt) {
			out = append(out, *clonePoll(p))
		}
	}
	return out, nil
}

func (s *MemStore) AddOption(_ context.Context, opt *models.Option) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.polls[opt.PollID]
	if !ok {
		return ErrPollNotFound
	}
	p.Options = append(p.Options, *opt)
	return nil
}

func (s *MemStore) MarkEnded(_ context.Context, pollID uuid.UUID) (*models.Poll, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.polls[pollID]
	if !ok {
		return nil, false, ErrPollNotFound
	}
	if p.Status == models.StatusEnded {
		return clonePoll(p), false, nil
	}
	now := time.Now()
	p.Status = models.StatusEnded
	p.EndedAt = &now
	return clonePoll(p), true, nil
}

func (s *MemStore) UpsertBallot(_ context.Context, ballot *models.Ballot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.polls[ballot.PollID]; !ok {
		return ErrPollNotFound
	}
	b := *ballot
	s.ballots[ballotKey{ballot.PollID, ballot.VoterID}] = &b
	return nil
}

func (s *MemStore) ToggleBallot(_ context.Context, ballot *models.Ballot) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.polls[ballot.PollID]; !ok {
		return false, ErrPollNotFound
	}
	key := ballotKey{ballot.PollID, ballot.VoterID}
	if prior, ok := s.ballots[key]; ok && sameOptionSet(prior.OptionIDs, ballot.OptionIDs) {
		delete(s.ballots, key)
		return true, nil
	}
	b := *ballot
	s.ballots[key] = &b
	return false, nil
}

func (s *MemStore) DeleteBallot(_ context.Context, pollID, voterID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := ballotKey{pollID, voterID}
	if _, ok := s.ballots[key]; !ok {
		return false, nil
	}
	delete(s.ballots, key)
	return true, nil
}

func (s *MemStore) ListBallots(_ context.Context, pollID uuid.UUID) ([]models.Ballot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Ballot
	for key, b := range s.ballots {
		if key.pollID == pollID {
			out = append(out, *b)
		}
	}
	return out, nil
}

func (s *MemStore) GetBallot(_ context.Context, pollID, voterID uuid.UUID) (*models.Ballot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.ballots[ballotKey{pollID, voterID}]
	if !ok {
		return nil, ErrBallotNotFound
	}
	cp := *b
	return &cp, nil
}

func (s *MemStore) HasBallots(_ context.Context, pollID uuid.UUID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for key := range s.ballots {
		if key.pollID == pollID {
			return true, nil
		}
	}
	return false, nil
}

func clonePoll(p *models.Poll) *models.Poll {
	cp := *p
	cp.Options = append([]models.Option(nil), p.Options...)
	return &cp
}

func sameOptionSet(a, b []uuid.UUID) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[uuid.UUID]struct{}, len(a))
	for _, id := range a {
		set[id] = struct{}{}
	}
	for _, id := range b {
		if _, ok := set[id]; !ok {
			return false
		}
	}
	return true
}
