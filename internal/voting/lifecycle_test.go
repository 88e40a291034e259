package voting

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/gatherhub/backend/internal/models"
)

// allowAll treats every user as a member of every event.
type allowAll struct{}

func (allowAll) IsMember(context.Context, uuid.UUID, uuid.UUID) (bool, error) {
	return true, nil
}

// memberList grants membership to a fixed set of users.
type memberList map[uuid.UUID]bool

func (m memberList) IsMember(_ context.Context, _ uuid.UUID, userID uuid.UUID) (bool, error) {
	return m[userID], nil
}

// recordingBroadcaster captures events for assertions.
type recordingBroadcaster struct {
	mu      sync.Mutex
	created []uuid.UUID
	changed []models.ResultSnapshot
	ended   []uuid.UUID
}

func (r *recordingBroadcaster) PollCreated(_ uuid.UUID, poll *models.Poll) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.created = append(r.created, poll.ID)
}

func (r *recordingBroadcaster) BallotChanged(_, _ uuid.UUID, snapshot models.ResultSnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changed = append(r.changed, snapshot)
}

func (r *recordingBroadcaster) PollEnded(_, pollID uuid.UUID, _ models.ResultSnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ended = append(r.ended, pollID)
}

func (r *recordingBroadcaster) endedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ended)
}

func (r *recordingBroadcaster) changedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.changed)
}

func newFixture() (*MemStore, *recordingBroadcaster, *Lifecycle, *Service) {
	store := NewMemStore()
	bc := &recordingBroadcaster{}
	lc := NewLifecycle(store, allowAll{}, bc, nil)
	svc := NewService(store, allowAll{}, lc, bc, nil)
	return store, bc, lc, svc
}

func timePtr(t time.Time) *time.Time { return &t }

func TestIsVotable(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name     string
		status   models.PollStatus
		closesAt *time.Time
		want     bool
	}{
		{"active no deadline", models.StatusActive, nil, true},
		{"active future deadline", models.StatusActive, timePtr(now.Add(time.Hour)), true},
		{"active elapsed deadline", models.StatusActive, timePtr(now.Add(-time.Minute)), false},
		{"active deadline exactly now", models.StatusActive, timePtr(now), false},
		{"ended no deadline", models.StatusEnded, nil, false},
		{"ended future deadline", models.StatusEnded, timePtr(now.Add(time.Hour)), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			poll := &models.Poll{Status: tt.status, ClosesAt: tt.closesAt}
			if got := IsVotable(poll, now); got != tt.want {
				t.Errorf("IsVotable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCreatePollValidation(t *testing.T) {
	_, _, lc, _ := newFixture()
	ctx := context.Background()
	creator, event := uuid.New(), uuid.New()

	t.Run("too few options", func(t *testing.T) {
		_, err := lc.CreatePoll(ctx, creator, event, CreatePollInput{
			Title:   "lunch",
			Options: []OptionInput{{Text: "pizza"}},
		})
		if err != ErrInvalidOptionCount {
			t.Fatalf("err = %v, want ErrInvalidOptionCount", err)
		}
	})

	t.Run("schedule option without future timeslot", func(t *testing.T) {
		past := time.Now().Add(-time.Hour)
		_, err := lc.CreatePoll(ctx, creator, event, CreatePollInput{
			Title: "meetup",
			Kind:  models.KindSchedule,
			Options: []OptionInput{
				{Text: "yesterday", StartsAt: &past},
				{Text: "undated"},
			},
		})
		if err != ErrInvalidOptionSelection {
			t.Fatalf("err = %v, want ErrInvalidOptionSelection", err)
		}
	})

	t.Run("non-member creator", func(t *testing.T) {
		store := NewMemStore()
		lc := NewLifecycle(store, memberList{}, NopBroadcaster{}, nil)
		_, err := lc.CreatePoll(ctx, creator, event, CreatePollInput{
			Title:   "lunch",
			Options: []OptionInput{{Text: "a"}, {Text: "b"}},
		})
		if err != ErrNotEventMember {
			t.Fatalf("err = %v, want ErrNotEventMember", err)
		}
	})
}

func TestCreatePollDefaultsAndBroadcast(t *testing.T) {
	_, bc, lc, _ := newFixture()
	ctx := context.Background()

	poll, err := lc.CreatePoll(ctx, uuid.New(), uuid.New(), CreatePollInput{
		Title:   "lunch",
		Options: []OptionInput{{Text: "pizza"}, {Text: "sushi"}},
	})
	if err != nil {
		t.Fatalf("CreatePoll: %v", err)
	}
	if poll.Kind != models.KindPoll {
		t.Errorf("Kind = %q, want default %q", poll.Kind, models.KindPoll)
	}
	if poll.Status != models.StatusActive {
		t.Errorf("Status = %q, want %q", poll.Status, models.StatusActive)
	}
	if len(bc.created) != 1 || bc.created[0] != poll.ID {
		t.Errorf("created broadcasts = %v, want exactly [%s]", bc.created, poll.ID)
	}
	for i, opt := range poll.Options {
		if opt.DisplayOrder != i {
			t.Errorf("option %d DisplayOrder = %d", i, opt.DisplayOrder)
		}
	}
}

func TestEndPoll(t *testing.T) {
	_, bc, lc, _ := newFixture()
	ctx := context.Background()
	creator := uuid.New()

	poll, err := lc.CreatePoll(ctx, creator, uuid.New(), CreatePollInput{
		Title:   "lunch",
		Options: []OptionInput{{Text: "a"}, {Text: "b"}},
	})
	if err != nil {
		t.Fatalf("CreatePoll: %v", err)
	}

	t.Run("non-creator forbidden", func(t *testing.T) {
		_, _, err := lc.EndPoll(ctx, poll.ID, uuid.New())
		if err != ErrNotCreator {
			t.Fatalf("err = %v, want ErrNotCreator", err)
		}
	})

	t.Run("end then end again is idempotent", func(t *testing.T) {
		first, _, err := lc.EndPoll(ctx, poll.ID, creator)
		if err != nil {
			t.Fatalf("first EndPoll: %v", err)
		}
		if first.Status != models.StatusEnded || first.EndedAt == nil {
			t.Fatalf("poll not ended: status=%q endedAt=%v", first.Status, first.EndedAt)
		}
		second, _, err := lc.EndPoll(ctx, poll.ID, creator)
		if err != nil {
			t.Fatalf("second EndPoll: %v", err)
		}
		if second.Status != models.StatusEnded {
			t.Fatalf("second EndPoll status = %q", second.Status)
		}
		if bc.endedCount() != 1 {
			t.Fatalf("poll_ended broadcast %d times, want exactly 1", bc.endedCount())
		}
	})

	t.Run("unknown poll", func(t *testing.T) {
		_, _, err := lc.EndPoll(ctx, uuid.New(), creator)
		if err != ErrPollNotFound {
			t.Fatalf("err = %v, want ErrPollNotFound", err)
		}
	})
}

func TestResolvePollLazyExpiry(t *testing.T) {
	store, bc, lc, _ := newFixture()
	ctx := context.Background()

	poll := newTestPoll(models.KindPoll, false, 2)
	poll.ClosesAt = timePtr(time.Now().Add(-time.Minute))
	if err := store.CreatePoll(ctx, poll); err != nil {
		t.Fatalf("seed poll: %v", err)
	}

	got, err := lc.ResolvePoll(ctx, poll.ID)
	if err != nil {
		t.Fatalf("ResolvePoll: %v", err)
	}
	if got.Status != models.StatusEnded {
		t.Fatalf("status = %q, want ended after elapsed deadline", got.Status)
	}

	// Subsequent reads see the settled state without a second broadcast.
	if _, err := lc.ResolvePoll(ctx, poll.ID); err != nil {
		t.Fatalf("second ResolvePoll: %v", err)
	}
	if bc.endedCount() != 1 {
		t.Fatalf("poll_ended broadcast %d times, want exactly 1", bc.endedCount())
	}
}

func TestAddOption(t *testing.T) {
	_, _, lc, svc := newFixture()
	ctx := context.Background()
	creator := uuid.New()

	poll, err := lc.CreatePoll(ctx, creator, uuid.New(), CreatePollInput{
		Title:   "lunch",
		Options: []OptionInput{{Text: "a"}, {Text: "b"}},
	})
	if err != nil {
		t.Fatalf("CreatePoll: %v", err)
	}

	t.Run("non-creator forbidden", func(t *testing.T) {
		_, err := lc.AddOption(ctx, poll.ID, uuid.New(), OptionInput{Text: "c"})
		if err != ErrNotCreator {
			t.Fatalf("err = %v, want ErrNotCreator", err)
		}
	})

	t.Run("append before any ballot", func(t *testing.T) {
		updated, err := lc.AddOption(ctx, poll.ID, creator, OptionInput{Text: "c"})
		if err != nil {
			t.Fatalf("AddOption: %v", err)
		}
		if len(updated.Options) != 3 {
			t.Fatalf("option count = %d, want 3", len(updated.Options))
		}
		if updated.Options[2].DisplayOrder != 2 {
			t.Errorf("appended DisplayOrder = %d, want 2", updated.Options[2].DisplayOrder)
		}
	})

	t.Run("frozen after first ballot", func(t *testing.T) {
		if _, err := svc.CastBallot(ctx, poll.ID, uuid.New(), []uuid.UUID{poll.Options[0].ID}); err != nil {
			t.Fatalf("CastBallot: %v", err)
		}
		_, err := lc.AddOption(ctx, poll.ID, creator, OptionInput{Text: "d"})
		if err != ErrOptionsFrozen {
			t.Fatalf("err = %v, want ErrOptionsFrozen", err)
		}
	})
}
