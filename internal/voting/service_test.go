package voting

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/gatherhub/backend/internal/models"
)

func createActivePoll(t *testing.T, lc *Lifecycle, creator uuid.UUID, in CreatePollInput) *models.Poll {
	t.Helper()
	if in.Title == "" {
		in.Title = "test"
	}
	if len(in.Options) == 0 {
		in.Options = []OptionInput{{Text: "a"}, {Text: "b"}}
	}
	poll, err := lc.CreatePoll(context.Background(), creator, uuid.New(), in)
	if err != nil {
		t.Fatalf("CreatePoll: %v", err)
	}
	return poll
}

func TestCastBallotReplacesPrior(t *testing.T) {
	_, _, lc, svc := newFixture()
	ctx := context.Background()
	voter := uuid.New()

	poll := createActivePoll(t, lc, uuid.New(), CreatePollInput{})
	optA, optB := poll.Options[0].ID, poll.Options[1].ID

	if _, err := svc.CastBallot(ctx, poll.ID, voter, []uuid.UUID{optA}); err != nil {
		t.Fatalf("first cast: %v", err)
	}
	res, err := svc.CastBallot(ctx, poll.ID, voter, []uuid.UUID{optB})
	if err != nil {
		t.Fatalf("second cast: %v", err)
	}

	if res.Snapshot.TotalBallots != 1 {
		t.Fatalf("TotalBallots = %d, want 1 after replace", res.Snapshot.TotalBallots)
	}
	ballot, err := svc.GetBallot(ctx, poll.ID, voter)
	if err != nil {
		t.Fatalf("GetBallot: %v", err)
	}
	if len(ballot.OptionIDs) != 1 || ballot.OptionIDs[0] != optB {
		t.Fatalf("ballot selection = %v, want [%s]", ballot.OptionIDs, optB)
	}
}

func TestCastBallotValidation(t *testing.T) {
	_, _, lc, svc := newFixture()
	ctx := context.Background()
	voter := uuid.New()

	poll := createActivePoll(t, lc, uuid.New(), CreatePollInput{})
	multi := createActivePoll(t, lc, uuid.New(), CreatePollInput{AllowMultiple: true})

	tests := []struct {
		name    string
		pollID  uuid.UUID
		options []uuid.UUID
		wantErr error
	}{
		{"unknown poll", uuid.New(), []uuid.UUID{uuid.New()}, ErrPollNotFound},
		{"empty selection", poll.ID, nil, ErrInvalidOptionSelection},
		{"foreign option", poll.ID, []uuid.UUID{uuid.New()}, ErrInvalidOptionSelection},
		{"option from another poll", poll.ID, []uuid.UUID{multi.Options[0].ID}, ErrInvalidOptionSelection},
		{"two options on single-choice", poll.ID, []uuid.UUID{poll.Options[0].ID, poll.Options[1].ID}, ErrInvalidOptionSelection},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.CastBallot(ctx, tt.pollID, voter, tt.options)
			if err != tt.wantErr {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}

	t.Run("multi-select accepted with duplicates collapsed", func(t *testing.T) {
		optA, optB := multi.Options[0].ID, multi.Options[1].ID
		res, err := svc.CastBallot(ctx, multi.ID, voter, []uuid.UUID{optA, optB, optA})
		if err != nil {
			t.Fatalf("CastBallot: %v", err)
		}
		if len(res.Ballot.OptionIDs) != 2 {
			t.Fatalf("selection = %v, want duplicates collapsed to 2", res.Ballot.OptionIDs)
		}
	})
}

func TestCastBallotEligibility(t *testing.T) {
	ctx := context.Background()
	creator, member := uuid.New(), uuid.New()

	store := NewMemStore()
	dir := memberList{creator: true, member: true}
	lc := NewLifecycle(store, dir, NopBroadcaster{}, nil)
	svc := NewService(store, dir, lc, NopBroadcaster{}, nil)

	poll := createActivePoll(t, lc, creator, CreatePollInput{})

	t.Run("non-member rejected", func(t *testing.T) {
		_, err := svc.CastBallot(ctx, poll.ID, uuid.New(), []uuid.UUID{poll.Options[0].ID})
		if err != ErrNotEligible {
			t.Fatalf("err = %v, want ErrNotEligible", err)
		}
	})

	t.Run("creator may vote on regular poll", func(t *testing.T) {
		if _, err := svc.CastBallot(ctx, poll.ID, creator, []uuid.UUID{poll.Options[0].ID}); err != nil {
			t.Fatalf("creator cast: %v", err)
		}
	})

	t.Run("creator excluded from schedule poll", func(t *testing.T) {
		slot := time.Now().Add(time.Hour)
		sched := createActivePoll(t, lc, creator, CreatePollInput{
			Kind: models.KindSchedule,
			Options: []OptionInput{
				{Text: "mon", StartsAt: &slot},
				{Text: "tue", StartsAt: timePtr(slot.Add(24 * time.Hour))},
			},
		})
		_, err := svc.CastBallot(ctx, sched.ID, creator, []uuid.UUID{sched.Options[0].ID})
		if err != ErrNotEligible {
			t.Fatalf("err = %v, want ErrNotEligible for schedule creator", err)
		}
		if _, err := svc.CastBallot(ctx, sched.ID, member, []uuid.UUID{sched.Options[0].ID}); err != nil {
			t.Fatalf("member cast on schedule: %v", err)
		}
	})
}

func TestCastBallotOnExpiredPoll(t *testing.T) {
	store, _, _, svc := newFixture()
	ctx := context.Background()

	poll := newTestPoll(models.KindPoll, false, 2)
	poll.ClosesAt = timePtr(time.Now().Add(-time.Minute))
	if err := store.CreatePoll(ctx, poll); err != nil {
		t.Fatalf("seed poll: %v", err)
	}

	_, err := svc.CastBallot(ctx, poll.ID, uuid.New(), []uuid.UUID{poll.Options[0].ID})
	if err != ErrVotingClosed {
		t.Fatalf("err = %v, want ErrVotingClosed", err)
	}
}

func TestScheduleToggle(t *testing.T) {
	_, _, lc, svc := newFixture()
	ctx := context.Background()
	voter := uuid.New()

	slotA := time.Now().Add(time.Hour)
	slotB := slotA.Add(24 * time.Hour)
	poll := createActivePoll(t, lc, uuid.New(), CreatePollInput{
		Kind:          models.KindSchedule,
		AllowMultiple: true,
		Options: []OptionInput{
			{Text: "mon", StartsAt: &slotA},
			{Text: "tue", StartsAt: &slotB},
		},
	})
	optA := poll.Options[0].ID

	// Cast, toggle off, cast again: each resubmission of the same set inverts.
	res, err := svc.CastBallot(ctx, poll.ID, voter, []uuid.UUID{optA})
	if err != nil {
		t.Fatalf("first cast: %v", err)
	}
	if res.Removed || res.Snapshot.TotalBallots != 1 {
		t.Fatalf("first cast: removed=%v total=%d", res.Removed, res.Snapshot.TotalBallots)
	}

	res, err = svc.CastBallot(ctx, poll.ID, voter, []uuid.UUID{optA})
	if err != nil {
		t.Fatalf("toggle off: %v", err)
	}
	if !res.Removed || res.Snapshot.TotalBallots != 0 {
		t.Fatalf("toggle off: removed=%v total=%d", res.Removed, res.Snapshot.TotalBallots)
	}
	if _, err := svc.GetBallot(ctx, poll.ID, voter); err != ErrBallotNotFound {
		t.Fatalf("GetBallot after toggle off: err = %v, want ErrBallotNotFound", err)
	}

	res, err = svc.CastBallot(ctx, poll.ID, voter, []uuid.UUID{optA})
	if err != nil {
		t.Fatalf("third cast: %v", err)
	}
	if res.Removed || res.Snapshot.TotalBallots != 1 {
		t.Fatalf("third cast: removed=%v total=%d", res.Removed, res.Snapshot.TotalBallots)
	}

	t.Run("different set replaces instead of toggling", func(t *testing.T) {
		res, err := svc.CastBallot(ctx, poll.ID, voter, []uuid.UUID{optA, poll.Options[1].ID})
		if err != nil {
			t.Fatalf("replace cast: %v", err)
		}
		if res.Removed {
			t.Fatal("changed selection must replace, not toggle off")
		}
		if len(res.Ballot.OptionIDs) != 2 {
			t.Fatalf("selection = %v, want both slots", res.Ballot.OptionIDs)
		}
	})
}

func TestSchedulePastSlotRejected(t *testing.T) {
	store, _, _, svc := newFixture()
	ctx := context.Background()

	// Seed directly so one slot can sit in the past.
	past := time.Now().Add(-time.Hour)
	future := time.Now().Add(time.Hour)
	poll := newTestPoll(models.KindSchedule, true, 0)
	poll.Options = []models.Option{
		{ID: uuid.New(), PollID: poll.ID, Text: "gone", StartsAt: &past},
		{ID: uuid.New(), PollID: poll.ID, Text: "soon", StartsAt: &future},
	}
	if err := store.CreatePoll(ctx, poll); err != nil {
		t.Fatalf("seed poll: %v", err)
	}

	_, err := svc.CastBallot(ctx, poll.ID, uuid.New(), []uuid.UUID{poll.Options[0].ID})
	if err != ErrNotEligible {
		t.Fatalf("err = %v, want ErrNotEligible for past slot", err)
	}
	if _, err := svc.CastBallot(ctx, poll.ID, uuid.New(), []uuid.UUID{poll.Options[1].ID}); err != nil {
		t.Fatalf("future slot cast: %v", err)
	}
}

func TestRemoveBallot(t *testing.T) {
	_, bc, lc, svc := newFixture()
	ctx := context.Background()
	voter := uuid.New()

	poll := createActivePoll(t, lc, uuid.New(), CreatePollInput{})

	t.Run("no ballot to remove", func(t *testing.T) {
		_, err := svc.RemoveBallot(ctx, poll.ID, voter)
		if err != ErrBallotNotFound {
			t.Fatalf("err = %v, want ErrBallotNotFound", err)
		}
	})

	t.Run("remove existing ballot", func(t *testing.T) {
		if _, err := svc.CastBallot(ctx, poll.ID, voter, []uuid.UUID{poll.Options[0].ID}); err != nil {
			t.Fatalf("cast: %v", err)
		}
		before := bc.changedCount()
		res, err := svc.RemoveBallot(ctx, poll.ID, voter)
		if err != nil {
			t.Fatalf("RemoveBallot: %v", err)
		}
		if !res.Removed || res.Ballot != nil {
			t.Fatalf("removed=%v ballot=%v, want removed with no ballot", res.Removed, res.Ballot)
		}
		if res.Snapshot.TotalBallots != 0 {
			t.Fatalf("TotalBallots = %d, want 0", res.Snapshot.TotalBallots)
		}
		if bc.changedCount() != before+1 {
			t.Fatalf("removal must broadcast a ballot change")
		}
	})
}

func TestConcurrentCastsLeaveOneBallot(t *testing.T) {
	_, _, lc, svc := newFixture()
	ctx := context.Background()
	voter := uuid.New()

	poll := createActivePoll(t, lc, uuid.New(), CreatePollInput{})
	optA, optB := poll.Options[0].ID, poll.Options[1].ID

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		opt := optA
		if i%2 == 1 {
			opt = optB
		}
		go func(opt uuid.UUID) {
			defer wg.Done()
			if _, err := svc.CastBallot(ctx, poll.ID, voter, []uuid.UUID{opt}); err != nil {
				t.Errorf("concurrent cast: %v", err)
			}
		}(opt)
	}
	wg.Wait()

	ballot, err := svc.GetBallot(ctx, poll.ID, voter)
	if err != nil {
		t.Fatalf("GetBallot: %v", err)
	}
	if len(ballot.OptionIDs) != 1 {
		t.Fatalf("ballot has %d options, want 1", len(ballot.OptionIDs))
	}
	_, snap, err := lc.Snapshot(ctx, poll.ID)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.TotalBallots != 1 {
		t.Fatalf("TotalBallots = %d, want exactly 1 ballot for the voter", snap.TotalBallots)
	}
}

func TestCastBroadcastsBallotChanged(t *testing.T) {
	_, bc, lc, svc := newFixture()
	ctx := context.Background()

	poll := createActivePoll(t, lc, uuid.New(), CreatePollInput{})
	if _, err := svc.CastBallot(ctx, poll.ID, uuid.New(), []uuid.UUID{poll.Options[0].ID}); err != nil {
		t.Fatalf("cast: %v", err)
	}

	if bc.changedCount() != 1 {
		t.Fatalf("ballot_changed broadcast %d times, want 1", bc.changedCount())
	}
	bc.mu.Lock()
	snap := bc.changed[0]
	bc.mu.Unlock()
	if snap.TotalBallots != 1 {
		t.Fatalf("broadcast snapshot TotalBallots = %d, want 1", snap.TotalBallots)
	}
}
