package voting

import (
	"github.com/google/uuid"

	"github.com/gatherhub/backend/internal/models"
)

// Aggregate computes the result snapshot for a poll from the full ballot set.
// It is a pure function and is recomputed on every ballot mutation and on the
// poll-ended transition rather than patched incrementally, so the snapshot can
// never drift from the underlying ballots.
//
// total_ballots counts distinct voters. Under allow_multiple a single ballot
// contributes to every option it selects, so per-option counts may sum to more
// than the total. The winner is the option with the strictly highest count;
// a tie for the top count, or an empty poll, yields a nil winner.
func Aggregate(poll *models.Poll, ballots []models.Ballot) models.ResultSnapshot {
	counts := make(map[uuid.UUID]int, len(poll.Options))
	voters := make(map[uuid.UUID]struct{}, len(ballots))

	for _, b := range ballots {
		if _, seen := voters[b.VoterID]; seen {
			continue
		}
		voters[b.VoterID] = struct{}{}
		for _, optID := range b.OptionIDs {
			counts[optID]++
		}
	}
	total := len(voters)

	snap := models.ResultSnapshot{
		PollID:       poll.ID,
		TotalBallots: total,
		PerOption:    make([]models.OptionResult, 0, len(poll.Options)),
	}

	top, runnerUp := 0, 0
	var winner uuid.UUID
	for _, opt := range poll.Options {
		count := counts[opt.ID]
		pct := 0.0
		if total > 0 {
			pct = float64(count) / float64(total) * 100
		}
		snap.PerOption = append(snap.PerOption, models.OptionResult{
			OptionID:   opt.ID,
			Count:      count,
			Percentage: pct,
		})
		switch {
		case count > top:
			runnerUp = top
			top = count
			winner = opt.ID
		case count > runnerUp:
			runnerUp = count
		}
	}
	if total > 0 && top > runnerUp {
		w := winner
		snap.WinnerOptionID = &w
	}
	return snap
}
