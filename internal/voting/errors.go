package voting

import "errors"

// Validation failures returned synchronously to the caller. None are retried
// by the server; handlers translate them to HTTP statuses. A duplicate end
// request is not an error: EndPoll returns the current ended state instead.
var (
	ErrPollNotFound           = errors.New("poll not found")
	ErrNotCreator             = errors.New("only the poll creator may do this")
	ErrNotEligible            = errors.New("not eligible to vote on this poll")
	ErrVotingClosed           = errors.New("poll is not open for voting")
	ErrInvalidOptionCount     = errors.New("a poll needs at least two options")
	ErrInvalidOptionSelection = errors.New("invalid option selection")
	ErrOptionsFrozen          = errors.New("options are frozen once voting has started")
	ErrBallotNotFound         = errors.New("ballot not found")
	ErrNotEventMember         = errors.New("not a member of this event")

	// ErrConcurrentModification is surfaced when the store cannot guarantee the
	// atomic ballot replace and the client should retry.
	ErrConcurrentModification = errors.New("concurrent ballot modification, retry")
)
