package voting

import (
	"github.com/google/uuid"

	"github.com/gatherhub/backend/internal/models"
)

// Broadcaster publishes lifecycle and ballot events to every subscriber of the
// poll's parent event. Implementations must not block the caller: delivery is
// fire-and-forget once the underlying write has committed, and failures to
// reach a subscriber are never surfaced to the voter.
type Broadcaster interface {
	PollCreated(eventID uuid.UUID, poll *models.Poll)
	BallotChanged(eventID, pollID uuid.UUID, snapshot models.ResultSnapshot)
	PollEnded(eventID, pollID uuid.UUID, snapshot models.ResultSnapshot)
}

// NopBroadcaster discards all events.
type NopBroadcaster struct{}

func (NopBroadcaster) PollCreated(uuid.UUID, *models.Poll)                       {}
func (NopBroadcaster) BallotChanged(uuid.UUID, uuid.UUID, models.ResultSnapshot) {}
func (NopBroadcaster) PollEnded(uuid.UUID, uuid.UUID, models.ResultSnapshot)     {}
