package realtime

import (
	"github.com/google/uuid"

	"github.com/gatherhub/backend/internal/models"
)

// Notifier turns voting-layer notifications into sequenced hub messages.
// It satisfies the voting.Broadcaster contract: calls are fire-and-forget and
// never block or fail back into the committing request.
type Notifier struct {
	hub *Hub
	seq Sequencer
}

// NewNotifier creates a notifier publishing through the hub.
func NewNotifier(hub *Hub, seq Sequencer) *Notifier {
	return &Notifier{hub: hub, seq: seq}
}

func (n *Notifier) PollCreated(eventID uuid.UUID, poll *models.Poll) {
	n.hub.Publish(eventID, Message{
		Type:     TypePollCreated,
		PollID:   poll.ID,
		Sequence: n.seq.Next(poll.ID),
		Poll:     poll,
	})
}

func (n *Notifier) BallotChanged(eventID, pollID uuid.UUID, snapshot models.ResultSnapshot) {
	n.hub.Publish(eventID, Message{
		Type:           TypeBallotChanged,
		PollID:         pollID,
		Sequence:       n.seq.Next(pollID),
		ResultSnapshot: &snapshot,
	})
}

func (n *Notifier) PollEnded(eventID, pollID uuid.UUID, snapshot models.ResultSnapshot) {
	n.hub.Publish(eventID, Message{
		Type:           TypePollEnded,
		PollID:         pollID,
		Sequence:       n.seq.Next(pollID),
		ResultSnapshot: &snapshot,
	})
}
