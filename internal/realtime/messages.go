package realtime

import (
	"github.com/google/uuid"

	"github.com/gatherhub/backend/internal/models"
)

// MessageType tags the closed set of realtime message variants. Receivers can
// switch on it exhaustively; there is no open-ended event namespace.
type MessageType string

const (
	TypePollCreated   MessageType = "poll_created"
	TypeBallotChanged MessageType = "ballot_changed"
	TypePollEnded     MessageType = "poll_ended"
)

// Message is one realtime event scoped to a poll. Sequence is monotonically
// increasing per poll so receivers can detect gaps and drop duplicates or
// stale deliveries. ballot_changed and poll_ended always carry the full
// snapshot, never a delta, so a receiver that missed prior messages still
// converges from any single message.
type Message struct {
	Type           MessageType            `json:"type"`
	PollID         uuid.UUID              `json:"poll_id"`
	Sequence       uint64                 `json:"sequence"`
	Poll           *models.Poll           `json:"poll,omitempty"`
	ResultSnapshot *models.ResultSnapshot `json:"result_snapshot,omitempty"`
}
