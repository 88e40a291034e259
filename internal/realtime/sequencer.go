package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Sequencer hands out per-poll monotonically increasing sequence numbers for
// outgoing messages.
type Sequencer interface {
	Next(pollID uuid.UUID) uint64
}

// MemSequencer is a process-local sequencer. Fine for a single instance and
// for tests; numbers restart from 1 on process restart, which clients absorb
// through their reconnect re-fetch.
type MemSequencer struct {
	mu   sync.Mutex
	seqs map[uuid.UUID]uint64
}

// NewMemSequencer creates an in-memory sequencer.
func NewMemSequencer() *MemSequencer {
	return &MemSequencer{seqs: make(map[uuid.UUID]uint64)}
}

func (s *MemSequencer) Next(pollID uuid.UUID) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seqs[pollID]++
	return s.seqs[pollID]
}

const seqTimeout = 2 * time.Second

// RedisSequencer issues sequence numbers from a shared Redis counter so they
// stay monotonic across server instances. If Redis is unreachable it falls
// back to a local counter; delivery is best-effort and clients reconcile via
// snapshot fetches, so a temporarily lower number only costs a dropped message.
type RedisSequencer struct {
	client   *redis.Client
	fallback *MemSequencer
	logger   *zap.Logger
}

// NewRedisSequencer creates a Redis-backed sequencer.
func NewRedisSequencer(client *redis.Client, logger *zap.Logger) *RedisSequencer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisSequencer{client: client, fallback: NewMemSequencer(), logger: logger}
}

func (s *RedisSequencer) Next(pollID uuid.UUID) uint64 {
	ctx, cancel := context.WithTimeout(context.Background(), seqTimeout)
	defer cancel()
	n, err := s.client.Incr(ctx, "poll:seq:"+pollID.String()).Result()
	if err != nil {
		s.logger.Warn("redis sequence failed, using local counter", zap.Error(err))
		return s.fallback.Next(pollID)
	}
	return uint64(n)
}
