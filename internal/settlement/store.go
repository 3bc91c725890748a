package settlement

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/dsoc-platform/incident-escrow/internal/domain"
)

// Store tracks two pieces of settlement bookkeeping that must survive
// poller replays: an exactly-once marker per ticket+transition (so a
// confirmed approval is never applied twice) and analyst reputation
// counters, clamped to [0,100].
type Store interface {
	MarkApplied(ctx context.Context, ticketID string, kind domain.TransitionKind) (bool, error)
	ClearApplied(ctx context.Context, ticketID string, kind domain.TransitionKind) error
	AdjustReputation(ctx context.Context, subjectID string, delta int) (int, error)
	Reputation(ctx context.Context, subjectID string) (int, bool, error)
}

const (
	ReputationApproveDelta = 2
	ReputationRejectDelta  = -5
)

// adjustScript clamps the stored reputation to [0,100] atomically.
var adjustScript = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[1]) or ARGV[2])
local next = current + tonumber(ARGV[1])
if next > 100 then next = 100 end
if next < 0 then next = 0 end
redis.call('SET', KEYS[1], next)
return next
`)

// RedisStore persists markers and reputation in redis.
type RedisStore struct {
	client     *redis.Client
	defaultRep int
}

// NewRedisStore builds the store. defaultReputation seeds subjects never
// adjusted before.
func NewRedisStore(client *redis.Client, defaultReputation int) *RedisStore {
	return &RedisStore{client: client, defaultRep: defaultReputation}
}

func markKey(ticketID string, kind domain.TransitionKind) string {
	return fmt.Sprintf("settlement:%s:%s", ticketID, kind)
}

func repKey(subjectID string) string {
	return "reputation:" + subjectID
}

// MarkApplied implements Store. Returns true only for the first caller.
func (s *RedisStore) MarkApplied(ctx context.Context, ticketID string, kind domain.TransitionKind) (bool, error) {
	return s.client.SetNX(ctx, markKey(ticketID, kind), "1", 0).Result()
}

// ClearApplied implements Store.
func (s *RedisStore) ClearApplied(ctx context.Context, ticketID string, kind domain.TransitionKind) error {
	return s.client.Del(ctx, markKey(ticketID, kind)).Err()
}

// AdjustReputation implements Store.
func (s *RedisStore) AdjustReputation(ctx context.Context, subjectID string, delta int) (int, error) {
	result, err := adjustScript.Run(ctx, s.client, []string{repKey(subjectID)}, delta, s.defaultRep).Int()
	if err != nil {
		return 0, err
	}
	return result, nil
}

// Reputation implements Store.
func (s *RedisStore) Reputation(ctx context.Context, subjectID string) (int, bool, error) {
	val, err := s.client.Get(ctx, repKey(subjectID)).Int()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return val, true, nil
}

// MemStore is the in-process fallback used in tests and when redis is
// not configured.
type MemStore struct {
	mu         sync.Mutex
	marks      map[string]bool
	reputation map[string]int
	defaultRep int
}

// NewMemStore builds the fallback store.
func NewMemStore(defaultReputation int) *MemStore {
	return &MemStore{
		marks:      make(map[string]bool),
		reputation: make(map[string]int),
		defaultRep: defaultReputation,
	}
}

// MarkApplied implements Store.
func (s *MemStore) MarkApplied(_ context.Context, ticketID string, kind domain.TransitionKind) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := markKey(ticketID, kind)
	if s.marks[key] {
		return false, nil
	}
	s.marks[key] = true
	return true, nil
}

// ClearApplied implements Store.
func (s *MemStore) ClearApplied(_ context.Context, ticketID string, kind domain.TransitionKind) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.marks, markKey(ticketID, kind))
	return nil
}

// AdjustReputation implements Store.
func (s *MemStore) AdjustReputation(_ context.Context, subjectID string, delta int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.reputation[subjectID]
	if !ok {
		current = s.defaultRep
	}
	next := current + delta
	if next > 100 {
		next = 100
	}
	if next < 0 {
		next = 0
	}
	s.reputation[subjectID] = next
	return next, nil
}

// Reputation implements Store.
func (s *MemStore) Reputation(_ context.Context, subjectID string) (int, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	val, ok := s.reputation[subjectID]
	return val, ok, nil
}
