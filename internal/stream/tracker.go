package stream

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
)

// Tracker holds the per-(session, version) milestone markers and sequence
// counters behind the stream.
type Tracker interface {
	// MarkOnce atomically records the milestone and reports whether this
	// call was the first to do so.
	MarkOnce(ctx context.Context, sessionID uuid.UUID, version int, milestone string) (bool, error)
	// NextSeq returns a strictly increasing number for the pair.
	NextSeq(ctx context.Context, sessionID uuid.UUID, version int) (int64, error)
}

// EventLog is the durable record of emitted frames. Trackers consult it
// whenever their own key for a pair is missing, after a restart or once the
// marker TTL has passed.
type EventLog interface {
	MaxEventSeq(ctx context.Context, sessionID uuid.UUID, version int) (int64, error)
	HasEvent(ctx context.Context, sessionID uuid.UUID, version int, eventType string) (bool, error)
}

func milestoneKey(sessionID uuid.UUID, version int, milestone string) string {
	return fmt.Sprintf("clarify:milestone:%s:v%d:%s", sessionID, version, milestone)
}

func seqKey(sessionID uuid.UUID, version int) string {
	return fmt.Sprintf("clarify:seq:%s:v%d", sessionID, version)
}

func lastSeq(ctx context.Context, log EventLog, sessionID uuid.UUID, version int) (int64, error) {
	if log == nil {
		return 0, nil
	}
	seq, err := log.MaxEventSeq(ctx, sessionID, version)
	if err != nil {
		return 0, fmt.Errorf("failed to read last sequence: %w", err)
	}
	return seq, nil
}

func alreadyLogged(ctx context.Context, log EventLog, sessionID uuid.UUID, version int, milestone string) (bool, error) {
	if log == nil {
		return false, nil
	}
	seen, err := log.HasEvent(ctx, sessionID, version, milestone)
	if err != nil {
		return false, fmt.Errorf("failed to read milestone from event log: %w", err)
	}
	return seen, nil
}

// RedisTracker shares markers and counters across server processes.
type RedisTracker struct {
	client *redis.Client
	log    EventLog
	ttl    time.Duration
}

func NewRedisTracker(client *redis.Client, log EventLog, ttl time.Duration) *RedisTracker {
	return &RedisTracker{client: client, log: log, ttl: ttl}
}

func (t *RedisTracker) MarkOnce(ctx context.Context, sessionID uuid.UUID, version int, milestone string) (bool, error) {
	key := milestoneKey(sessionID, version, milestone)
	n, err := t.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to read milestone marker: %w", err)
	}
	if n > 0 {
		return false, nil
	}

	seen, err := alreadyLogged(ctx, t.log, sessionID, version, milestone)
	if err != nil {
		return false, err
	}
	if seen {
		t.client.SetNX(ctx, key, time.Now().Unix(), t.ttl)
		return false, nil
	}

	ok, err := t.client.SetNX(ctx, key, time.Now().Unix(), t.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to set milestone marker: %w", err)
	}
	return ok, nil
}

func (t *RedisTracker) NextSeq(ctx context.Context, sessionID uuid.UUID, version int) (int64, error) {
	key := seqKey(sessionID, version)
	n, err := t.client.Exists(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read sequence: %w", err)
	}
	if n == 0 {
		seed, err := lastSeq(ctx, t.log, sessionID, version)
		if err != nil {
			return 0, err
		}
		// A racing seeder wins harmlessly; both then increment the same key.
		if err := t.client.SetNX(ctx, key, seed, t.ttl).Err(); err != nil {
			return 0, fmt.Errorf("failed to seed sequence: %w", err)
		}
	}

	seq, err := t.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to increment sequence: %w", err)
	}
	return seq, nil
}

// MemoryTracker is the single-process tracker used without redis.
type MemoryTracker struct {
	cache *cache.Cache
	log   EventLog
	ttl   time.Duration
}

func NewMemoryTracker(log EventLog, ttl time.Duration) *MemoryTracker {
	if ttl <= 0 {
		ttl = cache.NoExpiration
	}
	return &MemoryTracker{
		cache: cache.New(ttl, 10*time.Minute),
		log:   log,
		ttl:   ttl,
	}
}

func (t *MemoryTracker) MarkOnce(ctx context.Context, sessionID uuid.UUID, version int, milestone string) (bool, error) {
	key := milestoneKey(sessionID, version, milestone)
	if _, found := t.cache.Get(key); found {
		return false, nil
	}

	seen, err := alreadyLogged(ctx, t.log, sessionID, version, milestone)
	if err != nil {
		return false, err
	}
	if seen {
		_ = t.cache.Add(key, time.Now(), cache.DefaultExpiration)
		return false, nil
	}

	// Add fails when the key already exists.
	return t.cache.Add(key, time.Now(), cache.DefaultExpiration) == nil, nil
}

func (t *MemoryTracker) NextSeq(ctx context.Context, sessionID uuid.UUID, version int) (int64, error) {
	key := seqKey(sessionID, version)
	if seq, err := t.cache.IncrementInt64(key, 1); err == nil {
		return seq, nil
	}

	seed, err := lastSeq(ctx, t.log, sessionID, version)
	if err != nil {
		return 0, err
	}
	// First use: a racing Add loses harmlessly and both callers increment.
	_ = t.cache.Add(key, seed, cache.DefaultExpiration)
	return t.cache.IncrementInt64(key, 1)
}
