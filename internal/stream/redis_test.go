package stream_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/Ayash-Bera/intake/internal/stream"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Runs against a real redis when TEST_REDIS_URL is set.
func TestRedisTracker(t *testing.T) {
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	opts, err := redis.ParseURL(url)
	require.NoError(t, err)
	client := redis.NewClient(opts)
	defer client.Close()

	ctx := context.Background()
	require.NoError(t, client.Ping(ctx).Err())

	tracker := stream.NewRedisTracker(client, nil, time.Minute)
	id := uuid.New()

	ok, err := tracker.MarkOnce(ctx, id, 1, "clarifying_questions")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = tracker.MarkOnce(ctx, id, 1, "clarifying_questions")
	require.NoError(t, err)
	assert.False(t, ok)

	for want := int64(1); want <= 3; want++ {
		seq, err := tracker.NextSeq(ctx, id, 1)
		require.NoError(t, err)
		assert.Equal(t, want, seq)
	}

	// Keys missing from redis are seeded from the event log.
	seeded := stream.NewRedisTracker(client, staticLog{maxSeq: 20, seen: map[string]bool{"clarifying_questions": true}}, time.Minute)
	other := uuid.New()
	seq, err := seeded.NextSeq(ctx, other, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(21), seq)
	ok, err = seeded.MarkOnce(ctx, other, 1, "clarifying_questions")
	require.NoError(t, err)
	assert.False(t, ok)
}
