package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	backend "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisTestStore(t *testing.T) *RedisStore {
	t.Helper()
	mr := miniredis.RunT(t)
	client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStoreFromClient(client)
}

func TestRedisStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newRedisTestStore(t)

	_, err := store.Load(ctx, 1, 2)
	assert.ErrorIs(t, err, ErrNotFound)

	s := New(1, 2, "onboarding", "begin")
	s.Variables["answer"] = "Yes"
	s.UpdatedAt = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.Save(ctx, s))

	got, err := store.Load(ctx, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, s.ID, got.ID)
	assert.Equal(t, "onboarding", got.ScenarioID)
	assert.Equal(t, "Yes", got.Variables["answer"])
	assert.Equal(t, s.UpdatedAt, got.UpdatedAt)
}

func TestRedisStoreDelete(t *testing.T) {
	ctx := context.Background()
	store := newRedisTestStore(t)

	s := New(3, 4, "sc", "step")
	require.NoError(t, store.Save(ctx, s))
	require.NoError(t, store.Delete(ctx, s.ID))

	_, err := store.Load(ctx, 3, 4)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.NoError(t, store.Delete(ctx, "missing"))
}

func TestRedisStoreDeadlineIndex(t *testing.T) {
	ctx := context.Background()
	store := newRedisTestStore(t)
	now := time.Now()

	expired := New(1, 1, "sc", "wait")
	expired.Suspend(&Wait{InputType: "text", NextStep: "n"}, time.Minute, now.Add(-2*time.Minute))
	require.NoError(t, store.Save(ctx, expired))

	pending := New(2, 2, "sc", "wait")
	pending.Suspend(&Wait{InputType: "text", NextStep: "n"}, time.Hour, now)
	require.NoError(t, store.Save(ctx, pending))

	got, err := store.ListExpired(ctx, now)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, expired.ID, got[0].ID)

	// Resuming clears the index entry.
	expired.Resume("n")
	require.NoError(t, store.Save(ctx, expired))
	got, err = store.ListExpired(ctx, now)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRedisStoreWaitSurvivesSerialization(t *testing.T) {
	ctx := context.Background()
	store := newRedisTestStore(t)

	s := New(9, 9, "sc", "wait")
	s.Suspend(&Wait{
		InputType:       "callback_query",
		Variable:        "choice",
		ExpectedValues:  []string{"a", "b"},
		NextStep:        "route",
		TimeoutNextStep: "nudge",
	}, time.Minute, time.Now())
	require.NoError(t, store.Save(ctx, s))

	got, err := store.Load(ctx, 9, 9)
	require.NoError(t, err)
	require.NotNil(t, got.Wait)
	assert.Equal(t, "callback_query", got.Wait.InputType)
	assert.Equal(t, []string{"a", "b"}, got.Wait.ExpectedValues)
	assert.Equal(t, "nudge", got.Wait.TimeoutNextStep)
}
