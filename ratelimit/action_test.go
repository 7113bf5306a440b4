package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActionKey(t *testing.T) {
	assert.Equal(t, "ratelimit:action:create-game:u42", ActionKey("u42", "create-game"))
}

func TestActionLimiter(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStore(MemoryStoreOptions{Now: clock.Now})
	defer store.Close()

	a, err := NewActionLimiter(store, Policy{MaxHits: 3, TimeWindow: time.Minute}, map[string]Policy{
		"create-game": {MaxHits: 1, TimeWindow: time.Hour},
	})
	require.NoError(t, err)
	a.now = clock.Now
	ctx := context.Background()

	d, err := a.Allow(ctx, "u1", "create-game")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)

	d, err = a.Allow(ctx, "u1", "create-game")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 3600, d.RetryAfter)

	t.Run("per user", func(t *testing.T) {
		d, err := a.Allow(ctx, "u2", "create-game")
		require.NoError(t, err)
		assert.True(t, d.Allowed)
	})

	t.Run("default policy", func(t *testing.T) {
		for i := 0; i < 3; i++ {
			d, err := a.Allow(ctx, "u1", "comment")
			require.NoError(t, err)
			assert.True(t, d.Allowed)
		}
		d, err := a.Allow(ctx, "u1", "comment")
		require.NoError(t, err)
		assert.False(t, d.Allowed)
	})

	t.Run("reset", func(t *testing.T) {
		require.NoError(t, a.Reset(ctx, "u1", "create-game"))
		d, err := a.Allow(ctx, "u1", "create-game")
		require.NoError(t, err)
		assert.True(t, d.Allowed)
	})
}

func TestActionLimiterInvalidPolicy(t *testing.T) {
	store := NewMemoryStore(MemoryStoreOptions{})
	defer store.Close()

	_, err := NewActionLimiter(store, Policy{MaxHits: 0, TimeWindow: time.Minute}, nil)
	assert.ErrorIs(t, err, ErrInvalidPolicy)

	_, err = NewActionLimiter(store, DefaultPolicy(), map[string]Policy{"x": {MaxHits: 1}})
	assert.ErrorIs(t, err, ErrInvalidPolicy)
}
