package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryResolve(t *testing.T) {
	r, err := NewRegistry(DefaultPolicy(), DefaultPolicies()...)
	require.NoError(t, err)

	for _, tt := range []struct {
		path       string
		wantPrefix string
		wantHits   int
	}{
		{"/api/auth/login", "/api/auth", 5},
		{"/api/auth", "/api/auth", 5},
		{"/api/games/create", "/api/games/create", 10},
		{"/api/games/create/quick", "/api/games/create", 10},
		{"/api/games/42", "/api/games", 30},
		{"/api/tournaments", "/api/tournaments", 20},
		{"/api/venues/1/tables", "/api/venues", 30},
		{"/api/users", "", DefaultMaxHits},
		{"/", "", DefaultMaxHits},
	} {
		t.Run(tt.path, func(t *testing.T) {
			p := r.Resolve(tt.path)
			assert.Equal(t, tt.wantPrefix, p.Prefix)
			assert.Equal(t, tt.wantHits, p.MaxHits)
		})
	}
}

func TestRegistryOverrides(t *testing.T) {
	r, err := NewRegistry(DefaultPolicy(),
		Policy{Prefix: "/api/games", MaxHits: 30, TimeWindow: time.Minute},
		Policy{Prefix: "/api/games", MaxHits: 3, TimeWindow: time.Second},
		Policy{MaxHits: 7, TimeWindow: time.Hour},
	)
	require.NoError(t, err)

	assert.Equal(t, 3, r.Resolve("/api/games").MaxHits)
	assert.Equal(t, Policy{MaxHits: 7, TimeWindow: time.Hour}, r.Global())
	assert.Len(t, r.Policies(), 1)
}

func TestRegistryRejectsInvalidPolicies(t *testing.T) {
	_, err := NewRegistry(DefaultPolicy(), Policy{Prefix: "/x", MaxHits: 0, TimeWindow: time.Second})
	assert.ErrorIs(t, err, ErrInvalidPolicy)

	_, err = NewRegistry(Policy{})
	assert.ErrorIs(t, err, ErrInvalidPolicy)
}

func TestRegistryOrder(t *testing.T) {
	r, err := NewRegistry(DefaultPolicy(),
		Policy{Prefix: "/a", MaxHits: 1, TimeWindow: time.Second},
		Policy{Prefix: "/a/b/c", MaxHits: 3, TimeWindow: time.Second},
		Policy{Prefix: "/a/b", MaxHits: 2, TimeWindow: time.Second},
	)
	require.NoError(t, err)

	var prefixes []string
	for _, p := range r.Policies() {
		prefixes = append(prefixes, p.Prefix)
	}
	assert.Equal(t, []string{"/a/b/c", "/a/b", "/a"}, prefixes)
}
