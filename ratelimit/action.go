package ratelimit

import (
	"context"
	"fmt"
	"time"
)

const actionKeyFormat = "ratelimit:action:%s:%s"

// ActionLimiter limits semantic actions per user, e.g. the number of
// games a user may create per hour.
type ActionLimiter struct {
	store    CounterStore
	global   Policy
	policies map[string]Policy
	now      func() time.Time
}

// NewActionLimiter creates an ActionLimiter with per action policies
// and a default policy for all other actions.
func NewActionLimiter(store CounterStore, global Policy, policies map[string]Policy) (*ActionLimiter, error) {
	if err := global.Validate(); err != nil {
		return nil, err
	}

	for action, p := range policies {
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("action %s: %w", action, err)
		}
	}

	return &ActionLimiter{
		store:    store,
		global:   global,
		policies: policies,
		now:      time.Now,
	}, nil
}

// ActionKey returns the counter key of a user's action.
func ActionKey(userID, action string) string {
	return fmt.Sprintf(actionKeyFormat, action, userID)
}

func (a *ActionLimiter) policy(action string) Policy {
	if p, ok := a.policies[action]; ok {
		return p
	}
	return a.global
}

// Allow counts one action of the user.
func (a *ActionLimiter) Allow(ctx context.Context, userID, action string) (Decision, error) {
	return decide(ctx, a.store, ActionKey(userID, action), a.policy(action), a.now())
}

// Reset clears the counter of the user's action.
func (a *ActionLimiter) Reset(ctx context.Context, userID, action string) error {
	return a.store.Reset(ctx, ActionKey(userID, action))
}
