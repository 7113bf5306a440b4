package ratelimit

import (
	"sort"
	"strings"

	log "github.com/sirupsen/logrus"
)

// Registry holds the policy table. It is read only after creation
// and safe for concurrent use.
type Registry struct {
	global   Policy
	policies []Policy
}

// DefaultPolicy is the global ceiling for paths without their own
// policy.
func DefaultPolicy() Policy {
	return Policy{
		MaxHits:    DefaultMaxHits,
		TimeWindow: DefaultTimeWindow,
	}
}

// DefaultPolicies returns the built-in per route policies.
func DefaultPolicies() []Policy {
	return []Policy{
		{Prefix: "/api/auth", MaxHits: 5, TimeWindow: DefaultTimeWindow, Group: "auth", RejectInput: true},
		{Prefix: "/api/games/create", MaxHits: 10, TimeWindow: DefaultTimeWindow},
		{Prefix: "/api/games", MaxHits: 30, TimeWindow: DefaultTimeWindow},
		{Prefix: "/api/tournaments", MaxHits: 20, TimeWindow: DefaultTimeWindow},
		{Prefix: "/api/venues", MaxHits: 30, TimeWindow: DefaultTimeWindow},
	}
}

// NewRegistry creates a policy table with the global default policy
// and the per prefix policies. A policy with an empty prefix replaces
// the global default. Later policies replace earlier ones with the
// same prefix.
func NewRegistry(global Policy, policies ...Policy) (*Registry, error) {
	byPrefix := make(map[string]Policy)
	for _, p := range policies {
		if p.Prefix == "" {
			global = p
			continue
		}

		if err := p.Validate(); err != nil {
			return nil, err
		}
		byPrefix[p.Prefix] = p
	}

	global.Prefix = ""
	if err := global.Validate(); err != nil {
		return nil, err
	}

	r := &Registry{global: global}
	for _, p := range byPrefix {
		r.policies = append(r.policies, p)
	}

	// longest prefix first, so the first match is the most specific
	sort.Slice(r.policies, func(i, j int) bool {
		if len(r.policies[i].Prefix) != len(r.policies[j].Prefix) {
			return len(r.policies[i].Prefix) > len(r.policies[j].Prefix)
		}
		return r.policies[i].Prefix < r.policies[j].Prefix
	})

	log.Infof("Ratelimit default %s", r.global)
	for _, p := range r.policies {
		log.Infof("Ratelimit %s", p)
	}

	return r, nil
}

// Resolve returns the policy with the longest prefix matching path,
// or the global default policy.
func (r *Registry) Resolve(path string) Policy {
	for _, p := range r.policies {
		if strings.HasPrefix(path, p.Prefix) {
			return p
		}
	}
	return r.global
}

// Global returns the default policy.
func (r *Registry) Global() Policy {
	return r.global
}

// Policies returns the per prefix policies, longest prefix first.
func (r *Registry) Policies() []Policy {
	return append([]Policy(nil), r.policies...)
}
