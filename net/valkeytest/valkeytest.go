// Package valkeytest starts a Valkey server in a container for tests.
package valkeytest

import (
	"testing"

	"github.com/dojopool/gatekeeper/net/redistest"
)

// NewTestValkey starts a Valkey server and returns its address and a
// function to stop it. The test is skipped when no container runtime
// is available.
func NewTestValkey(t testing.TB) (address string, done func()) {
	return redistest.Start(t, redistest.Valkey, "")
}
