package csrf

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Entry is the token of a session.
type Entry struct {
	Token     string
	ExpiresAt time.Time
}

// Expired returns true once now is after the expiry.
func (e Entry) Expired(now time.Time) bool {
	return now.After(e.ExpiresAt)
}

// TokenStore keeps one token per session. Implementations must be
// safe for concurrent use.
type TokenStore interface {
	// Put stores or replaces the entry of session.
	Put(ctx context.Context, session string, e Entry) error

	// Get returns the entry of session. Expired entries may be
	// returned, callers check the expiry.
	Get(ctx context.Context, session string) (Entry, bool, error)

	Delete(ctx context.Context, session string) error

	// Sweep removes expired entries and returns how many were
	// removed. Stores with native expiry return 0.
	Sweep(ctx context.Context, now time.Time) (int, error)

	Close()
}

const (
	keyPrefix      = "csrf:"
	entrySeparator = "|"
)

var errMalformedEntry = errors.New("malformed csrf entry")

func storeKey(session string) string {
	return keyPrefix + session
}

// encodeEntry serializes e for remote stores as token|expiry in unix
// milliseconds. Tokens are base64url and never contain the separator.
func encodeEntry(e Entry) string {
	return e.Token + entrySeparator + strconv.FormatInt(e.ExpiresAt.UnixMilli(), 10)
}

func decodeEntry(s string) (Entry, error) {
	token, exp, ok := strings.Cut(s, entrySeparator)
	if !ok || token == "" {
		return Entry{}, errMalformedEntry
	}

	ms, err := strconv.ParseInt(exp, 10, 64)
	if err != nil {
		return Entry{}, fmt.Errorf("%w: %w", errMalformedEntry, err)
	}

	return Entry{Token: token, ExpiresAt: time.UnixMilli(ms)}, nil
}

// ttl is the remaining lifetime of e for stores with native expiry,
// at least one second.
func ttl(e Entry, now time.Time) time.Duration {
	d := e.ExpiresAt.Sub(now)
	if d < time.Second {
		return time.Second
	}
	return d
}
