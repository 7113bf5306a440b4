package ratelimit

import (
	"time"

	"github.com/patrickmn/go-cache"
)

// BlockList keeps clients that exceeded a policy with a Block
// duration. Expired blocks are dropped on access and by Sweep, there
// is no background janitor.
type BlockList struct {
	blocked *cache.Cache
	now     func() time.Time
}

func NewBlockList(now func() time.Time) *BlockList {
	if now == nil {
		now = time.Now
	}
	return &BlockList{
		blocked: cache.New(cache.NoExpiration, 0),
		now:     now,
	}
}

// Block denies key until now + d.
func (b *BlockList) Block(key string, d time.Duration) time.Time {
	until := b.now().Add(d)
	b.blocked.Set(key, until, cache.NoExpiration)
	return until
}

// Blocked returns the end of the block of key.
func (b *BlockList) Blocked(key string) (time.Time, bool) {
	v, ok := b.blocked.Get(key)
	if !ok {
		return time.Time{}, false
	}

	until := v.(time.Time)
	if b.now().After(until) {
		b.blocked.Delete(key)
		return time.Time{}, false
	}
	return until, true
}

// Unblock removes the block of key.
func (b *BlockList) Unblock(key string) {
	b.blocked.Delete(key)
}

// Sweep removes all expired blocks.
func (b *BlockList) Sweep() {
	now := b.now()
	for k, item := range b.blocked.Items() {
		if now.After(item.Object.(time.Time)) {
			b.blocked.Delete(k)
		}
	}
}

func (b *BlockList) Len() int {
	return b.blocked.ItemCount()
}
