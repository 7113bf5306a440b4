/*
Package ratelimit implements the fixed-window rate limiting of the
gatekeeper.

Every request resolves a Policy from the Registry by longest prefix
match of its path. A request without a matching prefix gets the
default policy, a permissive global ceiling. The Lookuper of the
Limiter selects the client identity, by default the first address of
the X-Forwarded-For header or the remote address of the connection.

# Keys

Counter keys have the format

	ratelimit:{discriminator}:{client}

where the discriminator is the request path, or the group of the
policy when one is set. Policies of sensitive routes, e.g.
authentication, set a group so that all of their sub paths share one
counter per client.

# Algorithm

Each key has a fixed window counter. The first request of a window
creates the counter with a reset time of now + TimeWindow. Subsequent
requests within the window increment it until MaxHits is reached,
further requests are denied until the reset time passed. Bursts of up
to 2*MaxHits are possible across a window boundary.

Increment and compare happen in a single atomic step per key in every
CounterStore: under a shard lock in MemoryStore and as one Lua script
in RedisStore and ValkeyStore. Concurrent requests of the same client
can therefore never exceed MaxHits within one window. Denied requests
do not increment the counter.

# Stores

MemoryStore keeps the counters in process, expired counters are swept
on a small random fraction of the calls. RedisStore and ValkeyStore
share the counters across instances and rely on key expiry. Any store
can be wrapped by a BreakerStore, that stops calling a failing remote
store for a while.

When a store fails, the FailureMode of the Limiter decides: FailOpen
allows the request, FailClosed denies it.

# Blocking

A policy with a Block duration keeps a client denied for that
duration after it got rate limited, even if the window resets in
between.

# HTTP Response

SetHeaders writes the quota headers X-RateLimit-Limit,
X-RateLimit-Remaining and X-RateLimit-Reset (unix seconds) and, for
denied requests, Retry-After in seconds.

# Actions

ActionLimiter applies the same algorithm to (user, action) pairs, to
limit semantic actions like creating games independent of the HTTP
request rate.
*/
package ratelimit
