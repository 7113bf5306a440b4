// Package net provides client address resolution for requests that
// passed through proxies, IP set parsing, and the Redis and Valkey
// clients used by the shared counter and token stores.
package net
