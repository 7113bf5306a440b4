/*
Package gatekeeper provides the request gatekeeping layer of the
Dojo Pool API: a reverse proxy, or an embeddable http.Handler, that
runs every API request through origin validation, CSRF protection,
the input filter chain and the rate limiter before it reaches the
application.

# Quickstart

The default executable is under cmd/gatekeeper:

	go install github.com/dojopool/gatekeeper/cmd/gatekeeper@latest

Start it in front of an application listening on port 3000:

	gatekeeper -upstream http://localhost:3000

Requests under /api/ are gated, all other requests are forwarded with
the security headers only. With the default policies, the sixth
request to /api/auth within a minute from the same client gets a 429
response:

	for i in $(seq 6); do curl -si localhost:9090/api/auth/login | head -1; done

State changing requests need a CSRF token, issued for the session by
the token endpoint:

	curl -s -H 'X-Session-Id: s1' localhost:9090/api/csrf-token

# Embedding

The gatekeeper can wrap an in process handler instead of proxying:

	g, err := gatekeeper.New(gatekeeper.Options{
		Handler:  api,
		Policies: ratelimit.DefaultPolicies(),
	})
	if err != nil {
		log.Fatal(err)
	}
	defer g.Close()

	http.ListenAndServe(":9090", g.Handler())

Semantic actions, e.g. creating a game, are limited per user with the
ActionLimiter, which shares the counter store with the request rate
limiter:

	d, err := g.ActionLimiter().Allow(ctx, userID, "create-game")

# Stores

The counters and the CSRF tokens are kept in process by default. To
share them across instances, use Redis or Valkey:

	gatekeeper -upstream http://localhost:3000 \
		-ratelimit-store redis -redis-urls redis-0:6379,redis-1:6379

When the store fails, the failure mode decides whether requests pass,
"open", or get a 503 response, "closed". A circuit breaker stops
calling a failing store for a while.

# Configuration

All options can be set by command line flags or in a YAML file given
by -config-file or the GATEKEEPER_CONFIG environment variable. Flags
take precedence over the file. See the config package.

# Metrics

The support listener, :9911 by default, serves the metrics of the
decisions, the stores and the CSRF tokens at /metrics, in the
codahale or the prometheus format.
*/
package gatekeeper
