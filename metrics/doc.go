/*
Package metrics implements collection of the gatekeeper's decision and
store metrics.

Two formats are supported, Prometheus and the Coda Hale JSON format
used by the Go implementation of the Coda Hale metrics library:

https://github.com/dropwizard/metrics

The collected metrics include the count of allowed requests, the count
of rejections per reason, the latency of counter store queries and the
connection pool statistics of the remote counter stores.

Metrics are exposed on the support listener, see the gatekeeper
package. When both formats are enabled, Prometheus is served on the
configured path, and the Coda Hale format when the request carries the
"Accept: application/codahale+json" header.
*/
package metrics
