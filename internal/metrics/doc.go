// Package metrics exposes Prometheus collectors for tool calls, rate limit
// decisions and QA service round trips.
package metrics
