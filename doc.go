// Package credpool manages a persistent pool of bounded-reuse credentials
// for a rate-limited, anti-bot-protected remote API. Credentials come from
// an external generator process, are reusable a limited number of times, and
// must cool down before being reused again.
//
// Components:
//   - store.Store: durable cache + pool tables (SQLite, Redis, or memory).
//     Sole source of truth for pool state across restarts.
//   - generator.Generator: the external process behind a narrow
//     start/batch/stop interface with lazy restart on IPC failure.
//   - Pool (this package): allocation policy, synchronous emergency refill
//     on exhaustion, background warm-up toward a target capacity.
//   - client.Client: read-through cached HTTP client that attaches a pooled
//     credential and a fresh traceparent to every outbound request.
//
// Allocation policy: fresh rows (use count under the limit) are preferred,
// least-used first; once fresh supply is exhausted the longest-cooled row
// past the cooldown window is recycled. Callers either get a credential,
// possibly after a direct latency-costly generator call, or an error; never
// a silent miss.
package credpool
