// Package synccache owns the per-user, per-mode device snapshot cache.
//
// It mediates between UI consumers and two independently failing
// upstreams (the relational backend and the automation server),
// deduplicating concurrent fetches, persisting snapshots for fast cold
// starts, and driving a foreground-gated polling loop per observed key.
//
// Error policy: a failed refresh invalidates the cached entry (writes an
// empty, freshly timestamped one) rather than preserving stale devices
// next to an error banner. Persistence failures never surface to
// consumers; the durable copy only seeds the next cold start.
package synccache
