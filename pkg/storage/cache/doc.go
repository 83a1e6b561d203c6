// Package cache decorates a storage.Store with a two tier read cache.
//
// L1 is an in-process expirable LRU of storage.Snapshot values. L2 is an
// optional Redis tier shared by every replica of the service, holding sets as
// JSON. Misses for the same id collapse into one backend load via
// singleflight. Replace and Delete invalidate both tiers; a load that raced a
// write is returned to its callers but never cached.
//
// Redis also holds a generation counter per id. Invalidation increments it,
// L2 entries are keyed by it and L1 entries are stamped with it, so a process
// never serves a set another process has since redefined or deleted.
package cache
