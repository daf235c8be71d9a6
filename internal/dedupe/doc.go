// Package dedupe provides a time-bounded cache for idempotent request handling:
// the first response stored under a key is replayed for repeats within the TTL.
package dedupe
