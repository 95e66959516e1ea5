// Package store provides the gateway's OAuth state persistence.
//
// # Architecture
//
// Store is a single polymorphic interface with two implementations:
//
//   - EphemeralStore: three in-process maps, expiry checked lazily on get.
//     State does not survive a restart.
//   - SQLiteStore: a single kv table (modernc.org/sqlite), with a
//     background sweeper that deletes expired rows every five minutes.
//
// Both implementations guarantee that RotateRefreshToken is atomic from
// the caller's point of view: either both the delete of the old hash and
// the insert of the new one happen, or neither does, and the old hash
// remains reachable if the insert fails.
package store
