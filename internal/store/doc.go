// Package store provides the SQLite-backed record store for sound-event
// analysis results and the raw audio they were computed from.
//
// The store holds two independently addressable collections:
//   - plugin_yamnet: analysis metadata (synchronized by the sync collaborator)
//   - plugin_yamnet_audio: raw PCM16LE blobs (local only, subject to retention)
//
// Rows in the two collections are paired by value (timestamp, device_id),
// never by row key. The key spaces are independent.
//
// # Addressing
//
// Collections are addressed by content URIs of the form
//
//	content://<authority>/plugin_yamnet
//	content://<authority>/plugin_yamnet_audio
//	content://<authority>/plugin_yamnet_audio/<id>   (single row)
//
// Anything else resolves to ErrUnknownCollection.
//
// # Write discipline
//
//   - Every insert/update/delete runs in its own short transaction
//   - A store-level mutex serializes mutations on the single connection
//   - Duplicate (timestamp, device_id) inserts are ignored and return NoRow
//   - Subscribers are notified after commit, never for rolled-back work
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
package store
