// Package storage keeps a bounded history of delivered records for the
// viewer, so a freshly opened page can show what happened before it connected.
//
// Drivers:
//   - "memory": in-process ring buffer
//   - "file":   JSON Lines file, compacted to the ring size
//   - "sqlite": SQLite database (pure Go driver)
package storage
