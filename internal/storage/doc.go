// Package storage is the local persistence collaborator of the engine.
//
// It stores:
//   - small key/value blobs (the serialized notification settings)
//   - history records, one per notification id, so the history view
//     survives restarts
//
// Drivers: "memory", "file" (snapshot + journal) and "sqlite".
package storage
