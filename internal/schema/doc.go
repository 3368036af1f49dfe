// Package schema defines the studysync entity model shared by every replica.
//
// Overview
//
// Three synchronised kinds (Task, Course, Resource) carry the same sync
// metadata: a client-generated ID that never changes, the owning user, an
// isSynced flag and a last-modified timestamp in epoch milliseconds. User is
// written best-effort at registration and is never reconciled afterwards.
//
// The JSON tags on the structs are the cloud document shape (camelCase). The
// local store and the secondary API map fields to snake_case columns at their
// own boundaries.
//
// Timestamps
//
// Millis is the only timestamp representation. Every boundary converts to and
// from it, so a record read back from any replica compares equal to the one
// that was written:
//
//	task := &schema.Task{ID: schema.NewID(), UserID: uid, Title: "Essay"}
//	task.Touch(schema.Now())
//	due := schema.FromTime(time.Now().Add(48 * time.Hour))
//	task.DueDate = &due
//
// Records
//
// Task, Course and Resource implement Record, which is what the local store,
// cloud replica and reconciliation engine operate on. Validate is only for
// input boundaries such as the CLI; nothing below them validates.
package schema
