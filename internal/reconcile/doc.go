// Package reconcile keeps the local store, the cloud document store and the
// secondary API in agreement.
//
// Overview
//
// The local store is the source of truth for reads. Every mutation lands
// there first and returns to the caller immediately; the remote replicas are
// written in the background and their outcomes are reported separately. A
// record is marked synced only when the cloud acknowledges it. The secondary
// API is a best-effort mirror and never affects the sync flag.
//
// Architecture
//
//	Create/Update/Delete
//	     │
//	     ├── local store (synchronous, under the record lock)
//	     │
//	     └── background push ──┬── cloud ──► MarkSyncedAt / retry queue
//	                           └── secondary (tasks, resources)
//
//	Pull (per kind, per user)
//	     cloud FetchAll ──► Decide(local, remote) ──► local upsert (isSynced=true)
//
// Merge rule
//
// Decide is last-writer-wins on the record timestamp. A remote copy is
// inserted when no local copy exists and overwrites the local copy only when
// it is strictly newer. Ties keep the local copy.
//
// Usage
//
//	eng := reconcile.New(reconcile.Options{
//	    Store:     db,
//	    Cloud:     cloud.NewReplica(backend, log),
//	    Secondary: apiclient.NewClient(nil, "http://localhost:8080"),
//	    Gate:      monitor,
//	    Log:       log,
//	})
//	defer eng.Close()
//
//	receipt, err := eng.Create(ctx, task)
//	if err != nil {
//	    return err // local write failed
//	}
//	report, _ := receipt.Wait(ctx)
//	fmt.Println(report.Cloud, report.Secondary)
//
//	if _, err := eng.Sync(ctx, userID); err != nil {
//	    return err
//	}
//
// Error Handling
//
// Local failures are returned to the caller. Remote failures are logged,
// reported through PushReport and the observer, and the affected record is
// queued for a retry with exponential backoff. Deletes are not retried.
package reconcile
