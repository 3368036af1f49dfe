package reconcile

import (
	"context"

	"github.com/studysync/studysync/internal/schema"
	"github.com/studysync/studysync/internal/store"
)

// LocalStore is the part of the local database the engine writes through.
// *store.DB satisfies it.
type LocalStore interface {
	Upsert(ctx context.Context, rec schema.Record) error
	Get(ctx context.Context, kind schema.Kind, id string) (schema.Record, error)
	Delete(ctx context.Context, kind schema.Kind, id string) (int64, error)
	DeleteCourseCascade(ctx context.Context, courseID string) (*store.CascadeResult, error)
	Unsynced(ctx context.Context, kind schema.Kind) ([]schema.Record, error)
	MarkSyncedAt(ctx context.Context, kind schema.Kind, id string, modified schema.Millis) (bool, error)
	UpsertUser(ctx context.Context, u *schema.User) error
}

// CloudReplica is the authoritative remote. *cloud.Replica satisfies it.
type CloudReplica interface {
	PutRecord(ctx context.Context, rec schema.Record) error
	DeleteRecord(ctx context.Context, kind schema.Kind, id string) error
	FetchAll(ctx context.Context, kind schema.Kind, userID string) ([]schema.Record, error)
	PutUser(ctx context.Context, u *schema.User) error
	PutNotification(ctx context.Context, n *schema.ScheduledNotification) error
	DeleteNotification(ctx context.Context, userID, taskID string) error
	DeleteNotificationsForUser(ctx context.Context, userID string) (int, error)
}

// SecondaryReplica is the best-effort mirror. *apiclient.Client satisfies it.
type SecondaryReplica interface {
	Supports(kind schema.Kind) bool
	Create(ctx context.Context, rec schema.Record) error
	Update(ctx context.Context, rec schema.Record) error
	Delete(ctx context.Context, kind schema.Kind, id string) error
}
