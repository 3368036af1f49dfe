package cloud

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/studysync/studysync/internal/logging"
	"github.com/studysync/studysync/internal/schema"
)

// Replica is the typed view of the cloud used by the reconciliation engine.
type Replica struct {
	store DocumentStore
	log   *logging.Logger
}

// NewReplica wraps a DocumentStore.
func NewReplica(store DocumentStore, log *logging.Logger) *Replica {
	return &Replica{store: store, log: logging.OrNop(log).With("replica", "cloud")}
}

// Store returns the underlying DocumentStore.
func (r *Replica) Store() DocumentStore {
	return r.store
}

// PutRecord writes the full record document. The cloud copy always carries
// isSynced=true since it is, by definition, the synced copy.
func (r *Replica) PutRecord(ctx context.Context, rec schema.Record) error {
	doc := rec.Clone()
	doc.SetSynced(true)
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode %s %s: %w", rec.Kind(), rec.RecordID(), err)
	}
	return r.store.Put(ctx, rec.Kind().Collection(), rec.RecordID(), rec.OwnerID(), raw)
}

// GetRecord fetches a single record, or ErrNotFound.
func (r *Replica) GetRecord(ctx context.Context, kind schema.Kind, id string) (schema.Record, error) {
	raw, err := r.store.Get(ctx, kind.Collection(), id)
	if err != nil {
		return nil, err
	}
	return schema.Decode(kind, raw)
}

// DeleteRecord removes a record document.
func (r *Replica) DeleteRecord(ctx context.Context, kind schema.Kind, id string) error {
	return r.store.Delete(ctx, kind.Collection(), id)
}

// FetchAll returns every record of kind owned by userID. Documents that
// cannot be decoded are logged and skipped.
func (r *Replica) FetchAll(ctx context.Context, kind schema.Kind, userID string) ([]schema.Record, error) {
	docs, err := r.store.FindByUser(ctx, kind.Collection(), userID)
	if err != nil {
		return nil, err
	}
	out := make([]schema.Record, 0, len(docs))
	for _, raw := range docs {
		rec, err := schema.Decode(kind, raw)
		if err != nil {
			r.log.Warn("skipping malformed cloud document", "kind", kind, "error", err)
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// PutUser writes a user profile to the users collection.
func (r *Replica) PutUser(ctx context.Context, u *schema.User) error {
	raw, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("failed to encode user %s: %w", u.ID, err)
	}
	return r.store.Put(ctx, schema.CollectionUsers, u.ID, u.ID, raw)
}

// GetUser fetches a user profile, or ErrNotFound.
func (r *Replica) GetUser(ctx context.Context, id string) (*schema.User, error) {
	raw, err := r.store.Get(ctx, schema.CollectionUsers, id)
	if err != nil {
		return nil, err
	}
	var u schema.User
	if err := json.Unmarshal(raw, &u); err != nil {
		return nil, fmt.Errorf("failed to decode user %s: %w", id, err)
	}
	return &u, nil
}

// PutNotification writes a reminder under its userId_taskId key.
func (r *Replica) PutNotification(ctx context.Context, n *schema.ScheduledNotification) error {
	raw, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to encode notification %s: %w", n.Key(), err)
	}
	return r.store.Put(ctx, schema.CollectionNotifications, n.Key(), n.UserID, raw)
}

// DeleteNotification removes the reminder for one task.
func (r *Replica) DeleteNotification(ctx context.Context, userID, taskID string) error {
	return r.store.Delete(ctx, schema.CollectionNotifications, schema.NotificationKey(userID, taskID))
}

// Notifications lists a user's pending reminders.
func (r *Replica) Notifications(ctx context.Context, userID string) ([]*schema.ScheduledNotification, error) {
	docs, err := r.store.FindByUser(ctx, schema.CollectionNotifications, userID)
	if err != nil {
		return nil, err
	}
	out := make([]*schema.ScheduledNotification, 0, len(docs))
	for _, raw := range docs {
		var n schema.ScheduledNotification
		if err := json.Unmarshal(raw, &n); err != nil {
			r.log.Warn("skipping malformed notification", "error", err)
			continue
		}
		out = append(out, &n)
	}
	return out, nil
}

// DeleteNotificationsForUser removes every reminder owned by userID and
// returns how many were deleted. It keeps going past individual failures and
// returns them joined.
func (r *Replica) DeleteNotificationsForUser(ctx context.Context, userID string) (int, error) {
	pending, err := r.Notifications(ctx, userID)
	if err != nil {
		return 0, err
	}
	var errs []error
	deleted := 0
	for _, n := range pending {
		if err := r.store.Delete(ctx, schema.CollectionNotifications, n.Key()); err != nil {
			errs = append(errs, err)
			continue
		}
		deleted++
	}
	return deleted, errors.Join(errs...)
}
