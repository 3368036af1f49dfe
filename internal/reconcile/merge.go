package reconcile

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/studysync/studysync/internal/schema"
	"github.com/studysync/studysync/internal/store"
)

// Decide is the last-writer-wins rule. local is nil when no local copy
// exists. Equal timestamps keep the local copy.
func Decide(local, remote schema.Record) Decision {
	if local == nil {
		return DecisionInsert
	}
	if remote.Modified() > local.Modified() {
		return DecisionOverwrite
	}
	return DecisionKeep
}

// Pull fetches userID's records of kind from the cloud and merges them into
// the local store. Concurrent pulls for the same kind and user share one
// fetch.
//
// A fetch failure is returned but is not fatal to the caller: local data
// stays as it was.
func (e *Engine) Pull(ctx context.Context, kind schema.Kind, userID string) (*MergeReport, error) {
	if userID == "" {
		return nil, fmt.Errorf("user id required")
	}
	if !kind.IsValid() || kind == schema.KindUser {
		return nil, fmt.Errorf("cannot pull records of kind %q", kind)
	}
	if !e.gate.Online() {
		return nil, ErrOffline
	}

	ch := e.pulls.DoChan(recordKey(kind, userID), func() (any, error) {
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.pullTimeout)
		defer cancel()
		return e.pull(pctx, kind, userID)
	})
	select {
	case res := <-ch:
		report, _ := res.Val.(*MergeReport)
		return report, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (e *Engine) pull(ctx context.Context, kind schema.Kind, userID string) (*MergeReport, error) {
	ctx, span := e.tracer.Start(ctx, "cloud.fetch_all")
	span.SetAttributes(
		attribute.String("studysync.kind", string(kind)),
		attribute.String("studysync.user", userID),
	)
	remote, err := e.cloud.FetchAll(ctx, kind, userID)
	if err != nil {
		recordSpanError(span, err)
		span.End()
		e.log.Warn("cloud fetch failed", "kind", kind, "user", userID, "error", err)
		return nil, fmt.Errorf("failed to fetch %s from cloud: %w", kind.Collection(), err)
	}
	span.SetAttributes(attribute.Int("studysync.fetched", len(remote)))
	span.End()

	report := &MergeReport{Kind: kind, UserID: userID, Fetched: len(remote)}
	for _, rec := range remote {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if rec.Kind() != kind || rec.RecordID() == "" {
			report.Failed++
			continue
		}
		d, err := e.merge(ctx, rec)
		if err != nil {
			// Individual records never stop the pull.
			report.Failed++
			e.log.Warn("merge failed", "kind", kind, "id", rec.RecordID(), "error", err)
			continue
		}
		switch d {
		case DecisionInsert:
			report.Inserted++
		case DecisionOverwrite:
			report.Overwritten++
		default:
			report.Kept++
			continue
		}
		e.emit(Event{Type: EventMerge, Kind: kind, ID: rec.RecordID(), Replica: ReplicaCloud, Decision: d, Record: rec})
	}

	e.log.Info("pull complete", "kind", kind, "user", userID, "fetched", report.Fetched,
		"inserted", report.Inserted, "overwritten", report.Overwritten, "kept", report.Kept,
		"failed", report.Failed)
	e.emit(Event{Type: EventMerge, Kind: kind, Replica: ReplicaCloud, Merge: report})
	return report, nil
}

// merge applies Decide for one remote record under its record lock.
func (e *Engine) merge(ctx context.Context, remote schema.Record) (Decision, error) {
	kind, id := remote.Kind(), remote.RecordID()
	unlock := e.locks.Lock(recordKey(kind, id))
	defer unlock()

	local, err := e.local.Get(ctx, kind, id)
	if errors.Is(err, store.ErrNotFound) {
		local = nil
	} else if err != nil {
		return DecisionKeep, fmt.Errorf("failed to load local copy: %w", err)
	}

	d := Decide(local, remote)
	if d == DecisionKeep {
		return d, nil
	}
	merged := remote.Clone()
	storable(merged)
	merged.SetSynced(true)
	if err := e.local.Upsert(ctx, merged); err != nil {
		return d, fmt.Errorf("failed to store merged copy: %w", err)
	}
	e.retry.done(kind, id)
	return d, nil
}

// Sync pushes every unsynced record and then pulls every kind for userID.
// Pull failures are collected in the report; push-side local errors and
// losing connectivity end the run.
func (e *Engine) Sync(ctx context.Context, userID string) (*SyncReport, error) {
	if userID == "" {
		return nil, fmt.Errorf("user id required")
	}
	start := e.now()
	report := &SyncReport{UserID: userID, Started: start, PullErrors: map[schema.Kind]error{}}
	if !e.gate.Online() {
		return report, ErrOffline
	}

	e.log.Info("starting sync", "user", userID)
	for _, kind := range schema.SyncedKinds {
		b, err := e.PushUnsynced(ctx, kind)
		if b != nil {
			report.Pushes = append(report.Pushes, b)
		}
		if err != nil {
			return report, fmt.Errorf("failed to push %s: %w", kind.Collection(), err)
		}
	}
	for _, kind := range schema.SyncedKinds {
		m, err := e.Pull(ctx, kind, userID)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return report, ctxErr
			}
			report.PullErrors[kind] = err
			continue
		}
		report.Merges = append(report.Merges, m)
	}
	report.Duration = e.now().Sub(start)

	e.log.Info("sync complete", "user", userID, "pushed", report.Pushed(), "merged", report.Merged(),
		"pull_errors", len(report.PullErrors), "duration", report.Duration)
	e.emit(Event{Type: EventSyncComplete, Sync: report})
	return report, nil
}
