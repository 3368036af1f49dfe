package reconcile

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/studysync/studysync/internal/apiclient"
	"github.com/studysync/studysync/internal/connectivity"
	"github.com/studysync/studysync/internal/logging"
	"github.com/studysync/studysync/internal/schema"
	"github.com/studysync/studysync/internal/store"
)

var (
	// ErrOffline is reported for remote work skipped because the
	// connectivity gate was closed.
	ErrOffline = errors.New("offline")
	// ErrClosed is returned by mutations after Close.
	ErrClosed = errors.New("engine closed")
	// ErrSuperseded marks a push skipped because the local row was rewritten
	// or deleted before it reached the cloud.
	ErrSuperseded = errors.New("superseded by a newer local write")
	// ErrCourseDeleted rejects an update of a task or resource whose course
	// was deleted, together with the record itself, while the update waited.
	ErrCourseDeleted = errors.New("course deleted")
)

const tracerName = "github.com/studysync/studysync/internal/reconcile"

// Options configures an Engine.
type Options struct {
	Store LocalStore
	Cloud CloudReplica
	// Secondary is optional. Leave it nil (not a typed nil pointer) to
	// disable the mirror.
	Secondary SecondaryReplica
	// SecondaryKinds limits which kinds are mirrored. Defaults to tasks and
	// resources.
	SecondaryKinds []schema.Kind
	// Gate defaults to always online.
	Gate     connectivity.Gate
	Log      *logging.Logger
	Observer Observer
	// Clock defaults to time.Now.
	Clock func() time.Time
	Retry RetryPolicy
	// PushTimeout bounds one background push. Default 30s.
	PushTimeout time.Duration
	// PullTimeout bounds one cloud fetch and merge. Default 60s.
	PullTimeout time.Duration
	// BatchConcurrency caps parallel pushes in PushUnsynced. Default 4.
	BatchConcurrency int
}

// Engine coordinates the three replicas.
type Engine struct {
	local     LocalStore
	cloud     CloudReplica
	secondary SecondaryReplica
	mirrored  map[schema.Kind]bool
	gate      connectivity.Gate
	log       *logging.Logger
	obs       Observer
	now       func() time.Time
	tracer    trace.Tracer

	pushTimeout time.Duration
	pullTimeout time.Duration
	batch       int

	locks *keyedMutex
	// pushes orders cloud writes of one record.
	pushes *keyedMutex
	retry  *retryQueue
	pulls singleflight.Group

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// New creates an Engine. Store and Cloud are required.
func New(opts Options) (*Engine, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("local store required")
	}
	if opts.Cloud == nil {
		return nil, fmt.Errorf("cloud replica required")
	}
	e := &Engine{
		local:       opts.Store,
		cloud:       opts.Cloud,
		secondary:   opts.Secondary,
		mirrored:    make(map[schema.Kind]bool),
		gate:        opts.Gate,
		log:         logging.OrNop(opts.Log).With("component", "reconcile"),
		obs:         opts.Observer,
		now:         opts.Clock,
		tracer:      otel.Tracer(tracerName),
		pushTimeout: opts.PushTimeout,
		pullTimeout: opts.PullTimeout,
		batch:       opts.BatchConcurrency,
		locks:       newKeyedMutex(),
		pushes:      newKeyedMutex(),
		retry:       newRetryQueue(opts.Retry.withDefaults()),
	}
	if e.gate == nil {
		e.gate = connectivity.Static(true)
	}
	if e.obs == nil {
		e.obs = nopObserver{}
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.pushTimeout <= 0 {
		e.pushTimeout = 30 * time.Second
	}
	if e.pullTimeout <= 0 {
		e.pullTimeout = 60 * time.Second
	}
	if e.batch <= 0 {
		e.batch = 4
	}
	kinds := opts.SecondaryKinds
	if kinds == nil {
		kinds = []schema.Kind{schema.KindTask, schema.KindResource}
	}
	for _, k := range kinds {
		e.mirrored[k] = true
	}
	return e, nil
}

// Close waits for in-flight background pushes. Mutations after Close fail
// with ErrClosed.
func (e *Engine) Close() error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.wg.Wait()
	return nil
}

// Online reports the connectivity gate.
func (e *Engine) Online() bool { return e.gate.Online() }

// PendingRetries returns a snapshot of the retry queue.
func (e *Engine) PendingRetries() []RetryEntry { return e.retry.snapshot() }

// ===== Mutations =====

type writeOp int

const (
	opCreate writeOp = iota
	opUpdate
)

func (o writeOp) String() string {
	if o == opCreate {
		return "create"
	}
	return "update"
}

// Create saves a new record locally and pushes it in the background.
//
// The returned error only ever reflects the local write. Remote outcomes are
// available from the Receipt.
func (e *Engine) Create(ctx context.Context, rec schema.Record) (*Receipt, error) {
	return e.save(ctx, rec, opCreate)
}

// Update saves a changed record locally and pushes it in the background.
func (e *Engine) Update(ctx context.Context, rec schema.Record) (*Receipt, error) {
	return e.save(ctx, rec, opUpdate)
}

func (e *Engine) save(ctx context.Context, rec schema.Record, op writeOp) (*Receipt, error) {
	if rec == nil || rec.RecordID() == "" {
		return nil, fmt.Errorf("record id required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if e.isClosed() {
		return nil, ErrClosed
	}

	rec = rec.Clone()
	storable(rec)
	kind, id := rec.Kind(), rec.RecordID()

	// Children lock their course first so a cascade delete and a child
	// write never interleave. Delete holds only the course lock.
	parent := courseOf(rec)
	unlockParent := func() {}
	if parent != "" {
		unlockParent = e.locks.Lock(recordKey(schema.KindCourse, parent))
	}
	unlock := e.locks.Lock(recordKey(kind, id))
	stamp, exists, err := e.stamp(ctx, kind, id)
	if err == nil && op == opUpdate && !exists && parent != "" {
		err = e.checkCourse(ctx, parent)
	}
	if err == nil {
		rec.Touch(stamp)
		if err = e.local.Upsert(ctx, rec); err != nil {
			err = fmt.Errorf("failed to save %s %s locally: %w", kind, id, err)
		}
	}
	unlock()
	unlockParent()
	if err != nil {
		return nil, err
	}

	e.log.Debug("saved locally", "kind", kind, "id", id, "op", op.String(), "modified", int64(stamp))
	e.emit(Event{Type: EventLocalChange, Kind: kind, ID: id, Replica: ReplicaLocal, Record: rec.Clone()})
	return e.dispatch(ctx, rec, op), nil
}

// stamp returns the timestamp for a new local write. It is strictly greater
// than the stored copy's so that an acknowledgement for an older push can
// never mark the newer content synced.
// It also reports whether a stored copy exists.
func (e *Engine) stamp(ctx context.Context, kind schema.Kind, id string) (schema.Millis, bool, error) {
	now := schema.FromTime(e.now())
	prev, err := e.local.Get(ctx, kind, id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return now, false, nil
	case err != nil:
		return 0, false, fmt.Errorf("failed to load %s %s: %w", kind, id, err)
	}
	if prev.Modified() >= now {
		return prev.Modified() + 1, true, nil
	}
	return now, true, nil
}

// checkCourse fails with ErrCourseDeleted when courseID is gone locally. An
// update of a missing child whose course is also missing lost a race with
// the course's cascade delete and must not write the child back.
func (e *Engine) checkCourse(ctx context.Context, courseID string) error {
	_, err := e.local.Get(ctx, schema.KindCourse, courseID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("course %s: %w", courseID, ErrCourseDeleted)
	case err != nil:
		return fmt.Errorf("failed to load course %s: %w", courseID, err)
	}
	return nil
}

// storable rewrites fields the local encoding cannot hold. Resource tags are
// stored comma-joined, so a comma inside a tag would split it in two on the
// next read.
func storable(rec schema.Record) {
	if r, ok := rec.(*schema.Resource); ok {
		r.Tags = schema.CleanTags(r.Tags)
	}
}

func courseOf(rec schema.Record) string {
	switch r := rec.(type) {
	case *schema.Task:
		return r.CourseID
	case *schema.Resource:
		return r.CourseID
	}
	return ""
}

// dispatch starts the background push for rec.
func (e *Engine) dispatch(parent context.Context, rec schema.Record, op writeOp) *Receipt {
	kind, id := rec.Kind(), rec.RecordID()
	r := newReceipt(kind, id, rec.Modified())

	if !e.gate.Online() {
		e.scheduleRetry(kind, id, ErrOffline, false)
		report := offlineReport(kind, id, rec.Modified())
		e.log.Info("offline, push deferred", "kind", kind, "id", id)
		e.emit(Event{Type: EventPush, Kind: kind, ID: id, Err: ErrOffline, Report: &report})
		r.complete(report)
		return r
	}

	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		e.scheduleRetry(kind, id, ErrClosed, false)
		r.complete(PushReport{
			Kind: kind, ID: id, Modified: rec.Modified(),
			Cloud:     Outcome{Status: StatusSkipped, Err: ErrClosed},
			Secondary: Outcome{Status: StatusSkipped, Err: ErrClosed},
		})
		return r
	}
	e.wg.Add(1)
	e.mu.RUnlock()

	go func() {
		defer e.wg.Done()
		// The push outlives the caller's request.
		ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), e.pushTimeout)
		defer cancel()
		r.complete(e.push(ctx, rec, op))
	}()
	return r
}

func offlineReport(kind schema.Kind, id string, modified schema.Millis) PushReport {
	return PushReport{
		Kind: kind, ID: id, Modified: modified,
		Cloud:     Outcome{Status: StatusSkipped, Err: ErrOffline},
		Secondary: Outcome{Status: StatusSkipped, Err: ErrOffline},
	}
}

// push writes rec to the cloud and the secondary concurrently. Neither
// outcome influences the other.
func (e *Engine) push(ctx context.Context, rec schema.Record, op writeOp) PushReport {
	kind, id := rec.Kind(), rec.RecordID()
	report := PushReport{Kind: kind, ID: id, Modified: rec.Modified()}

	var g errgroup.Group
	g.Go(func() error {
		report.Cloud = e.pushCloud(ctx, rec)
		return nil
	})
	if e.mirrors(kind) {
		g.Go(func() error {
			report.Secondary = e.pushSecondary(ctx, rec, op)
			return nil
		})
	} else {
		report.Secondary = Outcome{Status: StatusSkipped}
	}
	_ = g.Wait()

	e.emit(Event{Type: EventPush, Kind: kind, ID: id, Replica: ReplicaCloud, Err: report.Cloud.Err, Report: &report})
	return report
}

func (e *Engine) pushCloud(ctx context.Context, rec schema.Record) Outcome {
	kind, id := rec.Kind(), rec.RecordID()
	ctx, span := e.startSpan(ctx, "cloud.put", kind, id)
	defer span.End()

	release := e.pushes.Lock(recordKey(kind, id))
	defer release()
	stale, err := e.superseded(ctx, rec)
	if err != nil {
		recordSpanError(span, err)
		e.scheduleRetry(kind, id, err, true)
		return Outcome{Status: StatusFailed, Err: err}
	}
	if stale {
		e.log.Debug("cloud push superseded", "kind", kind, "id", id, "modified", int64(rec.Modified()))
		return Outcome{Status: StatusSkipped, Err: ErrSuperseded}
	}

	if err := e.cloud.PutRecord(ctx, rec); err != nil {
		recordSpanError(span, err)
		e.log.Warn("cloud push failed", "kind", kind, "id", id, "error", err)
		e.scheduleRetry(kind, id, err, true)
		return Outcome{Status: StatusFailed, Err: err}
	}

	unlock := e.locks.Lock(recordKey(kind, id))
	flipped, err := e.local.MarkSyncedAt(ctx, kind, id, rec.Modified())
	unlock()
	if err != nil {
		// The cloud has the record. It stays unsynced locally and the next
		// batch push rewrites the same document.
		e.log.Error("failed to mark record synced", "kind", kind, "id", id, "error", err)
		return Outcome{Status: StatusAcked, Err: fmt.Errorf("failed to mark synced: %w", err)}
	}
	if flipped {
		e.retry.done(kind, id)
	}
	e.log.Debug("cloud push acked", "kind", kind, "id", id, "marked_synced", flipped)
	return Outcome{Status: StatusAcked, MarkedSynced: flipped}
}

// superseded reports whether the local row has moved past rec. A later
// write schedules its own push, and a deleted row must not reappear in the
// cloud.
func (e *Engine) superseded(ctx context.Context, rec schema.Record) (bool, error) {
	cur, err := e.local.Get(ctx, rec.Kind(), rec.RecordID())
	switch {
	case errors.Is(err, store.ErrNotFound):
		return true, nil
	case err != nil:
		return false, fmt.Errorf("failed to load local copy: %w", err)
	}
	return cur.Modified() > rec.Modified(), nil
}

func (e *Engine) pushSecondary(ctx context.Context, rec schema.Record, op writeOp) Outcome {
	kind, id := rec.Kind(), rec.RecordID()
	ctx, span := e.startSpan(ctx, "secondary."+op.String(), kind, id)
	defer span.End()

	if err := e.writeSecondary(ctx, rec, op); err != nil {
		recordSpanError(span, err)
		e.log.Warn("secondary push failed", "kind", kind, "id", id, "op", op.String(), "error", err)
		return Outcome{Status: StatusFailed, Err: err}
	}
	return Outcome{Status: StatusAcked}
}

// writeSecondary maps create and update onto the API, crossing over when the
// API disagrees about whether the row exists.
func (e *Engine) writeSecondary(ctx context.Context, rec schema.Record, op writeOp) error {
	if op == opCreate {
		err := e.secondary.Create(ctx, rec)
		if isAPIStatus(err, http.StatusConflict) {
			return e.secondary.Update(ctx, rec)
		}
		return err
	}
	err := e.secondary.Update(ctx, rec)
	if isAPIStatus(err, http.StatusNotFound) {
		return e.secondary.Create(ctx, rec)
	}
	return err
}

func isAPIStatus(err error, status int) bool {
	var apiErr *apiclient.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Status == status || apiErr.Code == status
}

func (e *Engine) mirrors(kind schema.Kind) bool {
	return e.secondary != nil && e.mirrored[kind] && e.secondary.Supports(kind)
}

// ===== Delete =====

type recordRef struct {
	kind schema.Kind
	id   string
}

// Delete removes a record locally and then, best effort, from both remotes.
// Deleting a course also removes its tasks and resources. Remote deletes are
// not retried; a failure leaves the remote copy behind.
func (e *Engine) Delete(ctx context.Context, kind schema.Kind, id string) (*Receipt, error) {
	if !kind.IsValid() || kind == schema.KindUser {
		return nil, fmt.Errorf("cannot delete records of kind %q", kind)
	}
	if id == "" {
		return nil, fmt.Errorf("record id required")
	}
	if e.isClosed() {
		return nil, ErrClosed
	}

	unlock := e.locks.Lock(recordKey(kind, id))
	owner, err := e.ownerOf(ctx, kind, id)
	if err != nil {
		unlock()
		return nil, err
	}
	targets := []recordRef{{kind, id}}
	var removed int64
	if kind == schema.KindCourse {
		res, err := e.local.DeleteCourseCascade(ctx, id)
		if err != nil {
			unlock()
			return nil, fmt.Errorf("failed to delete course %s locally: %w", id, err)
		}
		removed = res.Course + int64(len(res.TaskIDs)+len(res.ResourceIDs))
		for _, t := range res.TaskIDs {
			targets = append(targets, recordRef{schema.KindTask, t})
		}
		for _, r := range res.ResourceIDs {
			targets = append(targets, recordRef{schema.KindResource, r})
		}
	} else {
		removed, err = e.local.Delete(ctx, kind, id)
		if err != nil {
			unlock()
			return nil, fmt.Errorf("failed to delete %s %s locally: %w", kind, id, err)
		}
	}
	unlock()

	for _, t := range targets {
		e.retry.done(t.kind, t.id)
	}
	e.log.Info("deleted locally", "kind", kind, "id", id, "removed", removed)
	e.emit(Event{Type: EventLocalDelete, Kind: kind, ID: id, Replica: ReplicaLocal})

	r := newReceipt(kind, id, 0)
	r.Removed = removed

	if !e.gate.Online() {
		e.log.Info("offline, remote deletes skipped", "kind", kind, "id", id)
		r.complete(offlineReport(kind, id, 0))
		return r, nil
	}

	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		r.complete(PushReport{Kind: kind, ID: id,
			Cloud:     Outcome{Status: StatusSkipped, Err: ErrClosed},
			Secondary: Outcome{Status: StatusSkipped, Err: ErrClosed}})
		return r, nil
	}
	e.wg.Add(1)
	e.mu.RUnlock()

	go func() {
		defer e.wg.Done()
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.pushTimeout)
		defer cancel()
		r.complete(e.deleteRemote(dctx, kind, id, owner, targets))
	}()
	return r, nil
}

func (e *Engine) ownerOf(ctx context.Context, kind schema.Kind, id string) (string, error) {
	prev, err := e.local.Get(ctx, kind, id)
	if errors.Is(err, store.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to load %s %s: %w", kind, id, err)
	}
	return prev.OwnerID(), nil
}

func (e *Engine) deleteRemote(ctx context.Context, kind schema.Kind, id, owner string, targets []recordRef) PushReport {
	report := PushReport{Kind: kind, ID: id}

	var g errgroup.Group
	g.Go(func() error {
		ctx, span := e.startSpan(ctx, "cloud.delete", kind, id)
		defer span.End()
		var errs []error
		for _, t := range targets {
			release := e.pushes.Lock(recordKey(t.kind, t.id))
			err := e.cloud.DeleteRecord(ctx, t.kind, t.id)
			release()
			if err != nil {
				errs = append(errs, fmt.Errorf("%s %s: %w", t.kind, t.id, err))
			}
			if t.kind == schema.KindTask && owner != "" {
				if err := e.cloud.DeleteNotification(ctx, owner, t.id); err != nil {
					e.log.Debug("reminder cleanup failed", "task", t.id, "error", err)
				}
			}
		}
		if err := errors.Join(errs...); err != nil {
			recordSpanError(span, err)
			e.log.Warn("cloud delete failed", "kind", kind, "id", id, "error", err)
			report.Cloud = Outcome{Status: StatusFailed, Err: err}
			return nil
		}
		report.Cloud = Outcome{Status: StatusAcked}
		return nil
	})
	g.Go(func() error {
		var errs []error
		attempted := false
		for _, t := range targets {
			if !e.mirrors(t.kind) {
				continue
			}
			attempted = true
			if err := e.secondary.Delete(ctx, t.kind, t.id); err != nil {
				errs = append(errs, fmt.Errorf("%s %s: %w", t.kind, t.id, err))
			}
		}
		switch err := errors.Join(errs...); {
		case !attempted:
			report.Secondary = Outcome{Status: StatusSkipped}
		case err != nil:
			e.log.Warn("secondary delete failed", "kind", kind, "id", id, "error", err)
			report.Secondary = Outcome{Status: StatusFailed, Err: err}
		default:
			report.Secondary = Outcome{Status: StatusAcked}
		}
		return nil
	})
	_ = g.Wait()

	e.emit(Event{Type: EventPush, Kind: kind, ID: id, Replica: ReplicaCloud, Err: report.Cloud.Err, Report: &report})
	return report
}

// ===== Batch push and retries =====

// PushUnsynced pushes every unsynced record of kind to the remotes. Failures
// are counted and queued for retry; only a local read error is returned.
func (e *Engine) PushUnsynced(ctx context.Context, kind schema.Kind) (*BatchReport, error) {
	recs, err := e.local.Unsynced(ctx, kind)
	if err != nil {
		return nil, fmt.Errorf("failed to list unsynced %s: %w", kind.Collection(), err)
	}
	report := &BatchReport{Kind: kind, Pending: len(recs)}
	if len(recs) == 0 {
		return report, nil
	}
	if !e.gate.Online() {
		for _, rec := range recs {
			e.scheduleRetry(kind, rec.RecordID(), ErrOffline, false)
		}
		return report, ErrOffline
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(e.batch)
	for _, rec := range recs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			pctx, cancel := context.WithTimeout(ctx, e.pushTimeout)
			defer cancel()
			res := e.push(pctx, rec, opUpdate)
			mu.Lock()
			switch {
			case res.Cloud.OK():
				report.Pushed++
			case errors.Is(res.Cloud.Err, ErrSuperseded):
				report.Skipped++
			default:
				report.Failed++
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return report, err
	}

	e.log.Info("pushed unsynced records", "kind", kind, "pending", report.Pending,
		"pushed", report.Pushed, "failed", report.Failed, "skipped", report.Skipped)
	return report, nil
}

// DrainRetries re-pushes queued records whose backoff has elapsed and
// returns how many the cloud acknowledged.
func (e *Engine) DrainRetries(ctx context.Context) (int, error) {
	if !e.gate.Online() {
		return 0, ErrOffline
	}
	acked := 0
	for _, entry := range e.retry.due(e.now()) {
		if err := ctx.Err(); err != nil {
			return acked, err
		}
		rec, err := e.local.Get(ctx, entry.Kind, entry.ID)
		if errors.Is(err, store.ErrNotFound) {
			e.retry.done(entry.Kind, entry.ID)
			continue
		}
		if err != nil {
			return acked, fmt.Errorf("failed to load %s %s: %w", entry.Kind, entry.ID, err)
		}
		if rec.Synced() {
			e.retry.done(entry.Kind, entry.ID)
			continue
		}
		pctx, cancel := context.WithTimeout(ctx, e.pushTimeout)
		res := e.push(pctx, rec, opUpdate)
		cancel()
		if res.Cloud.OK() {
			acked++
		}
	}
	if acked > 0 {
		e.log.Info("drained retry queue", "acked", acked, "remaining", e.retry.len())
	}
	return acked, nil
}

func (e *Engine) scheduleRetry(kind schema.Kind, id string, cause error, counted bool) {
	if e.retry.fail(kind, id, cause, counted, e.now()) {
		e.log.Warn("retry dropped, record stays unsynced", "kind", kind, "id", id, "error", cause)
		e.emit(Event{Type: EventRetryDropped, Kind: kind, ID: id, Replica: ReplicaCloud, Err: cause})
	}
}

// ===== Users =====

// RegisterUser writes the profile locally and, best effort, to the cloud.
// Users are never reconciled afterwards.
func (e *Engine) RegisterUser(ctx context.Context, u *schema.User) (Outcome, error) {
	if err := u.Validate(); err != nil {
		return Outcome{}, err
	}
	if err := e.local.UpsertUser(ctx, u); err != nil {
		return Outcome{}, fmt.Errorf("failed to save user locally: %w", err)
	}
	if !e.gate.Online() {
		return Outcome{Status: StatusSkipped, Err: ErrOffline}, nil
	}
	ctx, span := e.startSpan(ctx, "cloud.put_user", schema.KindUser, u.ID)
	defer span.End()
	if err := e.cloud.PutUser(ctx, u); err != nil {
		recordSpanError(span, err)
		e.log.Warn("cloud user write failed", "user", u.ID, "error", err)
		return Outcome{Status: StatusFailed, Err: err}, nil
	}
	return Outcome{Status: StatusAcked}, nil
}

// ===== helpers =====

func (e *Engine) isClosed() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.closed
}

func (e *Engine) emit(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = e.now()
	}
	e.obs.OnEvent(ev)
}

func (e *Engine) startSpan(ctx context.Context, name string, kind schema.Kind, id string) (context.Context, trace.Span) {
	return e.tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("studysync.kind", string(kind)),
		attribute.String("studysync.id", id),
	))
}

func recordSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
