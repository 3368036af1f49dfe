package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/studysync/studysync/internal/schema"
)

// Status is the result of one remote write.
type Status int

const (
	// StatusPending means the push has not finished.
	StatusPending Status = iota
	// StatusSkipped means the replica was not written: offline, not
	// configured, or the kind is not mirrored there.
	StatusSkipped
	StatusAcked
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusSkipped:
		return "skipped"
	case StatusAcked:
		return "acked"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Outcome describes one replica's part of a push.
type Outcome struct {
	Status Status
	Err    error
	// MarkedSynced is set on the cloud outcome when the acknowledgement
	// flipped the local isSynced flag. It stays false if the record was
	// edited again while the push was in flight.
	MarkedSynced bool
}

func (o Outcome) String() string {
	if o.Err != nil {
		return fmt.Sprintf("%s (%v)", o.Status, o.Err)
	}
	return o.Status.String()
}

// OK reports whether the replica acknowledged the write.
func (o Outcome) OK() bool { return o.Status == StatusAcked }

// PushReport carries the cloud and secondary outcomes of one record push.
// They are independent: a secondary failure says nothing about the cloud.
type PushReport struct {
	Kind      schema.Kind
	ID        string
	Modified  schema.Millis
	Cloud     Outcome
	Secondary Outcome
}

// Receipt is returned by mutations once the local write has succeeded.
type Receipt struct {
	Kind     schema.Kind
	ID       string
	Modified schema.Millis
	// Removed is the number of local rows a Delete removed, including
	// cascaded children.
	Removed int64

	done   chan struct{}
	report PushReport
}

func newReceipt(kind schema.Kind, id string, modified schema.Millis) *Receipt {
	return &Receipt{
		Kind:     kind,
		ID:       id,
		Modified: modified,
		done:     make(chan struct{}),
		report:   PushReport{Kind: kind, ID: id, Modified: modified},
	}
}

func (r *Receipt) complete(report PushReport) {
	r.report = report
	close(r.done)
}

// Done is closed once every remote write has finished.
func (r *Receipt) Done() <-chan struct{} { return r.done }

// Wait blocks until the background push finishes or ctx is done. It never
// reports a local failure; those are returned by the mutation itself.
func (r *Receipt) Wait(ctx context.Context) (PushReport, error) {
	select {
	case <-r.done:
		return r.report, nil
	case <-ctx.Done():
		return PushReport{Kind: r.Kind, ID: r.ID, Modified: r.Modified}, ctx.Err()
	}
}

// Decision is the merge verdict for one remote record.
type Decision int

const (
	DecisionKeep Decision = iota
	DecisionInsert
	DecisionOverwrite
)

func (d Decision) String() string {
	switch d {
	case DecisionKeep:
		return "keep"
	case DecisionInsert:
		return "insert"
	case DecisionOverwrite:
		return "overwrite"
	default:
		return fmt.Sprintf("Decision(%d)", int(d))
	}
}

// MergeReport summarises one Pull.
type MergeReport struct {
	Kind        schema.Kind
	UserID      string
	Fetched     int
	Inserted    int
	Overwritten int
	Kept        int
	Failed      int
}

// Changed is the number of local rows the pull wrote.
func (m *MergeReport) Changed() int { return m.Inserted + m.Overwritten }

// BatchReport summarises one PushUnsynced.
type BatchReport struct {
	Kind    schema.Kind
	Pending int
	Pushed  int
	Failed  int
	// Skipped counts records rewritten or deleted while the batch ran.
	Skipped int
}

// SyncReport summarises one Sync.
type SyncReport struct {
	UserID   string
	Started  time.Time
	Duration time.Duration
	Pushes   []*BatchReport
	Merges   []*MergeReport
	// PullErrors holds per-kind pull failures. They are not fatal: the
	// local copy stays authoritative until the next pull.
	PullErrors map[schema.Kind]error
}

// Pushed totals records acknowledged by the cloud.
func (s *SyncReport) Pushed() int {
	n := 0
	for _, p := range s.Pushes {
		n += p.Pushed
	}
	return n
}

// Merged totals local rows written by pulls.
func (s *SyncReport) Merged() int {
	n := 0
	for _, m := range s.Merges {
		n += m.Changed()
	}
	return n
}
