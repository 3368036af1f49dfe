package dashboard

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/studysync/studysync/internal/logging"
	"github.com/studysync/studysync/internal/reconcile"
	"github.com/studysync/studysync/internal/schema"
	"github.com/studysync/studysync/internal/store"
)

// StatsSource supplies local replica statistics. *store.DB satisfies it.
type StatsSource interface {
	GetStats(ctx context.Context) (*store.Stats, error)
}

// Handler turns engine events into dashboard messages. It implements
// reconcile.Observer.
type Handler struct {
	server *Server
	source StatsSource
	log    *logging.Logger

	// Stats refreshes are coalesced and run off the engine's goroutines.
	refresh chan struct{}

	mu     sync.RWMutex
	stats  StatsData
	online bool
}

// NewHandler creates a handler broadcasting through server. source may be
// nil, in which case no stats messages are sent.
func NewHandler(server *Server, source StatsSource, log *logging.Logger) *Handler {
	h := &Handler{
		server:  server,
		source:  source,
		log:     logging.OrNop(log).With("component", "dashboard"),
		refresh: make(chan struct{}, 1),
		online:  true,
		stats:   StatsData{Kinds: map[schema.Kind]store.KindStats{}},
	}
	server.SetWelcome(h.Welcome)
	return h
}

// SetStatsSource attaches the statistics source. Call it before Run.
func (h *Handler) SetStatsSource(source StatsSource) {
	h.mu.Lock()
	h.source = source
	h.mu.Unlock()
}

// Run refreshes statistics whenever an event changes them, until ctx is
// done. An initial refresh runs immediately.
func (h *Handler) Run(ctx context.Context) {
	h.mu.RLock()
	source := h.source
	h.mu.RUnlock()
	if source == nil {
		<-ctx.Done()
		return
	}
	h.refreshStats(ctx, source)
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.refresh:
			h.refreshStats(ctx, source)
		}
	}
}

// OnEvent implements reconcile.Observer.
func (h *Handler) OnEvent(e reconcile.Event) {
	switch e.Type {
	case reconcile.EventLocalChange:
		h.send(MessageTypeRecordUpdate, e.Time, recordUpdate(e, "saved"))
		h.kickStats()

	case reconcile.EventLocalDelete:
		h.send(MessageTypeRecordUpdate, e.Time, recordUpdate(e, "deleted"))
		h.kickStats()

	case reconcile.EventMerge:
		if e.Merge != nil {
			h.send(MessageTypeMerge, e.Time, MergeData{
				Kind:        e.Merge.Kind,
				UserID:      e.Merge.UserID,
				Fetched:     e.Merge.Fetched,
				Inserted:    e.Merge.Inserted,
				Overwritten: e.Merge.Overwritten,
				Kept:        e.Merge.Kept,
				Failed:      e.Merge.Failed,
			})
			if e.Merge.Changed() > 0 {
				h.kickStats()
			}
			return
		}
		h.send(MessageTypeRecordUpdate, e.Time, recordUpdate(e, e.Decision.String()))

	case reconcile.EventPush:
		if e.Report == nil {
			return
		}
		h.send(MessageTypePushResult, e.Time, PushResultData{
			Kind:      e.Kind,
			ID:        e.ID,
			Modified:  int64(e.Report.Modified),
			Cloud:     outcome(e.Report.Cloud),
			Secondary: outcome(e.Report.Secondary),
			Synced:    e.Report.Cloud.MarkedSynced,
		})
		if e.Report.Cloud.MarkedSynced {
			h.kickStats()
		}

	case reconcile.EventRetryDropped:
		h.send(MessageTypePushResult, e.Time, PushResultData{
			Kind:    e.Kind,
			ID:      e.ID,
			Cloud:   OutcomeData{Status: reconcile.StatusFailed.String(), Error: errString(e.Err)},
			Dropped: true,
		})

	case reconcile.EventSyncComplete:
		if e.Sync == nil {
			return
		}
		data := SyncCompleteData{
			UserID:     e.Sync.UserID,
			DurationMs: e.Sync.Duration.Milliseconds(),
			Pushed:     e.Sync.Pushed(),
			Merged:     e.Sync.Merged(),
		}
		if len(e.Sync.PullErrors) > 0 {
			data.PullErrors = make(map[schema.Kind]string, len(e.Sync.PullErrors))
			for kind, err := range e.Sync.PullErrors {
				data.PullErrors[kind] = err.Error()
			}
		}
		h.send(MessageTypeSyncComplete, e.Time, data)
		h.kickStats()
	}
}

// OnConnectivity reports a reachability change. Wire it to
// connectivity.Monitor.OnChange.
func (h *Handler) OnConnectivity(online bool) {
	h.mu.Lock()
	h.online = online
	h.mu.Unlock()
	h.send(MessageTypeConnectivity, time.Now(), ConnectivityData{Online: online})
}

// Welcome returns the stats message sent to newly connected clients.
func (h *Handler) Welcome() Message {
	return h.message(MessageTypeStats, time.Now(), h.GetStats())
}

// GetStats returns the most recent statistics snapshot.
func (h *Handler) GetStats() StatsData {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := h.stats
	out.Online = h.online
	out.Kinds = make(map[schema.Kind]store.KindStats, len(h.stats.Kinds))
	for k, v := range h.stats.Kinds {
		out.Kinds[k] = v
	}
	return out
}

func (h *Handler) kickStats() {
	select {
	case h.refresh <- struct{}{}:
	default:
	}
}

func (h *Handler) refreshStats(ctx context.Context, source StatsSource) {
	stats, err := source.GetStats(ctx)
	if err != nil {
		if ctx.Err() == nil {
			h.log.Warn("failed to read stats", "error", err)
		}
		return
	}

	h.mu.Lock()
	h.stats = StatsData{
		Users:   stats.Users,
		Kinds:   stats.Kinds,
		Pending: stats.PendingTotal(),
	}
	h.mu.Unlock()

	h.send(MessageTypeStats, time.Now(), h.GetStats())
}

func (h *Handler) send(typ MessageType, at time.Time, data any) {
	h.server.Broadcast(h.message(typ, at, data))
}

func (h *Handler) message(typ MessageType, at time.Time, data any) Message {
	if at.IsZero() {
		at = time.Now()
	}
	raw, err := json.Marshal(data)
	if err != nil {
		h.log.Error("failed to marshal message", "type", string(typ), "error", err)
		return Message{Type: typ, Timestamp: at}
	}
	return Message{Type: typ, Timestamp: at, Data: raw}
}

func recordUpdate(e reconcile.Event, action string) RecordUpdateData {
	data := RecordUpdateData{
		Kind:    e.Kind,
		ID:      e.ID,
		Action:  action,
		Replica: string(e.Replica),
	}
	if e.Record != nil {
		data.Modified = int64(e.Record.Modified())
		data.Synced = e.Record.Synced()
		switch r := e.Record.(type) {
		case *schema.Task:
			data.Title = r.Title
		case *schema.Course:
			data.Title = r.Name
		case *schema.Resource:
			data.Title = r.Title
		}
	}
	return data
}

func outcome(o reconcile.Outcome) OutcomeData {
	return OutcomeData{Status: o.Status.String(), Error: errString(o.Err)}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// ===== Message payloads =====

// RecordUpdateData describes a record saved, deleted or merged.
type RecordUpdateData struct {
	Kind     schema.Kind `json:"kind"`
	ID       string      `json:"id"`
	Action   string      `json:"action"` // saved, deleted, insert, overwrite
	Replica  string      `json:"replica,omitempty"`
	Title    string      `json:"title,omitempty"`
	Modified int64       `json:"modified,omitempty"`
	Synced   bool        `json:"synced"`
}

// OutcomeData is one replica's part of a push.
type OutcomeData struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// PushResultData carries the outcomes of a push, or a retry that was given up.
type PushResultData struct {
	Kind      schema.Kind `json:"kind"`
	ID        string      `json:"id"`
	Modified  int64       `json:"modified,omitempty"`
	Cloud     OutcomeData `json:"cloud"`
	Secondary OutcomeData `json:"secondary"`
	Synced    bool        `json:"synced"`
	Dropped   bool        `json:"dropped,omitempty"`
}

// MergeData summarises one pull.
type MergeData struct {
	Kind        schema.Kind `json:"kind"`
	UserID      string      `json:"user_id"`
	Fetched     int         `json:"fetched"`
	Inserted    int         `json:"inserted"`
	Overwritten int         `json:"overwritten"`
	Kept        int         `json:"kept"`
	Failed      int         `json:"failed"`
}

// SyncCompleteData summarises a full sync.
type SyncCompleteData struct {
	UserID     string                 `json:"user_id"`
	DurationMs int64                  `json:"duration_ms"`
	Pushed     int                    `json:"pushed"`
	Merged     int                    `json:"merged"`
	PullErrors map[schema.Kind]string `json:"pull_errors,omitempty"`
}

// StatsData holds local replica statistics.
type StatsData struct {
	Users   int                             `json:"users"`
	Kinds   map[schema.Kind]store.KindStats `json:"kinds"`
	Pending int                             `json:"pending"`
	Online  bool                            `json:"online"`
}

// ConnectivityData reports reachability.
type ConnectivityData struct {
	Online bool `json:"online"`
}
