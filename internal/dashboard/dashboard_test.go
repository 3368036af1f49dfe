package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/studysync/studysync/internal/reconcile"
	"github.com/studysync/studysync/internal/schema"
	"github.com/studysync/studysync/internal/store"
)

func startServer(t *testing.T) *Server {
	t.Helper()
	server := NewServer(&Config{Host: "127.0.0.1", Port: 0})
	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	t.Cleanup(func() { server.Stop() })
	return server
}

func dial(t *testing.T, server *Server) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws://"+server.GetAddr()+"/ws", nil)
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Failed to read message: %v", err)
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("Failed to unmarshal message: %v", err)
	}
	return msg
}

// readUntil reads until a message of typ arrives.
func readUntil(t *testing.T, conn *websocket.Conn, typ MessageType) Message {
	t.Helper()
	for i := 0; i < 20; i++ {
		msg := readMessage(t, conn)
		if msg.Type == typ {
			return msg
		}
	}
	t.Fatalf("no %s message received", typ)
	return Message{}
}

func waitForClients(t *testing.T, server *Server, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for server.ClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("Expected %d clients, got %d", n, server.ClientCount())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestServerStartStop(t *testing.T) {
	server := NewServer(&Config{Port: 0})
	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}

	resp, err := http.Get("http://" + server.GetAddr() + "/health")
	if err != nil {
		t.Fatalf("Health check failed: %v", err)
	}
	var health map[string]any
	json.NewDecoder(resp.Body).Decode(&health)
	resp.Body.Close()
	if health["status"] != "ok" {
		t.Errorf("Expected status ok, got %v", health["status"])
	}

	if err := server.Stop(); err != nil {
		t.Fatalf("Failed to stop server: %v", err)
	}
}

func TestRootPage(t *testing.T) {
	server := startServer(t)

	resp, err := http.Get("http://" + server.GetAddr() + "/")
	if err != nil {
		t.Fatalf("GET / failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("GET / status = %d", resp.StatusCode)
	}

	resp, err = http.Get("http://" + server.GetAddr() + "/nope")
	if err != nil {
		t.Fatalf("GET /nope failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("GET /nope status = %d, want 404", resp.StatusCode)
	}
}

func TestWebSocketConnection(t *testing.T) {
	server := startServer(t)
	conn := dial(t, server)

	msg := readMessage(t, conn)
	if msg.Type != MessageTypeStats {
		t.Errorf("Expected welcome stats message, got %s", msg.Type)
	}
	waitForClients(t, server, 1)
}

func TestMultipleClientsBroadcast(t *testing.T) {
	server := startServer(t)
	a := dial(t, server)
	b := dial(t, server)
	readMessage(t, a)
	readMessage(t, b)
	waitForClients(t, server, 2)

	server.Broadcast(Message{Type: MessageTypeConnectivity, Data: json.RawMessage(`{"online":false}`)})

	for _, conn := range []*websocket.Conn{a, b} {
		msg := readMessage(t, conn)
		if msg.Type != MessageTypeConnectivity {
			t.Errorf("Expected connectivity message, got %s", msg.Type)
		}
		if msg.Timestamp.IsZero() {
			t.Error("Broadcast did not stamp the message")
		}
	}
}

func TestClientDisconnect(t *testing.T) {
	server := startServer(t)
	conn := dial(t, server)
	readMessage(t, conn)
	waitForClients(t, server, 1)

	conn.Close(websocket.StatusNormalClosure, "")
	waitForClients(t, server, 0)
}

func TestBroadcastNeverBlocks(t *testing.T) {
	// Not started: nothing drains the channel.
	server := NewServer(&Config{Port: 0})
	defer server.cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 500; i++ {
			server.Broadcast(Message{Type: MessageTypeStats})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Broadcast blocked on a full channel")
	}
}

// ===== Handler =====

type fakeStats struct {
	calls atomic.Int32
	err   error
}

func (f *fakeStats) GetStats(ctx context.Context) (*store.Stats, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return &store.Stats{
		Users: 1,
		Kinds: map[schema.Kind]store.KindStats{
			schema.KindTask:   {Total: 3, Unsynced: 2},
			schema.KindCourse: {Total: 1, Unsynced: 0},
		},
	}, nil
}

func setupHandler(t *testing.T, source StatsSource) (*Handler, *websocket.Conn) {
	t.Helper()
	server := startServer(t)
	handler := NewHandler(server, source, nil)
	conn := dial(t, server)
	if msg := readMessage(t, conn); msg.Type != MessageTypeStats {
		t.Fatalf("Expected welcome stats, got %s", msg.Type)
	}
	waitForClients(t, server, 1)
	return handler, conn
}

func TestHandlerRecordEvents(t *testing.T) {
	handler, conn := setupHandler(t, nil)

	task := &schema.Task{ID: "t1", UserID: "u1", Title: "Essay", LastUpdated: 42}
	handler.OnEvent(reconcile.Event{
		Type: reconcile.EventLocalChange, Kind: schema.KindTask, ID: "t1",
		Replica: reconcile.ReplicaLocal, Record: task,
	})

	msg := readUntil(t, conn, MessageTypeRecordUpdate)
	var data RecordUpdateData
	if err := json.Unmarshal(msg.Data, &data); err != nil {
		t.Fatalf("Failed to unmarshal data: %v", err)
	}
	if data.ID != "t1" || data.Action != "saved" || data.Title != "Essay" || data.Modified != 42 {
		t.Errorf("Unexpected record update: %+v", data)
	}

	handler.OnEvent(reconcile.Event{Type: reconcile.EventLocalDelete, Kind: schema.KindCourse, ID: "c1"})
	msg = readUntil(t, conn, MessageTypeRecordUpdate)
	json.Unmarshal(msg.Data, &data)
	if data.Action != "deleted" || data.Kind != schema.KindCourse {
		t.Errorf("Unexpected delete update: %+v", data)
	}

	handler.OnEvent(reconcile.Event{
		Type: reconcile.EventMerge, Kind: schema.KindTask, ID: "t2",
		Replica: reconcile.ReplicaCloud, Decision: reconcile.DecisionOverwrite,
	})
	msg = readUntil(t, conn, MessageTypeRecordUpdate)
	json.Unmarshal(msg.Data, &data)
	if data.Action != "overwrite" || data.Replica != "cloud" {
		t.Errorf("Unexpected merge update: %+v", data)
	}
}

func TestHandlerPushResult(t *testing.T) {
	handler, conn := setupHandler(t, nil)

	handler.OnEvent(reconcile.Event{
		Type: reconcile.EventPush, Kind: schema.KindTask, ID: "t1",
		Report: &reconcile.PushReport{
			Kind: schema.KindTask, ID: "t1", Modified: 7,
			Cloud:     reconcile.Outcome{Status: reconcile.StatusAcked, MarkedSynced: true},
			Secondary: reconcile.Outcome{Status: reconcile.StatusFailed, Err: errors.New("http 500")},
		},
	})

	msg := readUntil(t, conn, MessageTypePushResult)
	var data PushResultData
	if err := json.Unmarshal(msg.Data, &data); err != nil {
		t.Fatalf("Failed to unmarshal data: %v", err)
	}
	if data.Cloud.Status != "acked" || !data.Synced {
		t.Errorf("Unexpected cloud outcome: %+v", data)
	}
	if data.Secondary.Status != "failed" || data.Secondary.Error != "http 500" {
		t.Errorf("Unexpected secondary outcome: %+v", data.Secondary)
	}

	handler.OnEvent(reconcile.Event{
		Type: reconcile.EventRetryDropped, Kind: schema.KindTask, ID: "t9",
		Err: errors.New("gave up"),
	})
	msg = readUntil(t, conn, MessageTypePushResult)
	data = PushResultData{}
	json.Unmarshal(msg.Data, &data)
	if !data.Dropped || data.ID != "t9" || data.Cloud.Error != "gave up" {
		t.Errorf("Unexpected dropped result: %+v", data)
	}
}

func TestHandlerMergeAndSync(t *testing.T) {
	handler, conn := setupHandler(t, nil)

	handler.OnEvent(reconcile.Event{
		Type: reconcile.EventMerge, Kind: schema.KindTask,
		Merge: &reconcile.MergeReport{Kind: schema.KindTask, UserID: "u1", Fetched: 3, Inserted: 1, Kept: 2},
	})
	msg := readUntil(t, conn, MessageTypeMerge)
	var merge MergeData
	json.Unmarshal(msg.Data, &merge)
	if merge.Fetched != 3 || merge.Inserted != 1 || merge.Kept != 2 {
		t.Errorf("Unexpected merge data: %+v", merge)
	}

	handler.OnEvent(reconcile.Event{
		Type: reconcile.EventSyncComplete,
		Sync: &reconcile.SyncReport{
			UserID:     "u1",
			Duration:   1500 * time.Millisecond,
			Pushes:     []*reconcile.BatchReport{{Kind: schema.KindTask, Pushed: 2}},
			Merges:     []*reconcile.MergeReport{{Kind: schema.KindTask, Inserted: 1, Overwritten: 1}},
			PullErrors: map[schema.Kind]error{schema.KindCourse: errors.New("boom")},
		},
	})
	msg = readUntil(t, conn, MessageTypeSyncComplete)
	var sync SyncCompleteData
	json.Unmarshal(msg.Data, &sync)
	if sync.Pushed != 2 || sync.Merged != 2 || sync.DurationMs != 1500 {
		t.Errorf("Unexpected sync data: %+v", sync)
	}
	if sync.PullErrors[schema.KindCourse] != "boom" {
		t.Errorf("PullErrors = %v", sync.PullErrors)
	}
}

func TestHandlerConnectivity(t *testing.T) {
	handler, conn := setupHandler(t, nil)

	handler.OnConnectivity(false)
	msg := readUntil(t, conn, MessageTypeConnectivity)
	var data ConnectivityData
	json.Unmarshal(msg.Data, &data)
	if data.Online {
		t.Error("Expected offline")
	}
	if handler.GetStats().Online {
		t.Error("GetStats().Online = true after going offline")
	}
}

func TestHandlerStatsRefresh(t *testing.T) {
	source := &fakeStats{}
	handler, conn := setupHandler(t, source)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go handler.Run(ctx)

	msg := readUntil(t, conn, MessageTypeStats)
	var stats StatsData
	if err := json.Unmarshal(msg.Data, &stats); err != nil {
		t.Fatalf("Failed to unmarshal stats: %v", err)
	}
	if stats.Users != 1 || stats.Pending != 2 || stats.Kinds[schema.KindTask].Total != 3 {
		t.Errorf("Unexpected stats: %+v", stats)
	}

	before := source.calls.Load()
	handler.OnEvent(reconcile.Event{Type: reconcile.EventLocalDelete, Kind: schema.KindTask, ID: "t1"})
	readUntil(t, conn, MessageTypeStats)
	if source.calls.Load() <= before {
		t.Error("Local delete did not refresh stats")
	}

	if got := handler.GetStats(); got.Pending != 2 {
		t.Errorf("GetStats().Pending = %d, want 2", got.Pending)
	}
}

func TestHandlerStatsError(t *testing.T) {
	source := &fakeStats{err: errors.New("db closed")}
	handler, _ := setupHandler(t, source)

	ctx, cancel := context.WithCancel(context.Background())
	go handler.Run(ctx)
	deadline := time.Now().Add(2 * time.Second)
	for source.calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	cancel()

	if got := handler.GetStats(); got.Users != 0 || got.Pending != 0 {
		t.Errorf("stats changed after a failed read: %+v", got)
	}
}
