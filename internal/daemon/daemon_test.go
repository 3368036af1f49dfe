package daemon

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/studysync/studysync/internal/reconcile"
	"github.com/studysync/studysync/internal/schema"
)

// fakeEngine counts calls.
type fakeEngine struct {
	mu      sync.Mutex
	syncErr error
	syncs   int
	pushes  map[schema.Kind]int
	drains  int
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{pushes: make(map[schema.Kind]int)}
}

func (f *fakeEngine) Sync(ctx context.Context, userID string) (*reconcile.SyncReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.syncs++
	if f.syncErr != nil {
		return nil, f.syncErr
	}
	return &reconcile.SyncReport{UserID: userID, PullErrors: map[schema.Kind]error{}}, nil
}

func (f *fakeEngine) PushUnsynced(ctx context.Context, kind schema.Kind) (*reconcile.BatchReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushes[kind]++
	return &reconcile.BatchReport{Kind: kind, Pending: 1, Pushed: 1}, nil
}

func (f *fakeEngine) DrainRetries(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.drains++
	return 0, nil
}

func (f *fakeEngine) counts() (syncs, pushes, drains int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.syncs, f.pushes[schema.KindTask], f.drains
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func startDaemon(t *testing.T, d *Daemon) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- d.Start(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-errCh:
			if err != nil {
				t.Errorf("Start() returned %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Error("daemon did not stop")
		}
	})
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		engine  Engine
		config  *Config
		wantErr bool
	}{
		{"valid configuration", newFakeEngine(), &Config{UserID: "u1"}, false},
		{"nil engine", nil, &Config{UserID: "u1"}, true},
		{"missing user", newFakeEngine(), &Config{}, true},
		{"nil config", newFakeEngine(), nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := New(tt.engine, tt.config)
			if (err != nil) != tt.wantErr {
				t.Errorf("New() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if d != nil {
				defer d.Stop()
				if d.config.SyncInterval != DefaultConfig().SyncInterval {
					t.Errorf("SyncInterval = %v, want default", d.config.SyncInterval)
				}
			}
		})
	}
}

func TestDaemon_InitialAndPeriodicSync(t *testing.T) {
	eng := newFakeEngine()
	d, err := New(eng, &Config{UserID: "u1", SyncInterval: 20 * time.Millisecond, RetryInterval: time.Hour})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	startDaemon(t, d)

	waitFor(t, "three syncs", func() bool {
		syncs, _, _ := eng.counts()
		return syncs >= 3
	})
	if st := d.Stats(); st.SyncErrors != 0 || st.LastSync.IsZero() {
		t.Errorf("Stats() = %+v", st)
	}
}

func TestDaemon_OfflineStartIsNotFatal(t *testing.T) {
	eng := newFakeEngine()
	eng.syncErr = reconcile.ErrOffline
	d, err := New(eng, &Config{UserID: "u1", SyncInterval: time.Hour, RetryInterval: time.Hour})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	startDaemon(t, d)

	waitFor(t, "initial sync", func() bool {
		syncs, _, _ := eng.counts()
		return syncs == 1
	})
	if st := d.Stats(); st.SyncErrors != 1 {
		t.Errorf("SyncErrors = %d, want 1", st.SyncErrors)
	}
}

func TestDaemon_RetryTicker(t *testing.T) {
	eng := newFakeEngine()
	d, err := New(eng, &Config{UserID: "u1", SyncInterval: time.Hour, RetryInterval: 20 * time.Millisecond})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	startDaemon(t, d)

	waitFor(t, "retry drains", func() bool {
		_, _, drains := eng.counts()
		return drains >= 2
	})
}

func TestDaemon_RegainedPushesEverything(t *testing.T) {
	eng := newFakeEngine()
	regained := make(chan struct{}, 1)
	d, err := New(eng, &Config{UserID: "u1", SyncInterval: time.Hour, RetryInterval: time.Hour, Regained: regained})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	startDaemon(t, d)

	regained <- struct{}{}
	waitFor(t, "push after regain", func() bool {
		_, pushes, drains := eng.counts()
		return pushes == 1 && drains == 1
	})
	eng.mu.Lock()
	defer eng.mu.Unlock()
	for _, kind := range schema.SyncedKinds {
		if eng.pushes[kind] != 1 {
			t.Errorf("pushes[%s] = %d, want 1", kind, eng.pushes[kind])
		}
	}
}

func TestDaemon_PushesAfterDatabaseWrite(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "studysync.db")
	if err := os.WriteFile(dbPath, nil, 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	eng := newFakeEngine()
	d, err := New(eng, &Config{
		UserID:           "u1",
		SyncInterval:     time.Hour,
		RetryInterval:    time.Hour,
		DebounceInterval: 20 * time.Millisecond,
		WatchPath:        dbPath,
	})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	startDaemon(t, d)
	waitFor(t, "watcher", d.Watching)

	for i := 0; i < 5; i++ {
		if err := os.WriteFile(dbPath+"-wal", []byte{byte(i)}, 0644); err != nil {
			t.Fatalf("WriteFile failed: %v", err)
		}
	}
	waitFor(t, "push after write", func() bool {
		_, pushes, _ := eng.counts()
		return pushes >= 1
	})
	if st := d.Stats(); st.FileChanges == 0 {
		t.Error("FileChanges not counted")
	}
}

func TestDaemon_StopIsIdempotent(t *testing.T) {
	d, err := New(newFakeEngine(), &Config{UserID: "u1", WatchPath: filepath.Join(t.TempDir(), "x.db")})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	if err := d.Stop(); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}
	if err := d.Stop(); err != nil {
		t.Errorf("second Stop() failed: %v", err)
	}
}
