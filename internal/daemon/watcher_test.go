package daemon

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
)

func TestWatchDatabase_Close(t *testing.T) {
	w, err := WatchDatabase(filepath.Join(t.TempDir(), "studysync.db"))
	if err != nil {
		t.Fatalf("WatchDatabase() failed: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("second Close() failed: %v", err)
	}
	if _, ok := <-w.Events(); ok {
		t.Error("Events() should be closed after Close()")
	}
}

func TestWatchDatabase_MissingDirectory(t *testing.T) {
	if _, err := WatchDatabase(filepath.Join(t.TempDir(), "nope", "studysync.db")); err == nil {
		t.Error("expected an error for a missing directory")
	}
}

func TestWatchDatabase_ReportsDatabaseFilesOnly(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "studysync.db")

	w, err := WatchDatabase(dbPath)
	if err != nil {
		t.Fatalf("WatchDatabase() failed: %v", err)
	}
	defer w.Close()

	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if err := os.WriteFile(dbPath+"-wal", []byte("x"), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	select {
	case ev := <-w.Events():
		if filepath.Base(ev.Path) != "studysync.db-wal" {
			t.Errorf("event for %s, want the WAL file", ev.Path)
		}
		if !ev.Op.Has(fsnotify.Create) && !ev.Op.Has(fsnotify.Write) {
			t.Errorf("Op = %v", ev.Op)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no event for WAL write")
	}
}

func TestFileEvent_String(t *testing.T) {
	ev := FileEvent{Path: "/data/studysync.db-wal", Op: fsnotify.Write}
	if got := ev.String(); got != "WRITE studysync.db-wal" {
		t.Errorf("String() = %q", got)
	}
}
