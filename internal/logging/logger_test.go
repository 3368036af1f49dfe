package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNew_InvalidLevel(t *testing.T) {
	if _, err := New(Options{Level: "loud"}); err == nil {
		t.Fatal("New() accepted an invalid level")
	}
}

func TestNew_WritesRotatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "studysync.log")
	log, err := New(Options{Mode: "prod", Level: "debug", File: path})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	log.Info("pushed record", "kind", "task", "email", "a@b.edu")
	log.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	out := string(data)
	if !strings.Contains(out, "pushed record") {
		t.Errorf("log file missing message: %s", out)
	}
	if strings.Contains(out, "a@b.edu") {
		t.Errorf("email was not redacted: %s", out)
	}
}

func TestSanitizeKVs_OddLength(t *testing.T) {
	got := sanitizeKVs([]interface{}{"id", "t1", "dangling"})
	if len(got) != 3 || got[2] != "dangling" {
		t.Errorf("sanitizeKVs = %v", got)
	}
}

func TestOrNop(t *testing.T) {
	l := OrNop(nil)
	if l == nil || l.SugaredLogger == nil {
		t.Fatal("OrNop(nil) returned an unusable logger")
	}
	l.With("kind", "task").Debug("ignored")
}
