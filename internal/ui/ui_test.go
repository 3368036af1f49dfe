package ui

import (
	"strings"
	"testing"
	"time"

	"github.com/studysync/studysync/internal/schema"
)

func TestPlainRendering(t *testing.T) {
	SetPlain(true)

	if got := RenderPass("ok"); got != "ok" {
		t.Errorf("RenderPass() = %q, want plain text", got)
	}
	if got := RenderSynced(false); got != "pending" {
		t.Errorf("RenderSynced(false) = %q", got)
	}
}

func TestRenderTable(t *testing.T) {
	SetPlain(true)

	out := RenderTable([]string{"ID", "Title"}, [][]string{{"t1", "Essay"}, {"t2", "Lab"}})
	for _, want := range []string{"ID", "Title", "Essay", "Lab"} {
		if !strings.Contains(out, want) {
			t.Errorf("table missing %q:\n%s", want, out)
		}
	}
	if strings.ContainsRune(out, '╭') {
		t.Error("plain table used rounded borders")
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 10, "short"},
		{"a long title here", 10, "a long ..."},
		{"multi\nline", 20, "multi line"},
		{"ünïcödé text", 8, "ünïcö..."},
	}
	for _, tt := range tests {
		if got := Truncate(tt.in, tt.n); got != tt.want {
			t.Errorf("Truncate(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}

func TestFormatDue(t *testing.T) {
	SetPlain(true)
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.Local)

	if got := FormatDue(nil, now); got != "-" {
		t.Errorf("FormatDue(nil) = %q", got)
	}

	past := schema.FromTime(now.Add(-time.Hour))
	if got := FormatDue(&past, now); !strings.Contains(got, "overdue") {
		t.Errorf("FormatDue(past) = %q, want overdue", got)
	}

	soon := schema.FromTime(now.Add(90 * time.Minute))
	if got := FormatDue(&soon, now); !strings.Contains(got, "in 1h") {
		t.Errorf("FormatDue(soon) = %q, want in 1h", got)
	}

	later := schema.FromTime(now.Add(72 * time.Hour))
	if got := FormatDue(&later, now); strings.Contains(got, "(") {
		t.Errorf("FormatDue(later) = %q, want bare date", got)
	}
}

func TestFormatSize(t *testing.T) {
	if got := FormatSize(512); got != "512 bytes" {
		t.Errorf("FormatSize(512) = %q", got)
	}
	if got := FormatSize(2048); got != "2.0 KB" {
		t.Errorf("FormatSize(2048) = %q", got)
	}
	if got := FormatSize(3 * 1024 * 1024); got != "3.0 MB" {
		t.Errorf("FormatSize(3MB) = %q", got)
	}
}
