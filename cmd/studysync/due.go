package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"

	"github.com/studysync/studysync/internal/schema"
)

var dueParser = func() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
}()

var dueLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04",
	"2006-01-02T15:04",
	"2006-01-02",
}

// parseDue turns "2025-05-01", "2025-05-01 17:00" or phrases like
// "next friday at 5pm" into a due time. Date-only input means end of day.
func parseDue(s string, now time.Time) (schema.Millis, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty due date")
	}
	for _, layout := range dueLayouts {
		t, err := time.ParseInLocation(layout, s, now.Location())
		if err != nil {
			continue
		}
		if layout == "2006-01-02" {
			t = t.Add(23*time.Hour + 59*time.Minute)
		}
		return schema.FromTime(t), nil
	}

	r, err := dueParser.Parse(s, now)
	if err != nil {
		return 0, fmt.Errorf("failed to parse due date %q: %w", s, err)
	}
	if r == nil {
		return 0, fmt.Errorf("could not understand due date %q", s)
	}
	return schema.FromTime(r.Time), nil
}
