package schema

import (
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Millis is a timestamp in milliseconds since the Unix epoch, UTC.
type Millis int64

// Now returns the current time as Millis.
func Now() Millis {
	return FromTime(time.Now())
}

// FromTime converts t to Millis, truncating sub-millisecond precision.
func FromTime(t time.Time) Millis {
	return Millis(t.UnixMilli())
}

// Time converts m back to a UTC time.Time.
func (m Millis) Time() time.Time {
	return time.UnixMilli(int64(m)).UTC()
}

// Kind identifies a synchronised entity kind.
type Kind string

const (
	KindTask     Kind = "task"
	KindCourse   Kind = "course"
	KindResource Kind = "resource"
	KindUser     Kind = "user"
)

// SyncedKinds lists the kinds driven by the reconciliation engine, in the
// order a full sync visits them.
var SyncedKinds = []Kind{KindCourse, KindTask, KindResource}

// Cloud collection names.
const (
	CollectionUsers         = "users"
	CollectionCourses       = "courses"
	CollectionTasks         = "tasks"
	CollectionResources     = "resources"
	CollectionNotifications = "scheduledNotifications"
)

// Collection returns the cloud collection holding documents of kind k.
func (k Kind) Collection() string {
	switch k {
	case KindTask:
		return CollectionTasks
	case KindCourse:
		return CollectionCourses
	case KindResource:
		return CollectionResources
	case KindUser:
		return CollectionUsers
	default:
		return ""
	}
}

// IsValid reports whether k is a known kind.
func (k Kind) IsValid() bool {
	return k.Collection() != ""
}

// ParseKind accepts singular or plural kind names ("task", "tasks").
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.TrimSuffix(strings.ToLower(strings.TrimSpace(s)), "s"))
	if !k.IsValid() {
		return "", fmt.Errorf("unknown kind %q", s)
	}
	return k, nil
}

// Record is the sync contract shared by Task, Course and Resource.
type Record interface {
	Kind() Kind
	RecordID() string
	OwnerID() string
	// Modified returns lastModified (lastUpdated for tasks).
	Modified() Millis
	Synced() bool
	// Touch stamps the mutation time and marks the record as pending push.
	Touch(now Millis)
	SetSynced(synced bool)
	Clone() Record
}

// NewID returns a new client-generated record identifier.
func NewID() string {
	return uuid.NewString()
}

// SameID reports whether a and b identify the same record.
func SameID(a, b Record) bool {
	if a == nil || b == nil {
		return false
	}
	return a.Kind() == b.Kind() && a.RecordID() == b.RecordID()
}

// Decode parses a cloud document into the record type for kind.
func Decode(kind Kind, raw []byte) (Record, error) {
	var rec Record
	switch kind {
	case KindTask:
		rec = &Task{}
	case KindCourse:
		rec = &Course{}
	case KindResource:
		rec = &Resource{}
	default:
		return nil, fmt.Errorf("cannot decode kind %q", kind)
	}
	if err := json.Unmarshal(raw, rec); err != nil {
		return nil, fmt.Errorf("failed to decode %s document: %w", kind, err)
	}
	return rec, nil
}

// JoinTags encodes tags for the comma-joined local column.
func JoinTags(tags []string) string {
	return strings.Join(tags, ",")
}

// SplitTags decodes a comma-joined tag column. Empty input yields an empty,
// non-nil slice.
func SplitTags(s string) []string {
	if s == "" {
		return []string{}
	}
	return strings.Split(s, ",")
}

// CleanTags trims tags, drops empties and strips commas, which the local
// encoding reserves as a separator.
func CleanTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(strings.ReplaceAll(t, ",", " "))
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// JoinDays encodes weekdays (0=Sunday) sorted ascending and comma-joined.
func JoinDays(days []int) string {
	sorted := slices.Clone(days)
	sort.Ints(sorted)
	parts := make([]string, len(sorted))
	for i, d := range sorted {
		parts[i] = strconv.Itoa(d)
	}
	return strings.Join(parts, ",")
}

// SplitDays decodes a comma-joined weekday column.
func SplitDays(s string) ([]int, error) {
	if s == "" {
		return []int{}, nil
	}
	parts := strings.Split(s, ",")
	days := make([]int, 0, len(parts))
	for _, p := range parts {
		d, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("invalid weekday %q: %w", p, err)
		}
		days = append(days, d)
	}
	return days, nil
}
