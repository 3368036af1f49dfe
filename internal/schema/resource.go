package schema

import (
	"fmt"
	"reflect"
	"slices"
	"strings"
)

// ResourceType classifies a study resource. It decides what FilePath holds.
type ResourceType int

const (
	ResourceNote ResourceType = iota
	ResourceImage
	ResourceDocument
	ResourceLink
)

func (t ResourceType) String() string {
	switch t {
	case ResourceNote:
		return "note"
	case ResourceImage:
		return "image"
	case ResourceDocument:
		return "document"
	case ResourceLink:
		return "link"
	default:
		return fmt.Sprintf("resource(%d)", int(t))
	}
}

// ParseResourceType accepts a name ("link") or its numeric value ("3").
func ParseResourceType(s string) (ResourceType, error) {
	for t := ResourceNote; t <= ResourceLink; t++ {
		if strings.EqualFold(s, t.String()) || s == fmt.Sprint(int(t)) {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown resource type %q", s)
}

// HasThumbnail reports whether resources of this type carry a thumbnail.
func (t ResourceType) HasThumbnail() bool {
	return t == ResourceImage || t == ResourceDocument
}

// Resource is a note, file or link attached to a course.
type Resource struct {
	ID          string       `json:"id"`
	UserID      string       `json:"userId"`
	Title       string       `json:"title"`
	Description string       `json:"description"`
	CourseID    string       `json:"courseId"`
	CourseName  string       `json:"courseName"`
	Type        ResourceType `json:"type"`
	// FilePath is a local path, a remote URL or a link target depending on Type.
	FilePath      string   `json:"filePath"`
	Tags          []string `json:"tags"`
	DateAdded     Millis   `json:"dateAdded"`
	LastModified  Millis   `json:"lastModified"`
	ThumbnailPath string   `json:"thumbnailPath"`
	IsSynced      bool     `json:"isSynced"`
}

func (r *Resource) Kind() Kind            { return KindResource }
func (r *Resource) RecordID() string      { return r.ID }
func (r *Resource) OwnerID() string       { return r.UserID }
func (r *Resource) Modified() Millis      { return r.LastModified }
func (r *Resource) Synced() bool          { return r.IsSynced }
func (r *Resource) SetSynced(synced bool) { r.IsSynced = synced }
func (r *Resource) Clone() Record         { return r.Copy() }

// Touch stamps the mutation time. DateAdded is set on first touch only.
func (r *Resource) Touch(now Millis) {
	if r.DateAdded == 0 {
		r.DateAdded = now
	}
	r.LastModified = now
	r.IsSynced = false
}

// Copy returns a deep copy of the resource.
func (r *Resource) Copy() *Resource {
	c := *r
	c.Tags = slices.Clone(r.Tags)
	return &c
}

// Equal reports whether two resources hold identical values, tag order included.
func (r *Resource) Equal(o *Resource) bool {
	if r == nil || o == nil {
		return r == o
	}
	if !slices.Equal(r.Tags, o.Tags) {
		return false
	}
	a, b := *r, *o
	a.Tags, b.Tags = nil, nil
	return reflect.DeepEqual(a, b)
}

// Validate checks field values at an input boundary.
func (r *Resource) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("id is required")
	}
	if r.UserID == "" {
		return fmt.Errorf("userId is required")
	}
	if strings.TrimSpace(r.Title) == "" {
		return fmt.Errorf("title is required")
	}
	if r.Type < ResourceNote || r.Type > ResourceLink {
		return fmt.Errorf("type must be between 0 and 3 (got %d)", r.Type)
	}
	for _, tag := range r.Tags {
		if strings.Contains(tag, ",") {
			return fmt.Errorf("tag %q must not contain a comma", tag)
		}
	}
	return nil
}
