package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/studysync/studysync/internal/schema"
)

func TestCreate_SendsSnakeCaseRow(t *testing.T) {
	var gotAction string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAction = r.URL.Query().Get("action")
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"success":true,"message":"Resource created successfully"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.Client(), srv.URL)
	res := &schema.Resource{ID: "r1", UserID: "u1", Title: "Notes", CourseID: "c1", Tags: []string{"a"}, LastModified: 9}
	if err := c.Create(context.Background(), res); err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	if gotAction != "create" {
		t.Errorf("action = %q, want create", gotAction)
	}
	if gotBody["course_id"] != "c1" || gotBody["last_updated"] != float64(9) {
		t.Errorf("body = %v", gotBody)
	}
	if _, ok := gotBody["courseId"]; ok {
		t.Error("body carried a camelCase key")
	}
}

func TestWrite_FailureEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":false,"error":"duplicate id","code":23000}`))
	}))
	defer srv.Close()

	c := NewClient(srv.Client(), srv.URL)
	err := c.Update(context.Background(), &schema.Task{ID: "t1"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("Update() error = %v, want *APIError", err)
	}
	if apiErr.Code != 23000 || apiErr.Message != "duplicate id" {
		t.Errorf("APIError = %+v", apiErr)
	}
}

func TestWrite_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	err := NewClient(srv.Client(), srv.URL).Delete(context.Background(), schema.KindResource, "r1")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusInternalServerError {
		t.Fatalf("Delete() error = %v, want 500 APIError", err)
	}
}

func TestUnsupportedKinds(t *testing.T) {
	c := NewClient(nil, "http://example.invalid")
	if c.Supports(schema.KindCourse) || c.Supports(schema.KindUser) {
		t.Error("courses and users should not be mirrored")
	}
	if !c.Supports(schema.KindTask) || !c.Supports(schema.KindResource) {
		t.Error("tasks and resources should be mirrored")
	}
	if err := c.Create(context.Background(), &schema.Course{ID: "c1"}); !errors.Is(err, ErrUnsupported) {
		t.Errorf("Create(course) error = %v, want ErrUnsupported", err)
	}
}

func TestGet_NotFoundWith200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error":"Resource not found"}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.Client(), srv.URL).Get(context.Background(), schema.KindResource, "nope")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestListByUser_DecodesRows(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("user_id") != "u1" {
			t.Errorf("user_id = %q", r.URL.Query().Get("user_id"))
		}
		w.Write([]byte(`[{"id":"t1","user_id":"u1","title":"Essay","due_date":100,"last_updated":5},
		                 {"id":"t2","user_id":"u1","title":"Read","due_date":null,"last_updated":6}]`))
	}))
	defer srv.Close()

	recs, err := NewClient(srv.Client(), srv.URL).ListByUser(context.Background(), schema.KindTask, "u1")
	if err != nil {
		t.Fatalf("ListByUser() failed: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("got %d records", len(recs))
	}
	t1 := recs[0].(*schema.Task)
	if t1.DueDate == nil || *t1.DueDate != 100 || t1.LastUpdated != 5 {
		t.Errorf("t1 = %+v", t1)
	}
	if recs[1].(*schema.Task).DueDate != nil {
		t.Error("null due_date decoded as set")
	}
}

func TestUploadAndDownload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/upload":
			if err := r.ParseMultipartForm(1 << 20); err != nil {
				t.Errorf("ParseMultipartForm: %v", err)
			}
			if r.FormValue("resource_id") != "r1" {
				t.Errorf("resource_id = %q", r.FormValue("resource_id"))
			}
			f, _, err := r.FormFile("file")
			if err != nil {
				t.Errorf("FormFile: %v", err)
				return
			}
			data, _ := io.ReadAll(f)
			if string(data) != "hello" {
				t.Errorf("uploaded %q", data)
			}
			w.Write([]byte(`{"success":true,"message":"File uploaded successfully","file_path":"uploads/abc.txt"}`))
		case "/download":
			if r.URL.Query().Get("file_path") == "uploads/abc.txt" {
				w.Header().Set("Content-Type", "text/plain")
				w.Write([]byte("hello"))
				return
			}
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"success":false,"message":"File not found"}`))
		}
	}))
	defer srv.Close()

	c := NewClient(srv.Client(), srv.URL)
	ctx := context.Background()

	path, err := c.Upload(ctx, "r1", "notes.txt", strings.NewReader("hello"))
	if err != nil {
		t.Fatalf("Upload() failed: %v", err)
	}
	if path != "uploads/abc.txt" {
		t.Errorf("Upload() path = %q", path)
	}

	var buf bytes.Buffer
	if err := c.Download(ctx, path, &buf); err != nil {
		t.Fatalf("Download() failed: %v", err)
	}
	if buf.String() != "hello" {
		t.Errorf("downloaded %q", buf.String())
	}

	err = c.Download(ctx, "missing", &buf)
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Message != "File not found" {
		t.Errorf("Download(missing) error = %v", err)
	}
}

func TestRowConversion_PreservesTagOrder(t *testing.T) {
	res := &schema.Resource{ID: "r1", Tags: []string{"midterm", "ch3", "important"}, DateAdded: 3, LastModified: 4}
	back := ResourceRowFrom(res).Resource()
	if !back.Equal(res) {
		t.Errorf("round trip = %+v, want %+v", back, res)
	}
}
