package apiserver

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/studysync/studysync/internal/apiclient"
	"github.com/studysync/studysync/internal/schema"
)

const fixedNow = schema.Millis(1_700_000_000_000)

func setupServer(t *testing.T) (*Server, http.Handler) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dir := t.TempDir()
	repo, err := OpenRepo(filepath.Join(dir, "api.db"))
	if err != nil {
		t.Fatalf("OpenRepo() failed: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	srv, err := New(Options{
		Repo:      repo,
		UploadDir: filepath.Join(dir, "uploads"),
		Clock:     func() schema.Millis { return fixedNow },
	})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	return srv, srv.Router()
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestCreate_CamelAndSnakeStoreIdenticalRows(t *testing.T) {
	_, h := setupServer(t)

	camel := `{"id":"r-camel","userId":"u1","title":"Notes","description":"d","courseId":"c1",
		"courseName":"Bio","type":2,"filePath":"/x.pdf","tags":["a","b"],"dateAdded":100,"lastModified":200,
		"thumbnailPath":"/t.png"}`
	snake := `{"id":"r-snake","user_id":"u1","title":"Notes","description":"d","course_id":"c1",
		"course_name":"Bio","type":2,"file_path":"/x.pdf","tags":["a","b"],"date_added":100,"last_updated":200,
		"thumbnail_path":"/t.png"}`

	for _, body := range []string{camel, snake} {
		rec := do(t, h, http.MethodPost, "/resources?action=create", body)
		if rec.Code != http.StatusOK {
			t.Fatalf("create status = %d: %s", rec.Code, rec.Body)
		}
		env := decode[apiclient.Envelope](t, rec)
		if !env.Success {
			t.Fatalf("create failed: %+v", env)
		}
	}

	a := decode[apiclient.ResourceRow](t, do(t, h, http.MethodGet, "/resources?id=r-camel", ""))
	b := decode[apiclient.ResourceRow](t, do(t, h, http.MethodGet, "/resources?id=r-snake", ""))
	a.ID, b.ID = "", ""
	aj, _ := json.Marshal(a)
	bj, _ := json.Marshal(b)
	if !bytes.Equal(aj, bj) {
		t.Errorf("stored rows differ:\ncamel %s\nsnake %s", aj, bj)
	}
	if a.CourseID != "c1" || a.FilePath != "/x.pdf" || a.LastUpdated != 200 {
		t.Errorf("camelCase fields not mapped: %+v", a)
	}
}

func TestCreate_SnakeCaseWinsWhenBothPresent(t *testing.T) {
	_, h := setupServer(t)

	body := `{"id":"r1","user_id":"u1","title":"x","course_id":"snake","courseId":"camel"}`
	do(t, h, http.MethodPost, "/resources?action=create", body)
	row := decode[apiclient.ResourceRow](t, do(t, h, http.MethodGet, "/resources?id=r1", ""))
	if row.CourseID != "snake" {
		t.Errorf("course_id = %q, want snake", row.CourseID)
	}
}

func TestCreate_DefaultsAndTagWrapping(t *testing.T) {
	_, h := setupServer(t)

	body := `{"id":"r1","user_id":"u1","title":"x","tags":"solo","date_added":"not a date"}`
	rec := do(t, h, http.MethodPost, "/resources?action=create", body)
	env := decode[apiclient.Envelope](t, rec)
	if !env.Success {
		t.Fatalf("create failed: %+v", env)
	}
	var echoed apiclient.ResourceRow
	if err := json.Unmarshal(env.Data, &echoed); err != nil {
		t.Fatalf("data not a resource row: %v", err)
	}
	if echoed.DateAdded != int64(fixedNow) || echoed.LastUpdated != int64(fixedNow) {
		t.Errorf("timestamps not defaulted: %+v", echoed)
	}
	if len(echoed.Tags) != 1 || echoed.Tags[0] != "solo" {
		t.Errorf("scalar tag not wrapped: %v", echoed.Tags)
	}

	// A JSON-encoded array string is decoded rather than wrapped.
	do(t, h, http.MethodPost, "/resources?action=create", `{"id":"r2","user_id":"u1","tags":"[\"a\",\"b\"]"}`)
	row := decode[apiclient.ResourceRow](t, do(t, h, http.MethodGet, "/resources?id=r2", ""))
	if len(row.Tags) != 2 || row.Tags[1] != "b" {
		t.Errorf("tags = %v", row.Tags)
	}
}

func TestGet_NotFoundIs200(t *testing.T) {
	_, h := setupServer(t)

	rec := do(t, h, http.MethodGet, "/resources?id=missing", "")
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	body := decode[map[string]string](t, rec)
	if body["error"] != "Resource not found" {
		t.Errorf("body = %v", body)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Errorf("Content-Type = %q", ct)
	}
}

func TestUpdateAndDelete(t *testing.T) {
	_, h := setupServer(t)

	do(t, h, http.MethodPost, "/tasks?action=create", `{"id":"t1","userId":"u1","title":"Essay","dueDate":500}`)

	rec := do(t, h, http.MethodPost, "/tasks?action=update", `{"id":"t1","userId":"u1","title":"Essay v2","status":2,"lastUpdated":900}`)
	if env := decode[apiclient.Envelope](t, rec); !env.Success {
		t.Fatalf("update failed: %s", rec.Body)
	}
	row := decode[apiclient.TaskRow](t, do(t, h, http.MethodGet, "/tasks?id=t1", ""))
	if row.Title != "Essay v2" || row.Status != 2 || row.LastUpdated != 900 {
		t.Errorf("task after update = %+v", row)
	}

	rec = do(t, h, http.MethodPost, "/tasks?action=update", `{"id":"ghost","title":"x"}`)
	if rec.Code != http.StatusNotFound {
		t.Errorf("update of missing task status = %d", rec.Code)
	}

	rec = do(t, h, http.MethodPost, "/tasks?action=update", `{"title":"no id"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("update without id status = %d", rec.Code)
	}

	rec = do(t, h, http.MethodPost, "/tasks?action=delete", `{"id":"t1"}`)
	if env := decode[apiclient.Envelope](t, rec); !env.Success {
		t.Fatalf("delete failed: %s", rec.Body)
	}
	body := decode[map[string]string](t, do(t, h, http.MethodGet, "/tasks?id=t1", ""))
	if body["error"] != "Task not found" {
		t.Errorf("task still present: %v", body)
	}
}

func TestCreate_Duplicate(t *testing.T) {
	_, h := setupServer(t)
	do(t, h, http.MethodPost, "/resources?action=create", `{"id":"r1","user_id":"u1"}`)
	rec := do(t, h, http.MethodPost, "/resources?action=create", `{"id":"r1","user_id":"u1"}`)
	if rec.Code != http.StatusConflict {
		t.Errorf("duplicate create status = %d", rec.Code)
	}
}

func TestInvalidJSONAndAction(t *testing.T) {
	_, h := setupServer(t)
	if rec := do(t, h, http.MethodPost, "/resources?action=create", "{"); rec.Code != http.StatusBadRequest {
		t.Errorf("invalid JSON status = %d", rec.Code)
	}
	if rec := do(t, h, http.MethodPost, "/resources?action=explode", `{"id":"x"}`); rec.Code != http.StatusBadRequest {
		t.Errorf("unknown action status = %d", rec.Code)
	}
}

func TestCORSHeaders(t *testing.T) {
	_, h := setupServer(t)
	req := httptest.NewRequest(http.MethodGet, "/resources?user_id=u1", nil)
	// httptest requests are addressed to example.com, so use another origin.
	req.Header.Set("Origin", "http://app.local:3000")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}

	pre := httptest.NewRequest(http.MethodOptions, "/tasks?action=create", nil)
	pre.Header.Set("Origin", "http://app.local:3000")
	pre.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, pre)
	if rec.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want 204", rec.Code)
	}
}

func TestUploadThenDownload(t *testing.T) {
	srv, h := setupServer(t)
	do(t, h, http.MethodPost, "/resources?action=create", `{"id":"r1","user_id":"u1","title":"Scan"}`)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	mw.WriteField("resource_id", "r1")
	fw, _ := mw.CreateFormFile("file", "Scan.PDF")
	fw.Write([]byte("pdf-bytes"))
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	env := decode[apiclient.Envelope](t, rec)
	if !env.Success || env.FilePath == "" {
		t.Fatalf("upload failed: %s", rec.Body)
	}
	if filepath.Dir(env.FilePath) != srv.uploadDir || filepath.Ext(env.FilePath) != ".pdf" {
		t.Errorf("file_path = %q", env.FilePath)
	}

	row := decode[apiclient.ResourceRow](t, do(t, h, http.MethodGet, "/resources?id=r1", ""))
	if row.FilePath != env.FilePath {
		t.Errorf("resource file_path = %q, want %q", row.FilePath, env.FilePath)
	}

	rec = do(t, h, http.MethodGet, "/download?file_path="+env.FilePath, "")
	if rec.Body.String() != "pdf-bytes" {
		t.Errorf("download body = %q", rec.Body.String())
	}
}

func TestDownload_RefusesPathsOutsideUploadDir(t *testing.T) {
	_, h := setupServer(t)

	outside := filepath.Join(t.TempDir(), "secret.txt")
	os.WriteFile(outside, []byte("secret"), 0644)

	for _, p := range []string{outside, "../../etc/passwd", "missing.txt"} {
		rec := do(t, h, http.MethodGet, "/download?file_path="+p, "")
		body := decode[map[string]any](t, rec)
		if body["success"] != false || body["message"] != "File not found" {
			t.Errorf("download(%q) = %s", p, rec.Body)
		}
	}
}

func TestClientAgainstServer(t *testing.T) {
	_, h := setupServer(t)
	ts := httptest.NewServer(h)
	defer ts.Close()

	c := apiclient.NewClient(ts.Client(), ts.URL)
	ctx := context.Background()

	res := &schema.Resource{ID: "r1", UserID: "u1", Title: "Slides", Tags: []string{"midterm", "ch3", "important"}, DateAdded: 10, LastModified: 20}
	if err := c.Create(ctx, res); err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	got, err := c.Get(ctx, schema.KindResource, "r1")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if !got.(*schema.Resource).Equal(res) {
		t.Errorf("Get() = %+v, want %+v", got, res)
	}

	if err := c.Update(ctx, &schema.Task{ID: "nope", UserID: "u1", Title: "x"}); err == nil {
		t.Error("Update() of missing task succeeded")
	}
}
