// Package apiclient talks to the secondary API replica, a relational HTTP API
// with query-parameter action routing:
//
//	GET  /resources?id=<id>            single row, or {"error":"Resource not found"}
//	GET  /resources?user_id=<id>       array of rows
//	POST /resources?action=create      body: row; reply: Envelope with data
//	POST /resources?action=update      body: row; reply: Envelope
//	POST /resources?action=delete      body: {"id"}; reply: Envelope
//	GET  /download?file_path=<path>    file bytes, or Envelope on failure
//	POST /upload                       multipart resource_id + file
//
// /tasks follows the same contract. Courses and users are not mirrored.
//
// Writes to this replica are best-effort: callers log failures and never
// let them affect the local or cloud copies.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/studysync/studysync/internal/schema"
)

// ErrNotFound is returned by Get when the API reports a missing record.
var ErrNotFound = errors.New("secondary api: not found")

// ErrUnsupported is returned for kinds the API does not mirror.
var ErrUnsupported = errors.New("secondary api: kind not mirrored")

// APIError is a failure reported by the API itself, either through a non-2xx
// status or a success=false envelope.
type APIError struct {
	Status  int
	Code    int
	Message string
}

func (e *APIError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("secondary api %d (code %d): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("secondary api %d: %s", e.Status, e.Message)
}

type Client struct {
	httpClient *http.Client
	baseURL    string
}

// NewClient returns a client for baseURL. A nil httpClient gets a 15 second
// timeout.
func NewClient(httpClient *http.Client, baseURL string) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
	}
}

// Supports reports whether the API mirrors kind.
func (c *Client) Supports(kind schema.Kind) bool {
	return Path(kind) != ""
}

// Create posts rec with action=create.
func (c *Client) Create(ctx context.Context, rec schema.Record) error {
	return c.write(ctx, rec, "create")
}

// Update posts rec with action=update.
func (c *Client) Update(ctx context.Context, rec schema.Record) error {
	return c.write(ctx, rec, "update")
}

// Delete posts {"id"} with action=delete.
func (c *Client) Delete(ctx context.Context, kind schema.Kind, id string) error {
	path := Path(kind)
	if path == "" {
		return ErrUnsupported
	}
	_, err := c.post(ctx, path+"?action=delete", map[string]string{"id": id})
	return err
}

func (c *Client) write(ctx context.Context, rec schema.Record, action string) error {
	path := Path(rec.Kind())
	if path == "" {
		return ErrUnsupported
	}
	var body any
	switch r := rec.(type) {
	case *schema.Resource:
		body = ResourceRowFrom(r)
	case *schema.Task:
		body = TaskRowFrom(r)
	default:
		return ErrUnsupported
	}
	_, err := c.post(ctx, path+"?action="+action, body)
	return err
}

// Get fetches one record by id.
func (c *Client) Get(ctx context.Context, kind schema.Kind, id string) (schema.Record, error) {
	path := Path(kind)
	if path == "" {
		return nil, ErrUnsupported
	}
	raw, err := c.get(ctx, path+"?id="+url.QueryEscape(id))
	if err != nil {
		return nil, err
	}

	var probe struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &probe); err == nil && probe.Error != "" {
		if strings.HasSuffix(strings.ToLower(probe.Error), "not found") {
			return nil, fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
		}
		return nil, &APIError{Status: http.StatusOK, Message: probe.Error}
	}
	return decodeRow(kind, raw)
}

// ListByUser fetches every record of kind owned by userID.
func (c *Client) ListByUser(ctx context.Context, kind schema.Kind, userID string) ([]schema.Record, error) {
	path := Path(kind)
	if path == "" {
		return nil, ErrUnsupported
	}
	raw, err := c.get(ctx, path+"?user_id="+url.QueryEscape(userID))
	if err != nil {
		return nil, err
	}

	var rows []json.RawMessage
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("failed to decode %s list: %w", kind, err)
	}
	out := make([]schema.Record, 0, len(rows))
	for _, row := range rows {
		rec, err := decodeRow(kind, row)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// Upload sends a file for a resource and returns the server-side path that
// was recorded on the resource.
func (c *Client) Upload(ctx context.Context, resourceID, filename string, content io.Reader) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("resource_id", resourceID); err != nil {
		return "", fmt.Errorf("failed to write multipart field: %w", err)
	}
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("failed to create multipart file: %w", err)
	}
	if _, err := io.Copy(part, content); err != nil {
		return "", fmt.Errorf("failed to copy upload body: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("failed to finish multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/upload", &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	env, err := c.doEnvelope(req)
	if err != nil {
		return "", err
	}
	return env.FilePath, nil
}

// Download streams a server-side file into w.
func (c *Client) Download(ctx context.Context, filePath string, w io.Writer) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/download?file_path="+url.QueryEscape(filePath), nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	mt, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if resp.StatusCode >= 300 || mt == "application/json" {
		var env Envelope
		_ = json.NewDecoder(resp.Body).Decode(&env)
		msg := env.Message
		if msg == "" {
			msg = env.Error
		}
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return &APIError{Status: resp.StatusCode, Code: env.Code, Message: msg}
	}
	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("failed to read download: %w", err)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, body any) (*Envelope, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.doEnvelope(req)
}

func (c *Client) doEnvelope(req *http.Request) (*Envelope, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var env Envelope
	decodeErr := json.NewDecoder(resp.Body).Decode(&env)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{Status: resp.StatusCode, Code: env.Code, Message: firstNonEmpty(env.Error, env.Message, http.StatusText(resp.StatusCode))}
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("failed to decode response envelope: %w", decodeErr)
	}
	if !env.Success {
		return nil, &APIError{Status: resp.StatusCode, Code: env.Code, Message: firstNonEmpty(env.Error, env.Message, "request failed")}
	}
	return &env, nil
}

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var env Envelope
		_ = json.Unmarshal(raw, &env)
		return nil, &APIError{Status: resp.StatusCode, Code: env.Code, Message: firstNonEmpty(env.Error, env.Message, http.StatusText(resp.StatusCode))}
	}
	return raw, nil
}

func decodeRow(kind schema.Kind, raw []byte) (schema.Record, error) {
	switch kind {
	case schema.KindResource:
		var row ResourceRow
		if err := json.Unmarshal(raw, &row); err != nil {
			return nil, fmt.Errorf("failed to decode resource row: %w", err)
		}
		return row.Resource(), nil
	case schema.KindTask:
		var row TaskRow
		if err := json.Unmarshal(raw, &row); err != nil {
			return nil, fmt.Errorf("failed to decode task row: %w", err)
		}
		return row.Task(), nil
	default:
		return nil, ErrUnsupported
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
