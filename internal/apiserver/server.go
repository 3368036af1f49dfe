// Package apiserver serves the secondary API replica: a small relational
// HTTP API with query-parameter action routing for resources and tasks,
// plus file upload and download for resource attachments.
//
// Request bodies are field-name tolerant. Each kind has an alias table that
// is applied once on ingress; everything past the handler sees canonical
// snake_case rows.
package apiserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/studysync/studysync/internal/apiclient"
	"github.com/studysync/studysync/internal/logging"
	"github.com/studysync/studysync/internal/schema"
)

// Options configures a Server.
type Options struct {
	Repo      *Repo
	UploadDir string
	Log       *logging.Logger
	// Clock overrides schema.Now for defaulted timestamps.
	Clock func() schema.Millis
	// MaxUploadBytes caps multipart bodies. Default 32 MiB.
	MaxUploadBytes int64
}

// Server holds the handlers.
type Server struct {
	repo      *Repo
	uploadDir string
	log       *logging.Logger
	now       func() schema.Millis
	maxUpload int64
}

// New builds a Server. The upload directory is created if missing.
func New(opts Options) (*Server, error) {
	if opts.Repo == nil {
		return nil, fmt.Errorf("repo required")
	}
	if opts.UploadDir == "" {
		opts.UploadDir = "uploads"
	}
	dir, err := filepath.Abs(opts.UploadDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve upload dir: %w", err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create upload dir: %w", err)
	}
	s := &Server{
		repo:      opts.Repo,
		uploadDir: dir,
		log:       logging.OrNop(opts.Log).With("service", "SecondaryAPI"),
		now:       opts.Clock,
		maxUpload: opts.MaxUploadBytes,
	}
	if s.now == nil {
		s.now = schema.Now
	}
	if s.maxUpload <= 0 {
		s.maxUpload = 32 << 20
	}
	return s, nil
}

// Router returns the gin engine with permissive CORS.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(s.requestLogger())
	r.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Content-Type"},
	}))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET("/resources", s.getRecords(schema.KindResource))
	r.POST("/resources", s.postRecord(schema.KindResource))
	r.GET("/tasks", s.getRecords(schema.KindTask))
	r.POST("/tasks", s.postRecord(schema.KindTask))
	r.GET("/download", s.download)
	r.POST("/upload", s.upload)
	return r
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"action", c.Query("action"),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}

func fail(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"success": false, "error": msg, "code": status})
}

// getRecords serves ?id= (single row) and ?user_id= (list).
func (s *Server) getRecords(kind schema.Kind) gin.HandlerFunc {
	notFound := apiclient.NotFoundMessage(kind)
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		if id, ok := c.GetQuery("id"); ok {
			row, err := s.getOne(ctx, kind, id)
			if errors.Is(err, errNotFound) {
				// Missing rows are reported in-band with a 200.
				c.JSON(http.StatusOK, gin.H{"error": notFound})
				return
			}
			if err != nil {
				s.log.Error("get failed", "kind", kind, "id", id, "error", err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusOK, row)
			return
		}
		if userID, ok := c.GetQuery("user_id"); ok {
			rows, err := s.list(ctx, kind, userID)
			if err != nil {
				s.log.Error("list failed", "kind", kind, "error", err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusOK, rows)
			return
		}
		fail(c, http.StatusBadRequest, "id or user_id required")
	}
}

func (s *Server) getOne(ctx context.Context, kind schema.Kind, id string) (any, error) {
	if kind == schema.KindTask {
		return s.repo.GetTask(ctx, id)
	}
	return s.repo.GetResource(ctx, id)
}

func (s *Server) list(ctx context.Context, kind schema.Kind, userID string) (any, error) {
	if kind == schema.KindTask {
		return s.repo.ListTasks(ctx, userID)
	}
	return s.repo.ListResources(ctx, userID)
}

// postRecord dispatches on ?action=create|update|delete.
func (s *Server) postRecord(kind schema.Kind) gin.HandlerFunc {
	label := strings.ToUpper(string(kind[:1])) + string(kind[1:])
	return func(c *gin.Context) {
		var body map[string]any
		if err := json.NewDecoder(c.Request.Body).Decode(&body); err != nil || body == nil {
			fail(c, http.StatusBadRequest, "Invalid JSON data")
			return
		}

		action := c.Query("action")
		ctx := c.Request.Context()
		switch action {
		case "create":
			row, err := s.normalize(kind, body)
			if err != nil {
				fail(c, http.StatusBadRequest, err.Error())
				return
			}
			if rowID(row) == "" {
				fail(c, http.StatusBadRequest, "id is required")
				return
			}
			if err := s.create(ctx, kind, row); err != nil {
				s.writeErr(c, kind, err)
				return
			}
			c.JSON(http.StatusOK, gin.H{"success": true, "message": label + " created successfully", "data": row})

		case "update":
			row, err := s.normalize(kind, body)
			if err != nil {
				fail(c, http.StatusBadRequest, err.Error())
				return
			}
			if rowID(row) == "" {
				fail(c, http.StatusBadRequest, "id is required")
				return
			}
			if err := s.update(ctx, kind, row); err != nil {
				s.writeErr(c, kind, err)
				return
			}
			c.JSON(http.StatusOK, gin.H{"success": true, "message": label + " updated successfully"})

		case "delete":
			id, _ := body["id"].(string)
			if id == "" {
				fail(c, http.StatusBadRequest, "id is required")
				return
			}
			var err error
			if kind == schema.KindTask {
				err = s.repo.DeleteTask(ctx, id)
			} else {
				err = s.repo.DeleteResource(ctx, id)
			}
			if err != nil {
				s.writeErr(c, kind, err)
				return
			}
			c.JSON(http.StatusOK, gin.H{"success": true, "message": label + " deleted successfully"})

		default:
			fail(c, http.StatusBadRequest, fmt.Sprintf("unknown action %q", action))
		}
	}
}

func (s *Server) normalize(kind schema.Kind, body map[string]any) (any, error) {
	if kind == schema.KindTask {
		return normalizeTask(body, s.now())
	}
	return normalizeResource(body, s.now())
}

func (s *Server) create(ctx context.Context, kind schema.Kind, row any) error {
	if kind == schema.KindTask {
		return s.repo.CreateTask(ctx, row.(*taskRow))
	}
	return s.repo.CreateResource(ctx, row.(*resourceRow))
}

func (s *Server) update(ctx context.Context, kind schema.Kind, row any) error {
	if kind == schema.KindTask {
		return s.repo.UpdateTask(ctx, row.(*taskRow))
	}
	return s.repo.UpdateResource(ctx, row.(*resourceRow))
}

func (s *Server) writeErr(c *gin.Context, kind schema.Kind, err error) {
	switch {
	case errors.Is(err, errNotFound):
		fail(c, http.StatusNotFound, apiclient.NotFoundMessage(kind))
	case errors.Is(err, errDuplicate):
		fail(c, http.StatusConflict, err.Error())
	default:
		s.log.Error("write failed", "kind", kind, "error", err)
		fail(c, http.StatusInternalServerError, err.Error())
	}
}

// download streams a file from the upload directory.
func (s *Server) download(c *gin.Context) {
	p, ok := c.GetQuery("file_path")
	if !ok || p == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Invalid request"})
		return
	}
	full, ok := s.resolveUpload(p)
	if !ok {
		c.JSON(http.StatusOK, gin.H{"success": false, "message": "File not found"})
		return
	}
	info, err := os.Stat(full)
	if err != nil || info.IsDir() {
		c.JSON(http.StatusOK, gin.H{"success": false, "message": "File not found"})
		return
	}
	c.Header("Cache-Control", "no-cache, must-revalidate")
	c.FileAttachment(full, filepath.Base(full))
}

// upload stores a multipart file under a generated name and records the
// path on the resource.
func (s *Server) upload(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.maxUpload)
	resourceID := c.PostForm("resource_id")
	fh, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "No file uploaded"})
		return
	}
	if resourceID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "resource_id is required"})
		return
	}

	name := uuid.NewString() + strings.ToLower(filepath.Ext(fh.Filename))
	dst := filepath.Join(s.uploadDir, name)

	src, err := fh.Open()
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"success": false, "message": "Error uploading file"})
		return
	}
	defer src.Close()
	if err := writeFile(dst, src); err != nil {
		s.log.Error("upload write failed", "error", err)
		c.JSON(http.StatusOK, gin.H{"success": false, "message": "Failed to move uploaded file"})
		return
	}

	if err := s.repo.SetResourceFilePath(c.Request.Context(), resourceID, dst); err != nil {
		_ = os.Remove(dst)
		if errors.Is(err, errNotFound) {
			c.JSON(http.StatusOK, gin.H{"success": false, "message": "Resource not found"})
			return
		}
		s.log.Error("upload bookkeeping failed", "resource_id", resourceID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "File uploaded successfully", "file_path": dst})
}

// resolveUpload maps a client path onto the upload directory, refusing
// anything that escapes it.
func (s *Server) resolveUpload(p string) (string, bool) {
	full := p
	if !filepath.IsAbs(full) {
		full = filepath.Join(s.uploadDir, filepath.Base(p))
	}
	full = filepath.Clean(full)
	rel, err := filepath.Rel(s.uploadDir, full)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") || filepath.IsAbs(rel) {
		return "", false
	}
	return full, true
}

func writeFile(dst string, src io.Reader) error {
	f, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, src); err != nil {
		f.Close()
		_ = os.Remove(dst)
		return err
	}
	return f.Close()
}

type (
	taskRow     = apiclient.TaskRow
	resourceRow = apiclient.ResourceRow
)

func rowID(row any) string {
	switch r := row.(type) {
	case *taskRow:
		return r.ID
	case *resourceRow:
		return r.ID
	default:
		return ""
	}
}
