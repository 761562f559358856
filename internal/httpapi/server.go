// Package httpapi exposes the relay flows over HTTP with a JSON envelope.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/user/chatrelay/internal/attachment"
	"github.com/user/chatrelay/internal/gateway"
	"github.com/user/chatrelay/internal/types"
)

const maxJSONBody = 64 << 10

// Flows is the orchestrator surface served by the API.
type Flows interface {
	Chat(ctx context.Context, req gateway.ChatRequest) (string, error)
	Summarize(ctx context.Context, sessionID string) (string, error)
	Export(ctx context.Context, sessionID string) (*types.SessionExport, error)
}

// Files is the upload pass-through surface.
type Files interface {
	Upload(ctx context.Context, name string, size int64, r io.Reader) (*types.StoredFile, error)
	Open(ctx context.Context, id types.FileID) (*types.StoredFile, io.ReadCloser, error)
}

// Server routes the API endpoints.
type Server struct {
	flows   Flows
	files   Files
	metrics http.Handler
	mux     *http.ServeMux
}

// NewServer creates a Server. files and metrics may be nil, which disables
// the upload and metrics endpoints.
func NewServer(flows Flows, files Files, metrics http.Handler) *Server {
	s := &Server{
		flows:   flows,
		files:   files,
		metrics: metrics,
		mux:     http.NewServeMux(),
	}
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("POST /api/chat", s.handleChat)
	s.mux.HandleFunc("POST /api/summarize", s.handleSummarize)
	s.mux.HandleFunc("GET /api/export", s.handleExport)
	if files != nil {
		s.mux.HandleFunc("POST /api/upload", s.handleUpload)
		s.mux.HandleFunc("GET /api/files/{fileId}", s.handleFile)
	}
	if metrics != nil {
		s.mux.Handle("GET /metrics", metrics)
	}
	s.mux.HandleFunc("/", s.handleNotFound)
	return s
}

// ServeHTTP tags the request with an ID and delegates to the internal mux,
// implementing http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	id := types.NewRequestID()
	w.Header().Set("X-Request-ID", string(id))

	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	s.mux.ServeHTTP(rec, r.WithContext(types.WithRequestID(r.Context(), id)))

	slog.Debug("http request",
		"request_id", string(id),
		"method", r.Method,
		"path", r.URL.Path,
		"status", rec.status,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeData(w, map[string]string{"status": "ok"})
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeFailure(w, http.StatusNotFound, CodeNotFound, "no route for "+r.Method+" "+r.URL.Path)
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	fields, ok := readFields(w, r)
	if !ok {
		return
	}
	reply, err := s.flows.Chat(r.Context(), gateway.ChatRequest{
		SessionID: fields.str("sessionId"),
		Message:   fields.str("message"),
		FileID:    fields.str("fileId"),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, map[string]string{"reply": reply})
}

func (s *Server) handleSummarize(w http.ResponseWriter, r *http.Request) {
	fields, ok := readFields(w, r)
	if !ok {
		return
	}
	summary, err := s.flows.Summarize(r.Context(), fields.str("sessionId"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, map[string]string{"summary": summary})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	export, err := s.flows.Export(r.Context(), r.URL.Query().Get("sessionId"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, export)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, attachment.MaxUploadBytes+maxJSONBody)
	file, header, err := r.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeFailure(w, http.StatusBadRequest, CodeBadRequest, "file is too large")
			return
		}
		writeFailure(w, http.StatusBadRequest, CodeBadRequest, `multipart field "file" is required`)
		return
	}
	defer file.Close()

	stored, err := s.files.Upload(r.Context(), header.Filename, header.Size, file)
	if err != nil {
		if !errors.Is(err, types.ErrValidation) {
			slog.Error("upload failed", "request_id", string(types.RequestIDFrom(r.Context())), "error", err)
		}
		writeError(w, err)
		return
	}
	writeData(w, stored)
}

func (s *Server) handleFile(w http.ResponseWriter, r *http.Request) {
	stored, rc, err := s.files.Open(r.Context(), types.FileID(r.PathValue("fileId")))
	if err != nil {
		if !errors.Is(err, types.ErrNotFound) {
			slog.Error("file fetch failed", "request_id", string(types.RequestIDFrom(r.Context())), "error", err)
		}
		writeError(w, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", attachment.ContentType(stored.Name))
	w.Header().Set("Content-Disposition", `inline; filename="`+stored.Name+`"`)
	if _, err := io.Copy(w, rc); err != nil {
		slog.Warn("file copy failed", "file_id", string(stored.FileID), "error", err)
	}
}

// fields is a decoded JSON object. Absent or non-string values read as "".
type fields map[string]any

func (f fields) str(key string) string {
	s, _ := f[key].(string)
	return s
}

func readFields(w http.ResponseWriter, r *http.Request) (fields, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxJSONBody))
	if err != nil {
		writeFailure(w, http.StatusBadRequest, CodeBadRequest, "request body is too large")
		return nil, false
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return fields{}, true
	}
	var f fields
	if err := json.Unmarshal(body, &f); err != nil {
		writeFailure(w, http.StatusBadRequest, CodeBadRequest, "request body must be a JSON object")
		return nil, false
	}
	return f, true
}
