package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/chatrelay/internal/attachment"
	"github.com/user/chatrelay/internal/gateway"
	"github.com/user/chatrelay/internal/metrics"
	"github.com/user/chatrelay/internal/types"
)

type mockFlows struct {
	lastChat      gateway.ChatRequest
	lastSessionID string
	reply         string
	err           error
}

func (m *mockFlows) Chat(_ context.Context, req gateway.ChatRequest) (string, error) {
	m.lastChat = req
	return m.reply, m.err
}

func (m *mockFlows) Summarize(_ context.Context, sessionID string) (string, error) {
	m.lastSessionID = sessionID
	return m.reply, m.err
}

func (m *mockFlows) Export(_ context.Context, sessionID string) (*types.SessionExport, error) {
	m.lastSessionID = sessionID
	if m.err != nil {
		return nil, m.err
	}
	return &types.SessionExport{
		SessionID: types.SessionID(sessionID),
		CreatedAt: 1000,
		UpdatedAt: 1001,
		Messages:  []types.Message{{Role: types.RoleUser, Content: "Hello", Timestamp: 1000, Seq: 1}},
	}, nil
}

type response struct {
	OK    bool            `json:"ok"`
	Data  json.RawMessage `json:"data"`
	Error *errorBody      `json:"error"`
}

func setupServer(t *testing.T, flows *mockFlows) *Server {
	t.Helper()
	return NewServer(flows, attachment.NewUploader(attachment.NewFSBlob(t.TempDir())), metrics.New().Handler())
}

func do(t *testing.T, srv *Server, method, target, body string) (*httptest.ResponseRecorder, response) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	var resp response
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	}
	return w, resp
}

func TestHealthEndpoint(t *testing.T) {
	srv := setupServer(t, &mockFlows{})
	w, resp := do(t, srv, http.MethodGet, "/health", "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, resp.OK)
	assert.JSONEq(t, `{"status":"ok"}`, string(resp.Data))
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestChatEndpoint(t *testing.T) {
	flows := &mockFlows{reply: "Hi there"}
	srv := setupServer(t, flows)

	w, resp := do(t, srv, http.MethodPost, "/api/chat", `{"sessionId":"session-0001","message":"Hello","fileId":"f-1"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, resp.OK)
	assert.JSONEq(t, `{"reply":"Hi there"}`, string(resp.Data))
	assert.Equal(t, gateway.ChatRequest{SessionID: "session-0001", Message: "Hello", FileID: "f-1"}, flows.lastChat)
}

func TestChatEndpointToleratesFieldTypes(t *testing.T) {
	flows := &mockFlows{reply: "ok"}
	srv := setupServer(t, flows)

	w, _ := do(t, srv, http.MethodPost, "/api/chat", `{"sessionId":12345678,"message":["x"],"fileId":null}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, gateway.ChatRequest{}, flows.lastChat, "non-string fields read as empty")

	w, _ = do(t, srv, http.MethodPost, "/api/chat", "")
	require.Equal(t, http.StatusOK, w.Code)
}

func TestChatEndpointMalformedJSON(t *testing.T) {
	srv := setupServer(t, &mockFlows{})
	w, resp := do(t, srv, http.MethodPost, "/api/chat", `{"sessionId":`)

	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.False(t, resp.OK)
	assert.Equal(t, CodeBadRequest, resp.Error.Code)
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"validation", fmt.Errorf("%w: sessionId must be at least 8 characters", types.ErrValidation), 400, CodeBadRequest},
		{"rate limited", &gateway.RateLimitError{RetryAfter: 1500 * time.Millisecond}, 429, CodeRateLimited},
		{"model", fmt.Errorf("%w: connection refused", types.ErrModelUnavailable), 502, CodeUpstreamUnavailable},
		{"storage", fmt.Errorf("append: %w", types.ErrStorageUnavailable), 500, CodeInternal},
		{"unknown", errors.New("boom"), 500, CodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := setupServer(t, &mockFlows{err: tt.err})
			w, resp := do(t, srv, http.MethodPost, "/api/summarize", `{"sessionId":"session-0001"}`)

			require.Equal(t, tt.status, w.Code)
			assert.False(t, resp.OK)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.code, resp.Error.Code)
			assert.NotContains(t, resp.Error.Message, "boom", "internal details are not echoed")
		})
	}
}

func TestRateLimitedSetsRetryAfter(t *testing.T) {
	srv := setupServer(t, &mockFlows{err: &gateway.RateLimitError{RetryAfter: 1500 * time.Millisecond}})
	w, _ := do(t, srv, http.MethodPost, "/api/chat", `{}`)
	assert.Equal(t, "2", w.Header().Get("Retry-After"))
}

func TestSummarizeEndpoint(t *testing.T) {
	flows := &mockFlows{reply: "short summary"}
	srv := setupServer(t, flows)

	w, resp := do(t, srv, http.MethodPost, "/api/summarize", `{"sessionId":"session-0001"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"summary":"short summary"}`, string(resp.Data))
	assert.Equal(t, "session-0001", flows.lastSessionID)
}

func TestExportEndpoint(t *testing.T) {
	flows := &mockFlows{}
	srv := setupServer(t, flows)

	w, resp := do(t, srv, http.MethodGet, "/api/export?sessionId=session-0001", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{
		"sessionId": "session-0001",
		"createdAt": 1000,
		"updatedAt": 1001,
		"summary": null,
		"messages": [{"role":"user","content":"Hello","timestamp":1000,"seq":1}]
	}`, string(resp.Data))
}

func TestUnknownRoutesAndMethods(t *testing.T) {
	srv := setupServer(t, &mockFlows{})
	for _, tc := range []struct{ method, target string }{
		{http.MethodGet, "/nope"},
		{http.MethodGet, "/api/chat"},
		{http.MethodDelete, "/api/export"},
		{http.MethodPost, "/health"},
	} {
		w, resp := do(t, srv, tc.method, tc.target, "")
		assert.Equal(t, http.StatusNotFound, w.Code, "%s %s", tc.method, tc.target)
		require.NotNil(t, resp.Error)
		assert.Equal(t, CodeNotFound, resp.Error.Code)
	}
}

func multipartBody(t *testing.T, field, name string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile(field, name)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestUploadAndFetch(t *testing.T) {
	srv := setupServer(t, &mockFlows{})

	body, contentType := multipartBody(t, "file", "notes.md", []byte("# Notes"))
	req := httptest.NewRequest(http.MethodPost, "/api/upload", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		OK   bool             `json:"ok"`
		Data types.StoredFile `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.OK)
	assert.Equal(t, "notes.md", resp.Data.Name)
	assert.Equal(t, int64(7), resp.Data.Size)
	assert.NotContains(t, w.Body.String(), "uploads/", "storage key is not exposed")

	req = httptest.NewRequest(http.MethodGet, "/api/files/"+string(resp.Data.FileID), nil)
	w = httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "# Notes", w.Body.String())
	assert.Equal(t, "text/markdown; charset=utf-8", w.Header().Get("Content-Type"))
}

func TestUploadRejected(t *testing.T) {
	srv := setupServer(t, &mockFlows{})

	body, contentType := multipartBody(t, "file", "run.sh", []byte("echo"))
	req := httptest.NewRequest(http.MethodPost, "/api/upload", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	body, contentType = multipartBody(t, "other", "a.txt", []byte("x"))
	req = httptest.NewRequest(http.MethodPost, "/api/upload", body)
	req.Header.Set("Content-Type", contentType)
	w = httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestFetchUnknownFile(t *testing.T) {
	srv := setupServer(t, &mockFlows{})
	w, resp := do(t, srv, http.MethodGet, "/api/files/missing-id", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, CodeNotFound, resp.Error.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	srv := setupServer(t, &mockFlows{})
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "chatrelay_session_lanes_active")
}
