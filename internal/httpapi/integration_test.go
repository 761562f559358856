//go:build integration

package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/chatrelay/internal/attachment"
	ctxengine "github.com/user/chatrelay/internal/context"
	"github.com/user/chatrelay/internal/gateway"
	"github.com/user/chatrelay/internal/httpapi"
	"github.com/user/chatrelay/internal/metrics"
	"github.com/user/chatrelay/internal/ratelimit"
	"github.com/user/chatrelay/internal/state"
	"github.com/user/chatrelay/internal/types"
	"github.com/user/chatrelay/pkg/llm"
	"github.com/user/chatrelay/pkg/llm/openai"
)

// fakeModel is an OpenAI-compatible /chat/completions endpoint that records
// every prompt it receives.
type fakeModel struct {
	mu      sync.Mutex
	prompts [][]llm.Message
}

func (f *fakeModel) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Messages []llm.Message `json:"messages"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	f.mu.Lock()
	f.prompts = append(f.prompts, req.Messages)
	f.mu.Unlock()

	reply := "Hello there."
	if req.Messages[0].Content == ctxengine.SummaryInstruction {
		reply = "The user greeted the assistant."
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"id":      "chatcmpl-1",
		"object":  "chat.completion",
		"created": 1,
		"model":   "test-model",
		"choices": []map[string]any{{
			"index":         0,
			"message":       map[string]string{"role": "assistant", "content": reply},
			"finish_reason": "stop",
		}},
		"usage": map[string]int{"prompt_tokens": 10, "completion_tokens": 3, "total_tokens": 13},
	})
}

func (f *fakeModel) last() []llm.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.prompts[len(f.prompts)-1]
}

type envelope struct {
	OK    bool            `json:"ok"`
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func newStack(t *testing.T) (*httptest.Server, *fakeModel) {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()

	db, err := state.OpenDB(ctx, filepath.Join(dir, "chatrelay.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	actors := state.NewActors(state.NewSessionStore(db), state.ActorsConfig{})
	actors.Start(ctx)
	t.Cleanup(actors.Stop)

	model := &fakeModel{}
	modelSrv := httptest.NewServer(http.StripPrefix("/v1", model))
	t.Cleanup(modelSrv.Close)
	provider := openai.New(&llm.Config{BaseURL: modelSrv.URL + "/v1", Model: "test-model"}, nil)

	tmpl, err := ctxengine.LoadPrompt("")
	require.NoError(t, err)

	blob := attachment.NewFSBlob(filepath.Join(dir, "blobs"))
	m := metrics.New()
	gw := gateway.New(actors, ratelimit.New(), provider, ctxengine.New(tmpl, nil, 0), gateway.DefaultConfig(),
		gateway.WithMetrics(m),
		gateway.WithResolver(attachment.NewResolver(blob)),
	)

	srv := httptest.NewServer(httpapi.NewServer(gw, attachment.NewUploader(blob), m.Handler()))
	t.Cleanup(srv.Close)
	return srv, model
}

func call(t *testing.T, req *http.Request) (*http.Response, envelope) {
	t.Helper()
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var env envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return resp, env
}

func postJSON(t *testing.T, url, body string) (*http.Response, envelope) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	return call(t, req)
}

func TestEndToEnd(t *testing.T) {
	srv, model := newStack(t)
	const session = "session-e2e-1"

	// Upload a note
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "notes.md")
	require.NoError(t, err)
	_, err = io.WriteString(fw, "# Launch\nThe launch date is March 3.")
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/upload", &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, env := call(t, req)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var stored types.StoredFile
	require.NoError(t, json.Unmarshal(env.Data, &stored))
	assert.Equal(t, "notes.md", stored.Name)

	// Chat with the attachment
	resp, env = postJSON(t, srv.URL+"/api/chat",
		`{"sessionId":"`+session+`","message":"When is the launch?","fileId":"`+string(stored.FileID)+`"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, "error: %+v", env.Error)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
	var chat struct {
		Reply string `json:"reply"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &chat))
	assert.Equal(t, "Hello there.", chat.Reply)

	prompt := model.last()
	current := prompt[len(prompt)-1]
	assert.Equal(t, "user", current.Role)
	assert.Contains(t, current.Content, "The launch date is March 3.")
	assert.True(t, strings.HasSuffix(current.Content, "When is the launch?"))

	// Summarize
	resp, env = postJSON(t, srv.URL+"/api/summarize", `{"sessionId":"`+session+`"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var summary struct {
		Summary string `json:"summary"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &summary))
	assert.Equal(t, "The user greeted the assistant.", summary.Summary)

	// Export stores the raw message, not the attachment
	req, err = http.NewRequest(http.MethodGet, srv.URL+"/api/export?sessionId="+session, nil)
	require.NoError(t, err)
	resp, env = call(t, req)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var export types.SessionExport
	require.NoError(t, json.Unmarshal(env.Data, &export))
	require.Len(t, export.Messages, 2)
	assert.Equal(t, "When is the launch?", export.Messages[0].Content)
	assert.Equal(t, "Hello there.", export.Messages[1].Content)
	require.NotNil(t, export.Summary)
	assert.Equal(t, "The user greeted the assistant.", *export.Summary)
	assert.GreaterOrEqual(t, export.UpdatedAt, export.CreatedAt)

	// Counters are exposed
	metricsResp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer metricsResp.Body.Close()
	body, err := io.ReadAll(metricsResp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `chatrelay_requests_total{flow="chat",outcome="ok"} 1`)
}

func TestEndToEndRateLimit(t *testing.T) {
	srv, _ := newStack(t)
	const session = "session-e2e-limit"

	for i := 0; i < 10; i++ {
		resp, env := postJSON(t, srv.URL+"/api/chat", `{"sessionId":"`+session+`","message":"hi"}`)
		require.Equal(t, http.StatusOK, resp.StatusCode, "request %d: %+v", i, env.Error)
	}

	resp, env := postJSON(t, srv.URL+"/api/chat", `{"sessionId":"`+session+`","message":"hi"}`)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	require.NotNil(t, env.Error)
	assert.Equal(t, "rate_limited", env.Error.Code)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))
}
