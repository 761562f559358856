// Package gateway orchestrates the chat, summarize and export flows across
// the session store, rate limiter, attachment resolver and model.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	ctxengine "github.com/user/chatrelay/internal/context"
	"github.com/user/chatrelay/internal/metrics"
	"github.com/user/chatrelay/internal/ratelimit"
	"github.com/user/chatrelay/internal/types"
	"github.com/user/chatrelay/pkg/llm"
)

// Literal replies substituted when the model returns no usable text.
const (
	NoResponse = "No response."
	NoSummary  = "No summary."
)

const (
	flowChat      = "chat"
	flowSummarize = "summarize"
	flowExport    = "export"
)

// Config holds the request limits and windows of the three flows.
type Config struct {
	MaxMessageLength    int
	HistoryLimit        int
	SummaryHistoryLimit int
	RateLimitWindow     time.Duration
	RateLimitMax        int
	RateLimitExport     bool
	ModelTimeout        time.Duration
}

// DefaultConfig returns the stock limits.
func DefaultConfig() Config {
	return Config{
		MaxMessageLength:    2000,
		HistoryLimit:        10,
		SummaryHistoryLimit: 50,
		RateLimitWindow:     60 * time.Second,
		RateLimitMax:        10,
		ModelTimeout:        60 * time.Second,
	}
}

// Gateway runs the request flows. It holds no per-request state and is safe
// for concurrent use.
type Gateway struct {
	store    types.SessionStore
	limiter  *ratelimit.Limiter
	resolver types.AttachmentResolver
	provider llm.Provider
	engine   *ctxengine.Engine
	metrics  *metrics.Metrics
	cfg      Config
	now      func() time.Time
}

// Option configures optional Gateway behavior.
type Option func(*Gateway)

// WithClock replaces the clock used for message timestamps and rate limiting.
func WithClock(now func() time.Time) Option {
	return func(g *Gateway) { g.now = now }
}

// WithMetrics records flow outcomes and model timings.
func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Gateway) { g.metrics = m }
}

// WithResolver enables attachments on the chat flow.
func WithResolver(r types.AttachmentResolver) Option {
	return func(g *Gateway) { g.resolver = r }
}

// New creates a Gateway.
func New(store types.SessionStore, limiter *ratelimit.Limiter, provider llm.Provider, engine *ctxengine.Engine, cfg Config, opts ...Option) *Gateway {
	g := &Gateway{
		store:    store,
		limiter:  limiter,
		provider: provider,
		engine:   engine,
		cfg:      cfg,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// ChatRequest is one inbound chat message. Fields are raw caller input.
type ChatRequest struct {
	SessionID string
	Message   string
	FileID    string
}

// Chat records the user message, asks the model for a reply with the recent
// history as context, and records the reply. The exchange is not atomic: if
// generation fails the user message stays recorded without a reply.
func (g *Gateway) Chat(ctx context.Context, req ChatRequest) (reply string, err error) {
	start := g.now()
	defer func() { g.finish(ctx, flowChat, start, err) }()

	id, err := g.validateSession(req.SessionID)
	if err != nil {
		return "", err
	}
	message, err := g.validateMessage(req.Message)
	if err != nil {
		return "", err
	}
	if err := g.allow(flowChat, id); err != nil {
		return "", err
	}

	current, err := g.store.AppendMessage(ctx, id, types.RoleUser, message, g.now().UnixMilli())
	if err != nil {
		return "", fmt.Errorf("append user message: %w", err)
	}

	var (
		summary    string
		hasSummary bool
		history    []types.Message
	)
	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		var err error
		summary, hasSummary, err = g.store.Summary(egCtx, id)
		return err
	})
	eg.Go(func() error {
		var err error
		history, err = g.store.RecentMessages(egCtx, id, g.cfg.HistoryLimit)
		return err
	})
	if err := eg.Wait(); err != nil {
		return "", fmt.Errorf("load context: %w", err)
	}

	attachment, hasAttachment := g.resolveAttachment(ctx, id, req.FileID)

	prompt, err := g.engine.BuildChat(ctxengine.ChatInput{
		SessionID:     id,
		Now:           g.now(),
		Summary:       summary,
		HasSummary:    hasSummary,
		History:       history,
		Current:       *current,
		Attachment:    attachment,
		HasAttachment: hasAttachment,
	})
	if err != nil {
		return "", fmt.Errorf("build prompt: %w", err)
	}
	if prompt.Dropped > 0 {
		slog.Debug("history trimmed to fit prompt budget", "session_id", string(id), "dropped", prompt.Dropped)
	}

	reply, err = g.generate(ctx, flowChat, prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(reply) == "" {
		reply = NoResponse
	}

	if _, err := g.store.AppendMessage(ctx, id, types.RoleAssistant, reply, g.now().UnixMilli()); err != nil {
		return "", fmt.Errorf("append assistant message: %w", err)
	}
	return reply, nil
}

// Summarize asks the model to summarize the recent history and overwrites
// the stored summary with the result.
func (g *Gateway) Summarize(ctx context.Context, rawSessionID string) (summary string, err error) {
	start := g.now()
	defer func() { g.finish(ctx, flowSummarize, start, err) }()

	id, err := g.validateSession(rawSessionID)
	if err != nil {
		return "", err
	}
	if err := g.allow(flowSummarize, id); err != nil {
		return "", err
	}

	history, err := g.store.RecentMessages(ctx, id, g.cfg.SummaryHistoryLimit)
	if err != nil {
		return "", fmt.Errorf("load history: %w", err)
	}

	summary, err = g.generate(ctx, flowSummarize, g.engine.BuildSummary(history))
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(summary) == "" {
		summary = NoSummary
	}

	if err := g.store.SetSummary(ctx, id, summary); err != nil {
		return "", fmt.Errorf("store summary: %w", err)
	}
	return summary, nil
}

// Export returns the full session record.
func (g *Gateway) Export(ctx context.Context, rawSessionID string) (export *types.SessionExport, err error) {
	start := g.now()
	defer func() { g.finish(ctx, flowExport, start, err) }()

	id, err := g.validateSession(rawSessionID)
	if err != nil {
		return nil, err
	}
	if g.cfg.RateLimitExport {
		if err := g.allow(flowExport, id); err != nil {
			return nil, err
		}
	}

	export, err = g.store.Export(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("export session: %w", err)
	}
	return export, nil
}

// resolveAttachment looks up fileID. Lookup failures are logged and the
// exchange continues without the attachment.
func (g *Gateway) resolveAttachment(ctx context.Context, id types.SessionID, rawFileID string) (string, bool) {
	fileID := types.FileID(strings.TrimSpace(rawFileID))
	if fileID == "" || g.resolver == nil {
		return "", false
	}
	text, found, err := g.resolver.Resolve(ctx, fileID)
	if err != nil {
		slog.Warn("attachment lookup failed",
			"session_id", string(id),
			"request_id", string(types.RequestIDFrom(ctx)),
			"file_id", string(fileID),
			"error", err,
		)
		if g.metrics != nil {
			g.metrics.AttachmentFailures.Inc()
		}
		return "", false
	}
	if !found {
		slog.Debug("attachment not found", "session_id", string(id), "file_id", string(fileID))
		return "", false
	}
	if g.metrics != nil {
		g.metrics.AttachmentBytes.Observe(float64(len(text)))
	}
	return text, true
}

// generate calls the model under the configured timeout.
func (g *Gateway) generate(ctx context.Context, flow string, prompt *ctxengine.Prompt) (string, error) {
	if g.cfg.ModelTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.cfg.ModelTimeout)
		defer cancel()
	}

	if g.metrics != nil && prompt.Tokens > 0 {
		g.metrics.PromptTokens.WithLabelValues(flow).Observe(float64(prompt.Tokens))
	}

	start := time.Now()
	resp, err := g.provider.Complete(ctx, prompt.Messages)
	status := "ok"
	if err != nil {
		status = "error"
	}
	if g.metrics != nil {
		g.metrics.ModelCallDuration.WithLabelValues(flow, status).Observe(time.Since(start).Seconds())
	}
	if err != nil {
		return "", fmt.Errorf("%w: %w", types.ErrModelUnavailable, err)
	}
	return resp.Content, nil
}

// finish logs the flow result and counts it by outcome.
func (g *Gateway) finish(ctx context.Context, flow string, start time.Time, err error) {
	outcome := Outcome(err)
	if g.metrics != nil {
		g.metrics.RequestsTotal.WithLabelValues(flow, outcome).Inc()
	}

	attrs := []any{
		"flow", flow,
		"request_id", string(types.RequestIDFrom(ctx)),
		"outcome", outcome,
		"duration_ms", g.now().Sub(start).Milliseconds(),
	}
	switch outcome {
	case "ok":
		slog.Info("request completed", attrs...)
	case "validation", "rate_limited":
		slog.Info("request rejected", append(attrs, "reason", err.Error())...)
	default:
		slog.Error("request failed", append(attrs, "error", err)...)
	}
}

// Outcome names the error class of a flow result.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, types.ErrValidation):
		return "validation"
	case errors.Is(err, types.ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, types.ErrModelUnavailable):
		return "model_unavailable"
	case errors.Is(err, types.ErrStorageUnavailable):
		return "storage_unavailable"
	default:
		return "internal"
	}
}
