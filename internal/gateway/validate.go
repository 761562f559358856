package gateway

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/user/chatrelay/internal/types"
)

// MinSessionIDLength is the shortest accepted session identity.
const MinSessionIDLength = 8

// RateLimitError reports a rejected request and when the window reopens.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%v: retry in %s", types.ErrRateLimited, e.RetryAfter.Round(time.Second))
}

func (e *RateLimitError) Unwrap() error {
	return types.ErrRateLimited
}

func (g *Gateway) validateSession(raw string) (types.SessionID, error) {
	id := types.ParseSessionID(raw)
	if utf8.RuneCountInString(string(id)) < MinSessionIDLength {
		return "", fmt.Errorf("%w: sessionId must be at least %d characters", types.ErrValidation, MinSessionIDLength)
	}
	return id, nil
}

func (g *Gateway) validateMessage(raw string) (string, error) {
	message := strings.TrimSpace(raw)
	n := utf8.RuneCountInString(message)
	if n == 0 {
		return "", fmt.Errorf("%w: message is required", types.ErrValidation)
	}
	if n > g.cfg.MaxMessageLength {
		return "", fmt.Errorf("%w: message must be at most %d characters", types.ErrValidation, g.cfg.MaxMessageLength)
	}
	return message, nil
}

// allow checks the limiter before any state is touched.
func (g *Gateway) allow(flow string, id types.SessionID) error {
	now := g.now().UnixMilli()
	windowMs := g.cfg.RateLimitWindow.Milliseconds()
	if g.limiter.Allow(string(id), now, windowMs, g.cfg.RateLimitMax) {
		return nil
	}
	if g.metrics != nil {
		g.metrics.RateLimitedTotal.WithLabelValues(flow).Inc()
	}
	retry := g.limiter.RetryAfterMs(string(id), now, windowMs, g.cfg.RateLimitMax)
	return &RateLimitError{RetryAfter: time.Duration(retry) * time.Millisecond}
}
