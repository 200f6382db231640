// Package gateway authenticates callers, applies the per-key quota and
// forwards permitted questions to the QA service.
package gateway

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nomadai/rag-gateway/internal/metrics"
	"github.com/nomadai/rag-gateway/internal/models"
	"github.com/nomadai/rag-gateway/internal/usage"
	"go.uber.org/zap"
)

var (
	// ErrUnauthorized means the caller key is not in the allow-list.
	ErrUnauthorized = errors.New("invalid API key")
	// ErrForbidden means the administrator key did not match.
	ErrForbidden = errors.New("not authorized")
	// ErrInvalidQuery means there was nothing to forward.
	ErrInvalidQuery = errors.New("query must not be empty")
)

// Outcome tells apart the normal results of Ask.
type Outcome string

const (
	OutcomeAnswered        Outcome = "ok"
	OutcomeRateLimited     Outcome = "rate_limited"
	OutcomeUpstreamFailure Outcome = "upstream_error"
)

// Result is what Ask hands back for an authenticated caller. Text is always
// displayable as is.
type Result struct {
	Text    string
	Outcome Outcome
}

// Answerer answers a question. *qa.Client implements it.
type Answerer interface {
	Answer(ctx context.Context, question string) (string, error)
}

// Options configures a Gateway
type Options struct {
	APIKeys  []string
	AdminKey string
	// Timeout bounds a single forward. Zero leaves it to the Answerer.
	Timeout time.Duration
}

// Gateway is safe for concurrent use.
type Gateway struct {
	keys     [][]byte
	adminKey []byte
	timeout  time.Duration
	tracker  *usage.Tracker
	qa       Answerer
	logger   *zap.Logger
}

// New creates a gateway. The tracker is owned by the caller and must outlive
// the gateway.
func New(opts Options, tracker *usage.Tracker, qa Answerer, logger *zap.Logger) *Gateway {
	keys := make([][]byte, 0, len(opts.APIKeys))
	for _, k := range opts.APIKeys {
		if k == "" {
			continue
		}
		keys = append(keys, []byte(k))
	}

	var admin []byte
	if opts.AdminKey != "" {
		admin = []byte(opts.AdminKey)
	}

	return &Gateway{
		keys:     keys,
		adminKey: admin,
		timeout:  opts.Timeout,
		tracker:  tracker,
		qa:       qa,
		logger:   logger,
	}
}

// Ask answers query on behalf of apiKey.
//
// Only ErrUnauthorized and ErrInvalidQuery are returned as errors. Quota
// refusals and QA service failures come back as a Result whose Text can be
// shown to the caller directly.
func (g *Gateway) Ask(ctx context.Context, query, apiKey string) (Result, error) {
	if !g.ValidKey(apiKey) {
		g.logger.Warn("Rejected ask_rag call with invalid API key",
			zap.String("key_prefix", MaskKey(apiKey)))
		metrics.ToolCalls.WithLabelValues(models.ToolAskRAG, "unauthorized").Inc()
		return Result{}, ErrUnauthorized
	}

	query = strings.TrimSpace(query)
	if query == "" {
		metrics.ToolCalls.WithLabelValues(models.ToolAskRAG, "invalid").Inc()
		return Result{}, ErrInvalidQuery
	}

	if !g.tracker.Allow(apiKey) {
		metrics.RateLimitRejected.Inc()
		metrics.ToolCalls.WithLabelValues(models.ToolAskRAG, string(OutcomeRateLimited)).Inc()
		g.logger.Info("Rate limit exceeded",
			zap.String("key_prefix", MaskKey(apiKey)),
			zap.Int("limit", g.tracker.Limit()),
			zap.Duration("window", g.tracker.Window()))
		return Result{Text: g.RateLimitMessage(), Outcome: OutcomeRateLimited}, nil
	}
	metrics.RateLimitAllowed.Inc()

	answer, err := g.forward(ctx, query)
	if err != nil {
		metrics.ToolCalls.WithLabelValues(models.ToolAskRAG, string(OutcomeUpstreamFailure)).Inc()
		g.logger.Error("QA service request failed",
			zap.String("key_prefix", MaskKey(apiKey)),
			zap.Error(err))
		return Result{Text: "Server error: " + err.Error(), Outcome: OutcomeUpstreamFailure}, nil
	}

	metrics.ToolCalls.WithLabelValues(models.ToolAskRAG, string(OutcomeAnswered)).Inc()
	return Result{Text: answer, Outcome: OutcomeAnswered}, nil
}

// forward runs outside the tracker lock.
func (g *Gateway) forward(ctx context.Context, query string) (answer string, err error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	start := time.Now()
	defer func() {
		result := "ok"
		if err != nil {
			result = "error"
		}
		metrics.UpstreamDuration.WithLabelValues(result).Observe(time.Since(start).Seconds())
	}()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("qa client panicked: %v", r)
		}
	}()

	return g.qa.Answer(ctx, query)
}

// Usage renders the lifetime counters as `{"key": n, ...}` sorted by key.
func (g *Gateway) Usage(adminKey string) (string, error) {
	snapshot, err := g.snapshot(adminKey)
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		return "", fmt.Errorf("failed to render usage: %w", err)
	}
	return string(data), nil
}

// UsageSnapshot returns the lifetime counters for adminKey.
func (g *Gateway) UsageSnapshot(adminKey string) (map[string]int64, error) {
	return g.snapshot(adminKey)
}

func (g *Gateway) snapshot(adminKey string) (map[string]int64, error) {
	if !g.ValidAdminKey(adminKey) {
		g.logger.Warn("Rejected usage_stats call with invalid admin key")
		metrics.ToolCalls.WithLabelValues(models.ToolUsageStats, "forbidden").Inc()
		return nil, ErrForbidden
	}
	metrics.ToolCalls.WithLabelValues(models.ToolUsageStats, "ok").Inc()
	return g.tracker.Snapshot(), nil
}

// ValidKey reports whether apiKey is in the allow-list.
func (g *Gateway) ValidKey(apiKey string) bool {
	if apiKey == "" {
		return false
	}
	candidate := []byte(apiKey)
	found := 0
	for _, k := range g.keys {
		found |= subtle.ConstantTimeCompare(k, candidate)
	}
	return found == 1
}

// ValidAdminKey reports whether adminKey matches. It is always false when no
// administrator key is configured.
func (g *Gateway) ValidAdminKey(adminKey string) bool {
	if len(g.adminKey) == 0 || adminKey == "" {
		return false
	}
	return subtle.ConstantTimeCompare(g.adminKey, []byte(adminKey)) == 1
}

// Quota is the state of one identity's window.
type Quota struct {
	Limit     int
	Remaining int
	Reset     time.Duration
}

// Quota reports the current window of apiKey without consuming a slot.
func (g *Gateway) Quota(apiKey string) Quota {
	remaining, reset := g.tracker.Remaining(apiKey)
	return Quota{Limit: g.tracker.Limit(), Remaining: remaining, Reset: reset}
}

// RateLimitMessage is returned to callers over quota.
func (g *Gateway) RateLimitMessage() string {
	return fmt.Sprintf("Rate limit exceeded (%d requests/%s). Try again later",
		g.tracker.Limit(), windowUnit(g.tracker.Window()))
}

func windowUnit(d time.Duration) string {
	switch d {
	case time.Second:
		return "sec"
	case time.Minute:
		return "min"
	case time.Hour:
		return "hour"
	}
	return d.String()
}

// MaskKey returns a masked version of the API key for logging
func MaskKey(key string) string {
	if len(key) <= 8 {
		return "***"
	}
	return key[:4] + "..." + key[len(key)-4:]
}
