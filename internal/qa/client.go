// Package qa talks to the retrieval-augmented question answering service.
package qa

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/nomadai/rag-gateway/internal/config"
	"github.com/nomadai/rag-gateway/internal/models"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const userAgent = "raggateway/1.0"

// ErrorKind classifies an upstream failure.
type ErrorKind string

const (
	KindTransport ErrorKind = "transport"
	KindStatus    ErrorKind = "status"
	KindMalformed ErrorKind = "malformed"
)

// UpstreamError is returned for every failed call to the QA service.
type UpstreamError struct {
	Kind       ErrorKind
	StatusCode int
	Err        error
}

func (e *UpstreamError) Error() string {
	switch e.Kind {
	case KindStatus:
		return fmt.Sprintf("qa service returned HTTP %d: %v", e.StatusCode, e.Err)
	case KindMalformed:
		return fmt.Sprintf("qa service returned a malformed response: %v", e.Err)
	default:
		return fmt.Sprintf("qa service unreachable: %v", e.Err)
	}
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// Timeout reports whether the failure was the request deadline expiring.
func (e *UpstreamError) Timeout() bool {
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	var te interface{ Timeout() bool }
	return errors.As(e.Err, &te) && te.Timeout()
}

// Client posts questions to the QA service. A single attempt is made per
// question; there are no retries.
type Client struct {
	http    *resty.Client
	path    string
	timeout time.Duration
	tokens  *tokenCache
	logger  *zap.Logger
}

// tokenCache holds the client-credentials token. Fetches run with the
// caller's context so the question deadline also bounds the token request.
type tokenCache struct {
	cfg  clientcredentials.Config
	http *http.Client

	mu  sync.Mutex
	tok *oauth2.Token
}

func (t *tokenCache) token(ctx context.Context) (*oauth2.Token, error) {
	t.mu.Lock()
	tok := t.tok
	t.mu.Unlock()
	if tok.Valid() {
		return tok, nil
	}

	// Fetched outside the lock; each caller waits only as long as its ctx allows.
	tok, err := t.cfg.Token(context.WithValue(ctx, oauth2.HTTPClient, t.http))
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	t.tok = tok
	t.mu.Unlock()
	return tok, nil
}

// NewClient creates a client for cfg.BaseURL
func NewClient(cfg config.UpstreamConfig, logger *zap.Logger) *Client {
	var tokens *tokenCache
	if cfg.OAuth.Enabled() {
		tokens = &tokenCache{
			cfg: clientcredentials.Config{
				ClientID:     cfg.OAuth.ClientID,
				ClientSecret: cfg.OAuth.ClientSecret,
				TokenURL:     cfg.OAuth.TokenURL,
				Scopes:       cfg.OAuth.Scopes,
			},
			http: &http.Client{Timeout: cfg.Timeout},
		}
		logger.Info("QA client uses OAuth2 client credentials",
			zap.String("token_url", cfg.OAuth.TokenURL),
			zap.String("client_id", cfg.OAuth.ClientID))
	}

	r := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetRetryCount(0).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", userAgent)

	path := cfg.Path
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	return &Client{
		http:    r,
		path:    path,
		timeout: cfg.Timeout,
		tokens:  tokens,
		logger:  logger,
	}
}

// Timeout returns the per-request deadline.
func (c *Client) Timeout() time.Duration { return c.timeout }

// Answer forwards question and returns the service's answer unmodified.
func (c *Client) Answer(ctx context.Context, question string) (string, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req := c.http.R().
		SetContext(ctx).
		SetBody(models.QARequest{Question: question})

	if c.tokens != nil {
		tok, err := c.tokens.token(ctx)
		if err != nil {
			return "", &UpstreamError{Kind: KindTransport, Err: fmt.Errorf("token request failed: %w", err)}
		}
		req.SetAuthScheme(tok.Type()).SetAuthToken(tok.AccessToken)
	}

	resp, err := req.Post(c.path)
	if err != nil {
		return "", &UpstreamError{Kind: KindTransport, Err: err}
	}

	c.logger.Debug("QA service responded",
		zap.Int("status", resp.StatusCode()),
		zap.Duration("latency", resp.Time()),
		zap.Int("body_length", len(resp.Body())))

	if resp.IsError() || resp.StatusCode() < 200 || resp.StatusCode() > 299 {
		return "", &UpstreamError{
			Kind:       KindStatus,
			StatusCode: resp.StatusCode(),
			Err:        errors.New(truncate(strings.TrimSpace(resp.String()), 200)),
		}
	}

	var out models.QAResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return "", &UpstreamError{Kind: KindMalformed, StatusCode: resp.StatusCode(), Err: err}
	}
	if out.Answer == nil {
		return "", &UpstreamError{
			Kind:       KindMalformed,
			StatusCode: resp.StatusCode(),
			Err:        errors.New(`missing "answer" field`),
		}
	}

	return *out.Answer, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
