// Package inference turns a meal photo into an AnalysisOutcome by calling the
// Gemini generateContent endpoint, falling back across an ordered model list
// and retrying transient failures per model.
package inference

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"mcp-food-lens/internal/metrics"
	"mcp-food-lens/internal/models"
)

const (
	DefaultBaseURL        = "https://generativelanguage.googleapis.com/v1beta"
	DefaultAttemptTimeout = 30 * time.Second

	// maxResponseSize limits the response body to prevent memory exhaustion.
	maxResponseSize = 10 * 1024 * 1024
)

// DefaultModels is the model preference order, most preferred first.
var DefaultModels = []string{"gemini-2.5-flash", "gemini-2.0-flash", "gemini-1.5-flash"}

// CredentialSource yields the API key. An error or an empty key means no
// credential is configured.
type CredentialSource interface {
	Get(ctx context.Context) (string, error)
}

type Client struct {
	credentials    CredentialSource
	baseURL        string
	models         []string
	httpClient     *http.Client
	retryConfig    RetryConfig
	attemptTimeout time.Duration
	logger         *slog.Logger
	metrics        *metrics.Metrics
}

type ClientOption func(*Client)

func WithBaseURL(u string) ClientOption {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(u, "/")
	}
}

// WithModels replaces the model preference order. An empty list is ignored.
func WithModels(names ...string) ClientOption {
	return func(c *Client) {
		if len(names) > 0 {
			c.models = append([]string(nil), names...)
		}
	}
}

func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

func WithRetryConfig(cfg RetryConfig) ClientOption {
	return func(c *Client) {
		if cfg.MaxAttempts < 1 {
			cfg.MaxAttempts = 1
		}
		c.retryConfig = cfg
	}
}

// WithAttemptTimeout bounds each request. A timed out attempt is retried
// like any other transport failure.
func WithAttemptTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.attemptTimeout = d
	}
}

func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) ClientOption {
	return func(c *Client) {
		c.metrics = m
	}
}

func NewClient(credentials CredentialSource, opts ...ClientOption) *Client {
	c := &Client{
		credentials:    credentials,
		baseURL:        DefaultBaseURL,
		models:         append([]string(nil), DefaultModels...),
		httpClient:     &http.Client{},
		retryConfig:    DefaultRetryConfig(),
		attemptTimeout: DefaultAttemptTimeout,
		logger:         slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Models returns the configured model order.
func (c *Client) Models() []string {
	return append([]string(nil), c.models...)
}

// Analyze sends one base64 JPEG through the model list. It never returns a Go
// error: every failure ends as an Error outcome.
func (c *Client) Analyze(ctx context.Context, imageBase64 string) models.AnalysisOutcome {
	outcome := c.analyze(ctx, imageBase64)
	c.metrics.AnalysisOutcome(string(outcome.Kind))
	return outcome
}

func (c *Client) analyze(ctx context.Context, imageBase64 string) models.AnalysisOutcome {
	key, err := c.credential(ctx)
	if err != nil {
		return models.ErrorOutcome(err.Error())
	}
	if strings.TrimSpace(imageBase64) == "" {
		return models.ErrorOutcome("no image data supplied")
	}

	body, err := analysisRequestBody(imageBase64)
	if err != nil {
		return models.ErrorOutcome(fmt.Sprintf("build request: %v", err))
	}

	var lastErr error
	for _, model := range c.models {
	attempts:
		for n := 1; n <= c.retryConfig.MaxAttempts; n++ {
			d := classify(c.generate(ctx, key, model, body))
			c.metrics.InferenceAttempt(model, d.directive.String())

			switch d.directive {
			case directiveDone:
				c.logger.Info("Analysis complete",
					"model", model,
					"attempt", n,
					"kind", d.outcome.Kind)
				return d.outcome

			case directiveNextModel:
				lastErr = d.err
				c.logger.Warn("Model rejected request, trying next model",
					"model", model,
					"attempt", n,
					"error", d.err)
				break attempts

			case directiveRetry:
				lastErr = d.err
				c.logger.Debug("Attempt failed, retrying",
					"model", model,
					"attempt", n,
					"max_attempts", c.retryConfig.MaxAttempts,
					"error", d.err)
				if d.backoff && n < c.retryConfig.MaxAttempts {
					if err := sleepContext(ctx, c.calculateBackoff(n)); err != nil {
						return exhausted(err)
					}
				}
			}

			if err := ctx.Err(); err != nil {
				return exhausted(err)
			}
		}
	}

	if lastErr == nil {
		lastErr = errors.New("no models configured")
	}
	c.logger.Warn("All models failed", "models", len(c.models), "error", lastErr)
	return exhausted(lastErr)
}

func exhausted(err error) models.AnalysisOutcome {
	return models.ErrorOutcome("Analysis failed: " + err.Error())
}

// SummarizeWeek asks each model once, in order, for a short coaching
// paragraph about the week.
func (c *Client) SummarizeWeek(ctx context.Context, days []models.DaySummary, goals models.Goals, profile models.Profile) (string, error) {
	key, err := c.credential(ctx)
	if err != nil {
		return "", err
	}

	body, err := summaryRequestBody(weeklyPrompt(days, goals, profile))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}

	var lastErr error
	for _, model := range c.models {
		res := c.generate(ctx, key, model, body)
		switch {
		case res.err != nil:
			lastErr = res.err
		case strings.TrimSpace(res.text) == "":
			lastErr = errEmptyPayload
		default:
			c.metrics.InferenceAttempt(model, directiveDone.String())
			return strings.TrimSpace(res.text), nil
		}

		c.metrics.InferenceAttempt(model, directiveNextModel.String())
		c.logger.Warn("Weekly summary failed, trying next model", "model", model, "error", lastErr)

		if err := ctx.Err(); err != nil {
			return "", fmt.Errorf("weekly summary: %w", err)
		}
	}

	if lastErr == nil {
		lastErr = errors.New("no models configured")
	}
	return "", fmt.Errorf("weekly summary failed: %w", lastErr)
}

func (c *Client) credential(ctx context.Context) (string, error) {
	if c.credentials == nil {
		return "", ErrMissingCredential
	}
	key, err := c.credentials.Get(ctx)
	if err != nil {
		c.logger.Debug("No credential available", "error", err)
		return "", ErrMissingCredential
	}
	if err := ValidateFormat(key); err != nil {
		return "", err
	}
	return strings.TrimSpace(key), nil
}

// generate performs one generateContent request. Errors are returned wrapped
// as TransientError or FatalError and never contain the key.
func (c *Client) generate(ctx context.Context, key, model string, body []byte) attempt {
	if c.attemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.attemptTimeout)
		defer cancel()
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s",
		c.baseURL, url.PathEscape(model), url.QueryEscape(key))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return attempt{err: NewFatalError(fmt.Errorf("create HTTP request: %w", redactURLError(err)))}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return attempt{err: NewTransientError(fmt.Errorf("network request failed: %w", redactURLError(err)))}
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseSize))
	if err != nil {
		return attempt{err: NewTransientError(fmt.Errorf("read response body: %w", err))}
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		return attempt{err: classifyHTTPError(httpResp.StatusCode, redactBytes(respBody, key))}
	}

	text, finishReason := candidateText(respBody)
	if finishReason != "" && finishReason != "STOP" {
		c.logger.Warn("Generation finished early", "model", model, "finish_reason", finishReason)
	}
	return attempt{text: text}
}

// redactURLError drops the request URL, which carries the key in its query,
// from net/http errors while keeping the underlying cause.
func redactURLError(err error) error {
	var uerr *url.Error
	if !errors.As(err, &uerr) {
		return err
	}
	return fmt.Errorf("%s %s: %w", uerr.Op, redactQuery(uerr.URL), uerr.Err)
}

func redactQuery(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "[redacted]"
	}
	u.RawQuery = ""
	return u.String()
}

func redactBytes(b []byte, key string) []byte {
	if key == "" {
		return b
	}
	return bytes.ReplaceAll(b, []byte(key), []byte("[redacted]"))
}
