// Package directory talks to the third-party identity directory that owns
// canonical subject IDs.
package directory

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"humanitylink/internal/identity/models"
	"humanitylink/pkg/platform/circuit"
	"humanitylink/pkg/platform/sentinel"
)

const (
	appIDHeader = "privy-app-id"

	// maxErrorBody bounds how much of an error response is kept.
	maxErrorBody = 4 << 10
)

var tracer trace.Tracer = otel.Tracer("humanitylink/directory")

// Config holds the directory endpoint and app credentials.
type Config struct {
	BaseURL          string
	AppID            string
	AppSecret        string
	Timeout          time.Duration
	FailureThreshold int
	Cooldown         time.Duration
}

// Client is a REST client for the identity directory.
type Client struct {
	baseURL    string
	appID      string
	authHeader string
	httpClient *http.Client
	breaker    *circuit.Breaker
	logger     *slog.Logger
}

type Option func(*Client)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithHTTPClient replaces the default client. Tests point it at httptest.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// NewClient validates credentials up front so a misconfigured deployment
// fails at startup instead of on the first request.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	if strings.TrimSpace(cfg.AppID) == "" || strings.TrimSpace(cfg.AppSecret) == "" {
		return nil, errors.New("directory app id and app secret are required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid directory base url %q", cfg.BaseURL)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	c := &Client{
		baseURL:    base.String(),
		appID:      cfg.AppID,
		authHeader: "Basic " + basicAuth(cfg.AppID, cfg.AppSecret),
		httpClient: &http.Client{Timeout: timeout},
		breaker: circuit.New("identity-directory",
			circuit.WithFailureThreshold(cfg.FailureThreshold),
			circuit.WithCooldown(cfg.Cooldown),
		),
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// ListUsers fetches one page of users. An empty cursor starts at the beginning.
func (c *Client) ListUsers(ctx context.Context, cursor string, limit int) (*models.UserPage, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	path := "/users"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var page models.UserPage
	if err := c.do(ctx, "list_users", http.MethodGet, path, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// CreateUser creates a user with a single linked wallet account.
func (c *Client) CreateUser(ctx context.Context, address string) (*models.DirectoryUser, error) {
	body := struct {
		LinkedAccounts []models.LinkedAccount `json:"linked_accounts"`
	}{
		LinkedAccounts: []models.LinkedAccount{{Type: models.LinkedAccountWallet, Address: address}},
	}
	var user models.DirectoryUser
	if err := c.do(ctx, "create_user", http.MethodPost, "/users", body, &user); err != nil {
		return nil, err
	}
	if user.ID == "" {
		return nil, &Error{Op: "create_user", Message: "response carried no user id", Underlying: sentinel.ErrUnavailable}
	}
	return &user, nil
}

// GetUser fetches one user. A missing user unwraps to sentinel.ErrNotFound.
func (c *Client) GetUser(ctx context.Context, userID string) (*models.DirectoryUser, error) {
	var user models.DirectoryUser
	if err := c.do(ctx, "get_user", http.MethodGet, "/users/"+url.PathEscape(userID), nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// SetCustomMetadata replaces the user's custom metadata.
func (c *Client) SetCustomMetadata(ctx context.Context, userID string, metadata map[string]any) (*models.DirectoryUser, error) {
	body := struct {
		CustomMetadata map[string]any `json:"custom_metadata"`
	}{CustomMetadata: metadata}
	if body.CustomMetadata == nil {
		body.CustomMetadata = map[string]any{}
	}
	var user models.DirectoryUser
	path := "/users/" + url.PathEscape(userID) + "/custom_metadata"
	if err := c.do(ctx, "set_custom_metadata", http.MethodPost, path, body, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// BreakerState exposes the circuit position for health reporting.
func (c *Client) BreakerState() circuit.State {
	return c.breaker.State()
}

func (c *Client) do(ctx context.Context, op, method, path string, in, out any) (err error) {
	ctx, span := tracer.Start(ctx, "directory."+op, trace.WithAttributes(
		attribute.String("http.request.method", method),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, op)
		}
		span.End()
	}()

	if !c.breaker.Allow() {
		return &Error{Op: op, Message: "circuit open", Underlying: sentinel.ErrUnavailable}
	}

	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("directory %s: encode request: %w", op, err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("directory %s: build request: %w", op, err)
	}
	req.Header.Set("Authorization", c.authHeader)
	req.Header.Set(appIDHeader, c.appID)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() == nil {
			c.recordFailure(ctx, op)
		}
		return &Error{Op: op, Message: "request failed", Underlying: err}
	}
	defer resp.Body.Close()
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		derr := &Error{Op: op, StatusCode: resp.StatusCode, Message: errorMessage(snippet, resp.Status)}
		if derr.countsAsFailure() {
			c.recordFailure(ctx, op)
		} else {
			c.breaker.RecordSuccess()
		}
		c.logger.WarnContext(ctx, "directory call failed",
			"op", op,
			"status", resp.StatusCode,
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return derr
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			c.recordFailure(ctx, op)
			return &Error{Op: op, Message: "malformed response", Underlying: errors.Join(sentinel.ErrUnavailable, err)}
		}
	}
	if _, change := c.breaker.RecordSuccess(); change.Closed {
		c.logger.InfoContext(ctx, "directory circuit closed", "op", op)
	}
	c.logger.DebugContext(ctx, "directory call completed",
		"op", op,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

func (c *Client) recordFailure(ctx context.Context, op string) {
	if _, change := c.breaker.RecordFailure(); change.Opened {
		c.logger.ErrorContext(ctx, "directory circuit opened", "op", op, "breaker", c.breaker.Name())
	}
}

// errorMessage pulls the directory's own error text out of a failure body.
func errorMessage(body []byte, fallback string) string {
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &payload) == nil {
		if payload.Error != "" {
			return payload.Error
		}
		if payload.Message != "" {
			return payload.Message
		}
	}
	return fallback
}

func basicAuth(appID, appSecret string) string {
	return base64.StdEncoding.EncodeToString([]byte(appID + ":" + appSecret))
}
