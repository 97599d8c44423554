// Package client talks to the permgate HTTP API on behalf of a consumer
// application and keeps one token per session in a tokencache.Cache.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"qazna.org/permgate/internal/auth"
	"qazna.org/permgate/internal/obs"
	"qazna.org/permgate/internal/tokencache"
)

var (
	// ErrLoginRequired means the session holds no live token.
	ErrLoginRequired = errors.New("client: login required")
	// ErrAccessDenied is the server's answer to bad credentials or tokens.
	ErrAccessDenied = errors.New("client: access denied")
	ErrForbidden    = errors.New("client: forbidden")
	ErrNotFound     = errors.New("client: not found")
	ErrConflict     = errors.New("client: conflict")
)

// StatusError carries an unexpected HTTP status.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("client: unexpected status %d", e.Code)
	}
	return fmt.Sprintf("client: unexpected status %d: %s", e.Code, e.Message)
}

type Client struct {
	base  *url.URL
	http  *http.Client
	cache tokencache.Cache
	log   *zap.Logger
}

// Option configures Client.
type Option func(*Client)

// WithHTTPClient swaps the transport, e.g. for httptest servers.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithTimeout bounds every request.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http = &http.Client{Timeout: d, Transport: c.http.Transport}
		}
	}
}

// New returns a client for the API at baseURL.
func New(baseURL string, cache tokencache.Cache, opts ...Option) (*Client, error) {
	if cache == nil {
		return nil, errors.New("client: token cache is required")
	}
	u, err := url.Parse(strings.TrimRight(strings.TrimSpace(baseURL), "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("client: invalid base url %q", baseURL)
	}
	c := &Client{
		base:  u,
		http:  &http.Client{Timeout: 10 * time.Second},
		cache: cache,
		log:   obs.Named("client"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type loginRequest struct {
	UserName string `json:"userName"`
	Password string `json:"password"`
}

// Login authenticates and stores the token under session. Nothing is cached
// when ctx is cancelled before the response is handled.
func (c *Client) Login(ctx context.Context, session, username, password string) (auth.AuthResult, error) {
	if strings.TrimSpace(session) == "" {
		return auth.AuthResult{}, tokencache.ErrInvalidKey
	}
	var res auth.AuthResult
	if err := c.do(ctx, http.MethodPost, "/api/users/authenticate", "", loginRequest{UserName: username, Password: password}, &res); err != nil {
		return auth.AuthResult{}, err
	}
	if res.Token == "" {
		return auth.AuthResult{}, errors.New("client: empty token in response")
	}
	if err := ctx.Err(); err != nil {
		return auth.AuthResult{}, err
	}
	if err := c.cache.Set(ctx, session, res.Token, res.ExpiresAt); err != nil {
		return auth.AuthResult{}, fmt.Errorf("client: cache token: %w", err)
	}
	c.log.Debug("session logged in", zap.Int64("user_id", res.UserID), zap.Time("expires_at", res.ExpiresAt))
	return res, nil
}

// Token returns the live token of session or ErrLoginRequired.
func (c *Client) Token(ctx context.Context, session string) (string, error) {
	tok, err := c.cache.Get(ctx, session)
	if errors.Is(err, tokencache.ErrAbsent) {
		return "", ErrLoginRequired
	}
	if err != nil {
		return "", err
	}
	return tok, nil
}

// Logout forgets the token of session.
func (c *Client) Logout(ctx context.Context, session string) error {
	return c.cache.Invalidate(ctx, session)
}

// Permissions fetches userID's permission tree with the session token. A
// rejected token is dropped from the cache.
func (c *Client) Permissions(ctx context.Context, session string, userID int64) (auth.UserPermissions, error) {
	var perms auth.UserPermissions
	path := "/api/users/" + strconv.FormatInt(userID, 10) + "/permissions"
	if err := c.withSession(ctx, session, http.MethodGet, path, nil, &perms); err != nil {
		return auth.UserPermissions{}, err
	}
	return perms, nil
}

// withSession calls the API with the token of session. ErrAccessDenied drops
// the token and surfaces as ErrLoginRequired.
func (c *Client) withSession(ctx context.Context, session, method, path string, in, out any) error {
	tok, err := c.Token(ctx, session)
	if err != nil {
		return err
	}
	err = c.do(ctx, method, path, tok, in, out)
	if errors.Is(err, ErrAccessDenied) {
		_ = c.cache.Invalidate(ctx, session)
		return ErrLoginRequired
	}
	return err
}

func (c *Client) do(ctx context.Context, method, path, bearer string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("client: decode response: %w", err)
		}
		return nil
	case http.StatusUnauthorized:
		return ErrAccessDenied
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict:
		return ErrConflict
	default:
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 4<<10)).Decode(&e)
		return &StatusError{Code: resp.StatusCode, Message: e.Error}
	}
}
