// Package webclient implements gateway.Gateway against the gametonite HTTP
// API, so a sync controller can run in a different process than the store.
package webclient

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

	"github.com/google/uuid"
	"github.com/jellydator/ttlcache/v3"

	"gametonite/internal/gateway"
	appLog "gametonite/internal/log"
	"gametonite/internal/model"
)

const (
	defaultTimeout  = 15 * time.Second
	listingCapacity = 32
)

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("http %d", e.Code)
	}
	return fmt.Sprintf("http %d: %s", e.Code, e.Message)
}

// Is maps 404 onto gateway.ErrNotFound.
func (e *StatusError) Is(target error) bool {
	return target == gateway.ErrNotFound && e.Code == http.StatusNotFound
}

// listing is the last 200 body seen for a listing URL.
type listing struct {
	etag string
	body []byte
}

// Client talks to one gametonite server.
type Client struct {
	base     *url.URL
	http     *http.Client
	username string
	password string

	// Conditional GET cache keyed by full listing URL.
	listings *ttlcache.Cache[string, listing]
}

var _ gateway.Gateway = (*Client)(nil)

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithBasicAuth(username, password string) Option {
	return func(c *Client) {
		c.username = username
		c.password = password
	}
}

func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("server url %q: scheme must be http or https", baseURL)
	}
	c := &Client{
		base: u,
		http: &http.Client{Timeout: defaultTimeout},
		listings: ttlcache.New(
			ttlcache.WithCapacity[string, listing](listingCapacity),
		),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// endpoint joins an already escaped path onto the base URL.
func (c *Client) endpoint(escapedPath string, query url.Values) string {
	u := *c.base
	u.RawPath = c.base.EscapedPath() + escapedPath
	u.Path, _ = url.PathUnescape(u.RawPath)
	if query != nil {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

func (c *Client) newRequest(ctx context.Context, method, target string, body any) (*http.Request, error) {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, rd)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-Id", uuid.NewString())
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}
	return req, nil
}

func statusError(resp *http.Response) error {
	var er model.ErrorResponse
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if json.Unmarshal(data, &er) != nil || er.Error == "" {
		er.Error = strings.TrimSpace(string(data))
	}
	return &StatusError{Code: resp.StatusCode, Message: er.Error}
}

// ListSessionsInRange fetches a listing, revalidating with If-None-Match
// against the last body seen for the same range.
func (c *Client) ListSessionsInRange(ctx context.Context, groupID string, start, end time.Time) ([]model.Session, error) {
	q := url.Values{}
	q.Set("start", start.UTC().Format(time.RFC3339))
	q.Set("end", end.UTC().Format(time.RFC3339))
	target := c.endpoint("/api/groups/"+url.PathEscape(groupID)+"/sessions", q)

	req, err := c.newRequest(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	var cached *listing
	if item := c.listings.Get(target); item != nil {
		v := item.Value()
		cached = &v
		req.Header.Set("If-None-Match", v.etag)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer resp.Body.Close()

	var body []byte
	switch resp.StatusCode {
	case http.StatusOK:
		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("list sessions: %w", err)
		}
		if etag := resp.Header.Get("ETag"); etag != "" {
			c.listings.Set(target, listing{etag: etag, body: body}, ttlcache.DefaultTTL)
		}
	case http.StatusNotModified:
		if cached == nil {
			return nil, errors.New("list sessions: 304 without a cached body")
		}
		appLog.Debug("session listing not modified", "group_id", groupID)
		body = cached.body
	default:
		return nil, fmt.Errorf("list sessions: %w", statusError(resp))
	}

	var sessions []model.Session
	if err := json.Unmarshal(body, &sessions); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	if sessions == nil {
		sessions = []model.Session{}
	}
	return sessions, nil
}

func (c *Client) CreateSession(ctx context.Context, req model.CreateSessionRequest) (*model.Session, error) {
	target := c.endpoint("/api/groups/"+url.PathEscape(req.ServerID)+"/sessions", nil)
	httpReq, err := c.newRequest(ctx, http.MethodPost, target, req)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("create session: %w", statusError(resp))
	}
	var s model.Session
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return &s, nil
}

func (c *Client) DeleteSession(ctx context.Context, sessionID int64) error {
	return c.send(ctx, http.MethodDelete, sessionPath(sessionID), nil, "delete session")
}

func (c *Client) AddParticipant(ctx context.Context, sessionID int64, userID, picture string) error {
	body := model.ParticipantRequest{UserID: userID, Picture: picture}
	return c.send(ctx, http.MethodPost, sessionPath(sessionID)+"/participants", body, "add participant")
}

func (c *Client) RemoveParticipant(ctx context.Context, sessionID int64, userID string) error {
	path := sessionPath(sessionID) + "/participants/" + url.PathEscape(userID)
	return c.send(ctx, http.MethodDelete, path, nil, "remove participant")
}

func sessionPath(id int64) string {
	return "/api/sessions/" + strconv.FormatInt(id, 10)
}

// send performs a mutation that answers 204 on success.
func (c *Client) send(ctx context.Context, method, path string, body any, op string) error {
	req, err := c.newRequest(ctx, method, c.endpoint(path, nil), body)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("%s: %w", op, statusError(resp))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
