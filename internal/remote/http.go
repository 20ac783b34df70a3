// Package remote provides the remote durable stores the reconciliation engine syncs with: a
// JSON HTTP API and a DynamoDB table.
package remote

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

	"golang.org/x/time/rate"

	"github.com/pable/racquet-metrics/internal/model"
)

// DefaultRateLimit spaces requests to the match API.
var DefaultRateLimit = rate.Every(200 * time.Millisecond)

// ErrUnauthorized is returned when the API rejects the credentials.
var ErrUnauthorized = errors.New("remote rejected credentials")

// StatusError is a non-2xx response.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("%s %s: HTTP %d: %s", e.Method, e.Path, e.Code, e.Body)
	}
	return fmt.Sprintf("%s %s: HTTP %d", e.Method, e.Path, e.Code)
}

// HTTPOptions configures an HTTPStore.
type HTTPOptions struct {
	BaseURL    string
	APIKey     string
	UserID     string
	RateLimit  rate.Limit // zero uses DefaultRateLimit
	Timeout    time.Duration
	HTTPClient *http.Client
}

// HTTPStore is a match API client scoped to one user.
type HTTPStore struct {
	base    string
	apiKey  string
	userID  string
	http    *http.Client
	limiter *rate.Limiter
}

// NewHTTPStore returns a client for the match API at opts.BaseURL.
func NewHTTPStore(opts HTTPOptions) *HTTPStore {
	if opts.RateLimit == 0 {
		opts.RateLimit = DefaultRateLimit
	}
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: opts.Timeout}
	}
	return &HTTPStore{
		base:    strings.TrimRight(opts.BaseURL, "/"),
		apiKey:  opts.APIKey,
		userID:  opts.UserID,
		http:    hc,
		limiter: rate.NewLimiter(opts.RateLimit, 1),
	}
}

func (s *HTTPStore) matchesPath() string {
	return "/users/" + url.PathEscape(s.userID) + "/matches"
}

// do sends one authenticated request. body, when non-nil, is JSON-encoded; out, when non-nil,
// receives the decoded response.
func (s *HTTPStore) do(ctx context.Context, method, path string, body, out any) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}

	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s body: %w", path, err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.base+path, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%s %s: %w", method, path, ErrUnauthorized)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Method: method, Path: path, Code: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

// FetchSince returns up to limit matches updated strictly after cursor, oldest first.
func (s *HTTPStore) FetchSince(ctx context.Context, cursor time.Time, limit int) ([]model.MatchRecord, error) {
	q := url.Values{}
	if !cursor.IsZero() {
		q.Set("since", cursor.UTC().Format(time.RFC3339Nano))
	}
	q.Set("limit", strconv.Itoa(limit))

	var resp struct {
		Items []model.MatchRecord `json:"items"`
	}
	if err := s.do(ctx, http.MethodGet, s.matchesPath()+"?"+q.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Items, nil
}

// Persist creates or replaces one match.
func (s *HTTPStore) Persist(ctx context.Context, m model.MatchRecord) error {
	return s.do(ctx, http.MethodPut, s.matchesPath()+"/"+url.PathEscape(m.ID), m, nil)
}

// Delete removes matches by ID. Unknown IDs are not an error.
func (s *HTTPStore) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	body := struct {
		IDs []string `json:"ids"`
	}{IDs: ids}
	return s.do(ctx, http.MethodDelete, s.matchesPath(), body, nil)
}
