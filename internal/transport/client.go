package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kitedb/kitesync/internal/core/domain"
)

const (
	snapshotPath = "/replication/transport/snapshot"
	logPath      = "/replication/transport/log"
	progressPath = "/replication/progress"

	defaultRequestTimeout = 30 * time.Second
	defaultMaxRetries     = 3
	defaultRetryBackoff   = 200 * time.Millisecond
)

// HTTPSource implements Source over the primary's HTTP control surface.
// Transient failures (network errors, HTTP 5xx) are retried with
// exponential backoff; domain errors carried in the response body are
// surfaced without retrying.
type HTTPSource struct {
	baseURL    string
	client     *http.Client
	adminToken string
	maxRetries int
	backoff    time.Duration
}

// HTTPSourceOption customizes an HTTPSource.
type HTTPSourceOption func(*HTTPSource)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(client *http.Client) HTTPSourceOption {
	return func(s *HTTPSource) { s.client = client }
}

// WithAdminToken sends the given bearer token on every request.
func WithAdminToken(token string) HTTPSourceOption {
	return func(s *HTTPSource) { s.adminToken = token }
}

// WithRetries sets the retry count and initial backoff for transient
// failures. A count of 0 disables retries.
func WithRetries(count int, backoff time.Duration) HTTPSourceOption {
	return func(s *HTTPSource) {
		s.maxRetries = count
		s.backoff = backoff
	}
}

// NewHTTPSource creates a source that pulls transfers from the primary
// at the given address.
func NewHTTPSource(server string, opts ...HTTPSourceOption) *HTTPSource {
	baseURL := server
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		baseURL = "http://" + baseURL
	}
	s := &HTTPSource{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		client:     &http.Client{Timeout: defaultRequestTimeout},
		maxRetries: defaultMaxRetries,
		backoff:    defaultRetryBackoff,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// BaseURL returns the base URL of the source.
func (s *HTTPSource) BaseURL() string {
	return s.baseURL
}

// FetchSnapshot retrieves the primary's most recent full state export.
func (s *HTTPSource) FetchSnapshot(ctx context.Context) (*Snapshot, error) {
	var snap Snapshot
	if err := s.getJSON(ctx, snapshotPath, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// FetchLogPage retrieves one page of log frames after the request cursor.
func (s *HTTPSource) FetchLogPage(ctx context.Context, req LogPageRequest) (*LogPage, error) {
	query := url.Values{}
	if req.Cursor != "" {
		query.Set("cursor", req.Cursor)
	}
	if req.MaxFrames > 0 {
		query.Set("max_frames", strconv.Itoa(req.MaxFrames))
	}
	if req.MaxBytes > 0 {
		query.Set("max_bytes", strconv.FormatInt(req.MaxBytes, 10))
	}
	if req.IncludePayload != nil {
		query.Set("include_payload", strconv.FormatBool(*req.IncludePayload))
	}
	path := logPath
	if len(query) > 0 {
		path += "?" + query.Encode()
	}

	var page LogPage
	if err := s.getJSON(ctx, path, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// ReportProgress posts the replica's applied position to the primary
// so retention can account for it. Transient failures are retried the
// same way as fetches.
func (s *HTTPSource) ReportProgress(ctx context.Context, replicaID, token string) error {
	body, err := json.Marshal(map[string]string{
		"replica_id": replicaID,
		"token":      token,
	})
	if err != nil {
		return domain.ErrInternalServer.
			WithDetails("encode progress report").
			WithCause(err)
	}

	var lastErr error
	backoff := s.backoff
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return domain.ErrTransientIO.
					WithDetails("request cancelled during retry").
					WithCause(ctx.Err())
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		err := s.doPost(ctx, progressPath, body)
		if err == nil {
			return nil
		}
		if !domain.IsDomainError(err, domain.ErrTransientIO.Code) {
			return err
		}
		lastErr = err
	}
	return lastErr
}

func (s *HTTPSource) doPost(ctx context.Context, path string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return domain.ErrInternalServer.
			WithDetails("create request").
			WithCause(err)
	}
	if s.adminToken != "" {
		req.Header.Set("Authorization", "Bearer "+s.adminToken)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return domain.ErrTransientIO.
			WithDetails(fmt.Sprintf("POST %s", path)).
			WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		io.Copy(io.Discard, resp.Body)
		return domain.ErrTransientIO.
			WithDetails(fmt.Sprintf("POST %s returned status %d", path, resp.StatusCode))
	}
	if resp.StatusCode >= 400 {
		return decodeErrorResponse(resp)
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}

// getJSON performs a GET with retries and decodes the JSON response.
func (s *HTTPSource) getJSON(ctx context.Context, path string, target any) error {
	var lastErr error
	backoff := s.backoff

	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return domain.ErrTransientIO.
					WithDetails("request cancelled during retry").
					WithCause(ctx.Err())
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		err := s.doGet(ctx, path, target)
		if err == nil {
			return nil
		}
		if !domain.IsDomainError(err, domain.ErrTransientIO.Code) {
			return err
		}
		lastErr = err
	}
	return lastErr
}

func (s *HTTPSource) doGet(ctx context.Context, path string, target any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+path, nil)
	if err != nil {
		return domain.ErrInternalServer.
			WithDetails("create request").
			WithCause(err)
	}
	if s.adminToken != "" {
		req.Header.Set("Authorization", "Bearer "+s.adminToken)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return domain.ErrTransientIO.
			WithDetails(fmt.Sprintf("GET %s", path)).
			WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		io.Copy(io.Discard, resp.Body)
		return domain.ErrTransientIO.
			WithDetails(fmt.Sprintf("GET %s returned status %d", path, resp.StatusCode))
	}
	if resp.StatusCode >= 400 {
		return decodeErrorResponse(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return domain.ErrTransportDecode.
			WithDetails(fmt.Sprintf("GET %s response body", path)).
			WithCause(err)
	}
	return nil
}

// decodeErrorResponse maps a structured error body back onto the
// matching domain sentinel so errors.Is works across the wire.
func decodeErrorResponse(resp *http.Response) error {
	var body struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		Details string `json:"details"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body.Code == "" {
		return domain.ErrTransportDecode.
			WithDetails(fmt.Sprintf("request failed with status %d", resp.StatusCode))
	}
	de := domain.NewDomainError(body.Code, body.Message)
	if body.Details != "" {
		return de.WithDetails(body.Details)
	}
	return de
}
