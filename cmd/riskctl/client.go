package main

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

	"github.com/mbd888/riskwatch/internal/detection"
	"github.com/mbd888/riskwatch/internal/entity"
)

type apiClient struct {
	httpClient *http.Client
	server     string
}

// jobs run synchronously on the server, so the timeout is generous
func newAPIClient(server string) *apiClient {
	return &apiClient{
		httpClient: &http.Client{Timeout: 10 * time.Minute},
		server:     strings.TrimRight(server, "/"),
	}
}

// apiError is a non-2xx response.
type apiError struct {
	Status  int
	Code    string
	Message string
	Body    []byte
}

func (e *apiError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error (%d %s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("api error (%d): %s", e.Status, strings.TrimSpace(string(e.Body)))
}

type jobResponse struct {
	Job detection.JobResult `json:"job"`
}

type historyResponse struct {
	Jobs       []detection.JobResult `json:"jobs"`
	Count      int                   `json:"count"`
	NextCursor string                `json:"next_cursor,omitempty"`
}

type stateResponse struct {
	State   detection.State      `json:"state"`
	LastJob *detection.JobResult `json:"last_job,omitempty"`
}

type flaggedResponse struct {
	Flagged    []entity.FlaggedAccount `json:"flagged"`
	Count      int                     `json:"count"`
	NextCursor string                  `json:"next_cursor,omitempty"`
}

func (c *apiClient) request(ctx context.Context, method, path string, in any, out any) error {
	var body io.Reader
	if in != nil {
		buf := &bytes.Buffer{}
		if err := json.NewEncoder(buf).Encode(in); err != nil {
			return err
		}
		body = buf
	}

	req, err := http.NewRequestWithContext(ctx, method, c.server+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		payload, _ := io.ReadAll(resp.Body)
		apiErr := &apiError{Status: resp.StatusCode, Body: payload}
		var decoded struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		if json.Unmarshal(payload, &decoded) == nil {
			apiErr.Code = decoded.Error
			apiErr.Message = decoded.Message
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// runJob triggers a job. A failed run still carries its result, which is
// returned alongside the error.
func (c *apiClient) runJob(ctx context.Context, path string, in any) (*detection.JobResult, error) {
	var out jobResponse
	err := c.request(ctx, http.MethodPost, path, in, &out)
	if err == nil {
		return &out.Job, nil
	}

	var apiErr *apiError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusServiceUnavailable {
		if json.Unmarshal(apiErr.Body, &out) == nil && out.Job.JobID != "" {
			return &out.Job, fmt.Errorf("job %s failed: %s", out.Job.JobID, out.Job.Error)
		}
	}
	return nil, err
}

func pagePath(base string, limit int, cursor string) string {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	if len(q) == 0 {
		return base
	}
	return base + "?" + q.Encode()
}

func escape(id string) string {
	return url.PathEscape(id)
}
