// Package backend is the client for the platform's REST API: job offer
// metadata, guest interview completion and report kickoff. The API is
// plain JSON over HTTPS with bearer-token auth.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

// TokenSource supplies the current bearer token, empty when the
// candidate is not authenticated.
type TokenSource func() string

type Client struct {
	baseURL    string
	token      TokenSource
	httpClient *http.Client
	logger     *log.Logger
}

type ClientConfig struct {
	BaseURL    string
	Token      TokenSource
	HTTPClient *http.Client
	Logger     *log.Logger
}

func NewClient(cfg ClientConfig) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	token := cfg.Token
	if token == nil {
		token = func() string { return "" }
	}
	return &Client{baseURL: cfg.BaseURL, token: token, httpClient: httpClient, logger: logger}
}

// JobOffer is the metadata the interview room needs about a position.
type JobOffer struct {
	ID           string   `json:"id"`
	Title        string   `json:"title"`
	CompanyName  string   `json:"company_name"`
	Requirements []string `json:"requirements"`
	Questions    []string `json:"questions"`
}

// JobOffer fetches job metadata for the interview prompt.
func (c *Client) JobOffer(ctx context.Context, id string) (*JobOffer, error) {
	var offer JobOffer
	if err := c.do(ctx, http.MethodGet, "/api/job-offers/"+id, nil, &offer); err != nil {
		return nil, err
	}
	return &offer, nil
}

// CompleteGuestInterview marks a guest interview record as completed
// once the session has ended.
func (c *Client) CompleteGuestInterview(ctx context.Context, id string) error {
	body := map[string]string{"status": "completed"}
	return c.do(ctx, http.MethodPatch, "/api/guest-interviews/"+id+"/complete", body, nil)
}

// CreateReport asks the backend to generate (or return) the scoring
// report for the candidate's attempt at a job offer.
func (c *Client) CreateReport(ctx context.Context, jobID string) error {
	body := map[string]string{"job_offer_id": jobID}
	return c.do(ctx, http.MethodPost, "/api/reports", body, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("backend: encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("backend: create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("backend: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("backend: %s %s: %s", method, path, errorDetail(resp))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("backend: decode response: %w", err)
		}
	}
	return nil
}

// errorDetail extracts the "detail" message the API puts in non-2xx
// bodies, falling back to the HTTP status.
func errorDetail(resp *http.Response) string {
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err == nil && len(raw) > 0 {
		var body struct {
			Detail string `json:"detail"`
		}
		if json.Unmarshal(raw, &body) == nil && body.Detail != "" {
			return body.Detail
		}
	}
	return resp.Status
}
