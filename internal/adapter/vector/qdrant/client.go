// Package qdrant provides the Qdrant HTTP client and the document bundle
// store built on top of it.
package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/fairyhunter13/resume-matcher/internal/domain"
)

// Client is a minimal Qdrant HTTP client used by the app.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient constructs a Qdrant client with baseURL and optional apiKey.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout:   10 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// EnsureCollection creates the collection if it does not exist.
func (c *Client) EnsureCollection(ctx context.Context, name string, vectorSize int, distance string) error {
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/collections/%s", c.baseURL, name), nil)
	c.setHeaders(req)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("op=qdrant.EnsureCollection: %w: %v", domain.ErrTransient, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode == http.StatusOK {
		return nil
	}
	payload := map[string]any{
		"vectors": map[string]any{"size": vectorSize, "distance": distance},
	}
	b, _ := json.Marshal(payload)
	req, _ = http.NewRequestWithContext(ctx, http.MethodPut, fmt.Sprintf("%s/collections/%s", c.baseURL, name), bytes.NewReader(b))
	c.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")
	resp, err = c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("op=qdrant.EnsureCollection: %w: %v", domain.ErrTransient, err)
	}
	defer func() { _ = resp.Body.Close() }()
	return statusErr("qdrant ensure create", resp.StatusCode)
}

// UpsertPoint inserts or replaces a single point. The payload must marshal
// to a JSON object.
func (c *Client) UpsertPoint(ctx context.Context, collection, id string, vector []float64, payload any) error {
	body := map[string]any{
		"points": []map[string]any{{
			"id":      id,
			"vector":  vector,
			"payload": payload,
		}},
	}
	b, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("op=qdrant.UpsertPoint: %w", err)
	}
	req, _ := http.NewRequestWithContext(ctx, http.MethodPut, fmt.Sprintf("%s/collections/%s/points?wait=true", c.baseURL, collection), bytes.NewReader(b))
	c.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("op=qdrant.UpsertPoint: %w: %v", domain.ErrTransient, err)
	}
	defer func() { _ = resp.Body.Close() }()
	return statusErr("qdrant upsert", resp.StatusCode)
}

// GetPointPayload retrieves one point's payload as raw JSON. Missing points
// return domain.ErrNotFound.
func (c *Client) GetPointPayload(ctx context.Context, collection, id string) (json.RawMessage, error) {
	body := map[string]any{"ids": []string{id}, "with_payload": true, "with_vector": false}
	b, _ := json.Marshal(body)
	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("%s/collections/%s/points", c.baseURL, collection), bytes.NewReader(b))
	c.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("op=qdrant.GetPointPayload: %w: %v", domain.ErrTransient, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if err := statusErr("qdrant retrieve", resp.StatusCode); err != nil {
		return nil, err
	}
	var out struct {
		Result []struct {
			ID      any             `json:"id"`
			Payload json.RawMessage `json:"payload"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("op=qdrant.GetPointPayload: decode: %w", domain.ErrUpstream)
	}
	if len(out.Result) == 0 {
		return nil, domain.ErrNotFound
	}
	return out.Result[0].Payload, nil
}

// DeletePoint removes one point by id.
func (c *Client) DeletePoint(ctx context.Context, collection, id string) error {
	body := map[string]any{"points": []string{id}}
	b, _ := json.Marshal(body)
	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("%s/collections/%s/points/delete?wait=true", c.baseURL, collection), bytes.NewReader(b))
	c.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("op=qdrant.DeletePoint: %w: %v", domain.ErrTransient, err)
	}
	defer func() { _ = resp.Body.Close() }()
	return statusErr("qdrant delete", resp.StatusCode)
}

// ScrollPoint is one row returned by Scroll.
type ScrollPoint struct {
	ID      string
	Payload json.RawMessage
}

// Scroll pages through a collection's payloads. offset is the opaque next
// page token from the previous call ("" for the first page).
func (c *Client) Scroll(ctx context.Context, collection string, limit int, offset string) ([]ScrollPoint, string, error) {
	body := map[string]any{"limit": limit, "with_payload": true, "with_vector": false}
	if offset != "" {
		body["offset"] = offset
	}
	b, _ := json.Marshal(body)
	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("%s/collections/%s/points/scroll", c.baseURL, collection), bytes.NewReader(b))
	c.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("op=qdrant.Scroll: %w: %v", domain.ErrTransient, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if err := statusErr("qdrant scroll", resp.StatusCode); err != nil {
		return nil, "", err
	}
	var out struct {
		Result struct {
			Points []struct {
				ID      any             `json:"id"`
				Payload json.RawMessage `json:"payload"`
			} `json:"points"`
			NextPageOffset any `json:"next_page_offset"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, "", fmt.Errorf("op=qdrant.Scroll: decode: %w", domain.ErrUpstream)
	}
	points := make([]ScrollPoint, 0, len(out.Result.Points))
	for _, p := range out.Result.Points {
		points = append(points, ScrollPoint{ID: fmt.Sprintf("%v", p.ID), Payload: p.Payload})
	}
	next := ""
	if out.Result.NextPageOffset != nil {
		next = fmt.Sprintf("%v", out.Result.NextPageOffset)
	}
	return points, next, nil
}

func (c *Client) setHeaders(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("api-key", c.apiKey)
	}
}

// statusErr maps HTTP status codes onto the error taxonomy: 404 is
// ErrNotFound, 429/5xx are retryable, other non-2xx are permanent.
func statusErr(op string, status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusNotFound:
		return domain.ErrNotFound
	case status == http.StatusTooManyRequests || status >= 500:
		return fmt.Errorf("%s status %d: %w", op, status, domain.ErrTransient)
	default:
		return fmt.Errorf("%s status %d: %w", op, status, domain.ErrUpstream)
	}
}

// IsTransient reports whether err should be retried by the adapter.
func IsTransient(err error) bool {
	return errors.Is(err, domain.ErrTransient)
}
