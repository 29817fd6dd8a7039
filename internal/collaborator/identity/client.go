package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/campuskit/attendance-api/pkg/config"
)

// Result is the outcome of a 1:1 face verification.
type Result struct {
	Verified bool    `json:"verified"`
	Distance float64 `json:"distance"`
}

// Verifier is the identity collaborator consumed by the status classifier.
type Verifier interface {
	Verify(ctx context.Context, imageURL, descriptorID string) (*Result, error)
}

// Client calls the face-identity inference service. The service compares a
// submitted image against a stored reference descriptor and returns a
// normalized embedding distance; Verified applies the configured threshold.
type Client struct {
	baseURL   string
	threshold float64
	skip      bool
	http      *http.Client
}

// New builds a client from configuration.
func New(cfg config.IdentityConfig) *Client {
	return &Client{
		baseURL:   cfg.BaseURL,
		threshold: cfg.Threshold,
		skip:      cfg.Skip,
		http:      &http.Client{Timeout: cfg.Timeout},
	}
}

// Verify performs a 1:1 check against the stored descriptor. With Skip set
// the client reports success without a network call, for local development.
func (c *Client) Verify(ctx context.Context, imageURL, descriptorID string) (*Result, error) {
	if c.skip {
		return &Result{Verified: true, Distance: 0.1}, nil
	}
	if imageURL == "" {
		return nil, fmt.Errorf("image url required")
	}

	body, err := json.Marshal(map[string]string{
		"image_url":     imageURL,
		"descriptor_id": descriptorID,
	})
	if err != nil {
		return nil, fmt.Errorf("encode verify request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/verify", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("identity service request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("identity service error %s: %s", resp.Status, string(payload))
	}

	var out struct {
		Distance float64 `json:"distance"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode identity response: %w", err)
	}

	return &Result{Verified: out.Distance <= c.threshold, Distance: out.Distance}, nil
}
