package model

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"anpr-recorder/internal/domain/anpr"
)

// Client talks to the inference sidecar over HTTP. The sidecar hosts the
// plate detector and the text recognizer; both calls inherit the
// caller's deadline.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

type detectRequest struct {
	CameraID string `json:"camera_id"`
	Image    string `json:"image"`
}

type detectResponse struct {
	Regions []anpr.PlateRegion `json:"regions"`
}

type recognizeRequest struct {
	CameraID string           `json:"camera_id"`
	Image    string           `json:"image"`
	Box      anpr.BoundingBox `json:"box"`
}

type recognizeResponse struct {
	Candidates []anpr.RawTextCandidate `json:"candidates"`
}

func (c *Client) Detect(ctx context.Context, f anpr.Frame) ([]anpr.PlateRegion, error) {
	var resp detectResponse
	err := c.post(ctx, "/detect", detectRequest{
		CameraID: f.CameraID,
		Image:    base64.StdEncoding.EncodeToString(f.Image),
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("detect: %w", err)
	}
	return resp.Regions, nil
}

func (c *Client) Recognize(ctx context.Context, f anpr.Frame, region anpr.BoundingBox) ([]anpr.RawTextCandidate, error) {
	var resp recognizeResponse
	err := c.post(ctx, "/recognize", recognizeRequest{
		CameraID: f.CameraID,
		Image:    base64.StdEncoding.EncodeToString(f.Image),
		Box:      region,
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("recognize: %w", err)
	}
	return resp.Candidates, nil
}

func (c *Client) post(ctx context.Context, path string, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("model server returned %s", resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
