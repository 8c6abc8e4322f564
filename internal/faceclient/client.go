package faceclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"smartattend/internal/biometric"
)

// Client calls the face detection microservice.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	// Skip short-circuits every call for local development. Detect then
	// returns one fixed face so enrollment and joins match each other.
	Skip bool
}

var _ biometric.Detector = (*Client)(nil)

// New creates a client with configurable timeout.
func New(baseURL string, skip bool, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second // face processing can take time
	}
	return &Client{
		BaseURL: baseURL,
		Skip:    skip,
		HTTP:    &http.Client{Timeout: timeout},
	}
}

type detectedFace struct {
	Descriptor []float64     `json:"descriptor"`
	Box        biometric.Box `json:"box"`
	Score      float64       `json:"score"`
}

// Detect returns every face found in the image with its descriptor.
// An image without faces is not an error; callers decide what zero means.
func (c *Client) Detect(ctx context.Context, imageURL string) ([]biometric.Face, error) {
	if c.Skip {
		return []biometric.Face{{
			Descriptor: SkipDescriptor(),
			Box:        biometric.Box{Width: 200, Height: 200},
			Score:      0.99,
		}}, nil
	}
	if imageURL == "" {
		return nil, fmt.Errorf("image url required")
	}

	var out struct {
		Faces []detectedFace `json:"faces"`
	}
	if err := c.post(ctx, "/detect", map[string]string{"image_url": imageURL}, &out); err != nil {
		return nil, err
	}
	faces := make([]biometric.Face, 0, len(out.Faces))
	for _, f := range out.Faces {
		faces = append(faces, biometric.Face{Descriptor: f.Descriptor, Box: f.Box, Score: f.Score})
	}
	return faces, nil
}

// Health checks if the face service is available.
func (c *Client) Health(ctx context.Context) error {
	if c.Skip {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("face service unavailable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("face service unhealthy: %s", resp.Status)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("face service request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("face service error %s: %s", resp.Status, string(bodyBytes))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// SkipDescriptor is the descriptor returned in skip mode.
func SkipDescriptor() biometric.Descriptor {
	d := make(biometric.Descriptor, biometric.DescriptorLen)
	for i := range d {
		d[i] = float64(i%8) / 100
	}
	return d
}
