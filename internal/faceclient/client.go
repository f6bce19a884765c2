// Package faceclient calls the face detection/embedding microservice. The
// model is an external collaborator: given an image, it produces zero or more
// fixed-length descriptors with bounding boxes.
package faceclient

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"classmark/internal/descriptor"
)

// Box is a face bounding box in frame coordinates.
type Box struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Detection is one detected face with its descriptor.
type Detection struct {
	Box        Box       `json:"box"`
	Descriptor []float64 `json:"descriptor"`
	Score      float64   `json:"score"`
}

// Client calls the face recognition microservice.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Skip    bool
}

// New creates a client. Skip short-circuits every call with a deterministic
// mock detection for development without the model service.
func New(baseURL string, skip bool) *Client {
	return &Client{
		BaseURL: baseURL,
		Skip:    skip,
		HTTP: &http.Client{
			Timeout: 30 * time.Second, // face processing can take time
		},
	}
}

// DetectAll returns every face found in a video frame.
func (c *Client) DetectAll(ctx context.Context, frame []byte) ([]Detection, error) {
	if c.Skip {
		return []Detection{mockDetection()}, nil
	}
	return c.detect(ctx, "/detect-all", frame)
}

// DetectOne returns the single most prominent face in a still image, or nil
// when no face is found.
func (c *Client) DetectOne(ctx context.Context, image []byte) (*Detection, error) {
	if c.Skip {
		det := mockDetection()
		return &det, nil
	}
	dets, err := c.detect(ctx, "/detect-one", image)
	if err != nil {
		return nil, err
	}
	if len(dets) == 0 {
		return nil, nil
	}
	return &dets[0], nil
}

// Health pings the face service.
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
		return fmt.Errorf("face service unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("face service unhealthy: %s", resp.Status)
	}
	return nil
}

func (c *Client) detect(ctx context.Context, endpoint string, image []byte) ([]Detection, error) {
	body, _ := json.Marshal(map[string]string{
		"image": base64.StdEncoding.EncodeToString(image),
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("face service request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("face service error %s: %s", resp.Status, string(bodyBytes))
	}

	var out struct {
		Faces []Detection `json:"faces"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	for _, d := range out.Faces {
		if len(d.Descriptor) != descriptor.Dim {
			return nil, fmt.Errorf("face service returned a %d-component descriptor, want %d",
				len(d.Descriptor), descriptor.Dim)
		}
	}
	return out.Faces, nil
}

// mockDetection is stable so that Skip-mode enrollment and recognition agree.
func mockDetection() Detection {
	d := make([]float64, descriptor.Dim)
	for i := range d {
		d[i] = 0.1
	}
	return Detection{
		Box:        Box{X: 120, Y: 80, Width: 200, Height: 200},
		Descriptor: d,
		Score:      0.95,
	}
}
