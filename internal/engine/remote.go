package engine

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sync/atomic"
	"time"
)

// Remote talks to the model sidecar over HTTP. The sidecar owns model
// loading; this client only probes readiness and forwards inference calls.
type Remote struct {
	baseURL string
	token   string
	client  *http.Client
	ready   atomic.Bool
}

// NewRemote constructs a sidecar client.
func NewRemote(baseURL, token string, timeout time.Duration) *Remote {
	return &Remote{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: timeout},
	}
}

func (r *Remote) Name() string { return "remote" }

type inferRequest struct {
	Prompt      string `json:"prompt"`
	ImageBase64 string `json:"image_base64"`
	BaseSize    int    `json:"base_size,omitempty"`
	ImageSize   int    `json:"image_size,omitempty"`
	CropMode    bool   `json:"crop_mode"`
}

type inferResponse struct {
	Text string `json:"text"`
}

type healthResponse struct {
	ModelLoaded bool `json:"model_loaded"`
}

// Ready probes the sidecar health endpoint. A loaded model is sticky: once
// observed ready the probe is skipped.
func (r *Remote) Ready(ctx context.Context) bool {
	if r.ready.Load() {
		return true
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	var health healthResponse
	if resp.StatusCode != http.StatusOK || json.NewDecoder(resp.Body).Decode(&health) != nil {
		return false
	}
	if health.ModelLoaded {
		r.ready.Store(true)
	}
	return health.ModelLoaded
}

// Infer posts the image to the sidecar inference endpoint.
func (r *Remote) Infer(ctx context.Context, prompt, imagePath string, params Params) (string, error) {
	data, err := os.ReadFile(imagePath)
	if err != nil {
		return "", fmt.Errorf("read image: %w", err)
	}
	body, err := json.Marshal(inferRequest{
		Prompt:      prompt,
		ImageBase64: base64.StdEncoding.EncodeToString(data),
		BaseSize:    params.BaseSize,
		ImageSize:   params.ImageSize,
		CropMode:    params.CropMode,
	})
	if err != nil {
		return "", fmt.Errorf("marshal infer request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/internal/infer", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build infer request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.token != "" {
		req.Header.Set("X-Internal-Token", r.token)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("call inference sidecar: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("inference sidecar returned %s", resp.Status)
	}
	var out inferResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode inference response: %w", err)
	}
	return out.Text, nil
}
