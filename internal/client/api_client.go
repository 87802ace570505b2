package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/yourusername/rednvr/internal/rtsp"
)

// Camera represents a camera entry returned by the NVR API
type Camera struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	URL          string `json:"url"`
	Username     string `json:"username,omitempty"`
	State        string `json:"state"`
	Recording    bool   `json:"recording"`
	AudioEnabled bool   `json:"audio_enabled"`
	Volume       int    `json:"volume"`
	LastError    string `json:"last_error,omitempty"`
}

// CameraRequest is the body for adding or updating a camera
type CameraRequest struct {
	ID       string `json:"id,omitempty"`
	Name     string `json:"name"`
	URL      string `json:"url"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

// ProbeResponse represents the result of a remote connection test
type ProbeResponse struct {
	OK        bool              `json:"ok"`
	Error     string            `json:"error,omitempty"`
	Message   string            `json:"message,omitempty"`
	ElapsedMS int64             `json:"elapsed_ms"`
	Result    *rtsp.ProbeResult `json:"result,omitempty"`
}

// APIError is returned when the server answers with a non-2xx status
type APIError struct {
	Status  int
	Kind    string `json:"error"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("request failed with status %d (%s)", e.Status, e.Kind)
	}
	return fmt.Sprintf("request failed with status %d (%s): %s", e.Status, e.Kind, e.Message)
}

// APIClient handles communication with a running NVR server
type APIClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewAPIClient creates a new API client
func NewAPIClient(baseURL string) *APIClient {
	return &APIClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// ListCameras retrieves all registered cameras in insertion order
func (c *APIClient) ListCameras(ctx context.Context) ([]Camera, error) {
	var response struct {
		Cameras []Camera `json:"cameras"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/cameras", nil, &response); err != nil {
		return nil, err
	}
	return response.Cameras, nil
}

// AddCamera registers and starts a camera
func (c *APIClient) AddCamera(ctx context.Context, req CameraRequest) (*Camera, error) {
	var camera Camera
	if err := c.do(ctx, http.MethodPost, "/api/v1/cameras", req, &camera); err != nil {
		return nil, err
	}
	return &camera, nil
}

// RemoveCamera stops and deletes a camera
func (c *APIClient) RemoveCamera(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/cameras/"+id, nil, nil)
}

// Probe asks the server to test a stream without creating a session
func (c *APIClient) Probe(ctx context.Context, url, username, password string) (*ProbeResponse, error) {
	body := map[string]string{
		"url":      url,
		"username": username,
		"password": password,
	}

	var response ProbeResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/probe", body, &response); err != nil {
		return nil, err
	}
	return &response, nil
}

// ToggleAllRecording toggles recording on every running camera and returns the new state
func (c *APIClient) ToggleAllRecording(ctx context.Context) (bool, error) {
	var response struct {
		Recording bool   `json:"recording"`
		Error     string `json:"error"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/recording/toggle-all", nil, &response); err != nil {
		return false, err
	}
	if response.Error != "" {
		return response.Recording, fmt.Errorf("toggle all partially failed: %s", response.Error)
	}
	return response.Recording, nil
}

func (c *APIClient) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		jsonData, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode}
		// Error body is best effort; plain text responses keep the status only
		_ = json.Unmarshal(data, apiErr)
		return apiErr
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w, body: %s", err, string(data))
	}
	return nil
}
