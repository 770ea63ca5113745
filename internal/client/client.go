// Package client is a typed HTTP client for the kiln proxy server. It
// classifies failures into exactly two kinds: *ConnectionError when the
// server cannot be reached, *GenerationError when the server answered but
// rejected or failed the request. The client never retries; retry policy
// belongs to the caller.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/seantiz/kiln/internal/catalog"
	"github.com/seantiz/kiln/internal/model"
)

// StatusUnknown is reported for task ids the server does not know.
const StatusUnknown = "unknown"

const (
	defaultBaseURL = "http://localhost:7861"
	defaultTimeout = 300 * time.Second

	maxErrorBody = 4 << 10
)

// fallbackModels is served when the models endpoint cannot be consulted.
var fallbackModels = []catalog.Entry{
	{Name: "Wan2.1 T2V", Type: "checkpoint", Path: "wan2.1"},
	{Name: "Hunyuan Video", Type: "checkpoint", Path: "hunyuan"},
}

// Client talks to one kiln server over a pooled transport. Safe for
// concurrent use.
type Client struct {
	baseURL string
	http    *http.Client
}

// Option customizes a Client.
type Option func(*Client)

// WithTimeout overrides the default 300s request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

// WithHTTPClient substitutes the underlying http.Client entirely.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// New creates a client for the server at baseURL. An empty baseURL targets
// the default local proxy address. Generation requests can run for minutes,
// hence the long default timeout.
func New(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Timeout: defaultTimeout,
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{
					Timeout:   5 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				ForceAttemptHTTP2:     true,
				MaxIdleConns:          10,
				MaxIdleConnsPerHost:   5,
				IdleConnTimeout:       90 * time.Second,
				TLSHandshakeTimeout:   10 * time.Second,
				ExpectContinueTimeout: 1 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the server address the client targets.
func (c *Client) BaseURL() string { return c.baseURL }

// Close releases idle pooled connections. The client remains usable.
func (c *Client) Close() {
	c.http.CloseIdleConnections()
}

// HealthStatus is the structured result of a health probe. It is always
// produced, whether or not the server could be reached.
type HealthStatus struct {
	Status  string `json:"status"`
	URL     string `json:"url,omitempty"`
	Path    string `json:"wan2gp_path,omitempty"`
	Version string `json:"version,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Healthy reports whether the server answered and is ready to generate.
func (h HealthStatus) Healthy() bool { return h.Status == "healthy" }

// HealthCheck probes the server. It never returns an error; an unreachable
// or unready server is reported as data.
func (c *Client) HealthCheck(ctx context.Context) HealthStatus {
	unhealthy := func(detail string) HealthStatus {
		return HealthStatus{Status: "unhealthy", URL: c.baseURL, Error: detail}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return unhealthy(err.Error())
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return unhealthy(err.Error())
	}
	defer resp.Body.Close()

	var h HealthStatus
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil || h.Status == "" {
		return unhealthy(fmt.Sprintf("HTTP %d", resp.StatusCode))
	}
	if h.URL == "" {
		h.URL = c.baseURL
	}
	return h
}

// TextToVideoRequest describes a text-to-video submission. Zero-valued
// fields take the documented defaults before the request is sent. Extra is
// merged last and may override any named field.
type TextToVideoRequest struct {
	Prompt            string
	NegativePrompt    string
	Resolution        string  // default "1280x720"
	VideoLength       int     // frames, default 49
	NumInferenceSteps int     // default 20
	GuidanceScale     float64 // default 7.5
	Seed              *int    // nil selects a random seed
	ModelType         string  // default "wan"
	OutputFilename    string  // default "t2v_<unix>"
	Extra             map[string]any
}

// SubmitTextToVideo queues a text-to-video generation and returns the
// accepted task.
func (c *Client) SubmitTextToVideo(ctx context.Context, req TextToVideoRequest) (model.Task, error) {
	payload := map[string]any{
		"prompt":              req.Prompt,
		"negative_prompt":     req.NegativePrompt,
		"resolution":          stringOr(req.Resolution, "1280x720"),
		"video_length":        intOr(req.VideoLength, 49),
		"num_inference_steps": intOr(req.NumInferenceSteps, 20),
		"guidance_scale":      floatOr(req.GuidanceScale, 7.5),
		"seed":                seedOr(req.Seed),
		"model_type":          stringOr(req.ModelType, "wan"),
		"image_mode":          "T2V",
		"output_filename":     stringOr(req.OutputFilename, fmt.Sprintf("t2v_%d", time.Now().Unix())),
	}
	for k, v := range req.Extra {
		payload[k] = v
	}
	return c.submit(ctx, "submit t2v", payload)
}

// ImageToVideoRequest describes an image-to-video submission. MotionScale
// feeds both the input video strength and the motion amplitude. Extra is
// merged last and may override any named field.
type ImageToVideoRequest struct {
	ImagePath         string
	Prompt            string
	NegativePrompt    string
	MotionScale       float64 // default 1.0
	Resolution        string  // default "1280x720"
	VideoLength       int     // frames, default 49
	NumInferenceSteps int     // default 20
	GuidanceScale     float64 // default 7.5
	Seed              *int    // nil selects a random seed
	ModelType         string  // default "wan_i2v"
	OutputFilename    string  // default "i2v_<unix>"
	Extra             map[string]any
}

// SubmitImageToVideo queues an image-to-video generation animating the
// image at req.ImagePath.
func (c *Client) SubmitImageToVideo(ctx context.Context, req ImageToVideoRequest) (model.Task, error) {
	motion := req.MotionScale
	if motion == 0 {
		motion = 1.0
	}
	payload := map[string]any{
		"prompt":               req.Prompt,
		"negative_prompt":      req.NegativePrompt,
		"resolution":           stringOr(req.Resolution, "1280x720"),
		"video_length":         intOr(req.VideoLength, 49),
		"num_inference_steps":  intOr(req.NumInferenceSteps, 20),
		"guidance_scale":       floatOr(req.GuidanceScale, 7.5),
		"seed":                 seedOr(req.Seed),
		"model_type":           stringOr(req.ModelType, "wan_i2v"),
		"image_mode":           "I2V_Start",
		"image_start":          req.ImagePath,
		"input_video_strength": motion,
		"motion_amplitude":     motion,
		"output_filename":      stringOr(req.OutputFilename, fmt.Sprintf("i2v_%d", time.Now().Unix())),
	}
	for k, v := range req.Extra {
		payload[k] = v
	}
	return c.submit(ctx, "submit i2v", payload)
}

func (c *Client) submit(ctx context.Context, op string, payload map[string]any) (model.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return model.Task{}, &GenerationError{Op: op, Err: fmt.Errorf("marshal request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/generate", bytes.NewReader(body))
	if err != nil {
		return model.Task{}, &GenerationError{Op: op, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return model.Task{}, &ConnectionError{URL: c.baseURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		return model.Task{}, &GenerationError{Op: op, Status: resp.StatusCode, Body: readErrorBody(resp.Body)}
	}

	var ack struct {
		TaskID string `json:"task_id"`
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil {
		return model.Task{}, &GenerationError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}

	return model.Task{
		ID:        ack.TaskID,
		Status:    ack.Status,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// GetTaskStatus fetches the current snapshot of one task. An id the server
// does not know yields a task with StatusUnknown rather than an error;
// unknown ids are a normal polling outcome.
func (c *Client) GetTaskStatus(ctx context.Context, taskID string) (model.Task, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/status/"+taskID, nil)
	if err != nil {
		return model.Task{}, &GenerationError{Op: "task status", Err: err}
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return model.Task{}, &ConnectionError{URL: c.baseURL, Err: err}
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var task model.Task
		if err := json.NewDecoder(resp.Body).Decode(&task); err != nil {
			return model.Task{}, &GenerationError{Op: "task status", Err: fmt.Errorf("decode response: %w", err)}
		}
		return task, nil
	case http.StatusNotFound:
		return model.Task{ID: taskID, Status: StatusUnknown, Error: "Task not found"}, nil
	default:
		return model.Task{}, &GenerationError{Op: "task status", Status: resp.StatusCode, Body: readErrorBody(resp.Body)}
	}
}

// GetQueue lists every task the server knows about, in submission order.
func (c *Client) GetQueue(ctx context.Context) ([]model.Task, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/queue", nil)
	if err != nil {
		return nil, &GenerationError{Op: "queue", Err: err}
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &ConnectionError{URL: c.baseURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &GenerationError{Op: "queue", Status: resp.StatusCode, Body: readErrorBody(resp.Body)}
	}

	var body struct {
		Tasks []model.Task `json:"tasks"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, &GenerationError{Op: "queue", Err: fmt.Errorf("decode response: %w", err)}
	}
	if body.Tasks == nil {
		body.Tasks = []model.Task{}
	}
	return body.Tasks, nil
}

// CancelTask reports whether the task was cancelled. The server has no
// cancellation endpoint, so this always reports false.
// TODO: wire through a real cancel once the server grows the endpoint.
func (c *Client) CancelTask(ctx context.Context, taskID string) (bool, error) {
	return false, nil
}

// ListModels fetches the server's model inventory. When the inventory
// cannot be consulted, a small built-in catalog is returned so callers can
// still offer a model choice.
func (c *Client) ListModels(ctx context.Context) []catalog.Entry {
	entries, err := c.listEntries(ctx, "/models", "models")
	if err != nil {
		return append([]catalog.Entry(nil), fallbackModels...)
	}
	return entries
}

// ListLoras fetches the server's lora inventory. Failures yield an empty
// list.
func (c *Client) ListLoras(ctx context.Context) []catalog.Entry {
	entries, err := c.listEntries(ctx, "/loras", "loras")
	if err != nil {
		return []catalog.Entry{}
	}
	return entries
}

func (c *Client) listEntries(ctx context.Context, path, key string) ([]catalog.Entry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &ConnectionError{URL: c.baseURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &GenerationError{Op: "list " + key, Status: resp.StatusCode, Body: readErrorBody(resp.Body)}
	}

	var body map[string]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}
	entries := []catalog.Entry{}
	if raw, ok := body[key]; ok {
		if err := json.Unmarshal(raw, &entries); err != nil {
			return nil, err
		}
	}
	return entries, nil
}

// DownloadResult makes a generated file available at a local path. The
// server writes results to the local filesystem, so this verifies the file
// and hands back its path; outputPath is reserved for a future remote mode.
func (c *Client) DownloadResult(filePath, outputPath string) (string, error) {
	if _, err := os.Stat(filePath); err != nil {
		return "", &GenerationError{Op: "download", Err: fmt.Errorf("file not found: %s", filePath)}
	}
	return filePath, nil
}

func readErrorBody(r io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(r, maxErrorBody))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(raw))
}

func stringOr(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func intOr(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

func floatOr(v, def float64) float64 {
	if v == 0 {
		return def
	}
	return v
}

func seedOr(seed *int) int {
	if seed == nil {
		return -1
	}
	return *seed
}
