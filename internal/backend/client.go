package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/reelnotes/reelnotes/internal/videos"
	"go.uber.org/zap"
)

const (
	defaultRequestTimeout = 10 * time.Second

	healthPath  = "/healthz"
	sessionPath = "/auth/session"
	importPath  = "/api/import"
	videosPath  = "/api/videos"
	notesPath   = "/api/notes"
	tagsPath    = "/api/tags"
)

var (
	errMissingBaseURL = errors.New("backend: base url is required")

	noOpLogger = zap.NewNop()
)

// ClientConfig describes how to reach and authenticate against the backend.
type ClientConfig struct {
	BaseURL      string
	DeviceID     string
	DeviceSecret string
	HTTPClient   *http.Client
	Logger       *zap.Logger
}

// Client is the HTTP consumer of the backend collaborator: health probe,
// idempotent import, and the CRUD surface. Every call carries a bounded
// timeout through its context or the underlying HTTP client.
type Client struct {
	baseURL      string
	deviceID     string
	deviceSecret string
	httpClient   *http.Client
	logger       *zap.Logger

	mu    sync.Mutex
	token string
}

// NewClient constructs a Client.
func NewClient(cfg ClientConfig) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errMissingBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultRequestTimeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Client{
		baseURL:      base,
		deviceID:     cfg.DeviceID,
		deviceSecret: cfg.DeviceSecret,
		httpClient:   httpClient,
		logger:       logger,
	}, nil
}

// Health probes the well-known health path. Anything but a 2xx JSON
// `{"status":"healthy"}` counts as unhealthy.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+healthPath, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: health status %d", ErrUnreachable, resp.StatusCode)
	}
	mediaType, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil || mediaType != "application/json" {
		return fmt.Errorf("%w: health returned non-json content", ErrUnreachable)
	}
	var payload struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	if payload.Status != "healthy" {
		return fmt.Errorf("%w: health status %q", ErrUnreachable, payload.Status)
	}
	return nil
}

// Import submits the one-shot migration payload.
func (c *Client) Import(ctx context.Context, payload videos.ImportRequest) (videos.ImportResponse, error) {
	var response videos.ImportResponse
	if err := c.doJSON(ctx, http.MethodPost, importPath, payload, &response); err != nil {
		return videos.ImportResponse{}, err
	}
	return response, nil
}

// ListVideos fetches all videos in backend shape.
func (c *Client) ListVideos(ctx context.Context) ([]videos.WireVideo, error) {
	var response []videos.WireVideo
	if err := c.doJSON(ctx, http.MethodGet, videosPath, nil, &response); err != nil {
		return nil, err
	}
	return response, nil
}

// GetVideo fetches one video with its embedded notes. Absence is reported as
// ErrNotFound, never as a transport failure.
func (c *Client) GetVideo(ctx context.Context, videoID string) (videos.WireVideoDetail, error) {
	var response videos.WireVideoDetail
	if err := c.doJSON(ctx, http.MethodGet, videosPath+"/"+videoID, nil, &response); err != nil {
		return videos.WireVideoDetail{}, err
	}
	return response, nil
}

// CreateVideoRequest is the backend's create payload.
type CreateVideoRequest struct {
	URL   string   `json:"url"`
	Title string   `json:"title"`
	Tags  []string `json:"tags"`
}

// CreateVideo registers a new video and returns the canonical stored shape.
func (c *Client) CreateVideo(ctx context.Context, request CreateVideoRequest) (videos.WireVideo, error) {
	var response videos.WireVideo
	if err := c.doJSON(ctx, http.MethodPost, videosPath, request, &response); err != nil {
		return videos.WireVideo{}, err
	}
	return response, nil
}

// UpdateVideoRequest is the backend's partial update payload.
type UpdateVideoRequest struct {
	Title *string   `json:"title,omitempty"`
	Tags  *[]string `json:"tags,omitempty"`
}

// UpdateVideo patches a video and returns the canonical stored shape.
func (c *Client) UpdateVideo(ctx context.Context, videoID string, request UpdateVideoRequest) (videos.WireVideo, error) {
	var response videos.WireVideo
	if err := c.doJSON(ctx, http.MethodPatch, videosPath+"/"+videoID, request, &response); err != nil {
		return videos.WireVideo{}, err
	}
	return response, nil
}

// DeleteVideo removes a video and, by ownership, its notes.
func (c *Client) DeleteVideo(ctx context.Context, videoID string) error {
	return c.doJSON(ctx, http.MethodDelete, videosPath+"/"+videoID, nil, nil)
}

// CreateNoteRequest is the backend's note create payload; ID is the
// client-chosen identifier used for idempotent matching.
type CreateNoteRequest struct {
	ID        string `json:"id"`
	Timestamp int    `json:"timestamp"`
	Content   string `json:"content"`
}

// CreateNote attaches a note to a video.
func (c *Client) CreateNote(ctx context.Context, videoID string, request CreateNoteRequest) (videos.WireNote, error) {
	var response videos.WireNote
	if err := c.doJSON(ctx, http.MethodPost, videosPath+"/"+videoID+"/notes", request, &response); err != nil {
		return videos.WireNote{}, err
	}
	return response, nil
}

// DeleteNote removes a note by its server id.
func (c *Client) DeleteNote(ctx context.Context, serverNoteID int64) error {
	return c.doJSON(ctx, http.MethodDelete, fmt.Sprintf("%s/%d", notesPath, serverNoteID), nil, nil)
}

// WireTag is the backend's tag dictionary entry.
type WireTag struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// ListTags fetches the tag dictionary.
func (c *Client) ListTags(ctx context.Context) ([]WireTag, error) {
	var response []WireTag
	if err := c.doJSON(ctx, http.MethodGet, tagsPath, nil, &response); err != nil {
		return nil, err
	}
	return response, nil
}

// doJSON performs one authenticated request. A 401 triggers exactly one
// session refresh and retry; any second 401 is surfaced as a rejection.
func (c *Client) doJSON(ctx context.Context, method, path string, body, out interface{}) error {
	resp, err := c.send(ctx, method, path, body)
	if err != nil {
		return err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		drain(resp)
		if err := c.refreshSession(ctx); err != nil {
			return err
		}
		resp, err = c.send(ctx, method, path, body)
		if err != nil {
			return err
		}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode <= 299:
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("%w: decode response: %v", ErrUnreachable, err)
		}
		return nil
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: status %d", ErrUnreachable, resp.StatusCode)
	default:
		return &RejectedError{StatusCode: resp.StatusCode, Message: readErrorMessage(resp.Body)}
	}
}

func (c *Client) send(ctx context.Context, method, path string, body interface{}) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("backend: encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.currentToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	return resp, nil
}

func (c *Client) currentToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// refreshSession exchanges the device credentials for a fresh bearer token.
func (c *Client) refreshSession(ctx context.Context) error {
	payload := map[string]string{
		"device_id":     c.deviceID,
		"device_secret": c.deviceSecret,
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("backend: encode session request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+sessionPath, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode >= 500 {
			return fmt.Errorf("%w: session status %d", ErrUnreachable, resp.StatusCode)
		}
		return &RejectedError{StatusCode: resp.StatusCode, Message: "session refresh refused"}
	}

	var session struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return fmt.Errorf("%w: decode session response: %v", ErrUnreachable, err)
	}
	if session.AccessToken == "" {
		return &RejectedError{StatusCode: resp.StatusCode, Message: "empty session token"}
	}

	c.mu.Lock()
	c.token = session.AccessToken
	c.mu.Unlock()
	c.logger.Debug("backend session refreshed")
	return nil
}

func readErrorMessage(body io.Reader) string {
	var payload struct {
		Error  string `json:"error"`
		Detail string `json:"detail"`
	}
	if err := json.NewDecoder(io.LimitReader(body, 4096)).Decode(&payload); err != nil {
		return ""
	}
	if payload.Error != "" {
		return payload.Error
	}
	return payload.Detail
}

func drain(resp *http.Response) {
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096)) //nolint:errcheck
	resp.Body.Close()
}
