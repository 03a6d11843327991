// Package files talks to the platform's file service, the external owner of
// uploaded audio and generated artifacts.
package files

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/google/uuid"
	"github.com/voxgate/voxgate/internal/config"
)

// Sentinel errors for file service failures.
var (
	ErrFileNotFound    = errors.New("file not found")
	ErrFileUnavailable = errors.New("file service unavailable")
)

// Client is the interface for the file service collaborator.
type Client interface {
	// GetFileURL resolves a download URL and original name for a file the
	// user owns.
	GetFileURL(ctx context.Context, fileID, userID uuid.UUID) (url string, name string, err error)
	// Upload stores data as a new file owned by the user and returns its id.
	Upload(ctx context.Context, userID uuid.UUID, name string, data []byte, contentType string) (uuid.UUID, error)
	// Delete removes a file the user owns. Used for best-effort cleanup of
	// transient inputs after processing.
	Delete(ctx context.Context, fileID, userID uuid.UUID) error
}

// HTTPClient implements Client using the file service's HTTP API.
type HTTPClient struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTPClient creates a new file service client.
func NewHTTPClient(cfg config.FilesConfig) *HTTPClient {
	return &HTTPClient{
		baseURL: cfg.BaseURL,
		token:   cfg.Token,
		client:  &http.Client{Timeout: cfg.Timeout},
	}
}

type fileInfoResponse struct {
	URL  string `json:"url"`
	Name string `json:"name"`
}

func (c *HTTPClient) GetFileURL(ctx context.Context, fileID, userID uuid.UUID) (string, string, error) {
	u := fmt.Sprintf("%s/v1/files/%s/url?user_id=%s", c.baseURL, fileID, userID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", "", fmt.Errorf("building file url request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrFileUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", "", ErrFileNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("%w: status %d", ErrFileUnavailable, resp.StatusCode)
	}

	var info fileInfoResponse
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return "", "", fmt.Errorf("decoding file url response: %w", err)
	}
	return info.URL, info.Name, nil
}

type uploadResponse struct {
	ID uuid.UUID `json:"id"`
}

func (c *HTTPClient) Upload(ctx context.Context, userID uuid.UUID, name string, data []byte, contentType string) (uuid.UUID, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	if err := mw.WriteField("user_id", userID.String()); err != nil {
		return uuid.Nil, fmt.Errorf("building upload request: %w", err)
	}
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		return uuid.Nil, fmt.Errorf("building upload request: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return uuid.Nil, fmt.Errorf("building upload request: %w", err)
	}
	if err := mw.Close(); err != nil {
		return uuid.Nil, fmt.Errorf("building upload request: %w", err)
	}

	u := fmt.Sprintf("%s/v1/files", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, &body)
	if err != nil {
		return uuid.Nil, fmt.Errorf("building upload request: %w", err)
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if contentType != "" {
		req.Header.Set("X-File-Content-Type", contentType)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %v", ErrFileUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return uuid.Nil, fmt.Errorf("%w: status %d: %s", ErrFileUnavailable, resp.StatusCode, detail)
	}

	var up uploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&up); err != nil {
		return uuid.Nil, fmt.Errorf("decoding upload response: %w", err)
	}
	return up.ID, nil
}

func (c *HTTPClient) Delete(ctx context.Context, fileID, userID uuid.UUID) error {
	u := fmt.Sprintf("%s/v1/files/%s?user_id=%s", c.baseURL, fileID, userID)

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, u, nil)
	if err != nil {
		return fmt.Errorf("building delete request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFileUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrFileNotFound
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("%w: status %d", ErrFileUnavailable, resp.StatusCode)
	}
	return nil
}

func (c *HTTPClient) setHeaders(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

var _ Client = (*HTTPClient)(nil)
