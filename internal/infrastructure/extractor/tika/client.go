package tika

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/avolkov/docvault/internal/infrastructure/resilience"
)

// Client talks to an Apache Tika server. Text comes from PUT /tika with a
// plain-text Accept header, document metadata from PUT /meta.
type Client struct {
	baseURL    string
	httpClient *http.Client
	executor   *resilience.Executor
}

func New(baseURL string, executor *resilience.Executor) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 300 * time.Second},
		executor:   executor,
	}
}

func (c *Client) ExtractText(ctx context.Context, content io.Reader, mimeType string) (string, map[string]any, error) {
	// Both endpoints consume the body, so buffer it once.
	raw, err := io.ReadAll(content)
	if err != nil {
		return "", nil, fmt.Errorf("read content: %w", err)
	}

	text, err := c.extractPlainText(ctx, raw, mimeType)
	if err != nil {
		return "", nil, resilience.WrapServiceError("tika extract text", err)
	}

	// Metadata is supplementary; a metadata failure never fails the
	// extraction.
	meta, err := c.extractMetadata(ctx, raw, mimeType)
	if err != nil {
		meta = map[string]any{}
	}

	return strings.TrimSpace(text), meta, nil
}

func (c *Client) extractPlainText(ctx context.Context, raw []byte, mimeType string) (string, error) {
	var text string
	call := func(callCtx context.Context) error {
		body, err := c.put(callCtx, "/tika", raw, mimeType, "text/plain")
		if err != nil {
			return err
		}
		text = string(body)
		return nil
	}

	if c.executor != nil {
		if err := c.executor.Execute(ctx, "tika.text", call, resilience.ClassifyHTTPError); err != nil {
			return "", err
		}
		return text, nil
	}
	if err := call(ctx); err != nil {
		return "", err
	}
	return text, nil
}

func (c *Client) extractMetadata(ctx context.Context, raw []byte, mimeType string) (map[string]any, error) {
	var meta map[string]any
	call := func(callCtx context.Context) error {
		body, err := c.put(callCtx, "/meta", raw, mimeType, "application/json")
		if err != nil {
			return err
		}
		if err := json.Unmarshal(body, &meta); err != nil {
			return fmt.Errorf("parse tika metadata: %w", err)
		}
		return nil
	}

	if c.executor != nil {
		if err := c.executor.Execute(ctx, "tika.meta", call, resilience.ClassifyHTTPError); err != nil {
			return nil, err
		}
		return meta, nil
	}
	if err := call(ctx); err != nil {
		return nil, err
	}
	return meta, nil
}

func (c *Client) put(ctx context.Context, path string, raw []byte, contentType, accept string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("build tika request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", accept)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tika request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read tika response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &resilience.HTTPStatusError{
			Service:    "tika",
			Operation:  path,
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       string(body),
		}
	}
	return body, nil
}
