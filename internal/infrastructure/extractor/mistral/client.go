package mistral

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/avolkov/docvault/internal/core/domain"
	"github.com/avolkov/docvault/internal/infrastructure/resilience"
)

const ocrModel = "mistral-ocr-latest"

// Client covers the two Mistral endpoints the pipeline uses: the OCR API
// as the fallback behind Tesseract, and the embeddings API that feeds the
// vector index.
type Client struct {
	ocrURL     string
	embedURL   string
	apiKey     string
	httpClient *http.Client
	executor   *resilience.Executor
}

func New(ocrURL, embedURL, apiKey string, executor *resilience.Executor) *Client {
	return &Client{
		ocrURL:     strings.TrimRight(ocrURL, "/"),
		embedURL:   strings.TrimRight(embedURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 300 * time.Second},
		executor:   executor,
	}
}

func (c *Client) Name() string { return "mistral" }

// Configured reports whether OCR calls can be made at all. An unset API
// key removes Mistral from the cascade instead of failing every image.
func (c *Client) Configured() bool {
	return c.apiKey != "" && c.ocrURL != ""
}

func (c *Client) ExtractImageText(ctx context.Context, image []byte, mimeType string) (domain.OCRResult, error) {
	if !c.Configured() {
		return domain.OCRResult{}, domain.WrapError(domain.ErrServiceUnavailable, "mistral ocr", fmt.Errorf("api key not configured"))
	}

	request := map[string]any{
		"image":    fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(image)),
		"language": "eng",
		"model":    ocrModel,
	}

	var response struct {
		Text       string  `json:"text"`
		Confidence float64 `json:"confidence"`
		Model      string  `json:"model"`
	}

	call := func(callCtx context.Context) error {
		return c.postJSON(callCtx, c.ocrURL, "ocr", request, &response)
	}

	var err error
	if c.executor != nil {
		err = c.executor.Execute(ctx, "mistral.ocr", call, resilience.ClassifyHTTPError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return domain.OCRResult{}, resilience.WrapServiceError("mistral ocr", err)
	}

	return domain.OCRResult{
		Text:       strings.TrimSpace(response.Text),
		Confidence: response.Confidence,
		Engine:     "mistral",
	}, nil
}

func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	request := map[string]any{
		"model": "mistral-embed",
		"input": []string{text},
	}

	var response struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}

	call := func(callCtx context.Context) error {
		return c.postJSON(callCtx, c.embedURL, "embed", request, &response)
	}

	var err error
	if c.executor != nil {
		err = c.executor.Execute(ctx, "mistral.embed", call, resilience.ClassifyHTTPError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return nil, resilience.WrapServiceError("mistral embed", err)
	}
	if len(response.Data) == 0 {
		return nil, fmt.Errorf("empty embedding result")
	}
	return response.Data[0].Embedding, nil
}

func (c *Client) postJSON(ctx context.Context, url, operation string, request, response any) error {
	payload, err := json.Marshal(request)
	if err != nil {
		return fmt.Errorf("marshal mistral %s request: %w", operation, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build mistral %s request: %w", operation, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("mistral %s request: %w", operation, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read mistral %s response: %w", operation, err)
	}
	if resp.StatusCode != http.StatusOK {
		return &resilience.HTTPStatusError{
			Service:    "mistral",
			Operation:  operation,
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       string(body),
		}
	}
	if err := json.Unmarshal(body, response); err != nil {
		return fmt.Errorf("parse mistral %s response: %w", operation, err)
	}
	return nil
}
