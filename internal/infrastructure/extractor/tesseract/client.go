package tesseract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
	"unicode"

	"github.com/avolkov/docvault/internal/core/domain"
	"github.com/avolkov/docvault/internal/infrastructure/resilience"
)

// Client talks to a Tesseract OCR sidecar. The sidecar returns raw text
// only, so confidence is estimated from text quality: very short words and
// a high special-character ratio are the usual signatures of garbled OCR.
type Client struct {
	baseURL    string
	language   string
	httpClient *http.Client
	executor   *resilience.Executor
}

func New(baseURL string, executor *resilience.Executor) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		language:   "eng",
		httpClient: &http.Client{Timeout: 300 * time.Second},
		executor:   executor,
	}
}

func (c *Client) Name() string { return "tesseract" }

func (c *Client) ExtractImageText(ctx context.Context, image []byte, mimeType string) (domain.OCRResult, error) {
	var result domain.OCRResult
	call := func(callCtx context.Context) error {
		text, err := c.recognize(callCtx, image, mimeType)
		if err != nil {
			return err
		}
		result = domain.OCRResult{
			Text:       text,
			Confidence: estimateConfidence(text),
			Engine:     "tesseract",
		}
		return nil
	}

	var err error
	if c.executor != nil {
		err = c.executor.Execute(ctx, "tesseract.recognize", call, resilience.ClassifyHTTPError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return domain.OCRResult{}, resilience.WrapServiceError("tesseract recognize", err)
	}
	return result, nil
}

func (c *Client) recognize(ctx context.Context, image []byte, mimeType string) (string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("file", "image"+extensionFor(mimeType))
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(image); err != nil {
		return "", fmt.Errorf("write form file: %w", err)
	}
	if err := writer.WriteField("lang", c.language); err != nil {
		return "", fmt.Errorf("write lang field: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/tesseract", &buf)
	if err != nil {
		return "", fmt.Errorf("build tesseract request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("tesseract request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read tesseract response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", &resilience.HTTPStatusError{
			Service:    "tesseract",
			Operation:  "/tesseract",
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       string(body),
		}
	}

	var parsed struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("parse tesseract response: %w", err)
	}
	return strings.TrimSpace(parsed.Text), nil
}

// estimateConfidence scores OCR output in [0, 0.9]. Empty output scores
// zero, suspicious output (tiny words, heavy punctuation noise) scores
// low, and otherwise longer output scores higher.
func estimateConfidence(text string) float64 {
	if text == "" {
		return 0
	}
	words := strings.Fields(text)
	if len(words) == 0 {
		return 0
	}

	totalWordLen := 0
	for _, word := range words {
		totalWordLen += len(word)
	}
	if float64(totalWordLen)/float64(len(words)) < 2 {
		return 0.3
	}

	special := 0
	for _, r := range text {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && !unicode.IsSpace(r) {
			special++
		}
	}
	if float64(special)/float64(len([]rune(text))) > 0.3 {
		return 0.4
	}

	confidence := float64(len(text)) / 1000
	if confidence > 0.9 {
		confidence = 0.9
	}
	if confidence < 0.1 {
		confidence = 0.1
	}
	return confidence
}

func extensionFor(mimeType string) string {
	switch mimeType {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/tiff":
		return ".tiff"
	case "image/bmp":
		return ".bmp"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	default:
		return ".img"
	}
}
