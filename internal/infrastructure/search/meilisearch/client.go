package meilisearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/avolkov/docvault/internal/core/domain"
)

// Client is the full-text index over Meilisearch's HTTP API. One index
// holds one record per document keyed by the document id; indexing a
// document again replaces its record.
type Client struct {
	baseURL    string
	index      string
	masterKey  string
	httpClient *http.Client

	ensureMu     sync.Mutex
	ensuredIndex bool
}

func New(baseURL, index, masterKey string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		index:      index,
		masterKey:  masterKey,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

func (c *Client) IndexDocument(ctx context.Context, entry domain.IndexEntry) error {
	if err := c.ensureIndex(ctx); err != nil {
		return err
	}

	body, err := json.Marshal([]domain.IndexEntry{entry})
	if err != nil {
		return fmt.Errorf("marshal index entry: %w", err)
	}

	path := fmt.Sprintf("/indexes/%s/documents?primaryKey=id", c.index)
	if _, err := c.do(ctx, http.MethodPost, path, body); err != nil {
		return fmt.Errorf("meilisearch index document: %w", err)
	}
	return nil
}

func (c *Client) Search(ctx context.Context, q domain.IndexQuery) (*domain.IndexPage, error) {
	reqBody := map[string]any{
		"q":                q.Query,
		"limit":            q.Limit,
		"offset":           q.Offset,
		"attributesToCrop": []string{"content"},
		"cropLength":       30,
	}
	if q.Filter != "" {
		reqBody["filter"] = q.Filter
	}
	if len(q.Facets) > 0 {
		reqBody["facets"] = q.Facets
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal search body: %w", err)
	}

	respBody, err := c.do(ctx, http.MethodPost, fmt.Sprintf("/indexes/%s/search", c.index), body)
	if err != nil {
		return nil, fmt.Errorf("meilisearch search: %w", err)
	}

	var searchResp struct {
		Hits []struct {
			ID        int64    `json:"id"`
			Title     string   `json:"title"`
			Filename  string   `json:"filename"`
			MimeType  string   `json:"mime_type"`
			Tags      []string `json:"tags"`
			Formatted struct {
				Content string `json:"content"`
			} `json:"_formatted"`
		} `json:"hits"`
		EstimatedTotalHits int64                       `json:"estimatedTotalHits"`
		FacetDistribution  map[string]map[string]int64 `json:"facetDistribution"`
	}
	if err := json.Unmarshal(respBody, &searchResp); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	page := &domain.IndexPage{
		EstimatedTotal: searchResp.EstimatedTotalHits,
		Facets:         searchResp.FacetDistribution,
	}
	for _, hit := range searchResp.Hits {
		page.Hits = append(page.Hits, domain.SearchHit{
			ID:       hit.ID,
			Title:    hit.Title,
			Filename: hit.Filename,
			MimeType: hit.MimeType,
			Tags:     hit.Tags,
			Snippet:  hit.Formatted.Content,
		})
	}
	return page, nil
}

func (c *Client) DeleteDocument(ctx context.Context, id int64) error {
	path := fmt.Sprintf("/indexes/%s/documents/%d", c.index, id)
	if _, err := c.do(ctx, http.MethodDelete, path, nil); err != nil {
		return fmt.Errorf("meilisearch delete document: %w", err)
	}
	return nil
}

// ensureIndex creates the index and declares the filterable and sortable
// attributes the query compiler targets. Settings updates are idempotent.
func (c *Client) ensureIndex(ctx context.Context) error {
	c.ensureMu.Lock()
	if c.ensuredIndex {
		c.ensureMu.Unlock()
		return nil
	}
	c.ensureMu.Unlock()

	createBody, err := json.Marshal(map[string]any{"uid": c.index, "primaryKey": "id"})
	if err != nil {
		return fmt.Errorf("marshal create index body: %w", err)
	}
	// 202 on create, 409-equivalent task error if it exists already;
	// either way the settings update below is authoritative.
	if _, err := c.do(ctx, http.MethodPost, "/indexes", createBody); err != nil {
		if !strings.Contains(err.Error(), "index_already_exists") {
			return fmt.Errorf("meilisearch create index: %w", err)
		}
	}

	settingsBody, err := json.Marshal(map[string]any{
		"filterableAttributes": []string{"mime_type", "tags", "filename"},
		"sortableAttributes":   []string{"id"},
	})
	if err != nil {
		return fmt.Errorf("marshal settings body: %w", err)
	}
	if _, err := c.do(ctx, http.MethodPatch, fmt.Sprintf("/indexes/%s/settings", c.index), settingsBody); err != nil {
		return fmt.Errorf("meilisearch update settings: %w", err)
	}

	c.ensureMu.Lock()
	c.ensuredIndex = true
	c.ensureMu.Unlock()
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.masterKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.masterKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(respBody))
		if msg != "" {
			return nil, fmt.Errorf("status %s: %s", resp.Status, msg)
		}
		return nil, fmt.Errorf("status %s", resp.Status)
	}
	return respBody, nil
}
