// Package textindex drives the per-user full-text index: index lifecycle,
// bulk upserts, paginated queries and full scroll exports.
package textindex

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	apperrors "github.com/faveindex/internal/errors"
	"github.com/faveindex/internal/logging"
	"github.com/faveindex/internal/models"
)

// TextFields are the analyzed fields every query searches by default
var TextFields = []string{
	"text",
	"quoted_text",
	"user_name",
	"user_handle",
	"quoted_user_name",
	"quoted_user_handle",
}

// Config configures a Client
type Config struct {
	Endpoint        string
	Prefix          string
	MaxBatch        int
	PageSize        int
	ScrollPage      int
	ScrollKeepAlive time.Duration
}

// Client is the text index client. One index per user, named Prefix+externalID.
type Client struct {
	es  *elasticsearch.Client
	cfg Config
}

// NewClient creates a client sending requests through transport
func NewClient(cfg Config, transport http.RoundTripper) (*Client, error) {
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = 200
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 10
	}
	if cfg.ScrollPage <= 0 {
		cfg.ScrollPage = 100
	}
	if cfg.ScrollKeepAlive <= 0 {
		cfg.ScrollKeepAlive = 5 * time.Second
	}

	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: []string{cfg.Endpoint},
		Transport: transport,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create index client: %w", err)
	}
	return &Client{es: es, cfg: cfg}, nil
}

// IndexName returns the index holding userID's documents
func (c *Client) IndexName(userID string) string {
	return c.cfg.Prefix + models.ExternalID(userID)
}

// CreateIndex creates the user's index with its mapping. An existing index is not an error.
func (c *Client) CreateIndex(ctx context.Context, userID string) error {
	res, err := c.es.Indices.Create(
		c.IndexName(userID),
		c.es.Indices.Create.WithContext(ctx),
		c.es.Indices.Create.WithBody(strings.NewReader(indexMapping)),
	)
	if err != nil {
		return apperrors.NewIndexError("create index", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		e := decodeError(res)
		if e.Error.Type == "resource_already_exists_exception" {
			return nil
		}
		return statusError("create index", res.StatusCode, e)
	}
	return nil
}

// DeleteIndex removes the user's index and every document in it. A missing index is not an error.
func (c *Client) DeleteIndex(ctx context.Context, userID string) error {
	res, err := c.es.Indices.Delete(
		[]string{c.IndexName(userID)},
		c.es.Indices.Delete.WithContext(ctx),
	)
	if err != nil {
		return apperrors.NewIndexError("delete index", err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		return nil
	}
	if res.IsError() {
		return statusError("delete index", res.StatusCode, decodeError(res))
	}
	return nil
}

// BulkUpsert writes one batch of documents in a single bulk request keyed by
// document id. Callers split larger sets and retry whole batches.
func (c *Client) BulkUpsert(ctx context.Context, userID string, docs []*models.IndexedDocument) error {
	if len(docs) == 0 {
		return nil
	}
	if len(docs) > c.cfg.MaxBatch {
		return apperrors.NewInvalidParameterError("documents", fmt.Sprintf("batch of %d exceeds limit %d", len(docs), c.cfg.MaxBatch))
	}

	var buf bytes.Buffer
	for _, doc := range docs {
		meta := map[string]interface{}{
			"index": map[string]interface{}{"_id": doc.ID},
		}
		metaJSON, err := json.Marshal(meta)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
		docJSON, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("failed to marshal document: %w", err)
		}
		buf.Write(metaJSON)
		buf.WriteByte('\n')
		buf.Write(docJSON)
		buf.WriteByte('\n')
	}

	res, err := c.es.Bulk(
		bytes.NewReader(buf.Bytes()),
		c.es.Bulk.WithContext(ctx),
		c.es.Bulk.WithIndex(c.IndexName(userID)),
		c.es.Bulk.WithHeader(map[string]string{"Content-Type": "application/x-ndjson"}),
	)
	if err != nil {
		return apperrors.NewIndexError("bulk", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return statusError("bulk", res.StatusCode, decodeError(res))
	}

	var bulkResponse struct {
		Errors bool `json:"errors"`
		Items  []map[string]struct {
			ID     string `json:"_id"`
			Status int    `json:"status"`
			Error  *struct {
				Type   string `json:"type"`
				Reason string `json:"reason"`
			} `json:"error"`
		} `json:"items"`
	}
	if err := json.NewDecoder(res.Body).Decode(&bulkResponse); err != nil {
		return apperrors.NewIndexError("bulk", fmt.Errorf("decode response: %w", err))
	}
	if !bulkResponse.Errors {
		return nil
	}

	failed := 0
	var first string
	for _, item := range bulkResponse.Items {
		for _, result := range item {
			if result.Error == nil {
				continue
			}
			failed++
			if first == "" {
				first = fmt.Sprintf("%s: %s: %s", result.ID, result.Error.Type, result.Error.Reason)
			}
		}
	}
	return apperrors.NewIndexError("bulk", fmt.Errorf("%d of %d documents failed, first: %s", failed, len(docs), first))
}

// Query returns one page of ids whose documents contain every term of text
// across fields (terms may match in different fields), newest first.
// A nil fields searches TextFields.
func (c *Client) Query(ctx context.Context, userID, text string, fields []string, offset int) (*models.IndexHits, error) {
	if len(fields) == 0 {
		fields = TextFields
	}
	if offset < 0 {
		offset = 0
	}

	body := map[string]interface{}{
		"from":    offset,
		"size":    c.cfg.PageSize,
		"_source": false,
		"sort": []interface{}{
			map[string]interface{}{"ts": map[string]interface{}{"order": "desc"}},
		},
		"query": map[string]interface{}{
			"multi_match": map[string]interface{}{
				"query":    text,
				"type":     "cross_fields",
				"operator": "and",
				"fields":   fields,
			},
		},
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return nil, fmt.Errorf("failed to encode query: %w", err)
	}

	res, err := c.es.Search(
		c.es.Search.WithContext(ctx),
		c.es.Search.WithIndex(c.IndexName(userID)),
		c.es.Search.WithBody(&buf),
		c.es.Search.WithTrackTotalHits(true),
	)
	if err != nil {
		return nil, apperrors.NewIndexError("search", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, statusError("search", res.StatusCode, decodeError(res))
	}

	var sr searchResponse
	if err := json.NewDecoder(res.Body).Decode(&sr); err != nil {
		return nil, apperrors.NewIndexError("search", fmt.Errorf("decode response: %w", err))
	}

	hits := &models.IndexHits{Total: sr.Hits.Total.Value, IDs: make([]string, 0, len(sr.Hits.Hits))}
	for _, h := range sr.Hits.Hits {
		hits.IDs = append(hits.IDs, h.ID)
	}
	return hits, nil
}

// ScrollAllIDs pages through the user's whole index and returns every
// document id. It stops once the ids received reach the reported total.
func (c *Client) ScrollAllIDs(ctx context.Context, userID string) ([]string, error) {
	res, err := c.es.Search(
		c.es.Search.WithContext(ctx),
		c.es.Search.WithIndex(c.IndexName(userID)),
		c.es.Search.WithBody(strings.NewReader(`{"query":{"match_all":{}},"_source":false,"sort":["_doc"]}`)),
		c.es.Search.WithSize(c.cfg.ScrollPage),
		c.es.Search.WithScroll(c.cfg.ScrollKeepAlive),
		c.es.Search.WithTrackTotalHits(true),
	)
	if err != nil {
		return nil, apperrors.NewIndexError("scroll", err)
	}

	page, err := decodeSearch("scroll", res)
	if err != nil {
		return nil, err
	}

	total := page.Hits.Total.Value
	scrollID := page.ScrollID
	seen := make(map[string]struct{}, total)
	ids := make([]string, 0, total)
	count := 0

	defer func() {
		if scrollID != "" {
			c.clearScroll(scrollID)
		}
	}()

	for {
		for _, h := range page.Hits.Hits {
			if _, dup := seen[h.ID]; dup {
				continue
			}
			seen[h.ID] = struct{}{}
			ids = append(ids, h.ID)
		}
		count += len(page.Hits.Hits)

		if count >= total || len(page.Hits.Hits) == 0 {
			break
		}

		next, err := json.Marshal(map[string]string{
			"scroll":    formatKeepAlive(c.cfg.ScrollKeepAlive),
			"scroll_id": scrollID,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to encode scroll request: %w", err)
		}
		res, err := c.es.Scroll(
			c.es.Scroll.WithContext(ctx),
			c.es.Scroll.WithBody(bytes.NewReader(next)),
		)
		if err != nil {
			return nil, apperrors.NewIndexError("scroll", err)
		}
		if page, err = decodeSearch("scroll", res); err != nil {
			return nil, err
		}
		if page.ScrollID != "" {
			scrollID = page.ScrollID
		}
	}

	if count < total {
		logging.FromContext(ctx).WithFields(map[string]interface{}{
			"index":    c.IndexName(userID),
			"total":    total,
			"received": count,
		}).Warn("Scroll ended before reaching reported total")
	}
	return ids, nil
}

func (c *Client) clearScroll(scrollID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := c.es.ClearScroll(
		c.es.ClearScroll.WithContext(ctx),
		c.es.ClearScroll.WithScrollID(scrollID),
	)
	if err != nil {
		logging.WithError(err).Warn("Failed to clear scroll")
		return
	}
	res.Body.Close()
}

type searchResponse struct {
	ScrollID string `json:"_scroll_id"`
	Hits     struct {
		Total struct {
			Value int `json:"value"`
		} `json:"total"`
		Hits []struct {
			ID string `json:"_id"`
		} `json:"hits"`
	} `json:"hits"`
}

func decodeSearch(op string, res *esapi.Response) (*searchResponse, error) {
	defer res.Body.Close()
	if res.IsError() {
		return nil, statusError(op, res.StatusCode, decodeError(res))
	}
	var sr searchResponse
	if err := json.NewDecoder(res.Body).Decode(&sr); err != nil {
		return nil, apperrors.NewIndexError(op, fmt.Errorf("decode response: %w", err))
	}
	return &sr, nil
}

type errorResponse struct {
	Error struct {
		Type   string `json:"type"`
		Reason string `json:"reason"`
	} `json:"error"`
	raw string
}

func decodeError(res *esapi.Response) errorResponse {
	var e errorResponse
	body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
	if err := json.Unmarshal(body, &e); err != nil || e.Error.Type == "" {
		e.raw = strings.TrimSpace(string(body))
	}
	return e
}

func statusError(op string, status int, e errorResponse) error {
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return apperrors.NewIndexAuthError(op, status)
	}
	reason := e.raw
	if e.Error.Type != "" {
		reason = e.Error.Type + ": " + e.Error.Reason
	}
	return apperrors.NewIndexError(op, fmt.Errorf("status %d: %s", status, reason))
}

// formatKeepAlive renders d in index time units, e.g. 5s or 1m
func formatKeepAlive(d time.Duration) string {
	if d%time.Minute == 0 {
		return fmt.Sprintf("%dm", d/time.Minute)
	}
	if d%time.Second == 0 {
		return fmt.Sprintf("%ds", d/time.Second)
	}
	return fmt.Sprintf("%dms", d/time.Millisecond)
}

const indexMapping = `{
  "mappings": {
    "properties": {
      "id":                 {"type": "keyword"},
      "ts":                 {"type": "long"},
      "text":               {"type": "text", "analyzer": "english"},
      "quoted_text":        {"type": "text", "analyzer": "english"},
      "user_name":          {"type": "text", "analyzer": "english"},
      "user_handle":        {"type": "text", "analyzer": "english"},
      "quoted_user_name":   {"type": "text", "analyzer": "english"},
      "quoted_user_handle": {"type": "text", "analyzer": "english"}
    }
  }
}`
