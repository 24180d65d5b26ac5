package knowledge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/stratumhq/stratum/internal/domain"
)

// HTTPStore talks to an external knowledge service over its REST API.
type HTTPStore struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewHTTPStore(baseURL, apiKey string) *HTTPStore {
	return &HTTPStore{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

type storeEntryResponse struct {
	ID string `json:"id"`
}

type existsResponse struct {
	Exists bool `json:"exists"`
}

type searchResponse struct {
	Results []struct {
		ID      string  `json:"id"`
		Content string  `json:"content"`
		Score   float64 `json:"score"`
	} `json:"results"`
}

func (s *HTTPStore) Store(ctx context.Context, e *domain.KnowledgeEntry) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal knowledge entry: %w", err)
	}

	respBody, err := s.do(ctx, http.MethodPost, "/v1/entries", body)
	if err != nil {
		return err
	}

	var result storeEntryResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return fmt.Errorf("unmarshal store response: %w", err)
	}
	if result.ID != "" {
		e.ID = result.ID
	}
	return nil
}

func (s *HTTPStore) Exists(ctx context.Context, content string) (bool, error) {
	q := url.Values{"content": {content}}
	respBody, err := s.do(ctx, http.MethodGet, "/v1/entries/exists?"+q.Encode(), nil)
	if err != nil {
		return false, err
	}

	var result existsResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return false, fmt.Errorf("unmarshal exists response: %w", err)
	}
	return result.Exists, nil
}

func (s *HTTPStore) Search(ctx context.Context, query string, limit int) ([]domain.ScoredEntry, error) {
	if limit <= 0 {
		limit = 10
	}
	q := url.Values{"q": {query}, "limit": {strconv.Itoa(limit)}}
	respBody, err := s.do(ctx, http.MethodGet, "/v1/search?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	return s.parseResults(respBody)
}

func (s *HTTPStore) KeywordSearch(ctx context.Context, query string, limit int) ([]domain.ScoredEntry, error) {
	if limit <= 0 {
		limit = 10
	}
	q := url.Values{"q": {query}, "limit": {strconv.Itoa(limit)}}
	respBody, err := s.do(ctx, http.MethodGet, "/v1/keyword-search?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	return s.parseResults(respBody)
}

func (s *HTTPStore) Related(ctx context.Context, id string, limit int) ([]domain.ScoredEntry, error) {
	if limit <= 0 {
		limit = 5
	}
	q := url.Values{"limit": {strconv.Itoa(limit)}}
	path := "/v1/entries/" + url.PathEscape(id) + "/related?" + q.Encode()
	respBody, err := s.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	return s.parseResults(respBody)
}

func (s *HTTPStore) parseResults(respBody []byte) ([]domain.ScoredEntry, error) {
	var result searchResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("unmarshal search response: %w", err)
	}

	out := make([]domain.ScoredEntry, 0, len(result.Results))
	for _, r := range result.Results {
		out = append(out, domain.ScoredEntry{
			Entry: domain.KnowledgeEntry{ID: r.ID, Content: r.Content},
			Score: r.Score,
		})
	}
	return out, nil
}

func (s *HTTPStore) do(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("create knowledge request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, domain.Transient(fmt.Errorf("knowledge request failed: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domain.Transient(fmt.Errorf("read knowledge response: %w", err))
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, domain.ErrNotFound
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError:
		return nil, domain.Transient(fmt.Errorf("knowledge service returned status %d: %s", resp.StatusCode, string(respBody)))
	case resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices:
		return nil, fmt.Errorf("knowledge service returned status %d: %s", resp.StatusCode, string(respBody))
	}
	return respBody, nil
}
