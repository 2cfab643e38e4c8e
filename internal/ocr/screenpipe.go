package ocr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pbaille/tweetpipe/internal/domain"
)

// DefaultAPIURL is where screenpipe serves its HTTP API
const DefaultAPIURL = "http://localhost:3030"

// maxResponseBytes bounds a raw_sql response body (5MB)
const maxResponseBytes = 5 * 1024 * 1024

// HTTPSource queries OCR records through screenpipe's raw_sql endpoint
type HTTPSource struct {
	endpoint string
	client   *http.Client
}

// NewHTTPSource creates a source for the screenpipe API at baseURL
func NewHTTPSource(baseURL string, timeout time.Duration) (*HTTPSource, error) {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultAPIURL
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid screenpipe URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &HTTPSource{
		endpoint: strings.TrimRight(u.String(), "/") + "/raw_sql",
		client:   &http.Client{Timeout: timeout},
	}, nil
}

// Query runs a count query and a page query against screenpipe
func (s *HTTPSource) Query(ctx context.Context, q Query) (*domain.OCRPage, error) {
	q = q.normalized()
	where, _ := whereClause(q, true)

	var counts []struct {
		Total int `json:"total"`
	}
	if err := s.rawSQL(ctx, countQuery(where), &counts); err != nil {
		return nil, fmt.Errorf("count ocr rows: %w", err)
	}
	if len(counts) == 0 {
		return nil, fmt.Errorf("count ocr rows: empty result")
	}

	var rows []domain.OCRChunk
	if err := s.rawSQL(ctx, pageQuery(where, q, true), &rows); err != nil {
		return nil, fmt.Errorf("fetch ocr rows: %w", err)
	}
	if rows == nil {
		rows = []domain.OCRChunk{}
	}

	return &domain.OCRPage{Data: rows, TotalRows: counts[0].Total}, nil
}

type rawSQLRequest struct {
	Query string `json:"query"`
}

func (s *HTTPSource) rawSQL(ctx context.Context, query string, out any) error {
	jsonBody, err := json.Marshal(rawSQLRequest{Query: query})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(jsonBody))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("screenpipe error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}
