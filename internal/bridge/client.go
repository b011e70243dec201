// Package bridge imports backtest runs from the local backtest API:
// it pulls one run's governance summary, writes a contract JSON under
// the contracts directory, and drops a routing note into the inbox so
// the next sync packet picks it up. A polling loop watches for new
// runs and can trigger the run cycle on each import.
package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"
)

var runIDPattern = regexp.MustCompile(`^[A-Za-z0-9_.:-]+$`)

// SafeRunID validates a run identifier before it is interpolated into a
// query or a file name.
func SafeRunID(runID string) (string, error) {
	rid := strings.TrimSpace(runID)
	if rid == "" {
		return "", fmt.Errorf("run_id is empty")
	}
	if !runIDPattern.MatchString(rid) {
		return "", fmt.Errorf("run_id contains unsupported characters: %q", rid)
	}
	return rid, nil
}

func sqlQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// Client queries the backtest API's /api/query endpoint.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a Client for the API at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

type queryRequest struct {
	SQL   string `json:"sql"`
	Limit int    `json:"limit"`
}

type queryResponse struct {
	OK      bool     `json:"ok"`
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
	Error   string   `json:"error"`
}

// Query runs one SQL statement and returns the rows as column-keyed maps.
func (c *Client) Query(ctx context.Context, sql string, limit int) ([]map[string]any, error) {
	body, err := json.Marshal(queryRequest{SQL: sql, Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("failed to encode query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/query", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("query request failed: %w", err)
	}
	defer resp.Body.Close()

	var out queryResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode query response: %w", err)
	}
	if !out.OK {
		msg := out.Error
		if msg == "" {
			msg = "api query failed"
		}
		return nil, fmt.Errorf("%s", msg)
	}

	items := make([]map[string]any, 0, len(out.Rows))
	for _, row := range out.Rows {
		m := make(map[string]any, len(out.Columns))
		for i, col := range out.Columns {
			if i < len(row) {
				m[col] = row[i]
			} else {
				m[col] = nil
			}
		}
		items = append(items, m)
	}
	return items, nil
}

// LatestRunID returns the newest run's identifier.
func (c *Client) LatestRunID(ctx context.Context) (string, error) {
	items, err := c.Query(ctx, "SELECT run_id FROM runs ORDER BY created_at_utc DESC LIMIT 1", 1)
	if err != nil {
		return "", err
	}
	if len(items) == 0 {
		return "", fmt.Errorf("no runs found via /api/query")
	}
	rid, _ := items[0]["run_id"].(string)
	if strings.TrimSpace(rid) == "" {
		return "", fmt.Errorf("latest run_id was empty")
	}
	return rid, nil
}
