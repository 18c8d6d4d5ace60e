package quest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"tickvault/internal/domain"
)

// Client queries QuestDB through its HTTP /exec endpoint (port 9000 by
// convention). Writes go through ILPWriter; this client is for
// verification and health checks.
type Client struct {
	http *resty.Client
}

// NewClient builds a query client against baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		http: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(30 * time.Second),
	}
}

type execResponse struct {
	Query   string `json:"query"`
	Columns []struct {
		Name string `json:"name"`
		Type string `json:"type"`
	} `json:"columns"`
	Dataset [][]any `json:"dataset"`
	Count   int     `json:"count"`
	Error   string  `json:"error"`
}

// Exec runs one SQL statement and returns the result rows.
func (c *Client) Exec(ctx context.Context, query string) ([][]any, error) {
	var body execResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("query", query).
		SetResult(&body).
		SetError(&body).
		Get("/exec")
	if err != nil {
		return nil, fmt.Errorf("questdb exec: %w", err)
	}
	if resp.IsError() || body.Error != "" {
		msg := body.Error
		if msg == "" {
			msg = resp.Status()
		}
		return nil, fmt.Errorf("questdb exec: %s", msg)
	}
	return body.Dataset, nil
}

// RowCount returns the stored row count for one series in its target
// table.
func (c *Client) RowCount(ctx context.Context, key domain.SeriesKey) (int64, error) {
	// Symbols decoded from a container file are not guaranteed
	// sanitized; single quotes must be doubled for the SQL literal.
	q := fmt.Sprintf(
		"select count() from %s where exchange = '%s' and symbol = '%s' and interval = '%s'",
		TableForKey(key), quoteSQL(string(key.Exchange)), quoteSQL(key.Symbol), quoteSQL(string(key.Interval)))
	rows, err := c.Exec(ctx, q)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 || len(rows[0]) == 0 {
		return 0, nil
	}
	n, ok := rows[0][0].(float64) // JSON numbers decode as float64
	if !ok {
		return 0, fmt.Errorf("questdb count for %s: unexpected value %v", key, rows[0][0])
	}
	return int64(n), nil
}

// quoteSQL escapes a value for use inside a single-quoted SQL literal.
func quoteSQL(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

// Healthy reports whether the server answers a trivial query.
func (c *Client) Healthy(ctx context.Context) error {
	_, err := c.Exec(ctx, "select 1")
	return err
}
