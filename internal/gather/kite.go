package gather

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"tickvault/internal/domain"
)

// kiteTimeLayout is the timestamp format in historical candle payloads.
const kiteTimeLayout = "2006-01-02T15:04:05-0700"

// kiteQueryLayout is the from/to format the historical endpoint accepts.
const kiteQueryLayout = "2006-01-02 15:04:05"

// TokenSource resolves a trading symbol to the upstream's numeric
// instrument token. The instrument registry implements this.
type TokenSource interface {
	InstrumentToken(ctx context.Context, ex domain.Exchange, symbol string) (int64, error)
}

// KiteClient fetches historical candles from the Kite Connect API.
type KiteClient struct {
	http   *resty.Client
	tokens TokenSource
}

var _ Fetcher = (*KiteClient)(nil)

// NewKiteClient builds a client against baseURL authenticated with the
// given API key and access token.
func NewKiteClient(baseURL, apiKey, accessToken string, tokens TokenSource) *KiteClient {
	c := resty.New().
		SetBaseURL(baseURL).
		SetHeader("X-Kite-Version", "3").
		SetHeader("Authorization", "token "+apiKey+":"+accessToken).
		SetTimeout(30 * time.Second)
	return &KiteClient{http: c, tokens: tokens}
}

type kiteCandles struct {
	Status string `json:"status"`
	Data   struct {
		Candles []json.RawMessage `json:"candles"`
	} `json:"data"`
}

type kiteError struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	ErrorType string `json:"error_type"`
}

// Fetch requests candles for one chunk. HTTP 429 and 5xx responses are
// transient; other non-2xx responses are permanent. Derivative-like
// series request the open interest column.
func (c *KiteClient) Fetch(ctx context.Context, key domain.SeriesKey, start, end int64) ([]domain.Bar, error) {
	token, err := c.tokens.InstrumentToken(ctx, key.Exchange, key.Symbol)
	if err != nil {
		return nil, domain.PermanentFetch(fmt.Errorf("resolve %s: %w", key, err))
	}

	req := c.http.R().
		SetContext(ctx).
		SetQueryParam("from", time.Unix(start, 0).UTC().Format(kiteQueryLayout)).
		SetQueryParam("to", time.Unix(end, 0).UTC().Format(kiteQueryLayout)).
		SetResult(&kiteCandles{}).
		SetError(&kiteError{})
	if key.Layout().HasOpenInterest() {
		req.SetQueryParam("oi", "1")
	}

	resp, err := req.Get(fmt.Sprintf("/instruments/historical/%d/%s", token, key.Interval))
	if err != nil {
		// Connection-level failures (timeouts, resets) are retryable.
		return nil, domain.TransientFetch(err)
	}
	if resp.IsError() {
		msg := resp.Status()
		if ke, ok := resp.Error().(*kiteError); ok && ke.Message != "" {
			msg = fmt.Sprintf("%s: %s", resp.Status(), ke.Message)
		}
		err := fmt.Errorf("historical %s: %s", key, msg)
		if resp.StatusCode() == http.StatusTooManyRequests || resp.StatusCode() >= 500 {
			return nil, domain.TransientFetch(err)
		}
		return nil, domain.PermanentFetch(err)
	}

	body, ok := resp.Result().(*kiteCandles)
	if !ok {
		return nil, domain.PermanentFetch(fmt.Errorf("historical %s: unexpected response shape", key))
	}
	bars := make([]domain.Bar, 0, len(body.Data.Candles))
	for i, raw := range body.Data.Candles {
		bar, err := parseCandle(raw)
		if err != nil {
			return nil, domain.PermanentFetch(fmt.Errorf("historical %s: candle %d: %w", key, i, err))
		}
		bars = append(bars, bar)
	}
	return bars, nil
}

// parseCandle decodes one candle array:
// [timestamp, open, high, low, close, volume] with an optional trailing
// open interest element.
func parseCandle(raw json.RawMessage) (domain.Bar, error) {
	var fields []json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return domain.Bar{}, err
	}
	if len(fields) < 6 {
		return domain.Bar{}, fmt.Errorf("want at least 6 fields, got %d", len(fields))
	}

	var tsStr string
	if err := json.Unmarshal(fields[0], &tsStr); err != nil {
		return domain.Bar{}, fmt.Errorf("timestamp: %w", err)
	}
	ts, err := time.Parse(kiteTimeLayout, tsStr)
	if err != nil {
		return domain.Bar{}, fmt.Errorf("timestamp %q: %w", tsStr, err)
	}

	var nums [6]float64
	for i := 1; i < len(fields) && i < 7; i++ {
		if err := json.Unmarshal(fields[i], &nums[i-1]); err != nil {
			return domain.Bar{}, fmt.Errorf("field %d: %w", i, err)
		}
	}
	bar := domain.Bar{
		Timestamp: ts.Unix(),
		Open:      nums[0],
		High:      nums[1],
		Low:       nums[2],
		Close:     nums[3],
		Volume:    int64(nums[4]),
	}
	if len(fields) >= 7 {
		bar.OpenInterest = int64(nums[5])
	}
	return bar, nil
}
