// Package pyth is the REST client for a Hermes-style Pyth price service,
// which publishes the latest aggregated price, exponent, and confidence
// interval per feed.
package pyth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/alanyoungcy/flashmarket/internal/domain"
)

// Client fetches the latest published reading for a feed.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new price service client.
//
// baseURL is the service root, e.g. "https://hermes.pyth.network". A
// non-positive timeout falls back to 10 seconds.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// latestResponse mirrors the /v2/updates/price/latest payload. Price and
// confidence arrive as decimal strings to preserve 64-bit precision.
type latestResponse struct {
	Parsed []struct {
		ID    string `json:"id"`
		Price struct {
			Price       string `json:"price"`
			Conf        string `json:"conf"`
			Expo        int32  `json:"expo"`
			PublishTime int64  `json:"publish_time"`
		} `json:"price"`
	} `json:"parsed"`
}

// Latest returns the most recent published reading of the given feed.
func (c *Client) Latest(ctx context.Context, feedID string) (domain.PriceReading, error) {
	params := url.Values{}
	params.Set("ids[]", feedID)

	endpoint := c.baseURL + "/v2/updates/price/latest?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return domain.PriceReading{}, fmt.Errorf("pyth: build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.PriceReading{}, fmt.Errorf("pyth: get latest %s: %w", feedID, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return domain.PriceReading{}, fmt.Errorf("pyth: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return domain.PriceReading{}, fmt.Errorf("pyth: get latest %s: status %d: %s", feedID, resp.StatusCode, body)
	}

	var parsed latestResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return domain.PriceReading{}, fmt.Errorf("pyth: decode response: %w", err)
	}
	if len(parsed.Parsed) == 0 {
		return domain.PriceReading{}, fmt.Errorf("pyth: feed %s: %w", feedID, domain.ErrNotFound)
	}

	p := parsed.Parsed[0].Price
	price, err := strconv.ParseInt(p.Price, 10, 64)
	if err != nil {
		return domain.PriceReading{}, fmt.Errorf("pyth: parse price %q: %w", p.Price, err)
	}
	conf, err := strconv.ParseUint(p.Conf, 10, 64)
	if err != nil {
		return domain.PriceReading{}, fmt.Errorf("pyth: parse conf %q: %w", p.Conf, err)
	}

	return domain.PriceReading{
		Price:       price,
		Expo:        p.Expo,
		Conf:        conf,
		PublishTime: time.Unix(p.PublishTime, 0).UTC(),
	}, nil
}

// Compile-time interface check.
var _ domain.PriceOracle = (*Client)(nil)
