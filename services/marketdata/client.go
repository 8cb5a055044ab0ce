package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"stockdash/services"
)

const defaultHTTPTimeout = 15 * time.Second

// restClient is the shared plumbing of the provider clients: one rate limiter
// per provider and JSON GETs with context.
type restClient struct {
	name       string
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

func newRESTClient(name, baseURL string, ratePerSecond float64) restClient {
	if ratePerSecond <= 0 {
		ratePerSecond = 1
	}
	return restClient{
		name:       name,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
		limiter:    rate.NewLimiter(rate.Limit(ratePerSecond), 1),
	}
}

func (c *restClient) getJSON(ctx context.Context, path string, query url.Values, header http.Header, dest interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	for k, values := range header {
		for _, v := range values {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")

	log.Debug().Str("provider", c.name).Str("path", path).Msg("Provider request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s request: %w", c.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%s rate limit exceeded (HTTP 429): %w", c.name, services.ErrProviderUnavailable)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s returned status %d: %s", c.name, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("decode %s response: %w", c.name, err)
	}
	return nil
}

// parseDecimal reads vendor numeric strings such as "187.4400" or "0.53%"
func parseDecimal(s string) decimal.Decimal {
	s = strings.TrimSuffix(strings.TrimSpace(s), "%")
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func parseInt(s string) int64 {
	d := parseDecimal(s)
	return d.IntPart()
}
