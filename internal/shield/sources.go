package shield

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// PriceSource is one independent price feed consulted by the shield.
type PriceSource interface {
	Name() string
	Quote(ctx context.Context, instrument string) (float64, error)
}

// HTTPSource queries a REST quote endpoint. The URL template must contain
// {instrument}, which is replaced per query. The endpoint is expected to
// return a JSON object with a numeric "price" field (mid price).
type HTTPSource struct {
	name        string
	urlTemplate string
	client      *http.Client
}

// NewHTTPSource creates a REST-backed price source.
func NewHTTPSource(name, urlTemplate string) *HTTPSource {
	return &HTTPSource{
		name:        name,
		urlTemplate: urlTemplate,
		client:      &http.Client{Timeout: 3 * time.Second},
	}
}

// Name returns the source identifier used in verdict rationales.
func (s *HTTPSource) Name() string { return s.name }

type quoteResponse struct {
	Instrument string  `json:"instrument"`
	Price      float64 `json:"price"`
	Bid        float64 `json:"bid"`
	Ask        float64 `json:"ask"`
}

// Quote fetches the current price for an instrument.
func (s *HTTPSource) Quote(ctx context.Context, instrument string) (float64, error) {
	url := strings.ReplaceAll(s.urlTemplate, "{instrument}", instrument)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("%s: build request: %w", s.name, err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", s.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("%s: unexpected status %d", s.name, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return 0, fmt.Errorf("%s: read body: %w", s.name, err)
	}

	var q quoteResponse
	if err := json.Unmarshal(body, &q); err != nil {
		return 0, fmt.Errorf("%s: decode quote: %w", s.name, err)
	}

	price := q.Price
	if price <= 0 && q.Bid > 0 && q.Ask > 0 {
		price = (q.Bid + q.Ask) / 2
	}
	if price <= 0 {
		return 0, fmt.Errorf("%s: quote has no usable price", s.name)
	}
	return price, nil
}
