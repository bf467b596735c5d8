package pricefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"PerpIndexer/internal/observability"
)

// Feed binds one market to its external price feed id.
type Feed struct {
	MarketID string
	FeedID   string // 0x-prefixed 32-byte hex
}

// Price is one normalized quote: the feed value rescaled to 18
// decimal places in integer arithmetic.
type Price struct {
	MarketID    string
	FeedID      string
	Price       *big.Int
	Conf        *big.Int
	PublishTime time.Time
}

// targetDecimals is the on-chain fixed-point precision prices are
// normalized to before submission.
const targetDecimals = 18

// Fetcher pulls the latest quotes for a configured feed set from a
// Hermes-compatible price service.
type Fetcher struct {
	endpoint string
	feeds    []Feed
	client   *http.Client
	metrics  *observability.Metrics
	log      zerolog.Logger
}

func NewFetcher(endpoint string, feeds []Feed, timeout time.Duration, m *observability.Metrics, log zerolog.Logger) *Fetcher {
	return &Fetcher{
		endpoint: strings.TrimRight(endpoint, "/"),
		feeds:    feeds,
		client:   &http.Client{Timeout: timeout},
		metrics:  m,
		log:      log,
	}
}

type feedResponse struct {
	ID    string `json:"id"`
	Price struct {
		Price       string `json:"price"`
		Conf        string `json:"conf"`
		Expo        int32  `json:"expo"`
		PublishTime int64  `json:"publish_time"`
	} `json:"price"`
}

// Fetch returns one normalized Price per configured market. A market
// whose feed is missing from the response, or whose normalized price
// is not positive, is skipped with a warning; partial results are
// valid output. A transport or decode failure fails the whole call.
func (f *Fetcher) Fetch(ctx context.Context) ([]Price, error) {
	if len(f.feeds) == 0 {
		return nil, nil
	}

	q := url.Values{}
	for _, fd := range f.feeds {
		q.Add("ids[]", fd.FeedID)
	}
	reqURL := f.endpoint + "/api/latest_price_feeds?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		f.metrics.PriceFetchErrors.Inc()
		return nil, fmt.Errorf("fetch latest prices: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		f.metrics.PriceFetchErrors.Inc()
		return nil, fmt.Errorf("price service returned %s", resp.Status)
	}

	var raw []feedResponse
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		f.metrics.PriceFetchErrors.Inc()
		return nil, fmt.Errorf("decode price response: %w", err)
	}

	byFeed := make(map[string]feedResponse, len(raw))
	for _, r := range raw {
		byFeed[canonicalFeedID(r.ID)] = r
	}

	out := make([]Price, 0, len(f.feeds))
	for _, fd := range f.feeds {
		r, ok := byFeed[canonicalFeedID(fd.FeedID)]
		if !ok {
			f.metrics.FeedsSkipped.WithLabelValues("missing").Inc()
			f.log.Warn().Str("market", fd.MarketID).Str("feed", fd.FeedID).Msg("feed missing from response, skipping market")
			continue
		}

		value, ok := new(big.Int).SetString(r.Price.Price, 10)
		if !ok {
			f.metrics.FeedsSkipped.WithLabelValues("unparseable").Inc()
			f.log.Warn().Str("market", fd.MarketID).Str("raw", r.Price.Price).Msg("unparseable feed price, skipping market")
			continue
		}
		norm := Normalize(value, r.Price.Expo)
		if norm.Sign() <= 0 {
			f.metrics.FeedsSkipped.WithLabelValues("nonpositive").Inc()
			f.log.Warn().Str("market", fd.MarketID).Str("normalized", norm.String()).Msg("non-positive normalized price, skipping market")
			continue
		}

		conf := new(big.Int)
		if c, ok := new(big.Int).SetString(r.Price.Conf, 10); ok {
			conf = Normalize(c, r.Price.Expo)
		}

		out = append(out, Price{
			MarketID:    fd.MarketID,
			FeedID:      fd.FeedID,
			Price:       norm,
			Conf:        conf,
			PublishTime: time.Unix(r.Price.PublishTime, 0).UTC(),
		})
	}

	f.metrics.PriceFetches.Inc()
	return out, nil
}

// Normalize rescales value*10^expo to targetDecimals decimal places.
// Pure integer arithmetic: repeated normalization of the same input
// yields bit-identical output.
func Normalize(value *big.Int, expo int32) *big.Int {
	shift := int64(targetDecimals) + int64(expo)
	if shift >= 0 {
		mul := new(big.Int).Exp(big.NewInt(10), big.NewInt(shift), nil)
		return new(big.Int).Mul(value, mul)
	}
	div := new(big.Int).Exp(big.NewInt(10), big.NewInt(-shift), nil)
	return new(big.Int).Quo(value, div)
}

func canonicalFeedID(id string) string {
	return strings.ToLower(strings.TrimPrefix(id, "0x"))
}
