package marketdata

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/marketflow/cryptomm/pkg/fixedpoint"
)

// SnapshotLevel is a single REST depth-snapshot price level, decoded from
// JSON strings (exchanges serialize price/qty as decimal strings, not
// floats, to avoid the wire precision loss of a JSON number).
type SnapshotLevel struct {
	Price string
	Qty   string
}

// Snapshot is a REST depth-snapshot response, used only to seed or
// re-seed a Book (§6: "REST snapshot fetch is used only to seed the
// book" — it is never the ongoing source of updates).
type Snapshot struct {
	LastUpdateID uint64
	Bids         []SnapshotLevel
	Asks         []SnapshotLevel
}

type depthResponse struct {
	LastUpdateID uint64     `json:"lastUpdateId"`
	Bids         [][]string `json:"bids"`
	Asks         [][]string `json:"asks"`
}

// SnapshotFetcher fetches REST order book snapshots, rate-limited the same
// way the teacher's exchange.Client throttles its REST calls — here via
// golang.org/x/time/rate rather than the teacher's hand-rolled TokenBucket,
// since the spec only needs a single-category limiter and x/time/rate is
// the idiomatic stdlib-adjacent choice for that (the teacher's bucket
// exists to support several independently-tuned endpoint categories, which
// this single-endpoint use case doesn't need).
type SnapshotFetcher struct {
	http    *resty.Client
	limiter *rate.Limiter
}

// NewSnapshotFetcher builds a fetcher against baseURL, limited to
// requestsPerSecond with a burst of the same size.
func NewSnapshotFetcher(baseURL string, requestsPerSecond float64) *SnapshotFetcher {
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		})

	burst := int(requestsPerSecond)
	if burst < 1 {
		burst = 1
	}
	return &SnapshotFetcher{
		http:    httpClient,
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), burst),
	}
}

// FetchDepth fetches a depth snapshot for symbol, limited to limit levels
// per side.
func (f *SnapshotFetcher) FetchDepth(ctx context.Context, symbol string, limit int) (Snapshot, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return Snapshot{}, err
	}

	var result depthResponse
	resp, err := f.http.R().
		SetContext(ctx).
		SetQueryParam("symbol", symbol).
		SetQueryParam("limit", fmt.Sprintf("%d", limit)).
		SetResult(&result).
		Get("/api/v3/depth")
	if err != nil {
		return Snapshot{}, fmt.Errorf("fetch depth snapshot: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return Snapshot{}, fmt.Errorf("fetch depth snapshot: status %d: %s", resp.StatusCode(), resp.String())
	}

	snap := Snapshot{
		LastUpdateID: result.LastUpdateID,
		Bids:         toLevels(result.Bids),
		Asks:         toLevels(result.Asks),
	}
	return snap, nil
}

func toLevels(raw [][]string) []SnapshotLevel {
	out := make([]SnapshotLevel, 0, len(raw))
	for _, pair := range raw {
		if len(pair) != 2 {
			continue
		}
		out = append(out, SnapshotLevel{Price: pair[0], Qty: pair[1]})
	}
	return out
}

// Seed replaces book's contents with snapshot, using shopspring/decimal to
// parse the REST JSON's arbitrary-precision decimal strings before
// converting down to the wire's fixed-point scale — the one place in this
// repo where a full decimal library, not the hot-path fixedpoint parser,
// is the right tool, since REST responses are infrequent and their string
// formatting isn't guaranteed to match the wire parser's assumptions.
func Seed(book *Book, snapshot Snapshot) error {
	book.mu.Lock()
	clear(book.bids)
	clear(book.asks)
	book.mu.Unlock()
	for _, lvl := range snapshot.Bids {
		px, qty, err := parseLevel(lvl)
		if err != nil {
			return fmt.Errorf("seed bid level: %w", err)
		}
		book.UpdateBid(px, qty)
	}
	for _, lvl := range snapshot.Asks {
		px, qty, err := parseLevel(lvl)
		if err != nil {
			return fmt.Errorf("seed ask level: %w", err)
		}
		book.UpdateAsk(px, qty)
	}
	return nil
}

func parseLevel(lvl SnapshotLevel) (fixedpoint.FixedPoint, fixedpoint.FixedPoint, error) {
	px, err := decimal.NewFromString(lvl.Price)
	if err != nil {
		return 0, 0, fmt.Errorf("parse price %q: %w", lvl.Price, err)
	}
	qty, err := decimal.NewFromString(lvl.Qty)
	if err != nil {
		return 0, 0, fmt.Errorf("parse qty %q: %w", lvl.Qty, err)
	}
	pxF, _ := px.Float64()
	qtyF, _ := qty.Float64()
	return fixedpoint.FromFloat64(pxF), fixedpoint.FromFloat64(qtyF), nil
}
