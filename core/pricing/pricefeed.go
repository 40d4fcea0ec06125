package pricing

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"moneymarket/core/types"
)

// ErrPriceUnavailable is returned when no usable quote exists for an asset.
var ErrPriceUnavailable = errors.New("pricing: price unavailable")

// PriceStatus captures the health classification assigned to a quote.
type PriceStatus string

const (
	// PriceStatusOK indicates the quote passed all configured guardrails.
	PriceStatusOK PriceStatus = "ok"
	// PriceStatusStale signals the quote exceeded the configured freshness window.
	PriceStatusStale PriceStatus = "stale"
)

// PriceSource resolves the unit price of an asset. Implementations must fail
// with ErrPriceUnavailable rather than fall back to a stale or default value.
type PriceSource interface {
	Price(assetID string) (types.Decimal, error)
}

// Quote is a single observation held by StaticFeed.
type Quote struct {
	AssetID   string        `json:"asset_id"`
	Price     types.Decimal `json:"price"`
	UpdatedAt time.Time     `json:"updated_at"`
	Status    PriceStatus   `json:"status"`
}

// StaticFeed is an operator-maintained price table with an optional
// staleness guard.
type StaticFeed struct {
	mu     sync.RWMutex
	quotes map[string]Quote
	maxAge time.Duration
	now    func() time.Time
}

// NewStaticFeed constructs an empty feed. A zero maxAge disables the
// staleness guard.
func NewStaticFeed(maxAge time.Duration) *StaticFeed {
	return &StaticFeed{
		quotes: make(map[string]Quote),
		maxAge: maxAge,
		now:    time.Now,
	}
}

// SetClock overrides the clock used for staleness checks.
func (f *StaticFeed) SetClock(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	f.mu.Lock()
	f.now = now
	f.mu.Unlock()
}

func normalizeAsset(assetID string) string {
	return strings.ToUpper(strings.TrimSpace(assetID))
}

// SetPrice records a fresh quote for assetID.
func (f *StaticFeed) SetPrice(assetID string, price types.Decimal) error {
	asset := normalizeAsset(assetID)
	if asset == "" {
		return fmt.Errorf("pricing: asset id required")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.quotes[asset] = Quote{AssetID: asset, Price: price, UpdatedAt: f.now().UTC()}
	return nil
}

// Price implements PriceSource.
func (f *StaticFeed) Price(assetID string) (types.Decimal, error) {
	quote, err := f.Quote(assetID)
	if err != nil {
		return types.Decimal{}, err
	}
	if quote.Status != PriceStatusOK {
		return types.Decimal{}, fmt.Errorf("%w: %s quote is %s", ErrPriceUnavailable, quote.AssetID, quote.Status)
	}
	return quote.Price, nil
}

// Quote returns the stored observation for assetID with its current status.
func (f *StaticFeed) Quote(assetID string) (Quote, error) {
	asset := normalizeAsset(assetID)
	f.mu.RLock()
	quote, ok := f.quotes[asset]
	now := f.now()
	f.mu.RUnlock()
	if !ok {
		return Quote{}, fmt.Errorf("%w: no quote for %q", ErrPriceUnavailable, assetID)
	}
	quote.Status = PriceStatusOK
	if f.maxAge > 0 && now.Sub(quote.UpdatedAt) > f.maxAge {
		quote.Status = PriceStatusStale
	}
	return quote, nil
}

// Quotes lists every stored observation sorted by asset id.
func (f *StaticFeed) Quotes() []Quote {
	f.mu.RLock()
	assets := make([]string, 0, len(f.quotes))
	for asset := range f.quotes {
		assets = append(assets, asset)
	}
	f.mu.RUnlock()
	sort.Strings(assets)
	out := make([]Quote, 0, len(assets))
	for _, asset := range assets {
		if quote, err := f.Quote(asset); err == nil {
			out = append(out, quote)
		}
	}
	return out
}
