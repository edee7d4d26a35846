package margin

import (
	"fmt"
	"math/big"
	"sync"
)

// OracleGateway resolves per-asset USD prices from registered feeds and
// normalizes them to the 18-decimal internal unit. It never caches: a
// missing feed is a configuration error and every caller gets a live
// read.
type OracleGateway struct {
	feeds map[string]PriceFeed
	mu    sync.RWMutex
}

// NewOracleGateway creates an empty gateway
func NewOracleGateway() *OracleGateway {
	return &OracleGateway{feeds: make(map[string]PriceFeed)}
}

// RegisterFeed registers or replaces the feed for an asset. Gated by
// the admin check at the engine surface.
func (g *OracleGateway) RegisterFeed(asset string, feed PriceFeed) error {
	if asset == "" {
		return fmt.Errorf("%w: empty asset", ErrValidation)
	}
	if feed == nil {
		return fmt.Errorf("%w: nil price feed", ErrValidation)
	}

	g.mu.Lock()
	g.feeds[asset] = feed
	g.mu.Unlock()
	return nil
}

// PriceOf returns the asset's live price in internal units. Fails with
// ErrConfig when no feed is registered and ErrOracle when the feed
// reports a non-positive value.
func (g *OracleGateway) PriceOf(asset string) (*big.Int, error) {
	g.mu.RLock()
	feed, ok := g.feeds[asset]
	g.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: no price feed registered for %s", ErrConfig, asset)
	}

	value, decimals, err := feed.LatestPrice()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrOracle, asset, err)
	}
	if value == nil || value.Sign() <= 0 {
		return nil, fmt.Errorf("%w: non-positive price reported for %s", ErrOracle, asset)
	}

	return normalizePrice(value, decimals), nil
}

// normalizePrice scales a feed value from its native decimal precision
// to 18 decimals.
func normalizePrice(value *big.Int, decimals uint8) *big.Int {
	switch {
	case decimals == Decimals:
		return new(big.Int).Set(value)
	case decimals < Decimals:
		scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(Decimals-decimals)), nil)
		return new(big.Int).Mul(value, scale)
	default:
		scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)-Decimals), nil)
		return new(big.Int).Quo(value, scale)
	}
}
