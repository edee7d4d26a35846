// Package feed provides price feed implementations for the oracle
// gateway.
package feed

import (
	"errors"
	"math/big"
	"sync"
)

// Manual is a feed whose price is pushed by an operator or test. It
// reports values at a fixed decimal precision.
type Manual struct {
	price    *big.Int
	decimals uint8
	mu       sync.RWMutex
}

// NewManual creates a manual feed reporting at the given precision.
func NewManual(decimals uint8) *Manual {
	return &Manual{decimals: decimals}
}

// SetPrice replaces the reported price, in the feed's native decimals.
func (f *Manual) SetPrice(price *big.Int) {
	f.mu.Lock()
	f.price = new(big.Int).Set(price)
	f.mu.Unlock()
}

// LatestPrice implements margin.PriceFeed.
func (f *Manual) LatestPrice() (*big.Int, uint8, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.price == nil {
		return nil, f.decimals, errors.New("no price set")
	}
	return new(big.Int).Set(f.price), f.decimals, nil
}
