package feed

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// HTTP polls a JSON price endpoint and serves the last observed value.
// The endpoint must respond with {"price": "<decimal string>"}; the
// value is scaled into the feed's declared decimal precision. A read
// fails once the last successful poll is older than the stale
// threshold, so consumers never act on a dead feed.
type HTTP struct {
	url      string
	decimals uint8
	client   *http.Client

	pollInterval   time.Duration
	staleThreshold time.Duration

	price      *big.Int
	lastUpdate time.Time

	done    chan struct{}
	polling bool
	mu      sync.RWMutex
}

// HTTPConfig configures an HTTP feed
type HTTPConfig struct {
	URL            string
	Decimals       uint8
	PollInterval   time.Duration // default 2s
	StaleThreshold time.Duration // default 30s
	Timeout        time.Duration // default 5s
}

// NewHTTP creates an HTTP feed. Call Start to begin polling.
func NewHTTP(cfg HTTPConfig) *HTTP {
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.StaleThreshold == 0 {
		cfg.StaleThreshold = 30 * time.Second
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &HTTP{
		url:            cfg.URL,
		decimals:       cfg.Decimals,
		client:         &http.Client{Timeout: cfg.Timeout},
		pollInterval:   cfg.PollInterval,
		staleThreshold: cfg.StaleThreshold,
		done:           make(chan struct{}),
	}
}

// Start begins the polling loop
func (f *HTTP) Start() error {
	f.mu.Lock()
	if f.polling {
		f.mu.Unlock()
		return errors.New("already polling")
	}
	f.polling = true
	f.mu.Unlock()

	f.poll()
	go f.pollLoop()
	return nil
}

// Close stops the polling loop
func (f *HTTP) Close() error {
	close(f.done)
	f.mu.Lock()
	f.polling = false
	f.mu.Unlock()
	return nil
}

func (f *HTTP) pollLoop() {
	ticker := time.NewTicker(f.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-f.done:
			return
		case <-ticker.C:
			f.poll()
		}
	}
}

func (f *HTTP) poll() {
	resp, err := f.client.Get(f.url)
	if err != nil {
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return
	}

	var body struct {
		Price string `json:"price"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return
	}

	price, err := decimal.NewFromString(body.Price)
	if err != nil {
		return
	}
	scaled := price.Shift(int32(f.decimals)).Truncate(0).BigInt()

	f.mu.Lock()
	f.price = scaled
	f.lastUpdate = time.Now()
	f.mu.Unlock()
}

// LatestPrice implements margin.PriceFeed.
func (f *HTTP) LatestPrice() (*big.Int, uint8, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.price == nil {
		return nil, f.decimals, fmt.Errorf("no price observed from %s", f.url)
	}
	if time.Since(f.lastUpdate) > f.staleThreshold {
		return nil, f.decimals, fmt.Errorf("price from %s is stale", f.url)
	}
	return new(big.Int).Set(f.price), f.decimals, nil
}
