package feed

import (
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func priceServer(price string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"price":%q}`, price)
	}))
}

func TestHTTPFeed(t *testing.T) {
	t.Run("parses and scales the polled price", func(t *testing.T) {
		srv := priceServer("123.45")
		defer srv.Close()

		f := NewHTTP(HTTPConfig{URL: srv.URL, Decimals: 18})
		require.NoError(t, f.Start())
		defer f.Close()

		price, decimals, err := f.LatestPrice()
		require.NoError(t, err)
		assert.Equal(t, uint8(18), decimals)

		expected, _ := new(big.Int).SetString("123450000000000000000", 10)
		assert.Equal(t, expected, price)
	})

	t.Run("truncates extra precision", func(t *testing.T) {
		srv := priceServer("1.23456789")
		defer srv.Close()

		f := NewHTTP(HTTPConfig{URL: srv.URL, Decimals: 4})
		require.NoError(t, f.Start())
		defer f.Close()

		price, _, err := f.LatestPrice()
		require.NoError(t, err)
		assert.Equal(t, big.NewInt(12345), price)
	})

	t.Run("errors before the first successful poll", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
		}))
		defer srv.Close()

		f := NewHTTP(HTTPConfig{URL: srv.URL, Decimals: 18})
		require.NoError(t, f.Start())
		defer f.Close()

		_, _, err := f.LatestPrice()
		assert.Error(t, err)
	})

	t.Run("ignores malformed payloads", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"price":"not-a-number"}`)
		}))
		defer srv.Close()

		f := NewHTTP(HTTPConfig{URL: srv.URL, Decimals: 18})
		require.NoError(t, f.Start())
		defer f.Close()

		_, _, err := f.LatestPrice()
		assert.Error(t, err)
	})

	t.Run("reports staleness", func(t *testing.T) {
		srv := priceServer("100")
		defer srv.Close()

		f := NewHTTP(HTTPConfig{
			URL:            srv.URL,
			Decimals:       18,
			PollInterval:   time.Hour, // no refresh after the initial poll
			StaleThreshold: 10 * time.Millisecond,
		})
		require.NoError(t, f.Start())
		defer f.Close()

		_, _, err := f.LatestPrice()
		require.NoError(t, err)

		time.Sleep(30 * time.Millisecond)
		_, _, err = f.LatestPrice()
		assert.Error(t, err)
	})

	t.Run("start is not reentrant", func(t *testing.T) {
		srv := priceServer("100")
		defer srv.Close()

		f := NewHTTP(HTTPConfig{URL: srv.URL, Decimals: 18})
		require.NoError(t, f.Start())
		defer f.Close()

		assert.Error(t, f.Start())
	})

	t.Run("polls on the configured interval", func(t *testing.T) {
		var hits int64
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt64(&hits, 1)
			fmt.Fprint(w, `{"price":"100"}`)
		}))
		defer srv.Close()

		f := NewHTTP(HTTPConfig{URL: srv.URL, Decimals: 18, PollInterval: 10 * time.Millisecond})
		require.NoError(t, f.Start())
		defer f.Close()

		time.Sleep(50 * time.Millisecond)
		assert.Greater(t, atomic.LoadInt64(&hits), int64(2))
	})
}
