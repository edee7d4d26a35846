package feed

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManual(t *testing.T) {
	t.Run("errors until a price is pushed", func(t *testing.T) {
		f := NewManual(8)
		_, _, err := f.LatestPrice()
		assert.Error(t, err)
	})

	t.Run("serves the pushed price at its precision", func(t *testing.T) {
		f := NewManual(8)
		f.SetPrice(big.NewInt(100_00000000))

		price, decimals, err := f.LatestPrice()
		require.NoError(t, err)
		assert.Equal(t, uint8(8), decimals)
		assert.Equal(t, big.NewInt(100_00000000), price)
	})

	t.Run("returned values are copies", func(t *testing.T) {
		f := NewManual(8)
		pushed := big.NewInt(100)
		f.SetPrice(pushed)

		pushed.SetInt64(0)
		price, _, err := f.LatestPrice()
		require.NoError(t, err)
		assert.Equal(t, big.NewInt(100), price)

		price.SetInt64(0)
		price2, _, err := f.LatestPrice()
		require.NoError(t, err)
		assert.Equal(t, big.NewInt(100), price2)
	})

	t.Run("updates replace the previous price", func(t *testing.T) {
		f := NewManual(8)
		f.SetPrice(big.NewInt(100))
		f.SetPrice(big.NewInt(200))

		price, _, err := f.LatestPrice()
		require.NoError(t, err)
		assert.Equal(t, big.NewInt(200), price)
	})
}
