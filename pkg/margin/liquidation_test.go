package margin

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// openLongFor opens the reference position: 1000 deposited, 500 long at
// 100 with 10x leverage, margin 50. Maintenance margin at the default
// 0.5% ratio is 2.5 internal units.
func openLongFor(t *testing.T) (*Engine, *stubFeed, uint64) {
	t.Helper()
	engine, _, feed := newTestEngine(t)
	require.NoError(t, engine.Deposit("alice", units(1000)))
	pos, err := engine.OpenMarketPosition("alice", testAsset, Long, units(500), lev(10))
	require.NoError(t, err)
	return engine, feed, pos.ID
}

func TestMaintenanceMargin(t *testing.T) {
	engine, _, _ := newTestEngine(t)

	// 500 * 0.5% = 2.5
	expected := new(big.Int).Quo(units(5), big.NewInt(2))
	assert.Equal(t, expected, engine.MaintenanceMargin(units(500)))
	assert.Equal(t, new(big.Int), engine.MaintenanceMargin(big.NewInt(0)))
}

func TestIsLiquidatable(t *testing.T) {
	t.Run("healthy position is not liquidatable", func(t *testing.T) {
		engine, feed, id := openLongFor(t)

		feed.set(units(100))
		ok, err := engine.IsLiquidatable(id)
		require.NoError(t, err)
		assert.False(t, ok)

		// equity 5 is still above the 2.5 maintenance margin
		feed.set(units(91))
		ok, err = engine.IsLiquidatable(id)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("equity below maintenance margin is liquidatable", func(t *testing.T) {
		engine, feed, id := openLongFor(t)

		feed.set(units(89)) // equity -5
		ok, err := engine.IsLiquidatable(id)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("threshold is strict", func(t *testing.T) {
		engine, feed, id := openLongFor(t)

		// price 90.5 puts equity exactly at 2.5 = maintenance margin
		feed.set(new(big.Int).Quo(units(181), big.NewInt(2)))
		ok, err := engine.IsLiquidatable(id)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("missing position is a state error", func(t *testing.T) {
		engine, _, _ := newTestEngine(t)
		_, err := engine.IsLiquidatable(7)
		assert.ErrorIs(t, err, ErrState)
	})
}

func TestLiquidate(t *testing.T) {
	t.Run("requires the liquidator role", func(t *testing.T) {
		engine, feed, id := openLongFor(t)
		feed.set(units(89))

		_, _, err := engine.Liquidate("alice", id)
		assert.ErrorIs(t, err, ErrUnauthorized)

		_, ok := engine.Position(id)
		assert.True(t, ok)
	})

	t.Run("healthy position cannot be liquidated", func(t *testing.T) {
		engine, feed, id := openLongFor(t)
		feed.set(units(100))

		_, _, err := engine.Liquidate(testLiquidator, id)
		assert.ErrorIs(t, err, ErrState)
	})

	t.Run("insolvent position pays neither party", func(t *testing.T) {
		engine, feed, id := openLongFor(t)
		feed.set(units(89)) // equity -5

		fee, ownerPayout, err := engine.Liquidate(testLiquidator, id)
		require.NoError(t, err)

		assert.Equal(t, new(big.Int), fee)
		assert.Equal(t, new(big.Int), ownerPayout)
		assert.Equal(t, units(950), engine.Balance("alice"))
		assert.Equal(t, new(big.Int), engine.Balance(testLiquidator))

		_, ok := engine.Position(id)
		assert.False(t, ok)
	})

	t.Run("residual equity splits between liquidator and owner", func(t *testing.T) {
		engine, feed, id := openLongFor(t)

		// price 90.4: pnl -48, equity 2, below the 2.5 maintenance margin
		feed.set(new(big.Int).Quo(units(452), big.NewInt(5)))

		fee, ownerPayout, err := engine.Liquidate(testLiquidator, id)
		require.NoError(t, err)

		// fee is 10% of equity; remainder returns to the owner
		expectedFee := new(big.Int).Quo(units(2), big.NewInt(10))
		assert.Equal(t, expectedFee, fee)
		assert.Equal(t, new(big.Int).Sub(units(2), expectedFee), ownerPayout)

		// conservation: fee + payout equals equity
		total := new(big.Int).Add(fee, ownerPayout)
		assert.Equal(t, units(2), total)

		assert.Equal(t, expectedFee, engine.Balance(testLiquidator))
		assert.Equal(t, new(big.Int).Add(units(950), ownerPayout), engine.Balance("alice"))

		_, ok := engine.Position(id)
		assert.False(t, ok)
	})

	t.Run("zero equity pays nothing", func(t *testing.T) {
		engine, feed, id := openLongFor(t)
		feed.set(units(90)) // pnl -50, equity exactly 0

		fee, ownerPayout, err := engine.Liquidate(testLiquidator, id)
		require.NoError(t, err)

		assert.Equal(t, new(big.Int), fee)
		assert.Equal(t, new(big.Int), ownerPayout)
		assert.Equal(t, units(950), engine.Balance("alice"))
	})

	t.Run("short positions liquidate on rising prices", func(t *testing.T) {
		engine, _, feed := newTestEngine(t)
		require.NoError(t, engine.Deposit("bob", units(1000)))
		pos, err := engine.OpenMarketPosition("bob", testAsset, Short, units(500), lev(10))
		require.NoError(t, err)

		feed.set(units(111)) // pnl -55, equity -5
		ok, err := engine.IsLiquidatable(pos.ID)
		require.NoError(t, err)
		assert.True(t, ok)

		_, _, err = engine.Liquidate(testLiquidator, pos.ID)
		require.NoError(t, err)
	})

	t.Run("missing position is a state error", func(t *testing.T) {
		engine, _, _ := newTestEngine(t)
		_, _, err := engine.Liquidate(testLiquidator, 11)
		assert.ErrorIs(t, err, ErrState)
	})
}

func TestLiquidationFeeRounding(t *testing.T) {
	// With equity of 5 base units and a 10% fee the product truncates
	// toward zero; the owner absorbs the rounding remainder.
	engine, _, feed := newTestEngine(t)
	require.NoError(t, engine.Deposit("alice", units(1000)))
	_, err := engine.OpenMarketPosition("alice", testAsset, Long, units(500), lev(10))
	require.NoError(t, err)

	// equity of exactly 1 base unit above insolvency is hard to dial in
	// at whole prices, so verify the invariant rather than a constant:
	// fee + ownerPayout never exceeds positive equity.
	feed.set(new(big.Int).Quo(units(452), big.NewInt(5)))
	fee, ownerPayout, err := engine.Liquidate(testLiquidator, 1)
	require.NoError(t, err)

	total := new(big.Int).Add(fee, ownerPayout)
	assert.True(t, total.Cmp(units(2)) <= 0)
}
