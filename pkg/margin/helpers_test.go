package margin

import (
	"errors"
	"math/big"
	"testing"

	"github.com/luxfi/log"
	"github.com/stretchr/testify/require"
)

// transfer records one custody call.
type transfer struct {
	user   string
	amount *big.Int
}

// mockCustody is an in-memory Custody with switchable failures and an
// optional hook fired inside TransferIn, used to drive reentrancy.
type mockCustody struct {
	decimals uint8
	failIn   bool
	failOut  bool

	inCalls  []transfer
	outCalls []transfer

	onTransferIn func() error
}

func (c *mockCustody) Decimals() uint8 { return c.decimals }

func (c *mockCustody) TransferIn(from string, nativeAmount *big.Int) error {
	if c.onTransferIn != nil {
		if err := c.onTransferIn(); err != nil {
			return err
		}
	}
	if c.failIn {
		return errors.New("transfer in rejected")
	}
	c.inCalls = append(c.inCalls, transfer{from, new(big.Int).Set(nativeAmount)})
	return nil
}

func (c *mockCustody) TransferOut(to string, nativeAmount *big.Int) error {
	if c.failOut {
		return errors.New("transfer out rejected")
	}
	c.outCalls = append(c.outCalls, transfer{to, new(big.Int).Set(nativeAmount)})
	return nil
}

// stubFeed reports a fixed price at a fixed precision.
type stubFeed struct {
	price    *big.Int
	decimals uint8
	err      error
}

func (f *stubFeed) LatestPrice() (*big.Int, uint8, error) {
	if f.err != nil {
		return nil, f.decimals, f.err
	}
	return new(big.Int).Set(f.price), f.decimals, nil
}

func (f *stubFeed) set(price *big.Int) { f.price = price }

const (
	testAdmin      = "admin"
	testLiquidator = "keeper"
	testAsset      = "BTC"
)

// units converts a whole number into internal 18-decimal units.
func units(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), Unit)
}

// lev converts a whole leverage multiple into internal units.
func lev(x int64) *big.Int {
	return units(x)
}

func newTestAuth(t *testing.T) *StaticAuthorizer {
	t.Helper()
	auth := NewStaticAuthorizer(testAdmin)
	require.NoError(t, auth.GrantLiquidator(testAdmin, testLiquidator))
	return auth
}

// newTestEngine builds an engine over a mock custody (18 native
// decimals) with one feed registered for the test asset.
func newTestEngine(t *testing.T) (*Engine, *mockCustody, *stubFeed) {
	t.Helper()

	custody := &mockCustody{decimals: Decimals}
	level, _ := log.ToLevel("error")
	engine, err := NewEngine(Config{
		Custody: custody,
		Auth:    newTestAuth(t),
		Logger:  log.NewTestLogger(level),
	})
	require.NoError(t, err)

	feed := &stubFeed{price: units(100), decimals: Decimals}
	require.NoError(t, engine.RegisterPriceFeed(testAdmin, testAsset, feed))

	return engine, custody, feed
}
