package margin

import (
	"math/big"
	"time"
)

// Decimals is the precision of the engine's internal unit. Every
// balance, price, size, and margin amount in this package is a
// fixed-point integer with 18 decimal places.
const Decimals = 18

// Unit is 10^Decimals, the scale factor of the internal unit.
var Unit = new(big.Int).Exp(big.NewInt(10), big.NewInt(Decimals), nil)

// Leverage bounds, in internal units (1x = Unit).
var (
	MinLeverage = new(big.Int).Set(Unit)
	MaxLeverage = new(big.Int).Mul(big.NewInt(100), Unit)
)

// Parameter bounds, in internal units.
var (
	// MaxMaintenanceMarginRatio caps the maintenance margin at 10% of
	// notional size.
	MaxMaintenanceMarginRatio = new(big.Int).Quo(Unit, big.NewInt(10))

	// MaxLiquidationFeeRatio caps the liquidation fee at 100% of
	// residual equity.
	MaxLiquidationFeeRatio = new(big.Int).Set(Unit)
)

// Side represents position direction (long/short)
type Side int

const (
	Long Side = iota
	Short
)

func (s Side) String() string {
	if s == Short {
		return "short"
	}
	return "long"
}

// Position represents an open leveraged position. Positions are owned
// exclusively by the user who opened them and are deleted entirely on
// close or liquidation; there are no partial closes.
type Position struct {
	ID         uint64
	Owner      string
	Asset      string
	Side       Side
	Size       *big.Int // notional, internal units
	EntryPrice *big.Int // USD, internal units
	Margin     *big.Int // locked collateral, internal units
	Leverage   *big.Int // internal units, 1x = Unit

	// LastFundingPaid is carried for schema fidelity with the funding
	// mechanism; no operation reads it.
	LastFundingPaid time.Time

	OpenTime time.Time
}

// Order represents a resting limit order. Margin is reserved from the
// owner's balance at creation and either refunded on cancel or carried
// into the resulting position on execution. Orders are never deleted,
// only flagged inactive.
type Order struct {
	ID         uint64
	Owner      string
	Asset      string
	Side       Side
	LimitPrice *big.Int
	Size       *big.Int
	Leverage   *big.Int
	Margin     *big.Int
	Active     bool
	CreatedAt  time.Time
}

// Custody is the external asset-transfer service. Transfers must be
// atomic; a returned error aborts the calling ledger operation.
// Amounts are in the asset's native precision.
type Custody interface {
	// Decimals reports the asset's native decimal count. Queried once
	// at initialization and fixed thereafter.
	Decimals() uint8
	TransferIn(from string, nativeAmount *big.Int) error
	TransferOut(to string, nativeAmount *big.Int) error
}

// PriceFeed is a registered oracle source for one asset. LatestPrice
// returns the reported value together with the feed's native decimal
// precision.
type PriceFeed interface {
	LatestPrice() (value *big.Int, decimals uint8, err error)
}

// Authorizer is the external access-control service gating
// administrative and liquidator-only operations. The engine never
// implements authentication itself.
type Authorizer interface {
	IsAdmin(identity string) bool
	IsLiquidator(identity string) bool
}
