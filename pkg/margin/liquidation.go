package margin

import (
	"fmt"
	"math/big"
)

// MaintenanceMargin is the minimum equity a position of the given size
// must hold: size * maintenanceMarginRatio / Unit.
func (e *Engine) MaintenanceMargin(size *big.Int) *big.Int {
	e.mu.RLock()
	ratio := new(big.Int).Set(e.maintenanceMarginRatio)
	e.mu.RUnlock()

	mm := new(big.Int).Mul(size, ratio)
	return mm.Quo(mm, Unit)
}

// IsLiquidatable reports whether the position's equity at the live
// price is strictly below its maintenance margin. Pure view.
func (e *Engine) IsLiquidatable(positionID uint64) (bool, error) {
	e.mu.RLock()
	pos, ok := e.positions[positionID]
	e.mu.RUnlock()
	if !ok {
		return false, fmt.Errorf("%w: position %d not found", ErrState, positionID)
	}

	price, err := e.oracle.PriceOf(pos.Asset)
	if err != nil {
		return false, err
	}

	return Equity(pos, price).Cmp(e.MaintenanceMargin(pos.Size)) < 0, nil
}

// Liquidate settles an under-margined position. Liquidator-gated.
// Positive residual equity splits into a liquidation fee
// (equity * liquidationFeeRatio / Unit) for the liquidator and the
// remainder for the position owner; non-positive equity pays neither
// party and the loss is absorbed, exactly as on close. The position is
// deleted unconditionally. Returns the fee and the owner payout.
func (e *Engine) Liquidate(liquidator string, positionID uint64) (*big.Int, *big.Int, error) {
	if err := e.guard.enter(); err != nil {
		return nil, nil, err
	}
	defer e.guard.exit()

	if !e.auth.IsLiquidator(liquidator) {
		return nil, nil, fmt.Errorf("%w: %s lacks liquidator role", ErrUnauthorized, liquidator)
	}

	e.mu.RLock()
	pos, ok := e.positions[positionID]
	e.mu.RUnlock()
	if !ok {
		return nil, nil, fmt.Errorf("%w: position %d not found", ErrState, positionID)
	}

	price, err := e.oracle.PriceOf(pos.Asset)
	if err != nil {
		return nil, nil, err
	}

	equity := Equity(pos, price)
	if equity.Cmp(e.MaintenanceMargin(pos.Size)) >= 0 {
		return nil, nil, fmt.Errorf("%w: position %d not liquidatable", ErrState, positionID)
	}

	fee := new(big.Int)
	ownerPayout := new(big.Int)
	if equity.Sign() > 0 {
		e.mu.RLock()
		feeRatio := new(big.Int).Set(e.liquidationFeeRatio)
		e.mu.RUnlock()

		fee.Mul(equity, feeRatio)
		fee.Quo(fee, Unit)
		ownerPayout.Sub(equity, fee)

		if fee.Sign() > 0 {
			e.ledger.credit(liquidator, fee)
		}
		if ownerPayout.Sign() > 0 {
			e.ledger.credit(pos.Owner, ownerPayout)
		}
	}

	e.deletePosition(positionID)

	e.persistBalance(pos.Owner)
	e.persistBalance(liquidator)
	e.emit(EventLiquidate, LiquidateEvent{
		PositionID:  positionID,
		Owner:       pos.Owner,
		Liquidator:  liquidator,
		Asset:       pos.Asset,
		Side:        pos.Side.String(),
		Size:        new(big.Int).Set(pos.Size),
		Price:       price,
		Fee:         new(big.Int).Set(fee),
		OwnerPayout: new(big.Int).Set(ownerPayout),
	})
	e.logger.Info("position liquidated",
		"id", positionID, "owner", pos.Owner, "liquidator", liquidator,
		"price", price, "fee", fee, "ownerPayout", ownerPayout)

	return fee, ownerPayout, nil
}
