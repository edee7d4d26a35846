package margin

import (
	"fmt"
	"math/big"
	"time"
)

// RequiredMargin computes the collateral locked for a position or
// order: size * Unit / leverage. Leverage is in internal units
// (1x = Unit); the 1x-100x bounds are enforced upstream.
func RequiredMargin(size, leverage *big.Int) (*big.Int, error) {
	if leverage == nil || leverage.Sign() == 0 {
		return nil, fmt.Errorf("%w: zero leverage", ErrConfig)
	}
	m := new(big.Int).Mul(size, Unit)
	return m.Quo(m, leverage), nil
}

// UnrealizedPnL is size * (price - entry) / entry for longs, negated
// for shorts, and zero when the entry price is unset. Linear in price
// deviation relative to entry; integer division truncates toward zero.
func UnrealizedPnL(p *Position, price *big.Int) *big.Int {
	if p.EntryPrice == nil || p.EntryPrice.Sign() == 0 {
		return new(big.Int)
	}
	pnl := new(big.Int).Sub(price, p.EntryPrice)
	pnl.Mul(pnl, p.Size)
	pnl.Quo(pnl, p.EntryPrice)
	if p.Side == Short {
		pnl.Neg(pnl)
	}
	return pnl
}

// Equity is margin plus unrealized PnL. Signed: negative equity means
// the position is insolvent.
func Equity(p *Position, price *big.Int) *big.Int {
	return new(big.Int).Add(p.Margin, UnrealizedPnL(p, price))
}

func validateLeverage(leverage *big.Int) error {
	if leverage == nil || leverage.Cmp(MinLeverage) < 0 || leverage.Cmp(MaxLeverage) > 0 {
		return fmt.Errorf("%w: leverage out of range [1x, 100x]", ErrValidation)
	}
	return nil
}

// OpenMarketPosition opens a leveraged position at the live oracle
// price, locking the required margin from the user's balance.
func (e *Engine) OpenMarketPosition(user, asset string, side Side, size, leverage *big.Int) (*Position, error) {
	if err := e.guard.enter(); err != nil {
		return nil, err
	}
	defer e.guard.exit()

	if user == "" {
		return nil, fmt.Errorf("%w: empty user identity", ErrValidation)
	}
	if size == nil || size.Sign() <= 0 {
		return nil, fmt.Errorf("%w: position size must be positive", ErrValidation)
	}
	if err := validateLeverage(leverage); err != nil {
		return nil, err
	}

	price, err := e.oracle.PriceOf(asset)
	if err != nil {
		return nil, err
	}

	required, err := RequiredMargin(size, leverage)
	if err != nil {
		return nil, err
	}
	if err := e.ledger.debit(user, required); err != nil {
		return nil, err
	}

	pos := e.createPosition(user, asset, side, size, leverage, price, required)

	e.persistBalance(user)
	e.emit(EventOpenPosition, positionEvent(pos, nil))
	e.logger.Info("position opened",
		"id", pos.ID, "owner", user, "asset", asset, "side", side.String(),
		"size", size, "entry", price, "margin", required)

	return copyPosition(pos), nil
}

// createPosition installs a new position and persists it. Callers have
// already locked the margin.
func (e *Engine) createPosition(owner, asset string, side Side, size, leverage, entryPrice, lockedMargin *big.Int) *Position {
	now := time.Now()

	e.mu.Lock()
	pos := &Position{
		ID:              e.positionSeq.next(),
		Owner:           owner,
		Asset:           asset,
		Side:            side,
		Size:            new(big.Int).Set(size),
		EntryPrice:      new(big.Int).Set(entryPrice),
		Margin:          new(big.Int).Set(lockedMargin),
		Leverage:        new(big.Int).Set(leverage),
		LastFundingPaid: now,
		OpenTime:        now,
	}
	e.positions[pos.ID] = pos
	e.userPositions[owner] = append(e.userPositions[owner], pos.ID)
	e.mu.Unlock()

	e.persistPosition(pos)
	e.persistSequences()
	return pos
}

// ClosePosition settles a position at the live price and deletes it.
// Positive equity is credited back to the owner in full; negative or
// zero equity pays nothing and the shortfall is absorbed (limited
// liability, no debt is created). Returns the amount credited.
func (e *Engine) ClosePosition(caller string, positionID uint64) (*big.Int, error) {
	if err := e.guard.enter(); err != nil {
		return nil, err
	}
	defer e.guard.exit()

	e.mu.RLock()
	pos, ok := e.positions[positionID]
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: position %d not found", ErrState, positionID)
	}
	if pos.Owner != caller {
		return nil, fmt.Errorf("%w: caller does not own position %d", ErrUnauthorized, positionID)
	}

	price, err := e.oracle.PriceOf(pos.Asset)
	if err != nil {
		return nil, err
	}

	equity := Equity(pos, price)
	payout := new(big.Int)
	if equity.Sign() > 0 {
		e.ledger.credit(pos.Owner, equity)
		payout.Set(equity)
	}

	e.deletePosition(positionID)

	e.persistBalance(pos.Owner)
	e.emit(EventClosePosition, positionEvent(pos, payout))
	e.logger.Info("position closed",
		"id", positionID, "owner", caller, "price", price, "payout", payout)

	return payout, nil
}

// deletePosition removes the position record. The owner's position-id
// list is append-only: stale ids of deleted positions remain, and all
// read paths treat existence in the positions map as authoritative.
func (e *Engine) deletePosition(id uint64) {
	e.mu.Lock()
	delete(e.positions, id)
	e.mu.Unlock()
	e.persistPositionDelete(id)
}

// Position returns a copy of the position with the given id.
func (e *Engine) Position(id uint64) (*Position, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	pos, ok := e.positions[id]
	if !ok {
		return nil, false
	}
	return copyPosition(pos), true
}

// UserPositions returns copies of the user's live positions, filtering
// the stale ids the append-only list retains.
func (e *Engine) UserPositions(user string) []*Position {
	e.mu.RLock()
	defer e.mu.RUnlock()

	ids := e.userPositions[user]
	out := make([]*Position, 0, len(ids))
	for _, id := range ids {
		if pos, ok := e.positions[id]; ok {
			out = append(out, copyPosition(pos))
		}
	}
	return out
}

func copyPosition(p *Position) *Position {
	c := *p
	c.Size = new(big.Int).Set(p.Size)
	c.EntryPrice = new(big.Int).Set(p.EntryPrice)
	c.Margin = new(big.Int).Set(p.Margin)
	c.Leverage = new(big.Int).Set(p.Leverage)
	return &c
}

func positionEvent(p *Position, payout *big.Int) PositionEvent {
	ev := PositionEvent{
		PositionID: p.ID,
		Owner:      p.Owner,
		Asset:      p.Asset,
		Side:       p.Side.String(),
		Size:       new(big.Int).Set(p.Size),
		EntryPrice: new(big.Int).Set(p.EntryPrice),
		Margin:     new(big.Int).Set(p.Margin),
		Leverage:   new(big.Int).Set(p.Leverage),
	}
	if payout != nil {
		ev.Payout = new(big.Int).Set(payout)
	}
	return ev
}
