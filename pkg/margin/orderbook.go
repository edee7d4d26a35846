package margin

import (
	"fmt"
	"math/big"
	"time"
)

// CreateLimitOrder reserves margin from the owner's balance and rests
// a limit order. The margin is reserved, not yet at risk; it returns
// to the owner on cancel or becomes position margin on execution.
func (e *Engine) CreateLimitOrder(owner, asset string, side Side, limitPrice, size, leverage *big.Int) (uint64, error) {
	if err := e.guard.enter(); err != nil {
		return 0, err
	}
	defer e.guard.exit()

	if owner == "" {
		return 0, fmt.Errorf("%w: empty owner identity", ErrValidation)
	}
	if asset == "" {
		return 0, fmt.Errorf("%w: empty asset", ErrValidation)
	}
	if limitPrice == nil || limitPrice.Sign() <= 0 {
		return 0, fmt.Errorf("%w: limit price must be positive", ErrValidation)
	}
	if size == nil || size.Sign() <= 0 {
		return 0, fmt.Errorf("%w: order size must be positive", ErrValidation)
	}
	if err := validateLeverage(leverage); err != nil {
		return 0, err
	}

	required, err := RequiredMargin(size, leverage)
	if err != nil {
		return 0, err
	}
	if err := e.ledger.debit(owner, required); err != nil {
		return 0, err
	}

	e.mu.Lock()
	order := &Order{
		ID:         e.orderSeq.next(),
		Owner:      owner,
		Asset:      asset,
		Side:       side,
		LimitPrice: new(big.Int).Set(limitPrice),
		Size:       new(big.Int).Set(size),
		Leverage:   new(big.Int).Set(leverage),
		Margin:     required,
		Active:     true,
		CreatedAt:  time.Now(),
	}
	e.orders[order.ID] = order
	e.mu.Unlock()

	e.persistOrder(order)
	e.persistSequences()
	e.persistBalance(owner)
	e.emit(EventCreateOrder, orderEvent(order, nil, 0, ""))
	e.logger.Info("order created",
		"id", order.ID, "owner", owner, "asset", asset, "side", side.String(),
		"limit", limitPrice, "size", size, "margin", required)

	return order.ID, nil
}

// CancelOrder deactivates an active order and refunds the full
// reserved margin to its owner.
func (e *Engine) CancelOrder(owner string, orderID uint64) error {
	if err := e.guard.enter(); err != nil {
		return err
	}
	defer e.guard.exit()

	e.mu.Lock()
	order, ok := e.orders[orderID]
	if !ok || !order.Active {
		e.mu.Unlock()
		return fmt.Errorf("%w: order %d not active", ErrState, orderID)
	}
	if order.Owner != owner {
		e.mu.Unlock()
		return fmt.Errorf("%w: caller does not own order %d", ErrUnauthorized, orderID)
	}
	order.Active = false
	e.mu.Unlock()

	e.ledger.credit(owner, order.Margin)

	e.persistOrder(order)
	e.persistBalance(owner)
	e.emit(EventCancelOrder, orderEvent(order, nil, 0, ""))
	e.logger.Info("order cancelled", "id", orderID, "owner", owner)

	return nil
}

// ExecuteOrder fills an active order against the live oracle price.
// Liquidator-gated. A long order fills when the live price is at or
// below its limit, a short order at or above. The resulting position's
// entry price is the live execution price, not the limit price, and
// its margin is the order's reserved margin.
func (e *Engine) ExecuteOrder(executor string, orderID uint64) (*Position, error) {
	if err := e.guard.enter(); err != nil {
		return nil, err
	}
	defer e.guard.exit()

	if !e.auth.IsLiquidator(executor) {
		return nil, fmt.Errorf("%w: %s lacks liquidator role", ErrUnauthorized, executor)
	}

	e.mu.RLock()
	order, ok := e.orders[orderID]
	e.mu.RUnlock()
	if !ok || !order.Active {
		return nil, fmt.Errorf("%w: order %d not active", ErrState, orderID)
	}

	price, err := e.oracle.PriceOf(order.Asset)
	if err != nil {
		return nil, err
	}

	switch order.Side {
	case Long:
		if price.Cmp(order.LimitPrice) > 0 {
			return nil, fmt.Errorf("%w: live price %s above limit %s", ErrState, price, order.LimitPrice)
		}
	case Short:
		if price.Cmp(order.LimitPrice) < 0 {
			return nil, fmt.Errorf("%w: live price %s below limit %s", ErrState, price, order.LimitPrice)
		}
	}

	e.mu.Lock()
	order.Active = false
	e.mu.Unlock()

	pos := e.createPosition(order.Owner, order.Asset, order.Side, order.Size, order.Leverage, price, order.Margin)

	e.persistOrder(order)
	e.emit(EventExecuteOrder, orderEvent(order, price, pos.ID, executor))
	e.emit(EventOpenPosition, positionEvent(pos, nil))
	e.logger.Info("order executed",
		"id", orderID, "executor", executor, "fill", price, "position", pos.ID)

	return copyPosition(pos), nil
}

// Order returns a copy of the order with the given id. Executed and
// cancelled orders remain queryable with Active false.
func (e *Engine) Order(id uint64) (*Order, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	order, ok := e.orders[id]
	if !ok {
		return nil, false
	}
	return copyOrder(order), true
}

func copyOrder(o *Order) *Order {
	c := *o
	c.LimitPrice = new(big.Int).Set(o.LimitPrice)
	c.Size = new(big.Int).Set(o.Size)
	c.Leverage = new(big.Int).Set(o.Leverage)
	c.Margin = new(big.Int).Set(o.Margin)
	return &c
}

func orderEvent(o *Order, fillPrice *big.Int, positionID uint64, executor string) OrderEvent {
	ev := OrderEvent{
		OrderID:    o.ID,
		Owner:      o.Owner,
		Asset:      o.Asset,
		Side:       o.Side.String(),
		LimitPrice: new(big.Int).Set(o.LimitPrice),
		Size:       new(big.Int).Set(o.Size),
		Leverage:   new(big.Int).Set(o.Leverage),
		Margin:     new(big.Int).Set(o.Margin),
		PositionID: positionID,
		Executor:   executor,
	}
	if fillPrice != nil {
		ev.FillPrice = new(big.Int).Set(fillPrice)
	}
	return ev
}
