package margin

import (
	"math/big"
	"time"
)

// EventType identifies an audit event
type EventType string

const (
	EventDeposit       EventType = "deposit"
	EventWithdraw      EventType = "withdraw"
	EventOpenPosition  EventType = "open_position"
	EventClosePosition EventType = "close_position"
	EventLiquidate     EventType = "liquidate"
	EventCreateOrder   EventType = "create_order"
	EventCancelOrder   EventType = "cancel_order"
	EventExecuteOrder  EventType = "execute_order"
)

// Event is emitted exactly once per successful operation, never for
// aborted ones. Events are for audit and indexing; nothing in the
// engine consumes them.
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// DepositEvent payload
type DepositEvent struct {
	User   string   `json:"user"`
	Amount *big.Int `json:"amount"`
}

// WithdrawEvent payload
type WithdrawEvent struct {
	User   string   `json:"user"`
	Amount *big.Int `json:"amount"`
}

// PositionEvent payload, shared by open and close
type PositionEvent struct {
	PositionID uint64   `json:"positionId"`
	Owner      string   `json:"owner"`
	Asset      string   `json:"asset"`
	Side       string   `json:"side"`
	Size       *big.Int `json:"size"`
	EntryPrice *big.Int `json:"entryPrice"`
	Margin     *big.Int `json:"margin"`
	Leverage   *big.Int `json:"leverage"`
	Payout     *big.Int `json:"payout,omitempty"` // close only
}

// LiquidateEvent payload
type LiquidateEvent struct {
	PositionID  uint64   `json:"positionId"`
	Owner       string   `json:"owner"`
	Liquidator  string   `json:"liquidator"`
	Asset       string   `json:"asset"`
	Side        string   `json:"side"`
	Size        *big.Int `json:"size"`
	Price       *big.Int `json:"price"`
	Fee         *big.Int `json:"fee"`
	OwnerPayout *big.Int `json:"ownerPayout"`
}

// OrderEvent payload, shared by create, cancel, and execute
type OrderEvent struct {
	OrderID    uint64   `json:"orderId"`
	Owner      string   `json:"owner"`
	Asset      string   `json:"asset"`
	Side       string   `json:"side"`
	LimitPrice *big.Int `json:"limitPrice"`
	Size       *big.Int `json:"size"`
	Leverage   *big.Int `json:"leverage"`
	Margin     *big.Int `json:"margin"`
	FillPrice  *big.Int `json:"fillPrice,omitempty"`  // execute only
	PositionID uint64   `json:"positionId,omitempty"` // execute only
	Executor   string   `json:"executor,omitempty"`   // execute only
}

// Events returns the engine's audit event stream. Consumers that fall
// behind lose events rather than blocking operations.
func (e *Engine) Events() <-chan Event {
	return e.events
}

func (e *Engine) emit(typ EventType, data interface{}) {
	ev := Event{Type: typ, Timestamp: time.Now(), Data: data}
	select {
	case e.events <- ev:
	default:
		e.logger.Warn("event buffer full, dropping event", "type", typ)
	}
}
