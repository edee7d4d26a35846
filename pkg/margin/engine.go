package margin

import (
	"errors"
	"math/big"
	"sync"

	"github.com/luxfi/log"
)

// Default risk parameters, admin-tunable within the bounds in types.go.
var (
	DefaultMaintenanceMarginRatio = new(big.Int).Quo(Unit, big.NewInt(200)) // 0.5%
	DefaultLiquidationFeeRatio    = new(big.Int).Quo(Unit, big.NewInt(10))  // 10% of residual equity
)

// Config configures an Engine
type Config struct {
	Custody Custody    // required
	Auth    Authorizer // required

	// Optional persistence; when set, state is written through on every
	// successful mutation and reloaded by NewEngine.
	Store *Store

	Logger log.Logger

	MaintenanceMarginRatio *big.Int // defaults to 0.5% of notional
	LiquidationFeeRatio    *big.Int // defaults to 10% of residual equity

	EventBuffer int // defaults to 1024
}

// Engine is the leveraged-trading accounting engine. It owns the
// collateral ledger, the oracle gateway, all positions and resting
// orders, and the liquidation parameters. Every state-mutating entry
// point runs under the reentrancy guard; operations run to completion
// or abort entirely.
type Engine struct {
	guard reentrancyGuard
	mu    sync.RWMutex // positions, orders, params, sequences

	ledger *CollateralLedger
	oracle *OracleGateway
	auth   Authorizer

	positions     map[uint64]*Position
	userPositions map[string][]uint64 // append-only; stale ids of deleted positions remain
	orders        map[uint64]*Order

	positionSeq sequence
	orderSeq    sequence

	maintenanceMarginRatio *big.Int
	liquidationFeeRatio    *big.Int

	events chan Event
	store  *Store
	logger log.Logger
}

// NewEngine creates an engine and, when a store is configured, reloads
// persisted state.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Custody == nil {
		return nil, errors.New("margin: custody service is required")
	}
	if cfg.Auth == nil {
		return nil, errors.New("margin: authorizer is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.Root().New("module", "margin")
	}

	mm := cfg.MaintenanceMarginRatio
	if mm == nil {
		mm = DefaultMaintenanceMarginRatio
	}
	fee := cfg.LiquidationFeeRatio
	if fee == nil {
		fee = DefaultLiquidationFeeRatio
	}
	if mm.Sign() < 0 || mm.Cmp(MaxMaintenanceMarginRatio) > 0 {
		return nil, errors.New("margin: maintenance margin ratio out of range")
	}
	if fee.Sign() < 0 || fee.Cmp(MaxLiquidationFeeRatio) > 0 {
		return nil, errors.New("margin: liquidation fee ratio out of range")
	}

	buffer := cfg.EventBuffer
	if buffer <= 0 {
		buffer = 1024
	}

	e := &Engine{
		ledger:                 NewCollateralLedger(cfg.Custody),
		oracle:                 NewOracleGateway(),
		auth:                   cfg.Auth,
		positions:              make(map[uint64]*Position),
		userPositions:          make(map[string][]uint64),
		orders:                 make(map[uint64]*Order),
		maintenanceMarginRatio: new(big.Int).Set(mm),
		liquidationFeeRatio:    new(big.Int).Set(fee),
		events:                 make(chan Event, buffer),
		store:                  cfg.Store,
		logger:                 logger,
	}

	if e.store != nil {
		if err := e.loadState(); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// Ledger exposes the collateral ledger for read-only balance queries.
func (e *Engine) Ledger() *CollateralLedger {
	return e.ledger
}

// Oracle exposes the price oracle gateway.
func (e *Engine) Oracle() *OracleGateway {
	return e.oracle
}

// Balance returns a user's internal collateral balance.
func (e *Engine) Balance(user string) *big.Int {
	return e.ledger.Balance(user)
}

// Deposit moves value in through the custody service and credits the
// user's internal balance.
func (e *Engine) Deposit(user string, amount *big.Int) error {
	if err := e.guard.enter(); err != nil {
		return err
	}
	defer e.guard.exit()

	if err := e.ledger.Deposit(user, amount); err != nil {
		return err
	}

	e.persistBalance(user)
	e.emit(EventDeposit, DepositEvent{User: user, Amount: new(big.Int).Set(amount)})
	e.logger.Debug("deposit", "user", user, "amount", amount)
	return nil
}

// Withdraw debits the user's internal balance and moves value out
// through the custody service.
func (e *Engine) Withdraw(user string, amount *big.Int) error {
	if err := e.guard.enter(); err != nil {
		return err
	}
	defer e.guard.exit()

	if err := e.ledger.Withdraw(user, amount); err != nil {
		return err
	}

	e.persistBalance(user)
	e.emit(EventWithdraw, WithdrawEvent{User: user, Amount: new(big.Int).Set(amount)})
	e.logger.Debug("withdraw", "user", user, "amount", amount)
	return nil
}

func (e *Engine) persistBalance(user string) {
	if e.store == nil {
		return
	}
	if err := e.store.PutBalance(user, e.ledger.Balance(user)); err != nil {
		e.logger.Warn("failed to persist balance", "user", user, "error", err)
	}
}

func (e *Engine) persistPosition(p *Position) {
	if e.store == nil {
		return
	}
	if err := e.store.PutPosition(p); err != nil {
		e.logger.Warn("failed to persist position", "id", p.ID, "error", err)
	}
}

func (e *Engine) persistPositionDelete(id uint64) {
	if e.store == nil {
		return
	}
	if err := e.store.DeletePosition(id); err != nil {
		e.logger.Warn("failed to delete persisted position", "id", id, "error", err)
	}
}

func (e *Engine) persistOrder(o *Order) {
	if e.store == nil {
		return
	}
	if err := e.store.PutOrder(o); err != nil {
		e.logger.Warn("failed to persist order", "id", o.ID, "error", err)
	}
}

func (e *Engine) persistParams() {
	if e.store == nil {
		return
	}
	if err := e.store.PutParams(e.maintenanceMarginRatio, e.liquidationFeeRatio); err != nil {
		e.logger.Warn("failed to persist parameters", "error", err)
	}
}

func (e *Engine) persistSequences() {
	if e.store == nil {
		return
	}
	if err := e.store.PutSequences(e.positionSeq.last, e.orderSeq.last); err != nil {
		e.logger.Warn("failed to persist sequences", "error", err)
	}
}

func (e *Engine) loadState() error {
	state, err := e.store.Load()
	if err != nil {
		return err
	}

	for user, balance := range state.Balances {
		e.ledger.restore(user, balance)
	}
	for _, p := range state.Positions {
		e.positions[p.ID] = p
		e.userPositions[p.Owner] = append(e.userPositions[p.Owner], p.ID)
	}
	for _, o := range state.Orders {
		e.orders[o.ID] = o
	}
	if state.MaintenanceMarginRatio != nil {
		e.maintenanceMarginRatio.Set(state.MaintenanceMarginRatio)
	}
	if state.LiquidationFeeRatio != nil {
		e.liquidationFeeRatio.Set(state.LiquidationFeeRatio)
	}
	e.positionSeq.restore(state.PositionSeq)
	e.orderSeq.restore(state.OrderSeq)

	e.logger.Info("state loaded",
		"balances", len(state.Balances),
		"positions", len(state.Positions),
		"orders", len(state.Orders))
	return nil
}
