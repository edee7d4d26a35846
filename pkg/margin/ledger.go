package margin

import (
	"fmt"
	"math/big"
	"sync"
)

// CollateralLedger tracks per-user internal balances and converts
// between the engine's 18-decimal unit and the custody asset's native
// precision. Conversion happens only at the deposit/withdraw boundary;
// all other accounting stays in internal units.
type CollateralLedger struct {
	custody  Custody
	decimals uint8
	scale    *big.Int // 10^|Decimals-decimals|, nil when already 18

	balances map[string]*big.Int
	mu       sync.RWMutex
}

// NewCollateralLedger creates a ledger bound to a custody service.
// The asset's native precision is queried once here and fixed for the
// ledger's lifetime.
func NewCollateralLedger(custody Custody) *CollateralLedger {
	l := &CollateralLedger{
		custody:  custody,
		decimals: custody.Decimals(),
		balances: make(map[string]*big.Int),
	}
	if l.decimals != Decimals {
		diff := int64(Decimals) - int64(l.decimals)
		if diff < 0 {
			diff = -diff
		}
		l.scale = new(big.Int).Exp(big.NewInt(10), big.NewInt(diff), nil)
	}
	return l
}

// toNative converts an internal-unit amount to the asset's native
// precision. Precision loss for assets with fewer than 18 decimals is
// a truncation toward zero, not an error.
func (l *CollateralLedger) toNative(amount *big.Int) *big.Int {
	switch {
	case l.scale == nil:
		return new(big.Int).Set(amount)
	case l.decimals < Decimals:
		return new(big.Int).Quo(amount, l.scale)
	default:
		return new(big.Int).Mul(amount, l.scale)
	}
}

// Deposit requests a custody transfer of the native equivalent from
// the user, then credits the internal amount. The external transfer
// happens before the credit is visible; a transfer failure aborts the
// whole operation with the balance unchanged.
func (l *CollateralLedger) Deposit(user string, amount *big.Int) error {
	if user == "" {
		return fmt.Errorf("%w: empty user identity", ErrValidation)
	}
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("%w: deposit amount must be positive", ErrValidation)
	}

	native := l.toNative(amount)
	if native.Sign() == 0 {
		return fmt.Errorf("%w: amount too small to represent in native precision", ErrValidation)
	}

	if err := l.custody.TransferIn(user, native); err != nil {
		return fmt.Errorf("custody transfer in: %w", err)
	}

	l.credit(user, amount)
	return nil
}

// Withdraw debits the internal balance first and only then requests
// the outbound custody transfer, so a reentrant withdrawal can never
// be issued against a balance not yet reduced. A failed transfer
// restores the debit and aborts.
func (l *CollateralLedger) Withdraw(user string, amount *big.Int) error {
	if user == "" {
		return fmt.Errorf("%w: empty user identity", ErrValidation)
	}
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("%w: withdraw amount must be positive", ErrValidation)
	}

	if err := l.debit(user, amount); err != nil {
		return err
	}

	if err := l.custody.TransferOut(user, l.toNative(amount)); err != nil {
		l.credit(user, amount)
		return fmt.Errorf("custody transfer out: %w", err)
	}
	return nil
}

// Balance returns the user's internal balance. Never negative.
func (l *CollateralLedger) Balance(user string) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if b, ok := l.balances[user]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

func (l *CollateralLedger) credit(user string, amount *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.balances[user]
	if !ok {
		b = new(big.Int)
		l.balances[user] = b
	}
	b.Add(b, amount)
}

func (l *CollateralLedger) debit(user string, amount *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.balances[user]
	if !ok || b.Cmp(amount) < 0 {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientBalance, balanceString(b), amount)
	}
	b.Sub(b, amount)
	return nil
}

// restore installs a balance loaded from the store.
func (l *CollateralLedger) restore(user string, amount *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[user] = new(big.Int).Set(amount)
}

// snapshot copies all balances for persistence and inspection.
func (l *CollateralLedger) snapshot() map[string]*big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make(map[string]*big.Int, len(l.balances))
	for user, b := range l.balances {
		out[user] = new(big.Int).Set(b)
	}
	return out
}

func balanceString(b *big.Int) string {
	if b == nil {
		return "0"
	}
	return b.String()
}
