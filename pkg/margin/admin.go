package margin

import (
	"fmt"
	"math/big"
	"sync"
)

// SetMaintenanceMarginRatio sets the maintenance margin ratio,
// admin-gated and capped at 10% of the unit.
func (e *Engine) SetMaintenanceMarginRatio(caller string, ratio *big.Int) error {
	if err := e.guard.enter(); err != nil {
		return err
	}
	defer e.guard.exit()

	if !e.auth.IsAdmin(caller) {
		return fmt.Errorf("%w: %s lacks admin role", ErrUnauthorized, caller)
	}
	if ratio == nil || ratio.Sign() < 0 || ratio.Cmp(MaxMaintenanceMarginRatio) > 0 {
		return fmt.Errorf("%w: maintenance margin ratio out of range", ErrValidation)
	}

	e.mu.Lock()
	e.maintenanceMarginRatio.Set(ratio)
	e.mu.Unlock()

	e.persistParams()
	e.logger.Info("maintenance margin ratio updated", "ratio", ratio, "admin", caller)
	return nil
}

// SetLiquidationFeeRatio sets the liquidation fee ratio, admin-gated
// and capped at 100% of residual equity.
func (e *Engine) SetLiquidationFeeRatio(caller string, ratio *big.Int) error {
	if err := e.guard.enter(); err != nil {
		return err
	}
	defer e.guard.exit()

	if !e.auth.IsAdmin(caller) {
		return fmt.Errorf("%w: %s lacks admin role", ErrUnauthorized, caller)
	}
	if ratio == nil || ratio.Sign() < 0 || ratio.Cmp(MaxLiquidationFeeRatio) > 0 {
		return fmt.Errorf("%w: liquidation fee ratio out of range", ErrValidation)
	}

	e.mu.Lock()
	e.liquidationFeeRatio.Set(ratio)
	e.mu.Unlock()

	e.persistParams()
	e.logger.Info("liquidation fee ratio updated", "ratio", ratio, "admin", caller)
	return nil
}

// RegisterPriceFeed registers or replaces an asset's oracle feed,
// admin-gated.
func (e *Engine) RegisterPriceFeed(caller, asset string, feed PriceFeed) error {
	if err := e.guard.enter(); err != nil {
		return err
	}
	defer e.guard.exit()

	if !e.auth.IsAdmin(caller) {
		return fmt.Errorf("%w: %s lacks admin role", ErrUnauthorized, caller)
	}
	if err := e.oracle.RegisterFeed(asset, feed); err != nil {
		return err
	}

	e.logger.Info("price feed registered", "asset", asset, "admin", caller)
	return nil
}

// MaintenanceMarginRatio returns the current maintenance margin ratio.
func (e *Engine) MaintenanceMarginRatio() *big.Int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return new(big.Int).Set(e.maintenanceMarginRatio)
}

// LiquidationFeeRatio returns the current liquidation fee ratio.
func (e *Engine) LiquidationFeeRatio() *big.Int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return new(big.Int).Set(e.liquidationFeeRatio)
}

// StaticAuthorizer is an in-process Authorizer with admin-gated role
// grants. Production deployments can substitute any external
// authorization service satisfying the Authorizer interface.
type StaticAuthorizer struct {
	admins      map[string]bool
	liquidators map[string]bool
	mu          sync.RWMutex
}

// NewStaticAuthorizer creates an authorizer with one root admin.
func NewStaticAuthorizer(rootAdmin string) *StaticAuthorizer {
	a := &StaticAuthorizer{
		admins:      make(map[string]bool),
		liquidators: make(map[string]bool),
	}
	if rootAdmin != "" {
		a.admins[rootAdmin] = true
	}
	return a
}

// IsAdmin reports whether the identity holds the admin role.
func (a *StaticAuthorizer) IsAdmin(identity string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.admins[identity]
}

// IsLiquidator reports whether the identity holds the liquidator role.
func (a *StaticAuthorizer) IsLiquidator(identity string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.liquidators[identity]
}

// GrantAdmin grants the admin role; caller must be an admin.
func (a *StaticAuthorizer) GrantAdmin(caller, identity string) error {
	if identity == "" {
		return fmt.Errorf("%w: empty identity", ErrValidation)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.admins[caller] {
		return fmt.Errorf("%w: %s lacks admin role", ErrUnauthorized, caller)
	}
	a.admins[identity] = true
	return nil
}

// GrantLiquidator grants the liquidator role; caller must be an admin.
func (a *StaticAuthorizer) GrantLiquidator(caller, identity string) error {
	if identity == "" {
		return fmt.Errorf("%w: empty identity", ErrValidation)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.admins[caller] {
		return fmt.Errorf("%w: %s lacks admin role", ErrUnauthorized, caller)
	}
	a.liquidators[identity] = true
	return nil
}
