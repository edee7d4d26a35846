package margin

import "errors"

// Error taxonomy. Operations wrap these sentinels with context via
// fmt.Errorf("%w: ...") so callers can classify failures with
// errors.Is. Every error aborts the whole operation with no partial
// state change.
var (
	// ErrValidation covers zero or negative amounts, empty identities,
	// out-of-range leverage, and bad order parameters.
	ErrValidation = errors.New("validation failed")

	// ErrInsufficientBalance is returned when a balance or margin
	// requirement is not met.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrUnauthorized is returned for missing admin/liquidator roles
	// and not-owner access.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrState covers missing or inactive positions and orders, unmet
	// order price conditions, non-liquidatable positions, and
	// reentrant calls.
	ErrState = errors.New("invalid state")

	// ErrOracle is returned when a registered feed reports a
	// non-positive price.
	ErrOracle = errors.New("oracle failure")

	// ErrConfig covers missing feed registrations and zero leverage
	// reaching the margin formula.
	ErrConfig = errors.New("configuration error")
)
