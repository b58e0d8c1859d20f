package apperrors

import "errors"

// Market selection and query errors
var (
	ErrMarketNotFound         = errors.New("market not found")
	ErrMissingMarketSelector  = errors.New("either market name or market index and type must be provided")
	ErrOraclePriceUnavailable = errors.New("oracle price unavailable")
)

// Liquidity source errors
var (
	ErrInvalidMarketState          = errors.New("invalid market state")
	ErrInvalidConfiguration        = errors.New("invalid configuration")
	ErrConflictingLiquiditySources = errors.New("vamm liquidity cannot be combined with fallback generators")
)

// Refresh errors
var (
	ErrSourceUnavailable = errors.New("order state source unavailable")
	ErrInvalidSnapshot   = errors.New("invalid order snapshot")
	ErrRefreshInProgress = errors.New("refresh already in progress")
	ErrNotSubscribed     = errors.New("subscriber is not active")
)
