package subscriber

import (
	"dlob_engine/internal/core"
	apperrors "dlob_engine/pkg/apperrors"
	"fmt"
)

// MarketSelector picks a market either by name or by index and type. A name wins when both are given.
type MarketSelector struct {
	Name  string
	Index *uint16
	Type  *core.MarketType
}

// ByName selects a market by its human-readable name
func ByName(name string) MarketSelector {
	return MarketSelector{Name: name}
}

// ByID selects a market by index and type
func ByID(id core.MarketID) MarketSelector {
	idx, typ := id.Index, id.Type
	return MarketSelector{Index: &idx, Type: &typ}
}

func (s MarketSelector) resolve(resolver core.IMarketResolver) (core.MarketID, error) {
	if s.Name != "" {
		if resolver == nil {
			return core.MarketID{}, fmt.Errorf("%w: %s (no market resolver)", apperrors.ErrMarketNotFound, s.Name)
		}
		info, ok := resolver.Lookup(s.Name)
		if !ok {
			return core.MarketID{}, fmt.Errorf("%w: %s", apperrors.ErrMarketNotFound, s.Name)
		}
		return info.ID, nil
	}
	if s.Index != nil && s.Type != nil {
		return core.MarketID{Index: *s.Index, Type: *s.Type}, nil
	}
	return core.MarketID{}, apperrors.ErrMissingMarketSelector
}

// L2Request describes an L2 query
type L2Request struct {
	MarketSelector
	Depth int
	// IncludeVAMM adds the built-in VAMM levels of a perp market; ignored for spot markets
	IncludeVAMM bool
	// NumVAMMOrders caps the VAMM levels per side; nil means Depth
	NumVAMMOrders      *int
	FallbackGenerators []core.ILiquidityGenerator
}
