// Package source adapts the upstream order-state API, slot stream and oracle feed
// to the interfaces the DLOB subscriber consumes.
package source

import (
	"dlob_engine/internal/config"
	"dlob_engine/internal/core"
	"fmt"
	"slices"
	"strings"

	apperrors "dlob_engine/pkg/apperrors"
)

// MarketRegistry resolves configured market names to market ids
type MarketRegistry struct {
	byName  map[string]core.MarketInfo
	byID    map[core.MarketID]string
	ordered []core.MarketInfo
}

// NewMarketRegistry builds a registry from the configured market table
func NewMarketRegistry(markets []config.MarketConfig) (*MarketRegistry, error) {
	r := &MarketRegistry{
		byName: make(map[string]core.MarketInfo, len(markets)),
		byID:   make(map[core.MarketID]string, len(markets)),
	}
	for _, m := range markets {
		typ, err := core.ParseMarketType(m.Type)
		if err != nil {
			return nil, fmt.Errorf("%w: market %s: %w", apperrors.ErrInvalidConfiguration, m.Name, err)
		}
		info := core.MarketInfo{Name: m.Name, ID: core.MarketID{Index: m.Index, Type: typ}}
		key := strings.ToUpper(m.Name)
		if _, dup := r.byName[key]; dup {
			return nil, fmt.Errorf("%w: duplicate market name %s", apperrors.ErrInvalidConfiguration, m.Name)
		}
		if _, dup := r.byID[info.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate market id %s", apperrors.ErrInvalidConfiguration, info.ID)
		}
		r.byName[key] = info
		r.byID[info.ID] = m.Name
		r.ordered = append(r.ordered, info)
	}
	return r, nil
}

// Lookup resolves a market name, ignoring case
func (r *MarketRegistry) Lookup(name string) (core.MarketInfo, bool) {
	info, ok := r.byName[strings.ToUpper(name)]
	return info, ok
}

// Name returns the configured name of a market id
func (r *MarketRegistry) Name(id core.MarketID) (string, bool) {
	name, ok := r.byID[id]
	return name, ok
}

// Markets returns every configured market in configuration order
func (r *MarketRegistry) Markets() []core.MarketInfo {
	return slices.Clone(r.ordered)
}

// IDs returns every configured market id in configuration order
func (r *MarketRegistry) IDs() []core.MarketID {
	ids := make([]core.MarketID, len(r.ordered))
	for i, m := range r.ordered {
		ids[i] = m.ID
	}
	return ids
}
