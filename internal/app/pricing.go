package app

import (
	"strings"

	"github.com/echonow/subscription-service/internal/domain"
)

// PriceTable maps provider price identifiers to internal tiers. It is built once at
// startup and never mutated.
type PriceTable struct {
	tiers map[string]domain.Tier
}

// NewPriceTable copies the given mapping into a PriceTable.
func NewPriceTable(entries map[string]domain.Tier) PriceTable {
	tiers := make(map[string]domain.Tier, len(entries))
	for priceID, tier := range entries {
		priceID = strings.TrimSpace(priceID)
		if priceID == "" {
			continue
		}
		tiers[priceID] = tier
	}
	return PriceTable{tiers: tiers}
}

// TierFor returns the tier of a single price. Unmapped prices are free.
func (t PriceTable) TierFor(priceID string) domain.Tier {
	if tier, ok := t.tiers[strings.TrimSpace(priceID)]; ok {
		return tier
	}
	return domain.TierFree
}

// TierForItems derives the tier from a subscription's line items. The first line item
// carries the plan price; add-on items never change the tier.
func (t PriceTable) TierForItems(priceIDs []string) domain.Tier {
	if len(priceIDs) == 0 {
		return domain.TierFree
	}
	return t.TierFor(priceIDs[0])
}

// Len reports how many prices are mapped.
func (t PriceTable) Len() int {
	return len(t.tiers)
}
