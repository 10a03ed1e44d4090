package reconcile

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"

	"catsync/internal/models"
)

// hashPayload is the canonical encoding of the ERP-sourced fields, and only
// those: locally-owned weight/sort-order must never influence the hash.
type hashPayload struct {
	ExternalID      string           `json:"external_id"`
	Name            string           `json:"name"`
	Price           string           `json:"price"`
	Currency        string           `json:"currency"`
	CategoryID      string           `json:"category_id"`
	CategoryName    string           `json:"category_name"`
	Bundle          []bundleEntry    `json:"bundle"`
	SecondaryPrices []secondaryEntry `json:"secondary_prices"`
}

type bundleEntry struct {
	ID       string `json:"id"`
	Quantity int    `json:"quantity"`
}

type secondaryEntry struct {
	Tier  string `json:"tier"`
	Value string `json:"value"`
}

// ContentHash digests the ERP-sourced fields of a normalized product.
// Bundle and secondary-price entries are sorted first so the hash is stable
// across fetch ordering.
func ContentHash(p models.NormalizedProduct) string {
	payload := hashPayload{
		ExternalID:   p.ExternalID,
		Name:         p.Name,
		Price:        p.Price.String(),
		Currency:     p.Currency,
		CategoryID:   p.CategoryID,
		CategoryName: p.CategoryName,
	}

	for _, c := range p.Bundle {
		payload.Bundle = append(payload.Bundle, bundleEntry{ID: c.ID, Quantity: c.Quantity})
	}
	sort.Slice(payload.Bundle, func(i, j int) bool {
		return payload.Bundle[i].ID < payload.Bundle[j].ID
	})

	for _, e := range p.SecondaryPrices {
		payload.SecondaryPrices = append(payload.SecondaryPrices, secondaryEntry{Tier: e.Tier, Value: e.Value.String()})
	}
	sort.Slice(payload.SecondaryPrices, func(i, j int) bool {
		return payload.SecondaryPrices[i].Tier < payload.SecondaryPrices[j].Tier
	})

	data, _ := json.Marshal(payload)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
