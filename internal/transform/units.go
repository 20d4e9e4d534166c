package transform

import (
	"strings"

	"github.com/shopspring/decimal"
)

// ItemUnits describes how an item's reported units convert to its canonical unit.
// Each factor is the number of canonical units in one reported unit.
type ItemUnits struct {
	Canonical string
	Factors   map[string]decimal.Decimal
}

// UnitTable maps item codes to their conversions.
type UnitTable map[string]ItemUnits

// CanonicalUnit lower-cases a unit string and strips whitespace,
// so "10 KG" and "10kg" are the same unit.
func CanonicalUnit(u string) string {
	return strings.ToLower(strings.Join(strings.Fields(u), ""))
}

func factors(pairs map[string]string) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(pairs))
	for u, f := range pairs {
		out[CanonicalUnit(u)] = decimal.RequireFromString(f)
	}
	return out
}

// DefaultUnits covers the KAMIS items collected by default.
func DefaultUnits() UnitTable {
	return UnitTable{
		// rice
		"111": {Canonical: "10kg", Factors: factors(map[string]string{"10kg": "1", "20kg": "2", "1kg": "0.1"})},
		// glutinous rice
		"112": {Canonical: "1kg", Factors: factors(map[string]string{"1kg": "1", "10kg": "10", "20kg": "20"})},
		// napa cabbage
		"211": {Canonical: "1포기", Factors: factors(map[string]string{"1포기": "1", "3포기": "3", "1망": "3"})},
		// watermelon
		"221": {Canonical: "1개", Factors: factors(map[string]string{"1개": "1"})},
		// strawberry
		"226": {Canonical: "100g", Factors: factors(map[string]string{"100g": "1", "1kg": "10", "2kg": "20"})},
		// onion
		"245": {Canonical: "1kg", Factors: factors(map[string]string{"1kg": "1", "15kg": "15", "20kg": "20"})},
		// apple
		"411": {Canonical: "10개", Factors: factors(map[string]string{"10개": "1", "1개": "0.1", "5개": "0.5"})},
		// pear
		"412": {Canonical: "10개", Factors: factors(map[string]string{"10개": "1", "1개": "0.1", "5개": "0.5"})},
		// mandarin
		"415": {Canonical: "1kg", Factors: factors(map[string]string{"1kg": "1", "10개": "1", "5kg": "5", "10kg": "10"})},
	}
}

// Merge overlays o onto t item by item and returns t.
func (t UnitTable) Merge(o UnitTable) UnitTable {
	for item, u := range o {
		t[item] = u
	}
	return t
}

// UnitsFromConfig builds a table from plain config values. Units are
// canonicalised and factors must be positive.
func UnitsFromConfig(items map[string]UnitConfig) (UnitTable, error) {
	out := make(UnitTable, len(items))
	for item, cfg := range items {
		iu := ItemUnits{Canonical: CanonicalUnit(cfg.Canonical), Factors: make(map[string]decimal.Decimal, len(cfg.Factors))}
		for u, f := range cfg.Factors {
			d := decimal.NewFromFloat(f)
			if !d.IsPositive() {
				return nil, &InvalidFactorError{Item: item, Unit: u}
			}
			iu.Factors[CanonicalUnit(u)] = d
		}
		out[item] = iu
	}
	return out, nil
}

// UnitConfig is the config shape of one item's conversions.
type UnitConfig struct {
	Canonical string             `yaml:"canonical"`
	Factors   map[string]float64 `yaml:"factors"`
}

// InvalidFactorError reports a non-positive configured factor.
type InvalidFactorError struct {
	Item, Unit string
}

func (e *InvalidFactorError) Error() string {
	return "units: factor for item " + e.Item + " unit " + e.Unit + " must be positive"
}
