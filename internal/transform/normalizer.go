package transform

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/baebong3/fruitbasket-legal/internal/calculator"
	"github.com/baebong3/fruitbasket-legal/internal/model"
)

// UnknownUnitError means the item/unit pair has no conversion entry.
type UnknownUnitError struct {
	ItemCode string
	Unit     string
}

func (e *UnknownUnitError) Error() string {
	return fmt.Sprintf("unknown unit %q for item %s", e.Unit, e.ItemCode)
}

// Normalizer converts cleaned records to price per canonical unit.
type Normalizer struct {
	Units UnitTable
}

// NewNormalizer creates a Normalizer over units.
func NewNormalizer(units UnitTable) *Normalizer {
	return &Normalizer{Units: units}
}

// Normalize converts one record. The result depends only on rec and the table.
func (n *Normalizer) Normalize(rec model.CleanedRecord) (model.NormalizedRecord, error) {
	iu, ok := n.Units[rec.ItemCode]
	if !ok {
		return model.NormalizedRecord{}, &UnknownUnitError{ItemCode: rec.ItemCode, Unit: rec.Unit}
	}
	f, ok := iu.Factors[CanonicalUnit(rec.Unit)]
	if !ok || !f.IsPositive() {
		return model.NormalizedRecord{}, &UnknownUnitError{ItemCode: rec.ItemCode, Unit: rec.Unit}
	}
	return model.NormalizedRecord{
		ItemCode:      rec.ItemCode,
		MarketCode:    rec.MarketCode,
		Date:          rec.Date,
		Source:        rec.Source,
		Price:         rec.Price.Div(f).Round(calculator.PricePlaces),
		CanonicalUnit: iu.Canonical,
	}, nil
}

// NormalizeAll converts every record it can and excludes the rest,
// counting them as unknown_unit.
func (n *Normalizer) NormalizeAll(recs []model.CleanedRecord) ([]model.NormalizedRecord, model.DropCounts) {
	drops := make(model.DropCounts)
	out := make([]model.NormalizedRecord, 0, len(recs))
	for _, rec := range recs {
		nr, err := n.Normalize(rec)
		if err != nil {
			zap.L().Debug("normalizer: record excluded",
				zap.String("item", rec.ItemCode),
				zap.String("market", rec.MarketCode),
				zap.String("unit", rec.Unit),
			)
			drops.Add(model.DropUnknownUnit, 1)
			continue
		}
		out = append(out, nr)
	}
	if cnt := drops[model.DropUnknownUnit]; cnt > 0 {
		zap.L().Warn("normalizer: records with unknown units excluded", zap.Int("count", cnt))
	}
	return out, drops
}
