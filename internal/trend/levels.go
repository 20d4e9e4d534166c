package trend

import (
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"

	"github.com/baebong3/fruitbasket-legal/internal/model"
)

// Level is one row of the classification table: a ratio above Bound (or
// equal to it when Inclusive) earns Label.
type Level struct {
	Bound     decimal.Decimal
	Inclusive bool
	Label     model.TrendLabel
}

// DefaultLevels is evaluated top to bottom; the first match wins.
var DefaultLevels = []Level{
	{Bound: decimal.RequireFromString("1.30"), Inclusive: true, Label: model.LabelSurge},
	{Bound: decimal.RequireFromString("1.10"), Inclusive: true, Label: model.LabelHigh},
	{Bound: decimal.RequireFromString("0.80"), Inclusive: false, Label: model.LabelNormal},
	{Bound: decimal.RequireFromString("0.60"), Inclusive: false, Label: model.LabelCheap},
}

// DefaultLabel applies when no level matches.
const DefaultLabel = model.LabelDrop

// Classify maps a ratio to a label using levels.
func Classify(levels []Level, ratio decimal.Decimal) model.TrendLabel {
	for _, l := range levels {
		if ratio.GreaterThan(l.Bound) || (l.Inclusive && ratio.Equal(l.Bound)) {
			return l.Label
		}
	}
	return DefaultLabel
}

// LevelConfig is the config shape of one level.
type LevelConfig struct {
	Bound     float64 `yaml:"bound" validate:"gt=0"`
	Inclusive bool    `yaml:"inclusive"`
	Label     string  `yaml:"label" validate:"required"`
}

// LevelsFromConfig builds a level table. Bounds must be strictly decreasing
// and labels must be classification labels.
func LevelsFromConfig(cfgs []LevelConfig) ([]Level, error) {
	if len(cfgs) == 0 {
		return DefaultLevels, nil
	}
	out := make([]Level, 0, len(cfgs))
	for i, c := range cfgs {
		label := model.TrendLabel(c.Label)
		switch label {
		case model.LabelSurge, model.LabelHigh, model.LabelNormal, model.LabelCheap, model.LabelDrop:
		default:
			return nil, eris.Errorf("trend: level %d: unknown label %q", i, c.Label)
		}
		l := Level{Bound: decimal.NewFromFloat(c.Bound), Inclusive: c.Inclusive, Label: label}
		if i > 0 && !l.Bound.LessThan(out[i-1].Bound) {
			return nil, eris.Errorf("trend: level %d: bound %s must be below %s", i, l.Bound, out[i-1].Bound)
		}
		out = append(out, l)
	}
	return out, nil
}
