package transform

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baebong3/fruitbasket-legal/internal/model"
)

func cleaned(item, unit string, price int64) model.CleanedRecord {
	return model.CleanedRecord{
		ItemCode:   item,
		MarketCode: "A",
		Date:       time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
		Price:      decimal.NewFromInt(price),
		Unit:       unit,
	}
}

func TestNormalize_CanonicalUnitUnchanged(t *testing.T) {
	n := NewNormalizer(DefaultUnits())
	got, err := n.Normalize(cleaned("111", "10kg", 48000))
	require.NoError(t, err)
	assert.Equal(t, "48000", got.Price.String())
	assert.Equal(t, "10kg", got.CanonicalUnit)
}

func TestNormalize_Converts(t *testing.T) {
	n := NewNormalizer(DefaultUnits())

	got, err := n.Normalize(cleaned("111", "20 KG", 96000))
	require.NoError(t, err)
	assert.Equal(t, "48000", got.Price.String())

	got, err = n.Normalize(cleaned("411", "1개", 2500))
	require.NoError(t, err)
	assert.Equal(t, "25000", got.Price.String())

	got, err = n.Normalize(cleaned("112", "20kg", 100000))
	require.NoError(t, err)
	assert.Equal(t, "5000", got.Price.String())
}

func TestNormalize_RoundsToCents(t *testing.T) {
	n := NewNormalizer(UnitTable{"999": {Canonical: "1kg", Factors: map[string]decimal.Decimal{"3kg": decimal.NewFromInt(3)}}})
	got, err := n.Normalize(cleaned("999", "3kg", 10000))
	require.NoError(t, err)
	assert.Equal(t, "3333.33", got.Price.String())
}

func TestNormalize_UnknownUnit(t *testing.T) {
	n := NewNormalizer(DefaultUnits())

	_, err := n.Normalize(cleaned("111", "1가마", 100))
	var ue *UnknownUnitError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, "111", ue.ItemCode)

	_, err = n.Normalize(cleaned("000", "10kg", 100))
	require.ErrorAs(t, err, &ue)
}

func TestNormalize_Pure(t *testing.T) {
	n := NewNormalizer(DefaultUnits())
	rec := cleaned("111", "20kg", 97001)
	a, err := n.Normalize(rec)
	require.NoError(t, err)
	b, err := n.Normalize(rec)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestNormalizeAll_ExcludesUnknown(t *testing.T) {
	n := NewNormalizer(DefaultUnits())
	out, drops := n.NormalizeAll([]model.CleanedRecord{
		cleaned("111", "10kg", 48000),
		cleaned("111", "bag", 100),
		cleaned("777", "10kg", 100),
	})
	require.Len(t, out, 1)
	assert.Equal(t, 2, drops[model.DropUnknownUnit])
}

func TestUnitsFromConfig(t *testing.T) {
	table, err := UnitsFromConfig(map[string]UnitConfig{
		"111": {Canonical: "1 KG", Factors: map[string]float64{"10 kg": 10, "1kg": 1}},
	})
	require.NoError(t, err)
	assert.Equal(t, "1kg", table["111"].Canonical)
	assert.True(t, table["111"].Factors["10kg"].Equal(decimal.NewFromInt(10)))

	merged := DefaultUnits().Merge(table)
	got, err := NewNormalizer(merged).Normalize(cleaned("111", "10kg", 48000))
	require.NoError(t, err)
	assert.Equal(t, "4800", got.Price.String())

	_, err = UnitsFromConfig(map[string]UnitConfig{"111": {Factors: map[string]float64{"1kg": 0}}})
	var fe *InvalidFactorError
	assert.ErrorAs(t, err, &fe)
}
