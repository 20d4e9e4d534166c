package calculator

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decs(vals ...int64) []decimal.Decimal {
	out := make([]decimal.Decimal, len(vals))
	for i, v := range vals {
		out[i] = decimal.NewFromInt(v)
	}
	return out
}

func TestCalculateSMA_TrailingWindow(t *testing.T) {
	sma, err := CalculateSMA(decs(10, 20, 30, 40), 2)
	require.NoError(t, err)
	assert.True(t, sma.Equal(decimal.NewFromInt(35)), "got %s", sma)
}

func TestCalculateSMA_Errors(t *testing.T) {
	_, err := CalculateSMA(decs(1, 2), 0)
	assert.Error(t, err)

	_, err = CalculateSMA(decs(1, 2), 3)
	assert.Error(t, err)
}

func TestMean_Fractional(t *testing.T) {
	m, err := Mean(decs(1, 2))
	require.NoError(t, err)
	assert.Equal(t, "1.5", m.String())

	_, err = Mean(nil)
	assert.Error(t, err)
}

func TestExtrema(t *testing.T) {
	low, high, err := Extrema(decs(48000, 52000, 50000))
	require.NoError(t, err)
	assert.True(t, low.Equal(decimal.NewFromInt(48000)))
	assert.True(t, high.Equal(decimal.NewFromInt(52000)))

	_, _, err = Extrema(nil)
	assert.Error(t, err)
}

func TestRelativeDeviation(t *testing.T) {
	d, err := RelativeDeviation(decimal.NewFromInt(66000), decimal.NewFromInt(50000))
	require.NoError(t, err)
	assert.Equal(t, "0.32", d.String())

	_, err = RelativeDeviation(decimal.NewFromInt(1), decimal.Zero)
	assert.Error(t, err)
}

func TestQuantile_Interpolates(t *testing.T) {
	vals := decs(13, 10, 50, 12, 11, 12)

	q1, err := Quantile(vals, 0.25)
	require.NoError(t, err)
	assert.Equal(t, "11.25", q1.String())

	q3, err := Quantile(vals, 0.75)
	require.NoError(t, err)
	assert.Equal(t, "12.75", q3.String())

	top, err := Quantile(vals, 1)
	require.NoError(t, err)
	assert.Equal(t, "50", top.String())

	_, err = Quantile(nil, 0.5)
	assert.Error(t, err)
	_, err = Quantile(vals, 1.5)
	assert.Error(t, err)
}

func TestStdDev_Sample(t *testing.T) {
	sd, err := StdDev(decs(2, 4, 4, 4, 5, 5, 7, 9))
	require.NoError(t, err)
	assert.InDelta(t, 2.138, sd.InexactFloat64(), 0.001)

	flat, err := StdDev(decs(5, 5, 5))
	require.NoError(t, err)
	assert.True(t, flat.IsZero())

	_, err = StdDev(decs(1))
	assert.Error(t, err)
}
