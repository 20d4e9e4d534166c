package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceRange is the low/high spread of one series over a period.
type PriceRange struct {
	ItemCode   string          `json:"item_code"`
	MarketCode string          `json:"market_code,omitempty"`
	Days       int             `json:"days"`
	Min        decimal.Decimal `json:"min"`
	Max        decimal.Decimal `json:"max"`
	Mean       decimal.Decimal `json:"mean"`
	Range      decimal.Decimal `json:"range"`
	RangePct   decimal.Decimal `json:"range_pct"` // Range / Mean × 100
}

// OutlierMethod names the rule that flagged an outlier.
type OutlierMethod string

const (
	OutlierIQR    OutlierMethod = "iqr"
	OutlierZScore OutlierMethod = "zscore"
)

// OutlierSide says which bound an outlier crossed.
type OutlierSide string

const (
	OutlierLow  OutlierSide = "low"
	OutlierHigh OutlierSide = "high"
)

// Outlier is one day whose average falls outside its series' spread.
// ZScore is set only for the z-score method.
type Outlier struct {
	ItemCode   string          `json:"item_code"`
	MarketCode string          `json:"market_code,omitempty"`
	Date       time.Time       `json:"date"`
	Price      decimal.Decimal `json:"price"`
	Method     OutlierMethod   `json:"method"`
	Side       OutlierSide     `json:"side"`
	Lower      decimal.Decimal `json:"lower"`
	Upper      decimal.Decimal `json:"upper"`
	ZScore     decimal.Decimal `json:"z_score,omitempty"`
}

// SeasonStat summarises a series over the months of one season.
type SeasonStat struct {
	Season Season          `json:"season"`
	Avg    decimal.Decimal `json:"avg"`
	Min    decimal.Decimal `json:"min"`
	Max    decimal.Decimal `json:"max"`
}

// SeasonalPattern is the month-of-year profile of one series.
type SeasonalPattern struct {
	ItemCode   string          `json:"item_code"`
	MarketCode string          `json:"market_code,omitempty"`
	Seasons    []SeasonStat    `json:"seasons"`
	PeakMonth  time.Month      `json:"peak_month"`
	PeakPrice  decimal.Decimal `json:"peak_price"`
	LowMonth   time.Month      `json:"low_month"`
	LowPrice   decimal.Decimal `json:"low_price"`
	GapPct     decimal.Decimal `json:"gap_pct"` // (peak - low) / low × 100
}

// TrendDirection is the long-run movement of a series across years.
type TrendDirection string

const (
	DirectionRising       TrendDirection = "rising"
	DirectionFalling      TrendDirection = "falling"
	DirectionFlat         TrendDirection = "flat"
	DirectionInsufficient TrendDirection = "insufficient"
)

// YearlyTrend is one calendar year of a series. YoYChange is the percent
// change from the previous year in the data and is null for the first.
type YearlyTrend struct {
	ItemCode   string              `json:"item_code"`
	MarketCode string              `json:"market_code,omitempty"`
	Year       int                 `json:"year"`
	Days       int                 `json:"days"`
	Avg        decimal.Decimal     `json:"avg"`
	Min        decimal.Decimal     `json:"min"`
	Max        decimal.Decimal     `json:"max"`
	YoYChange  decimal.NullDecimal `json:"yoy_change"`
	Direction  TrendDirection      `json:"direction"`
}
