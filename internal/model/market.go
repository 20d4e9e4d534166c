package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the day-precision layout used for record dates and run intervals.
const DateLayout = "2006-01-02"

// AllMarkets is the market code carried by item-level aggregates.
const AllMarkets = ""

// RawRecord is one price observation exactly as the upstream API reported it.
// Any field may be empty or malformed.
type RawRecord struct {
	ItemCode   string `json:"item_code"`
	MarketCode string `json:"market_code"`
	Date       string `json:"date"`
	Price      string `json:"price"`
	Unit       string `json:"unit"`
	Source     string `json:"source"`
	PageIndex  int    `json:"page_index"`
	Seq        int    `json:"seq"` // position within the page
}

// CleanedRecord is a validated, deduplicated observation.
type CleanedRecord struct {
	ItemCode   string
	MarketCode string
	Date       time.Time
	Price      decimal.Decimal
	Unit       string
	Source     string
	PageIndex  int
	Seq        int
}

// Before reports whether r precedes o in canonical fetch order
// (page index ascending, then position within the page).
func (r CleanedRecord) Before(o CleanedRecord) bool {
	if r.PageIndex != o.PageIndex {
		return r.PageIndex < o.PageIndex
	}
	return r.Seq < o.Seq
}

// NormalizedRecord is a CleanedRecord priced per canonical unit.
type NormalizedRecord struct {
	ItemCode      string          `json:"item_code"`
	MarketCode    string          `json:"market_code"`
	Date          time.Time       `json:"date"`
	Source        string          `json:"source"`
	Price         decimal.Decimal `json:"price"`
	CanonicalUnit string          `json:"canonical_unit"`
}

// Aggregate summarises one (item, date[, market]) group.
type Aggregate struct {
	ItemCode   string          `json:"item_code"`
	MarketCode string          `json:"market_code,omitempty"`
	Date       time.Time       `json:"date"`
	Avg        decimal.Decimal `json:"avg"`
	Min        decimal.Decimal `json:"min"`
	Max        decimal.Decimal `json:"max"`
	Count      int             `json:"count"`
}

// SeriesKey identifies the history series an aggregate belongs to.
func (a Aggregate) SeriesKey() SeriesKey {
	return SeriesKey{ItemCode: a.ItemCode, MarketCode: a.MarketCode}
}

// SeriesKey identifies one item (and optionally one market) over time.
type SeriesKey struct {
	ItemCode   string
	MarketCode string
}

// MarketComparison is one market's deviation from the cross-market mean
// for a single item and date.
type MarketComparison struct {
	ItemCode        string          `json:"item_code"`
	Date            time.Time       `json:"date"`
	MarketCode      string          `json:"market_code"`
	MarketAvg       decimal.Decimal `json:"market_avg"`
	CrossMarketMean decimal.Decimal `json:"cross_market_mean"`
	Deviation       decimal.Decimal `json:"deviation"`
}

// Season buckets a month the way the seasonal report groups it.
type Season string

const (
	SeasonSpring Season = "spring"
	SeasonSummer Season = "summer"
	SeasonAutumn Season = "autumn"
	SeasonWinter Season = "winter"
)

// SeasonOf returns the season of t's month.
func SeasonOf(t time.Time) Season {
	return SeasonOfMonth(t.Month())
}

// SeasonOfMonth returns the season m falls in.
func SeasonOfMonth(m time.Month) Season {
	switch m {
	case time.March, time.April, time.May:
		return SeasonSpring
	case time.June, time.July, time.August:
		return SeasonSummer
	case time.September, time.October, time.November:
		return SeasonAutumn
	default:
		return SeasonWinter
	}
}

// SeasonalComparison is one year's deviation from the cross-year mean for
// the same item and day of year.
type SeasonalComparison struct {
	ItemCode      string          `json:"item_code"`
	MarketCode    string          `json:"market_code,omitempty"`
	MonthDay      string          `json:"month_day"` // MM-DD
	Year          int             `json:"year"`
	Season        Season          `json:"season"`
	Avg           decimal.Decimal `json:"avg"`
	CrossYearMean decimal.Decimal `json:"cross_year_mean"`
	Deviation     decimal.Decimal `json:"deviation"`
}
