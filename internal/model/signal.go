package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// TrendLabel classifies an aggregate against its moving average.
type TrendLabel string

const (
	LabelSurge               TrendLabel = "surge"
	LabelHigh                TrendLabel = "high"
	LabelNormal              TrendLabel = "normal"
	LabelCheap               TrendLabel = "cheap"
	LabelDrop                TrendLabel = "drop"
	LabelInsufficientHistory TrendLabel = "insufficient-history"
)

// Classified reports whether the label asserts a classification.
func (l TrendLabel) Classified() bool {
	return l != "" && l != LabelInsufficientHistory
}

// TrendResult is the classification of one Aggregate against its history.
// MovingAverage, Ratio and Deviation are zero when Label is insufficient-history.
type TrendResult struct {
	ItemCode      string          `json:"item_code"`
	MarketCode    string          `json:"market_code,omitempty"`
	Date          time.Time       `json:"date"`
	Avg           decimal.Decimal `json:"avg"`
	MovingAverage decimal.Decimal `json:"moving_average"`
	Ratio         decimal.Decimal `json:"ratio"`
	Deviation     decimal.Decimal `json:"deviation"`
	Label         TrendLabel      `json:"label"`
	Anomaly       bool            `json:"anomaly"`
	HistoryDays   int             `json:"history_days"`
}
