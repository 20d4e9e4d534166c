package transform

import (
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/baebong3/fruitbasket-legal/internal/model"
)

// DedupStrategy decides which of several records with the same
// (item, market, date) survives.
type DedupStrategy string

const (
	// DedupLastSeen keeps the record latest in canonical fetch order.
	DedupLastSeen DedupStrategy = "last-seen"
	// DedupHighestConfidence keeps the record whose source ranks highest,
	// falling back to last-seen between equally ranked sources.
	DedupHighestConfidence DedupStrategy = "highest-confidence"
)

// dateLayouts are the date spellings seen in upstream listings.
var dateLayouts = []string{model.DateLayout, "20060102", "2006/01/02", "2006.01.02"}

// Cleaner validates raw records and resolves duplicates.
type Cleaner struct {
	Strategy   DedupStrategy
	SourceRank map[string]int // higher is more trusted; unknown sources rank 0
}

// NewCleaner creates a Cleaner. An empty strategy means last-seen.
func NewCleaner(strategy DedupStrategy, sourceRank map[string]int) *Cleaner {
	if strategy == "" {
		strategy = DedupLastSeen
	}
	return &Cleaner{Strategy: strategy, SourceRank: sourceRank}
}

type naturalKey struct {
	item, market string
	date         time.Time
}

// Clean drops invalid records, deduplicates the rest and returns them
// sorted by (item, market, date). It is pure: the input is not modified.
func (c *Cleaner) Clean(raw []model.RawRecord) ([]model.CleanedRecord, model.DropCounts) {
	drops := make(model.DropCounts)

	valid := make([]model.CleanedRecord, 0, len(raw))
	for _, r := range raw {
		rec, cause, ok := parseRecord(r)
		if !ok {
			drops.Add(cause, 1)
			continue
		}
		valid = append(valid, rec)
	}
	sort.SliceStable(valid, func(i, j int) bool { return valid[i].Before(valid[j]) })

	kept := make(map[naturalKey]model.CleanedRecord, len(valid))
	for _, rec := range valid {
		k := naturalKey{rec.ItemCode, rec.MarketCode, rec.Date}
		prev, seen := kept[k]
		if !seen {
			kept[k] = rec
			continue
		}
		drops.Add(model.DropDuplicate, 1)
		if c.replaces(prev, rec) {
			kept[k] = rec
		}
	}

	out := make([]model.CleanedRecord, 0, len(kept))
	for _, rec := range kept {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.ItemCode != b.ItemCode {
			return a.ItemCode < b.ItemCode
		}
		if a.MarketCode != b.MarketCode {
			return a.MarketCode < b.MarketCode
		}
		return a.Date.Before(b.Date)
	})
	return out, drops
}

// replaces reports whether next, seen after prev, should win.
func (c *Cleaner) replaces(prev, next model.CleanedRecord) bool {
	if c.Strategy == DedupHighestConfidence {
		pr, nr := c.SourceRank[prev.Source], c.SourceRank[next.Source]
		if pr != nr {
			return nr > pr
		}
	}
	return true
}

func parseRecord(r model.RawRecord) (model.CleanedRecord, model.DropCause, bool) {
	item := strings.TrimSpace(r.ItemCode)
	market := strings.TrimSpace(r.MarketCode)
	date := strings.TrimSpace(r.Date)
	price := strings.NewReplacer(",", "", " ", "").Replace(strings.TrimSpace(r.Price))
	if price == "-" {
		price = ""
	}
	if item == "" || market == "" || date == "" || price == "" {
		return model.CleanedRecord{}, model.DropMissingField, false
	}

	p, err := decimal.NewFromString(price)
	if err != nil || !p.IsPositive() {
		return model.CleanedRecord{}, model.DropInvalidPrice, false
	}

	d, ok := ParseDate(date)
	if !ok {
		return model.CleanedRecord{}, model.DropInvalidDate, false
	}

	return model.CleanedRecord{
		ItemCode:   item,
		MarketCode: market,
		Date:       d,
		Price:      p,
		Unit:       strings.TrimSpace(r.Unit),
		Source:     strings.TrimSpace(r.Source),
		PageIndex:  r.PageIndex,
		Seq:        r.Seq,
	}, "", true
}

// ParseDate parses a day-precision date in any accepted layout, in UTC.
func ParseDate(s string) (time.Time, bool) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
