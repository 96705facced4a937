package book

import (
	"time"

	rbt "github.com/emirpasic/gods/trees/redblacktree"
	"github.com/shopspring/decimal"

	"broker_go/internal/domain"
)

// MaxLevelsPerSide caps how many rows a side contributes to a book
// view: four individual levels plus one collapsed synthetic level.
const MaxLevelsPerSide = 5

// Book is the aggregated view of all resting orders for one
// instrument. Pure derived data; recomputing on an unchanged order set
// yields an identical book.
type Book struct {
	InstrumentID string              `json:"instrument_id"`
	Buys         []domain.PriceLevel `json:"buys"`   // price descending
	Sells        []domain.PriceLevel `json:"sells"`  // price ascending
	Levels       []domain.PriceLevel `json:"levels"` // merged by price, descending
	Discovered   *domain.DiscoveredPrice `json:"discovered,omitempty"`
}

// level is the full (untruncated) per-price aggregate.
type level struct {
	price   decimal.Decimal
	buyAt   int64 // buy volume resting exactly at this price
	sellAt  int64
	cumBuy  int64 // buy volume at or above this price
	cumSell int64 // sell volume at or below this price
}

func priceAscComparator(a, b interface{}) int {
	pa := a.(decimal.Decimal)
	pb := b.(decimal.Decimal)
	return pa.Cmp(pb)
}

// Compute aggregates the resting orders of a single instrument into
// ranked price levels and the discovered price. Orders with no volume
// on their populated side contribute nothing.
func Compute(instrumentID string, orders []domain.RestingOrder, now time.Time) Book {
	b := Book{
		InstrumentID: instrumentID,
		Buys:         []domain.PriceLevel{},
		Sells:        []domain.PriceLevel{},
		Levels:       []domain.PriceLevel{},
	}

	levels := collectLevels(orders)
	if len(levels) == 0 {
		return b
	}

	b.Buys = rankBuySide(levels)
	b.Sells = rankSellSide(levels)
	b.Levels = mergeByPrice(b.Buys, b.Sells)

	if dp, ok := discover(levels); ok {
		dp.InstrumentID = instrumentID
		dp.DiscoveredAt = now
		b.Discovered = &dp
	}
	return b
}

// collectLevels builds the full per-price aggregate, sorted ascending.
// A red-black tree keyed by decimal price keeps equal prices with
// different exponents (99.5 vs 99.50) on one node.
func collectLevels(orders []domain.RestingOrder) []level {
	tree := rbt.NewWith(priceAscComparator)
	for _, o := range orders {
		var lv *level
		if v, ok := tree.Get(o.Price); ok {
			lv = v.(*level)
		} else {
			lv = &level{price: o.Price}
			tree.Put(o.Price, lv)
		}
		switch o.Side {
		case domain.SideBuy:
			lv.buyAt += o.BuyVolume
		case domain.SideSell:
			lv.sellAt += o.SellVolume
		}
	}

	levels := make([]level, 0, tree.Size())
	it := tree.Iterator()
	for it.Next() {
		levels = append(levels, *it.Value().(*level))
	}

	// Cumulative sell grows as price increases, cumulative buy grows
	// as price decreases.
	var cumSell int64
	for i := range levels {
		cumSell += levels[i].sellAt
		levels[i].cumSell = cumSell
	}
	var cumBuy int64
	for i := len(levels) - 1; i >= 0; i-- {
		cumBuy += levels[i].buyAt
		levels[i].cumBuy = cumBuy
	}
	return levels
}

// rankBuySide returns up to MaxLevelsPerSide buy rows, highest price
// first. The fifth row is synthetic: it collapses every deeper level
// and shows the side's total cumulative volume.
func rankBuySide(levels []level) []domain.PriceLevel {
	var candidates []level
	for i := len(levels) - 1; i >= 0; i-- { // descending
		if levels[i].cumBuy > 0 {
			candidates = append(candidates, levels[i])
		}
	}
	out := make([]domain.PriceLevel, 0, MaxLevelsPerSide)
	for i, lv := range candidates {
		if i == MaxLevelsPerSide-1 && len(candidates) >= MaxLevelsPerSide {
			deepest := candidates[len(candidates)-1]
			out = append(out, domain.PriceLevel{
				Price:         lv.price,
				CumulativeBuy: deepest.cumBuy, // saturated at the deepest price
				Synthetic:     true,
			})
			break
		}
		out = append(out, domain.PriceLevel{Price: lv.price, CumulativeBuy: lv.cumBuy})
	}
	return out
}

// rankSellSide mirrors rankBuySide: lowest price first, the fifth row
// collapsing every higher level into the side's total.
func rankSellSide(levels []level) []domain.PriceLevel {
	var candidates []level
	for _, lv := range levels { // ascending
		if lv.cumSell > 0 {
			candidates = append(candidates, lv)
		}
	}
	out := make([]domain.PriceLevel, 0, MaxLevelsPerSide)
	for i, lv := range candidates {
		if i == MaxLevelsPerSide-1 && len(candidates) >= MaxLevelsPerSide {
			deepest := candidates[len(candidates)-1]
			out = append(out, domain.PriceLevel{
				Price:          lv.price,
				CumulativeSell: deepest.cumSell,
				Synthetic:      true,
			})
			break
		}
		out = append(out, domain.PriceLevel{Price: lv.price, CumulativeSell: lv.cumSell})
	}
	return out
}

// mergeByPrice folds the two ranked sides into one table, price
// descending. A price present on both sides becomes a single row
// carrying both cumulative volumes.
func mergeByPrice(buys, sells []domain.PriceLevel) []domain.PriceLevel {
	tree := rbt.NewWith(priceAscComparator)
	for _, lv := range buys {
		row := lv
		tree.Put(lv.Price, &row)
	}
	for _, lv := range sells {
		if v, ok := tree.Get(lv.Price); ok {
			row := v.(*domain.PriceLevel)
			row.CumulativeSell = lv.CumulativeSell
			row.Synthetic = row.Synthetic || lv.Synthetic
			continue
		}
		row := lv
		tree.Put(lv.Price, &row)
	}

	merged := make([]domain.PriceLevel, 0, tree.Size())
	it := tree.Iterator()
	for it.End(); it.Prev(); {
		merged = append(merged, *it.Value().(*domain.PriceLevel))
	}
	return merged
}

// discover picks the price with both cumulative volumes positive that
// maximizes min(cumulative buy, cumulative sell). Ties break toward
// the higher price. The full level set is scanned, not the truncated
// rankings, so deep books do not lose the equilibrium.
func discover(levels []level) (domain.DiscoveredPrice, bool) {
	var best domain.DiscoveredPrice
	found := false
	for i := len(levels) - 1; i >= 0; i-- { // descending: first win keeps the higher price
		lv := levels[i]
		if lv.cumBuy <= 0 || lv.cumSell <= 0 {
			continue
		}
		tradable := lv.cumBuy
		if lv.cumSell < tradable {
			tradable = lv.cumSell
		}
		if !found || tradable > best.MaxTradable {
			best = domain.DiscoveredPrice{
				Price:          lv.price,
				MaxTradable:    tradable,
				CumulativeBuy:  lv.cumBuy,
				CumulativeSell: lv.cumSell,
			}
			found = true
		}
	}
	return best, found
}
