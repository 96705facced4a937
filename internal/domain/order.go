package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side identifies which half of the book an order rests on.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Valid reports whether s is one of the two known sides.
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// RestingOrder is an unmatched order waiting in the book.
// The engine treats it as read-only: creation, amendment and
// cancellation all happen in external order-entry workflows.
type RestingOrder struct {
	ID             string          `json:"id"`
	AccountID      string          `json:"account_id"`
	InstrumentID   string          `json:"instrument_id"`
	Side           Side            `json:"side"`
	Price          decimal.Decimal `json:"price"` // 2 fraction digits
	BuyVolume      int64           `json:"buy_volume"`
	SellVolume     int64           `json:"sell_volume"`
	CorrelationTag string          `json:"correlation_tag,omitempty"`
	ParticipantID  string          `json:"participant_id,omitempty"`
}

// Volume returns the populated side's volume. Exactly one of the two
// volume fields is nonzero for a well-formed order.
func (o RestingOrder) Volume() int64 {
	if o.Side == SideBuy {
		return o.BuyVolume
	}
	return o.SellVolume
}

// OrderProjection is the minimal view of a resting order retained
// between poll cycles for diffing. Replaced wholesale each cycle.
type OrderProjection struct {
	InstrumentID string          `json:"instrument_id"`
	Side         Side            `json:"side"`
	Price        decimal.Decimal `json:"price"`
	BuyVolume    int64           `json:"buy_volume"`
	SellVolume   int64           `json:"sell_volume"`
}

// Project reduces a resting order to its diffable projection.
func Project(o RestingOrder) OrderProjection {
	return OrderProjection{
		InstrumentID: o.InstrumentID,
		Side:         o.Side,
		Price:        o.Price,
		BuyVolume:    o.BuyVolume,
		SellVolume:   o.SellVolume,
	}
}

// Changed reports whether price, either volume field, or side differs
// from prev.
func (p OrderProjection) Changed(prev OrderProjection) bool {
	return !p.Price.Equal(prev.Price) ||
		p.BuyVolume != prev.BuyVolume ||
		p.SellVolume != prev.SellVolume ||
		p.Side != prev.Side
}

// PriceLevel is one distinct price for an instrument, carrying the
// cumulative volumes defined over the whole book: buy volume summed at
// or above the price, sell volume summed at or below it.
type PriceLevel struct {
	Price          decimal.Decimal `json:"price"`
	CumulativeBuy  int64           `json:"cumulative_buy"`
	CumulativeSell int64           `json:"cumulative_sell"`
	// Synthetic marks the collapsed row that absorbs every level
	// beyond the fourth on its side.
	Synthetic bool `json:"synthetic,omitempty"`
}

// DiscoveredPrice is the cached equilibrium for one instrument: the
// price whose min(cumulative buy, cumulative sell) is largest.
type DiscoveredPrice struct {
	InstrumentID   string          `json:"instrument_id"`
	Price          decimal.Decimal `json:"price"`
	MaxTradable    int64           `json:"max_tradable"`
	CumulativeBuy  int64           `json:"cumulative_buy"`
	CumulativeSell int64           `json:"cumulative_sell"`
	DiscoveredAt   time.Time       `json:"discovered_at"`
}

// AffectedParticipant is one account's aggregated exposure at prices
// matching a discovered price. Recomputed on demand, never persisted.
type AffectedParticipant struct {
	AccountID string          `json:"account_id"`
	Side      Side            `json:"side"`
	Price     decimal.Decimal `json:"price"`
	Volume    int64           `json:"volume"`
	// OrderID is one representative order contributing to the volume.
	OrderID string `json:"order_id"`
}
