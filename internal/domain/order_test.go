package domain

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestSideValid(t *testing.T) {
	if !SideBuy.Valid() || !SideSell.Valid() {
		t.Error("BUY and SELL must be valid sides")
	}
	if Side("SHORT").Valid() || Side("").Valid() {
		t.Error("unknown sides must be invalid")
	}
}

func TestRestingOrderVolume(t *testing.T) {
	b := RestingOrder{Side: SideBuy, BuyVolume: 100, SellVolume: 0}
	if b.Volume() != 100 {
		t.Errorf("buy volume = %d, want 100", b.Volume())
	}
	s := RestingOrder{Side: SideSell, BuyVolume: 0, SellVolume: 50}
	if s.Volume() != 50 {
		t.Errorf("sell volume = %d, want 50", s.Volume())
	}
}

func TestProjectionChanged(t *testing.T) {
	base := Project(RestingOrder{
		InstrumentID: "ACME",
		Side:         SideBuy,
		Price:        decimal.RequireFromString("100.00"),
		BuyVolume:    100,
	})

	if base.Changed(base) {
		t.Error("a projection must not differ from itself")
	}

	same := base
	same.Price = decimal.RequireFromString("100.0") // equal value, other exponent
	if same.Changed(base) {
		t.Error("decimal comparison must be by value, not representation")
	}

	repriced := base
	repriced.Price = decimal.RequireFromString("101.00")
	if !repriced.Changed(base) {
		t.Error("price move must count as a change")
	}

	resized := base
	resized.BuyVolume = 60
	if !resized.Changed(base) {
		t.Error("volume move must count as a change")
	}

	flipped := base
	flipped.Side = SideSell
	if !flipped.Changed(base) {
		t.Error("side flip must count as a change")
	}
}
