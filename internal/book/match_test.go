package book

import (
	"testing"

	"broker_go/internal/domain"
)

func TestMatches(t *testing.T) {
	p := price(t, "99.50")

	cases := []struct {
		name  string
		order domain.RestingOrder
		want  bool
	}{
		{"buy above", buy(t, "B1", "a", "100.00", 10), true},
		{"buy at", buy(t, "B2", "a", "99.50", 10), true},
		{"buy below", buy(t, "B3", "a", "99.00", 10), false},
		{"sell below", sell(t, "S1", "a", "99.00", 10), true},
		{"sell at", sell(t, "S2", "a", "99.50", 10), true},
		{"sell above", sell(t, "S3", "a", "100.00", 10), false},
		{"unknown side", domain.RestingOrder{Side: "SHORT", Price: p}, false},
	}
	for _, tc := range cases {
		if got := Matches(tc.order, p); got != tc.want {
			t.Errorf("%s: Matches = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestAffectedParticipants_ScenarioA(t *testing.T) {
	got := AffectedParticipants(scenarioA(t), price(t, "99.50"))

	// B1 (buy 100.00), B2 (buy 99.50) and S1 (sell 99.50) match; S2
	// (sell 100.00) does not.
	if len(got) != 3 {
		t.Fatalf("expected 3 affected participants, got %d: %+v", len(got), got)
	}
	accounts := []string{got[0].AccountID, got[1].AccountID, got[2].AccountID}
	want := []string{"acc-1", "acc-2", "acc-3"}
	for i := range want {
		if accounts[i] != want[i] {
			t.Errorf("participant %d: account %s, want %s", i, accounts[i], want[i])
		}
	}
}

func TestAffectedParticipants_AggregatesSameAccountSidePrice(t *testing.T) {
	orders := []domain.RestingOrder{
		buy(t, "B1", "acc-1", "100.00", 100),
		buy(t, "B2", "acc-1", "100.00", 50),
		buy(t, "B3", "acc-1", "101.00", 25), // same account, different price
	}
	got := AffectedParticipants(orders, price(t, "99.50"))

	if len(got) != 2 {
		t.Fatalf("expected 2 aggregates, got %d: %+v", len(got), got)
	}
	if got[0].Volume != 150 || got[0].OrderID != "B1" {
		t.Errorf("first aggregate wrong: %+v", got[0])
	}
	if got[1].Volume != 25 || !got[1].Price.Equal(price(t, "101.00")) {
		t.Errorf("second aggregate wrong: %+v", got[1])
	}
}

func TestAffectedParticipants_SkipsZeroVolume(t *testing.T) {
	orders := []domain.RestingOrder{
		buy(t, "B1", "acc-1", "100.00", 0),
		sell(t, "S1", "acc-2", "99.00", 10),
	}
	got := AffectedParticipants(orders, price(t, "99.50"))

	if len(got) != 1 || got[0].AccountID != "acc-2" {
		t.Errorf("expected only the sell participant, got %+v", got)
	}
}

func TestAffectedParticipants_StableOrder(t *testing.T) {
	orders := []domain.RestingOrder{
		sell(t, "S1", "acc-1", "99.00", 10),
		buy(t, "B1", "acc-1", "100.00", 10),
	}
	first := AffectedParticipants(orders, price(t, "99.50"))
	second := AffectedParticipants(orders, price(t, "99.50"))

	if len(first) != 2 || len(second) != 2 {
		t.Fatalf("expected 2 participants in both runs")
	}
	for i := range first {
		if first[i].AccountID != second[i].AccountID || first[i].Side != second[i].Side {
			t.Errorf("ordering not stable at %d: %+v vs %+v", i, first[i], second[i])
		}
	}
	// BUY sorts before SELL for the same account.
	if first[0].Side != domain.SideBuy {
		t.Errorf("expected BUY first, got %s", first[0].Side)
	}
}
