package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"broker_go/internal/book"
	"broker_go/internal/domain"
	"broker_go/internal/storage"
)

// booktest runs the order-book aggregator offline: against a sqlite
// order database if one is given, otherwise against a built-in
// fixture. Useful for eyeballing level ranking and price discovery
// without starting the engine.
func main() {
	dbPath := flag.String("db", "", "path to a resting-order sqlite database")
	instrument := flag.String("instrument", "ACME", "instrument to aggregate")
	flag.Parse()

	orders, err := loadOrders(*dbPath, *instrument)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load orders: %v\n", err)
		os.Exit(1)
	}

	b := book.Compute(*instrument, orders, time.Now())

	fmt.Printf("=== Order Book: %s (%d resting orders) ===\n\n", *instrument, len(orders))
	fmt.Printf("%-10s %15s %15s\n", "PRICE", "CUM BUY", "CUM SELL")
	for _, lv := range b.Levels {
		mark := " "
		if lv.Synthetic {
			mark = "+"
		}
		fmt.Printf("%-10s %15d %15d %s\n", lv.Price.StringFixed(2), lv.CumulativeBuy, lv.CumulativeSell, mark)
	}

	fmt.Println()
	if b.Discovered == nil {
		fmt.Println("No discovered price (need both sides at one level)")
		return
	}
	fmt.Printf("Discovered price: %s  max tradable: %d  (buy %d / sell %d)\n",
		b.Discovered.Price.StringFixed(2),
		b.Discovered.MaxTradable,
		b.Discovered.CumulativeBuy,
		b.Discovered.CumulativeSell)
}

func loadOrders(dbPath, instrument string) ([]domain.RestingOrder, error) {
	if dbPath == "" {
		return fixtureOrders(instrument), nil
	}
	store, err := storage.NewOrderStore(dbPath)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	return store.ListRestingOrders(ctx, instrument)
}

func fixtureOrders(instrument string) []domain.RestingOrder {
	price := func(s string) decimal.Decimal { return decimal.RequireFromString(s) }
	return []domain.RestingOrder{
		{ID: "B1", AccountID: "acc-1", InstrumentID: instrument, Side: domain.SideBuy, Price: price("100.00"), BuyVolume: 100},
		{ID: "B2", AccountID: "acc-2", InstrumentID: instrument, Side: domain.SideBuy, Price: price("99.50"), BuyVolume: 200},
		{ID: "S1", AccountID: "acc-3", InstrumentID: instrument, Side: domain.SideSell, Price: price("99.50"), SellVolume: 150},
		{ID: "S2", AccountID: "acc-4", InstrumentID: instrument, Side: domain.SideSell, Price: price("100.00"), SellVolume: 50},
	}
}
