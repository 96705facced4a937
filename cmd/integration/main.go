package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"broker_go/internal/detector"
	"broker_go/internal/domain"
	"broker_go/internal/infra"
	"broker_go/internal/notify"
	"broker_go/internal/storage"
	"broker_go/internal/tracker"
)

// flakyNotifier fails its first failures sends, then succeeds.
// Exercises the full breaker cycle: CLOSED → OPEN → HALF_OPEN → CLOSED.
type flakyNotifier struct {
	failures int64
	calls    atomic.Int64
}

func (f *flakyNotifier) Send(_ context.Context, accountID, title, body string, data map[string]string) error {
	n := f.calls.Add(1)
	if n <= f.failures {
		return fmt.Errorf("simulated provider outage (call %d)", n)
	}
	slog.Info("DELIVERED", slog.String("account", accountID), slog.String("title", title), slog.String("body", body))
	return nil
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)
	slog.Info("🚀 Starting price-discovery integration run...")

	dir, err := os.MkdirTemp("", "broker_integration")
	if err != nil {
		slog.Error("❌ Failed to create temp dir", slog.Any("error", err))
		os.Exit(1)
	}
	defer os.RemoveAll(dir)

	store, err := storage.NewOrderStore(filepath.Join(dir, "orders.db"))
	if err != nil {
		slog.Error("❌ Failed to open store", slog.Any("error", err))
		os.Exit(1)
	}
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Dispatcher with an aggressive breaker so the outage is visible
	// inside one run.
	flaky := &flakyNotifier{failures: 3}
	dispatcher := notify.NewDispatcher(flaky, notify.Options{
		QueueCapacity:  64,
		SendTimeout:    time.Second,
		CooldownWindow: 200 * time.Millisecond,
		Breaker: infra.CircuitBreakerConfig{
			Name:             "integration",
			FailureThreshold: 2,
			SuccessThreshold: 1,
			Timeout:          500 * time.Millisecond,
		},
		RateBurst:     10,
		RatePerSecond: 100,
	})
	dispatcher.Start(ctx)
	defer dispatcher.Stop()

	trk := tracker.New(dispatcher, nil)
	det := detector.New(store, nil, detector.Config{
		Interval:    300 * time.Millisecond,
		ReadTimeout: time.Second,
	}, trk.OnCycle)
	det.AddSubscriber()
	defer det.RemoveSubscriber()

	price := func(s string) decimal.Decimal { return decimal.RequireFromString(s) }
	seed := []domain.RestingOrder{
		{ID: "B1", AccountID: "alice", InstrumentID: "ACME", Side: domain.SideBuy, Price: price("100.00"), BuyVolume: 100},
		{ID: "B2", AccountID: "bob", InstrumentID: "ACME", Side: domain.SideBuy, Price: price("99.50"), BuyVolume: 200},
		{ID: "S1", AccountID: "carol", InstrumentID: "ACME", Side: domain.SideSell, Price: price("99.50"), SellVolume: 150},
		{ID: "S2", AccountID: "dave", InstrumentID: "ACME", Side: domain.SideSell, Price: price("100.00"), SellVolume: 50},
	}
	for _, o := range seed {
		if err := store.InsertOrder(ctx, o); err != nil {
			slog.Error("❌ Seed failed", slog.Any("error", err))
			os.Exit(1)
		}
	}
	slog.Info("Seeded book", slog.Int("orders", len(seed)))
	time.Sleep(time.Second)

	// A new buy at a matching price: one extra notification, price
	// unchanged.
	_ = store.InsertOrder(ctx, domain.RestingOrder{
		ID: "B3", AccountID: "erin", InstrumentID: "ACME",
		Side: domain.SideBuy, Price: price("99.75"), BuyVolume: 40,
	})
	slog.Info("Inserted order at discovered price")
	time.Sleep(time.Second)

	// Amend a price to move the equilibrium.
	_ = store.UpdateOrderPrice(ctx, "S1", price("100.00"))
	slog.Info("Amended sell order, equilibrium should move")
	time.Sleep(time.Second)

	// Cancel everything; the discovered price must vanish.
	for _, id := range []string{"B1", "B2", "B3", "S1", "S2"} {
		_ = store.DeleteOrder(ctx, id)
	}
	slog.Info("Cancelled all orders")
	time.Sleep(time.Second)

	health := dispatcher.GetHealth()
	out, _ := json.MarshalIndent(health, "", "  ")
	fmt.Printf("\n=== Dispatcher health ===\n%s\n", out)

	if _, ok := trk.DiscoveredFor("ACME"); ok {
		slog.Error("❌ Discovered price survived an empty book")
		os.Exit(1)
	}
	slog.Info("✨ Integration run complete")
}
