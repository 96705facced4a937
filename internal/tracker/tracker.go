package tracker

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/lo"

	"broker_go/internal/book"
	"broker_go/internal/detector"
	"broker_go/internal/domain"
	"broker_go/internal/event"
	"broker_go/internal/notify"
)

// Enqueuer is the slice of the dispatcher the tracker needs.
type Enqueuer interface {
	Enqueue(job notify.Job) bool
}

// Tracker maintains the last-known discovered price per instrument,
// identifies affected participants when it moves, and triggers
// notifications and broadcasts. Fed by the change detector's cycles.
type Tracker struct {
	dispatcher  Enqueuer
	broadcaster event.Broadcaster
	now         func() time.Time

	mu         sync.RWMutex
	discovered map[string]domain.DiscoveredPrice
}

// New creates a tracker with an empty price cache.
func New(dispatcher Enqueuer, broadcaster event.Broadcaster) *Tracker {
	if broadcaster == nil {
		broadcaster = event.NopBroadcaster{}
	}
	return &Tracker{
		dispatcher:  dispatcher,
		broadcaster: broadcaster,
		now:         time.Now,
		discovered:  make(map[string]domain.DiscoveredPrice),
	}
}

// OnCycle processes one completed detector cycle: recompute the
// discovered price for every instrument with resting volume, emit
// price-discovered broadcasts and participant notifications on change,
// and inform accounts whose freshly created orders sit at an already
// discovered price.
func (t *Tracker) OnCycle(res detector.CycleResult) {
	byInstrument := lo.GroupBy(res.Orders, func(o domain.RestingOrder) string {
		return o.InstrumentID
	})

	for instrumentID, orders := range byInstrument {
		t.recompute(instrumentID, orders, res.At)
	}
	t.dropVanished(byInstrument)
	t.notifyCreatedAtDiscovered(res)
}

func (t *Tracker) recompute(instrumentID string, orders []domain.RestingOrder, at time.Time) {
	b := book.Compute(instrumentID, orders, t.now())

	t.mu.Lock()
	cached, hasCached := t.discovered[instrumentID]

	if b.Discovered == nil {
		// No level with both sides anymore: forget silently.
		if hasCached {
			delete(t.discovered, instrumentID)
			slog.Info("Discovered price removed",
				slog.String("instrument", instrumentID),
				slog.String("was", cached.Price.StringFixed(2)))
		}
		t.mu.Unlock()
		return
	}

	dp := *b.Discovered
	if hasCached && cached.Price.Equal(dp.Price) {
		// Same equilibrium; volumes may drift but no event fires.
		t.mu.Unlock()
		return
	}
	t.discovered[instrumentID] = dp
	t.mu.Unlock()

	participants := book.AffectedParticipants(orders, dp.Price)
	for _, p := range participants {
		t.dispatcher.Enqueue(priceDiscoveredJob(p.AccountID, dp, p.OrderID))
	}

	t.broadcaster.Publish(event.PriceDiscoveredEvent{
		BaseEvent:      event.BaseEvent{InstrumentID: instrumentID, Ts: at},
		Price:          dp.Price,
		MaxTradable:    dp.MaxTradable,
		CumulativeBuy:  dp.CumulativeBuy,
		CumulativeSell: dp.CumulativeSell,
		AffectedCount:  len(participants),
	})

	slog.Info("Price discovered",
		slog.String("instrument", instrumentID),
		slog.String("price", dp.Price.StringFixed(2)),
		slog.Int64("max_tradable", dp.MaxTradable),
		slog.Int("affected", len(participants)))
}

// dropVanished forgets instruments whose last resting order vanished
// this cycle.
func (t *Tracker) dropVanished(byInstrument map[string][]domain.RestingOrder) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for instrumentID := range t.discovered {
		if _, ok := byInstrument[instrumentID]; !ok {
			delete(t.discovered, instrumentID)
			slog.Info("Discovered price removed (no resting orders)",
				slog.String("instrument", instrumentID))
		}
	}
}

// notifyCreatedAtDiscovered guarantees a participant placing an order
// at an already-discovered price is informed, even when the price
// itself did not move this cycle. The cooldown filter downstream
// absorbs duplicates with the change-driven notifications above.
func (t *Tracker) notifyCreatedAtDiscovered(res detector.CycleResult) {
	ordersByID := lo.SliceToMap(res.Orders, func(o domain.RestingOrder) (string, domain.RestingOrder) {
		return o.ID, o
	})

	for _, ch := range res.Changes {
		if ch.Kind != detector.Created {
			continue
		}
		order, ok := ordersByID[ch.OrderID]
		if !ok {
			continue
		}

		t.mu.RLock()
		dp, cached := t.discovered[order.InstrumentID]
		t.mu.RUnlock()
		if !cached || !book.Matches(order, dp.Price) {
			continue
		}

		t.dispatcher.Enqueue(priceDiscoveredJob(order.AccountID, dp, order.ID))
	}
}

// DiscoveredFor returns the cached discovered price for an instrument.
func (t *Tracker) DiscoveredFor(instrumentID string) (domain.DiscoveredPrice, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	dp, ok := t.discovered[instrumentID]
	return dp, ok
}

// Discovered returns a copy of the whole price cache, keyed by
// instrument.
func (t *Tracker) Discovered() map[string]domain.DiscoveredPrice {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]domain.DiscoveredPrice, len(t.discovered))
	for k, v := range t.discovered {
		out[k] = v
	}
	return out
}

func priceDiscoveredJob(accountID string, dp domain.DiscoveredPrice, orderID string) notify.Job {
	price := dp.Price.StringFixed(2)
	return notify.Job{
		AccountID:    accountID,
		InstrumentID: dp.InstrumentID,
		Price:        dp.Price,
		Title:        "Price discovered",
		Body:         fmt.Sprintf("%s is tradable at %s", dp.InstrumentID, price),
		Data: map[string]string{
			"instrument_id": dp.InstrumentID,
			"price":         price,
			"order_id":      orderID,
		},
	}
}
