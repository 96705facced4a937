package detector

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"broker_go/internal/domain"
	"broker_go/internal/event"
)

type fakeSource struct {
	mu     sync.Mutex
	orders []domain.RestingOrder
	err    error
	calls  int
	gate   chan struct{} // when set, ListRestingOrders blocks until closed
}

func (f *fakeSource) ListRestingOrders(ctx context.Context, instrumentID string) ([]domain.RestingOrder, error) {
	f.mu.Lock()
	f.calls++
	gate := f.gate
	err := f.err
	orders := append([]domain.RestingOrder(nil), f.orders...)
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return orders, nil
}

func (f *fakeSource) set(orders []domain.RestingOrder) {
	f.mu.Lock()
	f.orders = orders
	f.mu.Unlock()
}

func (f *fakeSource) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type recordingBroadcaster struct {
	mu     sync.Mutex
	events []event.Event
}

func (r *recordingBroadcaster) Publish(ev event.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recordingBroadcaster) all() []event.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]event.Event(nil), r.events...)
}

func order(id, instrument, side, price string, volume int64) domain.RestingOrder {
	p, _ := decimal.NewFromString(price)
	o := domain.RestingOrder{
		ID: id, AccountID: "acc-" + id, InstrumentID: instrument,
		Side: domain.Side(side), Price: p,
	}
	if o.Side == domain.SideBuy {
		o.BuyVolume = volume
	} else {
		o.SellVolume = volume
	}
	return o
}

func collectCycles() (func(CycleResult), func() []CycleResult) {
	var mu sync.Mutex
	var results []CycleResult
	record := func(res CycleResult) {
		mu.Lock()
		results = append(results, res)
		mu.Unlock()
	}
	read := func() []CycleResult {
		mu.Lock()
		defer mu.Unlock()
		return append([]CycleResult(nil), results...)
	}
	return record, read
}

func kinds(changes []Change) map[ChangeKind]int {
	out := make(map[ChangeKind]int)
	for _, ch := range changes {
		out[ch.Kind]++
	}
	return out
}

func TestRunCycle_FirstCycleReportsAllCreated(t *testing.T) {
	src := &fakeSource{orders: []domain.RestingOrder{
		order("B1", "ACME", "BUY", "100.00", 100),
		order("S1", "ACME", "SELL", "99.50", 150),
	}}
	record, read := collectCycles()
	d := New(src, nil, DefaultConfig(), record)

	d.RunCycle(context.Background())

	results := read()
	if len(results) != 1 {
		t.Fatalf("expected 1 cycle result, got %d", len(results))
	}
	k := kinds(results[0].Changes)
	if k[Created] != 2 || k[Updated] != 0 || k[Deleted] != 0 {
		t.Errorf("cold start must report all orders as created, got %v", k)
	}
}

func TestRunCycle_DetectsUpdateAndDelete(t *testing.T) {
	src := &fakeSource{orders: []domain.RestingOrder{
		order("B1", "ACME", "BUY", "100.00", 100),
		order("B2", "ACME", "BUY", "99.50", 200),
	}}
	record, read := collectCycles()
	d := New(src, nil, DefaultConfig(), record)

	d.RunCycle(context.Background())

	// B1 price moves, B2 disappears, S1 appears.
	src.set([]domain.RestingOrder{
		order("B1", "ACME", "BUY", "101.00", 100),
		order("S1", "ACME", "SELL", "99.00", 50),
	})
	d.RunCycle(context.Background())

	results := read()
	if len(results) != 2 {
		t.Fatalf("expected 2 cycle results, got %d", len(results))
	}
	k := kinds(results[1].Changes)
	if k[Created] != 1 || k[Updated] != 1 || k[Deleted] != 1 {
		t.Errorf("expected 1 of each kind, got %v", k)
	}
	for _, ch := range results[1].Changes {
		switch ch.Kind {
		case Created:
			if ch.OrderID != "S1" {
				t.Errorf("created change for %s, want S1", ch.OrderID)
			}
		case Updated:
			if ch.OrderID != "B1" {
				t.Errorf("updated change for %s, want B1", ch.OrderID)
			}
			if !ch.Before.Price.Equal(decimal.RequireFromString("100.00")) ||
				!ch.After.Price.Equal(decimal.RequireFromString("101.00")) {
				t.Errorf("update must carry before and after prices, got %s -> %s",
					ch.Before.Price, ch.After.Price)
			}
		case Deleted:
			if ch.OrderID != "B2" {
				t.Errorf("deleted change for %s, want B2", ch.OrderID)
			}
		}
	}
}

func TestRunCycle_IdenticalSnapshotYieldsNoChanges(t *testing.T) {
	src := &fakeSource{orders: []domain.RestingOrder{
		order("B1", "ACME", "BUY", "100.00", 100),
	}}
	record, read := collectCycles()
	d := New(src, nil, DefaultConfig(), record)

	d.RunCycle(context.Background())
	d.RunCycle(context.Background())

	results := read()
	if len(results) != 2 {
		t.Fatalf("expected 2 cycle results, got %d", len(results))
	}
	if len(results[1].Changes) != 0 {
		t.Errorf("identical snapshots must produce no changes, got %+v", results[1].Changes)
	}
}

func TestRunCycle_ReadErrorAbandonsCycleKeepingSnapshot(t *testing.T) {
	src := &fakeSource{orders: []domain.RestingOrder{
		order("B1", "ACME", "BUY", "100.00", 100),
		order("B2", "ACME", "BUY", "99.00", 50),
	}}
	record, read := collectCycles()
	d := New(src, nil, DefaultConfig(), record)

	d.RunCycle(context.Background())

	src.mu.Lock()
	src.err = errors.New("store unavailable")
	src.mu.Unlock()
	d.RunCycle(context.Background())

	if got := len(read()); got != 1 {
		t.Fatalf("abandoned cycle must not reach the handler, got %d results", got)
	}

	// Recovery diffs against the snapshot from before the outage.
	src.mu.Lock()
	src.err = nil
	src.orders = []domain.RestingOrder{order("B1", "ACME", "BUY", "100.00", 100)}
	src.mu.Unlock()
	d.RunCycle(context.Background())

	results := read()
	if len(results) != 2 {
		t.Fatalf("expected 2 completed cycles, got %d", len(results))
	}
	k := kinds(results[1].Changes)
	if k[Deleted] != 1 || k[Created] != 0 {
		t.Errorf("expected B2 reported deleted against the retained snapshot, got %v", k)
	}
}

func TestRunCycle_SkipsTickWhileInFlight(t *testing.T) {
	gate := make(chan struct{})
	src := &fakeSource{gate: gate, orders: []domain.RestingOrder{
		order("B1", "ACME", "BUY", "100.00", 100),
	}}
	d := New(src, nil, Config{Interval: time.Hour, ReadTimeout: time.Hour}, nil)

	done := make(chan struct{})
	go func() {
		d.RunCycle(context.Background())
		close(done)
	}()

	// Wait for the first cycle to be stuck inside the store read.
	deadline := time.Now().Add(time.Second)
	for src.callCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("first cycle never reached the store")
		}
		time.Sleep(time.Millisecond)
	}

	// This tick overlaps the stuck cycle and must return without a read.
	d.RunCycle(context.Background())
	if got := src.callCount(); got != 1 {
		t.Errorf("overlapping tick must be skipped, store read %d times", got)
	}

	close(gate)
	<-done

	d.RunCycle(context.Background())
	if got := src.callCount(); got != 2 {
		t.Errorf("expected the post-completion tick to read again, got %d calls", got)
	}
}

func TestSubscriberGating(t *testing.T) {
	src := &fakeSource{orders: []domain.RestingOrder{
		order("B1", "ACME", "BUY", "100.00", 100),
	}}
	record, read := collectCycles()
	d := New(src, nil, Config{Interval: 10 * time.Millisecond, ReadTimeout: time.Second}, record)

	if d.Active() {
		t.Fatal("detector must be inactive before the first subscriber")
	}

	d.AddSubscriber()
	d.AddSubscriber()
	if !d.Active() || d.Subscribers() != 2 {
		t.Fatalf("expected active with 2 subscribers, got active=%v n=%d", d.Active(), d.Subscribers())
	}

	// One subscriber leaving keeps the timer running.
	d.RemoveSubscriber()
	if !d.Active() {
		t.Error("detector must stay active while subscribers remain")
	}

	d.RemoveSubscriber()
	if d.Active() {
		t.Error("detector must stop when the last subscriber leaves")
	}

	// Restart is a cold start: every order reports as created again.
	before := len(read())
	d.AddSubscriber()
	deadline := time.Now().Add(time.Second)
	for len(read()) <= before {
		if time.Now().After(deadline) {
			t.Fatal("no cycle completed after restart")
		}
		time.Sleep(time.Millisecond)
	}
	d.RemoveSubscriber()

	results := read()
	restartCycle := results[before]
	k := kinds(restartCycle.Changes)
	if k[Created] != 1 {
		t.Errorf("restart must behave as a cold start, got %v", k)
	}
}

func TestPublishesOrderLifecycleEvents(t *testing.T) {
	src := &fakeSource{orders: []domain.RestingOrder{
		order("B1", "ACME", "BUY", "100.00", 100),
	}}
	rec := &recordingBroadcaster{}
	d := New(src, rec, DefaultConfig(), nil)

	d.RunCycle(context.Background())
	src.set([]domain.RestingOrder{order("B1", "ACME", "BUY", "101.00", 100)})
	d.RunCycle(context.Background())
	src.set(nil)
	d.RunCycle(context.Background())

	events := rec.all()
	if len(events) != 3 {
		t.Fatalf("expected 3 published events, got %d", len(events))
	}
	wantTypes := []event.Type{event.EvOrderCreated, event.EvOrderUpdated, event.EvOrderDeleted}
	for i, want := range wantTypes {
		if events[i].GetType() != want {
			t.Errorf("event %d: type %s, want %s", i, events[i].GetType(), want)
		}
		if events[i].GetInstrument() != "ACME" {
			t.Errorf("event %d: instrument %s, want ACME", i, events[i].GetInstrument())
		}
	}
}

func TestStopMonitoringIsIdempotent(t *testing.T) {
	src := &fakeSource{}
	d := New(src, nil, Config{Interval: time.Hour, ReadTimeout: time.Second}, nil)

	d.StartMonitoring()
	d.StartMonitoring()
	d.StopMonitoring()
	d.StopMonitoring()

	if d.Active() {
		t.Error("detector should be stopped")
	}
}
