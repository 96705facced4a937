package detector

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/samber/lo"

	"broker_go/internal/domain"
	"broker_go/internal/event"
)

// OrderSource is the external read interface over the order store.
// instrumentID narrows the listing; empty string means all
// instruments. No transactional guarantee is assumed across calls.
type OrderSource interface {
	ListRestingOrders(ctx context.Context, instrumentID string) ([]domain.RestingOrder, error)
}

// ChangeKind discriminates the three diff outcomes of a poll cycle.
type ChangeKind int

const (
	Created ChangeKind = iota + 1
	Updated
	Deleted
)

func (k ChangeKind) String() string {
	switch k {
	case Created:
		return "created"
	case Updated:
		return "updated"
	case Deleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// Change describes one order whose projection differs from the
// previous snapshot. Before is zero-valued for creations, After for
// deletions.
type Change struct {
	Kind         ChangeKind
	OrderID      string
	InstrumentID string
	Before       domain.OrderProjection
	After        domain.OrderProjection
}

// CycleResult is handed to the downstream handler after every
// completed poll cycle.
type CycleResult struct {
	At      time.Time
	Orders  []domain.RestingOrder
	Changes []Change
}

// ChangeDetector substitutes for absent change-data-capture: it polls
// the order store on a fixed interval, diffs successive full
// snapshots, and emits discrete creation/update/deletion events.
//
// The timer runs only while at least one subscriber is registered.
// Stopping discards the retained snapshot, so a later restart behaves
// as a cold start and reports every resting order as created.
type ChangeDetector struct {
	source      OrderSource
	broadcaster event.Broadcaster
	onCycle     func(CycleResult)

	interval    time.Duration
	readTimeout time.Duration
	now         func() time.Time

	mu          sync.Mutex // guards subscribers and cancel
	subscribers int
	cancel      context.CancelFunc
	wg          sync.WaitGroup

	snapMu   sync.Mutex
	snapshot map[string]domain.OrderProjection

	inFlight atomic.Bool
	active   atomic.Bool
}

// Config holds the detector's timing knobs.
type Config struct {
	Interval    time.Duration
	ReadTimeout time.Duration
}

// DefaultConfig returns the default polling cadence.
func DefaultConfig() Config {
	return Config{
		Interval:    5 * time.Second,
		ReadTimeout: 3 * time.Second,
	}
}

// New creates a detector. onCycle is invoked synchronously after every
// completed cycle; it must not block for long or it delays the next
// tick's in-flight check.
func New(source OrderSource, broadcaster event.Broadcaster, cfg Config, onCycle func(CycleResult)) *ChangeDetector {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultConfig().ReadTimeout
	}
	if broadcaster == nil {
		broadcaster = event.NopBroadcaster{}
	}
	return &ChangeDetector{
		source:      source,
		broadcaster: broadcaster,
		onCycle:     onCycle,
		interval:    cfg.Interval,
		readTimeout: cfg.ReadTimeout,
		now:         time.Now,
	}
}

// AddSubscriber registers one more consumer of the change feed. The
// first subscriber starts monitoring.
func (d *ChangeDetector) AddSubscriber() {
	d.mu.Lock()
	d.subscribers++
	first := d.subscribers == 1
	d.mu.Unlock()

	if first {
		d.StartMonitoring()
	}
}

// RemoveSubscriber drops one consumer. When the last one goes,
// monitoring stops and the snapshot is discarded.
func (d *ChangeDetector) RemoveSubscriber() {
	d.mu.Lock()
	if d.subscribers > 0 {
		d.subscribers--
	}
	last := d.subscribers == 0
	d.mu.Unlock()

	if last {
		d.StopMonitoring()
	}
}

// StartMonitoring begins the recurring poll timer. Idempotent.
func (d *ChangeDetector) StartMonitoring() {
	d.mu.Lock()
	if d.cancel != nil {
		d.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	d.mu.Unlock()

	d.active.Store(true)
	d.wg.Add(1)
	go d.runLoop(ctx)
	slog.Info("Change detector started", slog.Duration("interval", d.interval))
}

// StopMonitoring cancels the timer deterministically and clears the
// retained snapshot. Idempotent.
func (d *ChangeDetector) StopMonitoring() {
	d.mu.Lock()
	cancel := d.cancel
	d.cancel = nil
	d.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	d.wg.Wait()

	d.snapMu.Lock()
	d.snapshot = nil
	d.snapMu.Unlock()

	d.active.Store(false)
	slog.Info("Change detector stopped, snapshot discarded")
}

// Active reports whether the poll timer is currently running.
func (d *ChangeDetector) Active() bool {
	return d.active.Load()
}

// Subscribers returns the current registration count.
func (d *ChangeDetector) Subscribers() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.subscribers
}

func (d *ChangeDetector) runLoop(ctx context.Context) {
	defer d.wg.Done()

	// First cycle immediately so new subscribers see fresh state.
	d.RunCycle(ctx)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.RunCycle(ctx)
		}
	}
}

// RunCycle executes one poll cycle. A cycle never starts while the
// previous one is still running: the tick is skipped, not queued.
func (d *ChangeDetector) RunCycle(ctx context.Context) {
	if !d.inFlight.CompareAndSwap(false, true) {
		slog.Warn("Poll cycle still in flight, skipping tick")
		return
	}
	defer d.inFlight.Store(false)

	rctx, cancel := context.WithTimeout(ctx, d.readTimeout)
	orders, err := d.source.ListRestingOrders(rctx, "")
	cancel()
	if err != nil {
		// Abandon the cycle without touching the snapshot; the next
		// tick retries.
		slog.Warn("Order listing failed, cycle abandoned", slog.Any("error", err))
		return
	}

	current := lo.SliceToMap(orders, func(o domain.RestingOrder) (string, domain.OrderProjection) {
		return o.ID, domain.Project(o)
	})

	d.snapMu.Lock()
	previous := d.snapshot
	d.snapMu.Unlock()

	at := d.now()
	changes := diffSnapshots(previous, current)
	for _, ch := range changes {
		d.publishChange(ch, at)
	}

	if d.onCycle != nil {
		d.onCycle(CycleResult{At: at, Orders: orders, Changes: changes})
	}

	d.snapMu.Lock()
	d.snapshot = current
	d.snapMu.Unlock()
}

// diffSnapshots derives Created/Updated/Deleted changes between two
// keyed snapshots. On a cold start previous is nil and every order
// reports as created; that is expected, not an error.
func diffSnapshots(previous, current map[string]domain.OrderProjection) []Change {
	var changes []Change

	for id, proj := range current {
		prev, ok := previous[id]
		if !ok {
			changes = append(changes, Change{
				Kind:         Created,
				OrderID:      id,
				InstrumentID: proj.InstrumentID,
				After:        proj,
			})
			continue
		}
		if proj.Changed(prev) {
			changes = append(changes, Change{
				Kind:         Updated,
				OrderID:      id,
				InstrumentID: proj.InstrumentID,
				Before:       prev,
				After:        proj,
			})
		}
	}
	for id, prev := range previous {
		if _, ok := current[id]; !ok {
			changes = append(changes, Change{
				Kind:         Deleted,
				OrderID:      id,
				InstrumentID: prev.InstrumentID,
				Before:       prev,
			})
		}
	}
	return changes
}

func (d *ChangeDetector) publishChange(ch Change, at time.Time) {
	base := event.BaseEvent{InstrumentID: ch.InstrumentID, Ts: at}
	switch ch.Kind {
	case Created:
		d.broadcaster.Publish(event.OrderCreatedEvent{BaseEvent: base, OrderID: ch.OrderID, Order: ch.After})
	case Updated:
		d.broadcaster.Publish(event.OrderUpdatedEvent{BaseEvent: base, OrderID: ch.OrderID, Before: ch.Before, After: ch.After})
	case Deleted:
		d.broadcaster.Publish(event.OrderDeletedEvent{BaseEvent: base, OrderID: ch.OrderID, Last: ch.Before})
	}
}
