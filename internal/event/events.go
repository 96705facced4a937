package event

import (
	"time"

	"github.com/shopspring/decimal"

	"broker_go/internal/domain"
)

// Type defines the type of broadcast event.
type Type uint16

const (
	EvOrderCreated Type = iota + 1
	EvOrderUpdated
	EvOrderDeleted
	EvPriceDiscovered
	EvInitialSnapshot
)

// String returns the wire name used on the broadcast feed.
func (t Type) String() string {
	switch t {
	case EvOrderCreated:
		return "orderCreated"
	case EvOrderUpdated:
		return "orderUpdated"
	case EvOrderDeleted:
		return "orderDeleted"
	case EvPriceDiscovered:
		return "priceDiscovered"
	case EvInitialSnapshot:
		return "initialSnapshot"
	default:
		return "unknown"
	}
}

// Event is the interface for everything published to the broadcast
// registry. Instrument routing uses GetInstrument; subscribers of the
// global feed receive every event.
type Event interface {
	GetType() Type
	GetInstrument() string
	GetTs() time.Time
}

// Broadcaster fans events out to connected real-time clients. The
// engine only publishes into it; Publish must never block the caller.
type Broadcaster interface {
	Publish(ev Event)
}

// NopBroadcaster discards every event. Used when no real-time feed is
// wired, and in tests.
type NopBroadcaster struct{}

func (NopBroadcaster) Publish(Event) {}

// BaseEvent contains common fields for all events.
type BaseEvent struct {
	InstrumentID string    `json:"instrument_id"`
	Ts           time.Time `json:"ts"`
}

func (e BaseEvent) GetInstrument() string { return e.InstrumentID }
func (e BaseEvent) GetTs() time.Time      { return e.Ts }

// OrderCreatedEvent reports an order that appeared since the previous
// poll cycle.
type OrderCreatedEvent struct {
	BaseEvent
	OrderID string                 `json:"order_id"`
	Order   domain.OrderProjection `json:"order"`
}

func (e OrderCreatedEvent) GetType() Type { return EvOrderCreated }

// OrderUpdatedEvent carries both the before and after projection of a
// mutated order.
type OrderUpdatedEvent struct {
	BaseEvent
	OrderID string                 `json:"order_id"`
	Before  domain.OrderProjection `json:"before"`
	After   domain.OrderProjection `json:"after"`
}

func (e OrderUpdatedEvent) GetType() Type { return EvOrderUpdated }

// OrderDeletedEvent reports an order removed by cancellation or full
// execution, with its last known projection.
type OrderDeletedEvent struct {
	BaseEvent
	OrderID string                 `json:"order_id"`
	Last    domain.OrderProjection `json:"last"`
}

func (e OrderDeletedEvent) GetType() Type { return EvOrderDeleted }

// PriceDiscoveredEvent announces a new equilibrium price for an
// instrument.
type PriceDiscoveredEvent struct {
	BaseEvent
	Price          decimal.Decimal `json:"price"`
	MaxTradable    int64           `json:"max_tradable"`
	CumulativeBuy  int64           `json:"cumulative_buy"`
	CumulativeSell int64           `json:"cumulative_sell"`
	AffectedCount  int             `json:"affected_count"`
}

func (e PriceDiscoveredEvent) GetType() Type { return EvPriceDiscovered }

// InitialSnapshotEvent is sent once to a subscriber when it attaches,
// carrying the current book for its instrument.
type InitialSnapshotEvent struct {
	BaseEvent
	Buys       []domain.PriceLevel     `json:"buys"`
	Sells      []domain.PriceLevel     `json:"sells"`
	Discovered *domain.DiscoveredPrice `json:"discovered,omitempty"`
}

func (e InitialSnapshotEvent) GetType() Type { return EvInitialSnapshot }
