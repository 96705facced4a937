package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	_ "github.com/glebarez/go-sqlite"

	"broker_go/internal/domain"
)

// OrderStore reads resting orders from SQLite. The engine only ever
// lists; the write helpers exist for tests and the integration runner,
// standing in for the external order-entry workflows.
type OrderStore struct {
	db *sql.DB
}

// NewOrderStore opens (and if needed creates) the order database with
// WAL mode enabled.
func NewOrderStore(dbPath string) (*OrderStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA cache_size=-2000;", // 2MB cache
		"PRAGMA foreign_keys=ON;",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return nil, fmt.Errorf("failed to set pragma %s: %w", pragma, err)
		}
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS resting_orders (
			id TEXT PRIMARY KEY,
			account_id TEXT NOT NULL,
			instrument_id TEXT NOT NULL,
			side TEXT NOT NULL,
			price TEXT,
			buy_volume INTEGER,
			sell_volume INTEGER,
			correlation_tag TEXT,
			participant_id TEXT
		);
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to create resting_orders table: %w", err)
	}

	return &OrderStore{db: db}, nil
}

// orderRow mirrors one resting_orders row with nullability intact.
// Coercion of null or malformed numerics to zero happens here and
// nowhere downstream.
type orderRow struct {
	id             string
	accountID      string
	instrumentID   string
	side           string
	price          sql.NullString
	buyVolume      sql.NullInt64
	sellVolume     sql.NullInt64
	correlationTag sql.NullString
	participantID  sql.NullString
}

func (r orderRow) toDomain() domain.RestingOrder {
	price := decimal.Zero
	if r.price.Valid {
		if p, err := decimal.NewFromString(r.price.String); err == nil {
			price = p
		}
	}
	return domain.RestingOrder{
		ID:             r.id,
		AccountID:      r.accountID,
		InstrumentID:   r.instrumentID,
		Side:           domain.Side(r.side),
		Price:          price,
		BuyVolume:      r.buyVolume.Int64,
		SellVolume:     r.sellVolume.Int64,
		CorrelationTag: r.correlationTag.String,
		ParticipantID:  r.participantID.String,
	}
}

// ListRestingOrders returns the current resting orders, optionally
// narrowed to one instrument. Read-only; repeated calls carry no
// transactional guarantee beyond eventual consistency.
func (s *OrderStore) ListRestingOrders(ctx context.Context, instrumentID string) ([]domain.RestingOrder, error) {
	query := `SELECT id, account_id, instrument_id, side, price, buy_volume, sell_volume, correlation_tag, participant_id
		FROM resting_orders`
	args := []interface{}{}
	if instrumentID != "" {
		query += " WHERE instrument_id = ?"
		args = append(args, instrumentID)
	}
	query += " ORDER BY id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query resting orders: %w", err)
	}
	defer rows.Close()

	var raw []orderRow
	for rows.Next() {
		var r orderRow
		if err := rows.Scan(&r.id, &r.accountID, &r.instrumentID, &r.side,
			&r.price, &r.buyVolume, &r.sellVolume, &r.correlationTag, &r.participantID); err != nil {
			return nil, fmt.Errorf("failed to scan resting order: %w", err)
		}
		raw = append(raw, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return lo.Map(raw, func(r orderRow, _ int) domain.RestingOrder {
		return r.toDomain()
	}), nil
}

// InsertOrder adds a resting order. Test/integration helper.
func (s *OrderStore) InsertOrder(ctx context.Context, o domain.RestingOrder) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO resting_orders (id, account_id, instrument_id, side, price, buy_volume, sell_volume, correlation_tag, participant_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.AccountID, o.InstrumentID, string(o.Side), o.Price.StringFixed(2),
		o.BuyVolume, o.SellVolume, o.CorrelationTag, o.ParticipantID,
	)
	if err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}
	return nil
}

// UpdateOrderPrice amends an order's price. Test/integration helper.
func (s *OrderStore) UpdateOrderPrice(ctx context.Context, orderID string, price decimal.Decimal) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE resting_orders SET price = ? WHERE id = ?",
		price.StringFixed(2), orderID,
	)
	if err != nil {
		return fmt.Errorf("failed to update order price: %w", err)
	}
	return nil
}

// DeleteOrder removes an order, as a cancellation or full execution
// would. Test/integration helper.
func (s *OrderStore) DeleteOrder(ctx context.Context, orderID string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM resting_orders WHERE id = ?", orderID)
	if err != nil {
		return fmt.Errorf("failed to delete order: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *OrderStore) Close() error {
	return s.db.Close()
}
