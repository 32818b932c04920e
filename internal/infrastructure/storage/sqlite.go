package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/vitos/crypto_trade_engine/internal/domain"
)

// SQLiteStore persists positions so open exposure survives restarts.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS positions (
			id TEXT PRIMARY KEY,
			symbol TEXT NOT NULL,
			strategy TEXT NOT NULL,
			side TEXT NOT NULL,
			entry_price REAL NOT NULL,
			quantity REAL NOT NULL,
			notional REAL NOT NULL,
			stop_loss_price REAL NOT NULL,
			take_profit_price REAL NOT NULL,
			trailing_enabled BOOLEAN NOT NULL DEFAULT 0,
			trailing_active BOOLEAN NOT NULL DEFAULT 0,
			trailing_pct REAL NOT NULL DEFAULT 0,
			ladder TEXT NOT NULL DEFAULT '[]',
			high_water_price REAL NOT NULL,
			low_water_price REAL NOT NULL,
			current_price REAL NOT NULL,
			unrealized_pnl REAL NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			exit_reason TEXT NOT NULL DEFAULT '',
			exit_price REAL NOT NULL DEFAULT 0,
			realized_pnl REAL NOT NULL DEFAULT 0,
			max_hold_ms INTEGER NOT NULL DEFAULT 0,
			opened_at DATETIME NOT NULL,
			closed_at DATETIME
		);`,
		`CREATE INDEX IF NOT EXISTS idx_positions_status ON positions(status);`,
		`CREATE INDEX IF NOT EXISTS idx_positions_symbol_status ON positions(symbol, status);`,
	}

	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("failed to exec query %s: %w", q, err)
		}
	}
	return nil
}

const positionColumns = `id, symbol, strategy, side, entry_price, quantity, notional,
	stop_loss_price, take_profit_price, trailing_enabled, trailing_active, trailing_pct,
	ladder, high_water_price, low_water_price, current_price, unrealized_pnl,
	status, exit_reason, exit_price, realized_pnl, max_hold_ms, opened_at, closed_at`

func (s *SQLiteStore) SavePosition(ctx context.Context, pos *domain.Position) error {
	ladder, err := json.Marshal(pos.Ladder)
	if err != nil {
		return fmt.Errorf("marshal ladder: %w", err)
	}
	query := `INSERT INTO positions (` + positionColumns + `)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, query,
		pos.ID, pos.Symbol, pos.Strategy, string(pos.Side), pos.EntryPrice, pos.Quantity, pos.Notional,
		pos.StopLossPrice, pos.TakeProfitPrice, pos.TrailingEnabled, pos.TrailingActive, pos.TrailingPct,
		string(ladder), pos.HighWaterPrice, pos.LowWaterPrice, pos.CurrentPrice, pos.UnrealizedPnL,
		string(pos.Status), pos.ExitReason, pos.ExitPrice, pos.RealizedPnL, pos.MaxHold.Milliseconds(),
		pos.OpenedAt, nullableTime(pos.ClosedAt))
	return err
}

func (s *SQLiteStore) UpdatePosition(ctx context.Context, pos *domain.Position) error {
	ladder, err := json.Marshal(pos.Ladder)
	if err != nil {
		return fmt.Errorf("marshal ladder: %w", err)
	}
	query := `UPDATE positions SET
			  stop_loss_price = ?, take_profit_price = ?, trailing_active = ?,
			  ladder = ?, high_water_price = ?, low_water_price = ?, current_price = ?,
			  unrealized_pnl = ?, status = ?, exit_reason = ?, exit_price = ?,
			  realized_pnl = ?, closed_at = ?
			  WHERE id = ?`
	res, err := s.db.ExecContext(ctx, query,
		pos.StopLossPrice, pos.TakeProfitPrice, pos.TrailingActive,
		string(ladder), pos.HighWaterPrice, pos.LowWaterPrice, pos.CurrentPrice,
		pos.UnrealizedPnL, string(pos.Status), pos.ExitReason, pos.ExitPrice,
		pos.RealizedPnL, nullableTime(pos.ClosedAt), pos.ID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return fmt.Errorf("position %s not found", pos.ID)
	}
	return err
}

func (s *SQLiteStore) GetOpenPositions(ctx context.Context) ([]*domain.Position, error) {
	query := `SELECT ` + positionColumns + ` FROM positions WHERE status = ?`
	rows, err := s.db.QueryContext(ctx, query, string(domain.StatusOpen))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []*domain.Position
	for rows.Next() {
		pos, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, pos)
	}
	return positions, rows.Err()
}

func (s *SQLiteStore) GetOpenBySymbol(ctx context.Context, symbol string) (*domain.Position, error) {
	query := `SELECT ` + positionColumns + ` FROM positions WHERE symbol = ? AND status = ? LIMIT 1`
	row := s.db.QueryRowContext(ctx, query, symbol, string(domain.StatusOpen))
	pos, err := scanPosition(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return pos, err
}

func (s *SQLiteStore) ListClosed(ctx context.Context, limit int) ([]*domain.Position, error) {
	query := `SELECT ` + positionColumns + ` FROM positions WHERE status = ? ORDER BY closed_at DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, string(domain.StatusClosed), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []*domain.Position
	for rows.Next() {
		pos, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, pos)
	}
	return positions, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPosition(row rowScanner) (*domain.Position, error) {
	var pos domain.Position
	var side, status, ladder string
	var maxHoldMs int64
	var closedAt sql.NullTime

	err := row.Scan(&pos.ID, &pos.Symbol, &pos.Strategy, &side, &pos.EntryPrice, &pos.Quantity, &pos.Notional,
		&pos.StopLossPrice, &pos.TakeProfitPrice, &pos.TrailingEnabled, &pos.TrailingActive, &pos.TrailingPct,
		&ladder, &pos.HighWaterPrice, &pos.LowWaterPrice, &pos.CurrentPrice, &pos.UnrealizedPnL,
		&status, &pos.ExitReason, &pos.ExitPrice, &pos.RealizedPnL, &maxHoldMs, &pos.OpenedAt, &closedAt)
	if err != nil {
		return nil, err
	}

	pos.Side = domain.Side(side)
	pos.Status = domain.PositionStatus(status)
	pos.MaxHold = time.Duration(maxHoldMs) * time.Millisecond
	if closedAt.Valid {
		pos.ClosedAt = closedAt.Time
	}
	if err := json.Unmarshal([]byte(ladder), &pos.Ladder); err != nil {
		return nil, fmt.Errorf("unmarshal ladder: %w", err)
	}
	return &pos, nil
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
