package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"depegshield/internal/audit"
)

const (
	insertPricePointSQL = `INSERT INTO price_history (
        asset, price, source, observed_at
    ) VALUES (
        $1,$2,$3,$4
    )
    ON CONFLICT (asset, observed_at) DO NOTHING;`

	listPriceHistoryBetweenSQL = `SELECT asset, price, source, observed_at, created_at
    FROM price_history
    WHERE asset = $1
      AND observed_at >= $2
      AND observed_at < $3
    ORDER BY observed_at;`

	listRecentPriceHistorySQL = `SELECT asset, price, source, observed_at, created_at
    FROM price_history
    WHERE asset = $1
    ORDER BY observed_at DESC
    LIMIT $2;`

	countPriceHistorySQL = `SELECT COUNT(*) FROM price_history WHERE asset = $1;`

	insertAuditSQL = `INSERT INTO audit_log (
        id, ts, actor, action, before_state, after_state, result, error
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8
    );`
)

// AppendPricePoint records one accepted price observation.
func (s *Store) AppendPricePoint(ctx context.Context, point PricePoint) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	_, execErr := pool.Exec(ctx, insertPricePointSQL,
		point.Asset,
		point.Price.String(),
		point.Source,
		point.Timestamp,
	)
	if execErr != nil {
		return fmt.Errorf("insert price point: %w", execErr)
	}
	return nil
}

// ListPriceHistoryBetween lists accepted prices within a time window.
func (s *Store) ListPriceHistoryBetween(ctx context.Context, asset string, from, to time.Time) ([]PricePoint, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, queryErr := pool.Query(ctx, listPriceHistoryBetweenSQL, asset, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list price history between: %w", queryErr)
	}
	defer rows.Close()
	return collectPricePoints(rows)
}

// ListRecentPriceHistory lists the most recent accepted prices, newest first.
func (s *Store) ListRecentPriceHistory(ctx context.Context, asset string, limit int) ([]PricePoint, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, queryErr := pool.Query(ctx, listRecentPriceHistorySQL, asset, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent price history: %w", queryErr)
	}
	defer rows.Close()
	return collectPricePoints(rows)
}

// CountPriceHistory counts stored observations for an asset.
func (s *Store) CountPriceHistory(ctx context.Context, asset string) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countPriceHistorySQL, asset).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count price history: %w", scanErr)
	}
	return count, nil
}

// Append persists one audit record.
func (s *Store) Append(ctx context.Context, rec audit.Record) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	_, execErr := pool.Exec(ctx, insertAuditSQL,
		rec.ID,
		rec.Timestamp,
		rec.Actor,
		rec.Action,
		[]byte(rec.Before),
		[]byte(rec.After),
		rec.Result,
		rec.Error,
	)
	if execErr != nil {
		return fmt.Errorf("insert audit record: %w", execErr)
	}
	return nil
}

func collectPricePoints(rows pgx.Rows) ([]PricePoint, error) {
	points := make([]PricePoint, 0)
	for rows.Next() {
		var (
			point PricePoint
			price string
		)
		if err := rows.Scan(&point.Asset, &price, &point.Source, &point.Timestamp, &point.CreatedAt); err != nil {
			return nil, err
		}
		parsed, convErr := decimal.NewFromString(price)
		if convErr != nil {
			return nil, fmt.Errorf("parse price: %w", convErr)
		}
		point.Price = parsed
		points = append(points, point)
	}
	return points, rows.Err()
}

var _ audit.Sink = (*Store)(nil)
