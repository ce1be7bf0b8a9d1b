package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// PredictionRecord is one logged successful prediction. UserID is empty for anonymous requests.
type PredictionRecord struct {
	ID             int64           `db:"id" json:"id"`
	UserID         sql.NullInt64   `db:"user_id" json:"-"`
	SchemaVersion  string          `db:"schema_version" json:"schema_version"`
	Features       json.RawMessage `db:"features" json:"features"`
	PredictedSales float64         `db:"predicted_sales" json:"predicted_sales"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
}

func (s *Store) SavePrediction(ctx context.Context, rec *PredictionRecord) error {
	if rec.SchemaVersion == "" {
		return errors.New("schema version required")
	}
	if len(rec.Features) == 0 {
		return errors.New("features required")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	query := s.db.Rebind(`
        INSERT INTO predictions (user_id, schema_version, features, predicted_sales, created_at)
        VALUES (?, ?, ?, ?, ?)
        RETURNING id`)
	err := s.db.QueryRowxContext(ctx, query,
		rec.UserID, rec.SchemaVersion, string(rec.Features), rec.PredictedSales, rec.CreatedAt,
	).Scan(&rec.ID)
	if err != nil {
		return fmt.Errorf("save prediction: %w", err)
	}
	return nil
}

// RecentPredictions returns the newest predictions of a user, newest first.
func (s *Store) RecentPredictions(ctx context.Context, userID int64, limit int) ([]PredictionRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	query := s.db.Rebind(`
        SELECT id, user_id, schema_version, features, predicted_sales, created_at
        FROM predictions
        WHERE user_id = ?
        ORDER BY created_at DESC, id DESC
        LIMIT ?`)
	rows, err := s.db.QueryxContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent predictions: %w", err)
	}
	defer rows.Close()

	records := make([]PredictionRecord, 0, limit)
	for rows.Next() {
		var rec PredictionRecord
		var features string
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.SchemaVersion, &features, &rec.PredictedSales, &rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.Features = json.RawMessage(features)
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (s *Store) CountPredictions(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM predictions`); err != nil {
		return 0, err
	}
	return n, nil
}
