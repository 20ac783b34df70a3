package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/pable/racquet-metrics/internal/model"
)

// LoadProgress returns the user's achievement rows keyed by type.
func (db *DB) LoadProgress(ctx context.Context, userID string) (map[string]model.AchievementProgress, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT type, current_value, highest_tier, last_match_id, last_evaluated_at
		FROM achievement_progress WHERE user_id = ?`, userID)
	if err != nil {
		return nil, fmt.Errorf("query progress: %w", err)
	}
	defer rows.Close()

	out := make(map[string]model.AchievementProgress)
	for rows.Next() {
		p := model.AchievementProgress{UserID: userID}
		var tier sql.NullInt64
		var evaluated string
		if err := rows.Scan(&p.Type, &p.CurrentValue, &tier, &p.LastMatchID, &evaluated); err != nil {
			return nil, err
		}
		if tier.Valid {
			t := int(tier.Int64)
			p.HighestTier = &t
		}
		p.LastEvaluatedAt, _ = time.Parse(time.RFC3339Nano, evaluated)
		out[p.Type] = p
	}
	return out, rows.Err()
}

// SaveProgress upserts rows in one transaction.
func (db *DB) SaveProgress(ctx context.Context, progress []model.AchievementProgress) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO achievement_progress(
			user_id, type, current_value, highest_tier, last_match_id, last_evaluated_at
		) VALUES (?,?,?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, p := range progress {
		var tier any
		if p.HighestTier != nil {
			tier = *p.HighestTier
		}
		_, err = stmt.ExecContext(ctx, p.UserID, p.Type, p.CurrentValue, tier, p.LastMatchID,
			p.LastEvaluatedAt.UTC().Format(time.RFC3339Nano))
		if err != nil {
			return fmt.Errorf("save progress %s/%s: %w", p.UserID, p.Type, err)
		}
	}
	return tx.Commit()
}

// ResetProgress deletes every row for the user atomically.
func (db *DB) ResetProgress(ctx context.Context, userID string) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, "DELETE FROM achievement_progress WHERE user_id = ?", userID); err != nil {
		return fmt.Errorf("reset progress: %w", err)
	}
	return tx.Commit()
}
