package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/pable/racquet-metrics/internal/model"
)

// IndexMatches replaces the queryable match index with the given records. The index is a
// projection for ad-hoc SQL and summaries; the collection blob remains authoritative.
func (db *DB) IndexMatches(ctx context.Context, matches []model.MatchRecord) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM match_index"); err != nil {
		return fmt.Errorf("clear match index: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO match_index(
			id, started_at, sport, match_type, winner,
			self_score, opp_score, sets, events, duration_s,
			location, has_wearable
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, m := range matches {
		var loc any
		if m.Location != nil {
			loc = *m.Location
		}
		_, err = stmt.ExecContext(ctx,
			m.ID, m.StartedAt.UTC().Format(time.RFC3339), string(m.Sport), string(m.MatchType), m.Winner.String(),
			m.FinalScore.Self, m.FinalScore.Opponent, len(m.Sets), len(m.Events), int64(m.Duration.Seconds()),
			loc, boolInt(m.Wearable != nil),
		)
		if err != nil {
			return fmt.Errorf("index match %s: %w", m.ID, err)
		}
	}
	return tx.Commit()
}

// Overview is a high-level summary of the indexed matches.
type Overview struct {
	TotalMatches  int
	Wins          int
	Losses        int
	EarliestMatch string
	LatestMatch   string
	UniqueSports  int
	WithEvents    int
	TotalMinutes  int
}

// GetOverview summarizes the match index.
func (db *DB) GetOverview(ctx context.Context) (Overview, error) {
	var ov Overview
	var earliest, latest sql.NullString
	err := db.conn.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(winner = 'self'), 0),
		       COALESCE(SUM(winner = 'opponent'), 0),
		       MIN(started_at), MAX(started_at),
		       COUNT(DISTINCT sport),
		       COALESCE(SUM(events > 0), 0),
		       COALESCE(SUM(duration_s), 0) / 60
		FROM match_index`).Scan(
		&ov.TotalMatches, &ov.Wins, &ov.Losses, &earliest, &latest,
		&ov.UniqueSports, &ov.WithEvents, &ov.TotalMinutes,
	)
	if err != nil {
		return Overview{}, fmt.Errorf("query overview: %w", err)
	}
	ov.EarliestMatch = earliest.String
	ov.LatestMatch = latest.String
	return ov, nil
}

// SportStats is the per-sport breakdown of the match index.
type SportStats struct {
	Sport   string
	Matches int
	Wins    int
	Losses  int
	Minutes int
}

// GetSportStats returns per-sport counts ordered by matches played.
func (db *DB) GetSportStats(ctx context.Context) ([]SportStats, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT sport, COUNT(*), SUM(winner = 'self'), SUM(winner = 'opponent'), SUM(duration_s) / 60
		FROM match_index GROUP BY sport ORDER BY COUNT(*) DESC, sport`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SportStats
	for rows.Next() {
		var s SportStats
		if err := rows.Scan(&s.Sport, &s.Matches, &s.Wins, &s.Losses, &s.Minutes); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// QueryRaw runs an arbitrary query and returns column names and stringified rows.
func (db *DB) QueryRaw(query string) ([]string, [][]string, error) {
	rows, err := db.conn.Query(query)
	if err != nil {
		return nil, nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, nil, err
	}
	var out [][]string
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, nil, err
		}
		row := make([]string, len(cols))
		for i, v := range vals {
			switch x := v.(type) {
			case nil:
				row[i] = "NULL"
			case []byte:
				row[i] = string(x)
			default:
				row[i] = fmt.Sprint(x)
			}
		}
		out = append(out, row)
	}
	return cols, out, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
