package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/arcade-progression/internal/domain"
	"github.com/jackc/pgx/v5"
)

// RankedWindow aggregates score records of non-banned players into one page
// of a window. Windows other than global exclude players with no points.
func (r *Repository) RankedWindow(ctx context.Context, q domain.RankQuery) ([]domain.LeaderboardEntry, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	var since *time.Time
	if !q.Since.IsZero() {
		s := q.Since.UTC()
		since = &s
	}
	includeEmpty := q.Window == domain.WindowGlobal

	query := `
		SELECT p.id, p.username,
			   COALESCE(SUM(s.points), 0) AS points,
			   COALESCE(g.current_level, 1) AS level,
			   COALESCE(g.total_xp, 0) AS total_xp
		FROM players p
		LEFT JOIN score_records s
			ON s.player_id = p.id AND ($1::timestamptz IS NULL OR s.completed_at >= $1)
		LEFT JOIN progression_states g
			ON g.player_id = p.id AND g.game_type = ''
		WHERE NOT p.banned
		GROUP BY p.id, p.username, g.current_level, g.total_xp
		HAVING $2::boolean OR COALESCE(SUM(s.points), 0) > 0
		ORDER BY points DESC, total_xp DESC, p.id ASC
		LIMIT $3 OFFSET $4
	`
	rows, err := r.pool.Query(ctx, query, since, includeEmpty, q.Limit, q.Offset)
	if err != nil {
		return nil, transient("getting ranked window", err)
	}
	defer rows.Close()

	entries := make([]domain.LeaderboardEntry, 0, q.Limit)
	for rows.Next() {
		var e domain.LeaderboardEntry
		if err := rows.Scan(&e.PlayerID, &e.Username, &e.Points, &e.Level, &e.TotalXP); err != nil {
			return nil, transient("scanning entry", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, transient("reading ranked window", err)
	}
	return entries, nil
}

// TotalPoints returns a player's all-time points
func (r *Repository) TotalPoints(ctx context.Context, playerID string) (int64, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	var total int64
	err := r.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(s.points), 0)
		FROM players p
		LEFT JOIN score_records s ON s.player_id = p.id
		WHERE p.id = $1
		GROUP BY p.id
	`, playerID).Scan(&total)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, domain.ErrPlayerNotFound
		}
		return 0, transient("getting total points", err)
	}
	return total, nil
}

// CountPlayersAbove counts non-banned players with strictly more all-time points
func (r *Repository) CountPlayersAbove(ctx context.Context, points int64) (int64, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	var n int64
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM (
			SELECT p.id
			FROM players p
			JOIN score_records s ON s.player_id = p.id
			WHERE NOT p.banned
			GROUP BY p.id
			HAVING SUM(s.points) > $1
		) above
	`, points).Scan(&n)
	if err != nil {
		return 0, transient("counting players above", err)
	}
	return n, nil
}

// UpsertSnapshot stores the entries of a dated snapshot, replacing rows of
// the same player, date and window.
func (r *Repository) UpsertSnapshot(ctx context.Context, snap domain.Snapshot) error {
	if len(snap.Entries) == 0 {
		return nil
	}
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	batch := &pgx.Batch{}
	query := `
		INSERT INTO leaderboard_snapshots (snapshot_date, time_window, player_id, rank, username, points, level, total_xp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (snapshot_date, time_window, player_id)
		DO UPDATE SET
			rank = EXCLUDED.rank,
			username = EXCLUDED.username,
			points = EXCLUDED.points,
			level = EXCLUDED.level,
			total_xp = EXCLUDED.total_xp
	`
	date := snapshotDate(snap.Date)
	for _, e := range snap.Entries {
		batch.Queue(query, date, string(snap.Window), e.PlayerID, e.Rank, e.Username, e.Points, e.Level, e.TotalXP)
	}

	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range snap.Entries {
		if _, err := br.Exec(); err != nil {
			return transient("upserting snapshot", err)
		}
	}
	return nil
}

// GetSnapshot returns a stored snapshot ordered by rank
func (r *Repository) GetSnapshot(ctx context.Context, date time.Time, window domain.Window) (*domain.Snapshot, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	rows, err := r.pool.Query(ctx, `
		SELECT rank, player_id, username, points, level, total_xp
		FROM leaderboard_snapshots
		WHERE snapshot_date = $1 AND time_window = $2
		ORDER BY rank
	`, snapshotDate(date), string(window))
	if err != nil {
		return nil, transient("getting snapshot", err)
	}
	defer rows.Close()

	snap := &domain.Snapshot{Date: snapshotDate(date), Window: window}
	for rows.Next() {
		var e domain.LeaderboardEntry
		if err := rows.Scan(&e.Rank, &e.PlayerID, &e.Username, &e.Points, &e.Level, &e.TotalXP); err != nil {
			return nil, transient("scanning snapshot entry", err)
		}
		snap.Entries = append(snap.Entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, transient("reading snapshot", err)
	}
	if len(snap.Entries) == 0 {
		return nil, domain.ErrSnapshotNotFound
	}
	return snap, nil
}

func snapshotDate(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
