package postgres

import (
	"context"
	"fmt"

	"github.com/arcade-progression/internal/domain"
	"github.com/jackc/pgx/v5"
)

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS players (
		id VARCHAR(64) PRIMARY KEY,
		username VARCHAR(255) NOT NULL,
		banned BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS play_sessions (
		id VARCHAR(64) PRIMARY KEY,
		player_id VARCHAR(64) NOT NULL REFERENCES players(id) ON DELETE CASCADE,
		token VARCHAR(128) NOT NULL UNIQUE,
		game_type VARCHAR(32) NOT NULL,
		started_at TIMESTAMPTZ NOT NULL,
		ended_at TIMESTAMPTZ,
		active BOOLEAN NOT NULL DEFAULT TRUE
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_play_sessions_one_active ON play_sessions(player_id) WHERE active`,
	`CREATE TABLE IF NOT EXISTS score_records (
		id VARCHAR(64) PRIMARY KEY,
		player_id VARCHAR(64) NOT NULL REFERENCES players(id) ON DELETE CASCADE,
		points BIGINT NOT NULL CHECK (points >= 0),
		level INT NOT NULL,
		difficulty VARCHAR(16) NOT NULL,
		game_type VARCHAR(32) NOT NULL,
		session_id VARCHAR(64) NOT NULL REFERENCES play_sessions(id),
		completed_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_score_records_player ON score_records(player_id, completed_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_score_records_completed ON score_records(completed_at)`,
	`CREATE TABLE IF NOT EXISTS progression_states (
		player_id VARCHAR(64) NOT NULL REFERENCES players(id) ON DELETE CASCADE,
		game_type VARCHAR(32) NOT NULL DEFAULT '',
		current_level INT NOT NULL DEFAULT 1,
		total_xp BIGINT NOT NULL DEFAULT 0,
		stars_earned BIGINT NOT NULL DEFAULT 0,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (player_id, game_type)
	)`,
	`CREATE TABLE IF NOT EXISTS achievements (
		id VARCHAR(64) PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		requirement_type VARCHAR(32) NOT NULL,
		requirement_value BIGINT NOT NULL,
		reward_xp BIGINT NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_achievements_requirement ON achievements(requirement_type, requirement_value)`,
	`CREATE TABLE IF NOT EXISTS achievement_unlocks (
		player_id VARCHAR(64) NOT NULL REFERENCES players(id) ON DELETE CASCADE,
		achievement_id VARCHAR(64) NOT NULL REFERENCES achievements(id),
		unlocked_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (player_id, achievement_id)
	)`,
	`CREATE TABLE IF NOT EXISTS leaderboard_snapshots (
		snapshot_date DATE NOT NULL,
		time_window VARCHAR(16) NOT NULL,
		player_id VARCHAR(64) NOT NULL REFERENCES players(id) ON DELETE CASCADE,
		rank BIGINT NOT NULL,
		username VARCHAR(255) NOT NULL,
		points BIGINT NOT NULL,
		level INT NOT NULL,
		total_xp BIGINT NOT NULL,
		PRIMARY KEY (snapshot_date, time_window, player_id)
	)`,
	`CREATE TABLE IF NOT EXISTS player_activity_logs (
		id BIGSERIAL PRIMARY KEY,
		player_id VARCHAR(64) NOT NULL,
		action VARCHAR(32) NOT NULL,
		metadata JSONB,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_player_activity_logs_player ON player_activity_logs(player_id, created_at DESC)`,
}

// RunMigrations executes database migrations and seeds the achievement catalogue
func (r *Repository) RunMigrations(ctx context.Context, catalogue []domain.Achievement) error {
	for _, migration := range migrations {
		if _, err := r.pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("executing migration: %w", err)
		}
	}

	if len(catalogue) > 0 {
		batch := &pgx.Batch{}
		query := `
			INSERT INTO achievements (id, name, description, requirement_type, requirement_value, reward_xp)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (id) DO NOTHING
		`
		for _, a := range catalogue {
			batch.Queue(query, a.ID, a.Name, a.Description, string(a.RequirementType), a.RequirementValue, a.RewardXP)
		}
		if err := r.pool.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("seeding achievements: %w", err)
		}
	}

	r.logger.Info("database migrations completed", "achievements", len(catalogue))
	return nil
}
