package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/arcade-progression/internal/config"
	"github.com/arcade-progression/internal/domain"
	"github.com/arcade-progression/internal/store"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository provides PostgreSQL-based data access
type Repository struct {
	pool         *pgxpool.Pool
	queryTimeout time.Duration
	logger       *slog.Logger
}

var (
	_ store.Runner            = (*Repository)(nil)
	_ store.PlayerReader      = (*Repository)(nil)
	_ store.PlayerWriter      = (*Repository)(nil)
	_ store.LeaderboardReader = (*Repository)(nil)
	_ store.SnapshotStore     = (*Repository)(nil)
)

// NewRepository creates a new PostgreSQL repository
func NewRepository(ctx context.Context, cfg *config.PostgresConfig, logger *slog.Logger) (*Repository, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConnections)
	poolConfig.MinConns = int32(cfg.MinConnections)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	return &Repository{
		pool:         pool,
		queryTimeout: cfg.QueryTimeout,
		logger:       logger,
	}, nil
}

// Close closes the database connection pool
func (r *Repository) Close() {
	r.pool.Close()
}

// Ping checks database connectivity
func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// withTimeout bounds a single store call by the configured query timeout.
func (r *Repository) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.queryTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.queryTimeout)
}

// transient marks a driver failure as retryable by the caller.
func transient(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, domain.ErrTransientStore, err)
}

// InPlayerTx runs fn in a transaction holding a transaction-scoped advisory
// lock on the player id. The lock is released on commit or rollback.
func (r *Repository) InPlayerTx(ctx context.Context, playerID string, fn func(tx store.Tx) error) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return transient("beginning transaction", err)
	}
	defer func() {
		// no-op after a successful commit
		if err := tx.Rollback(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			r.logger.Error("rolling back transaction", "player_id", playerID, "error", err)
		}
	}()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, playerID); err != nil {
		return transient("acquiring player lock", err)
	}

	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM players WHERE id = $1)`, playerID).Scan(&exists); err != nil {
		return transient("checking player existence", err)
	}
	if !exists {
		return domain.ErrPlayerNotFound
	}

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return transient("committing transaction", err)
	}
	return nil
}

// UpsertPlayer inserts or updates a player profile
func (r *Repository) UpsertPlayer(ctx context.Context, p domain.Player) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	query := `
		INSERT INTO players (id, username, banned, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id)
		DO UPDATE SET username = EXCLUDED.username, banned = EXCLUDED.banned
	`
	createdAt := p.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	if _, err := r.pool.Exec(ctx, query, p.ID, p.Username, p.Banned, createdAt); err != nil {
		return transient("upserting player", err)
	}
	return nil
}

// GetPlayer retrieves a player profile by ID
func (r *Repository) GetPlayer(ctx context.Context, playerID string) (*domain.Player, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	var p domain.Player
	err := r.pool.QueryRow(ctx,
		`SELECT id, username, banned, created_at FROM players WHERE id = $1`, playerID,
	).Scan(&p.ID, &p.Username, &p.Banned, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrPlayerNotFound
		}
		return nil, transient("getting player", err)
	}
	return &p, nil
}

// GetProgressionStates returns every stored track of a player, global first
func (r *Repository) GetProgressionStates(ctx context.Context, playerID string) ([]domain.ProgressionState, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	query := `
		SELECT player_id, game_type, current_level, total_xp, stars_earned
		FROM progression_states
		WHERE player_id = $1
		ORDER BY game_type
	`
	rows, err := r.pool.Query(ctx, query, playerID)
	if err != nil {
		return nil, transient("getting progression states", err)
	}
	defer rows.Close()

	var states []domain.ProgressionState
	for rows.Next() {
		var st domain.ProgressionState
		if err := rows.Scan(&st.PlayerID, &st.GameType, &st.CurrentLevel, &st.TotalXP, &st.StarsEarned); err != nil {
			return nil, transient("scanning progression state", err)
		}
		states = append(states, st)
	}
	if err := rows.Err(); err != nil {
		return nil, transient("reading progression states", err)
	}
	return states, nil
}

// GetScoreTotals aggregates all of a player's scores
func (r *Repository) GetScoreTotals(ctx context.Context, playerID string) (domain.ScoreTotals, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	var t domain.ScoreTotals
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*), COALESCE(MAX(points), 0), COALESCE(SUM(points), 0)
		FROM score_records
		WHERE player_id = $1
	`, playerID).Scan(&t.GamesPlayed, &t.HighScore, &t.TotalPoints)
	if err != nil {
		return t, transient("getting score totals", err)
	}
	return t, nil
}

// GetGameHistory aggregates a player's scores per game type
func (r *Repository) GetGameHistory(ctx context.Context, playerID string) ([]domain.GameHistory, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	query := `
		SELECT game_type, SUM(points), COUNT(*), MAX(points)
		FROM score_records
		WHERE player_id = $1
		GROUP BY game_type
		ORDER BY game_type
	`
	rows, err := r.pool.Query(ctx, query, playerID)
	if err != nil {
		return nil, transient("getting game history", err)
	}
	defer rows.Close()

	var history []domain.GameHistory
	for rows.Next() {
		var h domain.GameHistory
		if err := rows.Scan(&h.GameType, &h.TotalPoints, &h.GamesPlayed, &h.HighScore); err != nil {
			return nil, transient("scanning game history", err)
		}
		history = append(history, h)
	}
	if err := rows.Err(); err != nil {
		return nil, transient("reading game history", err)
	}
	return history, nil
}

// GetUnlockedAchievements returns a player's unlocks, newest first
func (r *Repository) GetUnlockedAchievements(ctx context.Context, playerID string) ([]domain.UnlockedAchievement, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	query := `
		SELECT a.id, a.name, a.description, a.requirement_type, a.requirement_value, a.reward_xp, u.unlocked_at
		FROM achievement_unlocks u
		JOIN achievements a ON a.id = u.achievement_id
		WHERE u.player_id = $1
		ORDER BY u.unlocked_at DESC, a.id
	`
	rows, err := r.pool.Query(ctx, query, playerID)
	if err != nil {
		return nil, transient("getting unlocked achievements", err)
	}
	defer rows.Close()

	var unlocked []domain.UnlockedAchievement
	for rows.Next() {
		var u domain.UnlockedAchievement
		err := rows.Scan(
			&u.ID,
			&u.Name,
			&u.Description,
			&u.RequirementType,
			&u.RequirementValue,
			&u.RewardXP,
			&u.UnlockedAt,
		)
		if err != nil {
			return nil, transient("scanning unlocked achievement", err)
		}
		unlocked = append(unlocked, u)
	}
	if err := rows.Err(); err != nil {
		return nil, transient("reading unlocked achievements", err)
	}
	return unlocked, nil
}

// GetRecentScores returns a player's newest score records
func (r *Repository) GetRecentScores(ctx context.Context, playerID string, limit int) ([]domain.ScoreRecord, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	query := `
		SELECT id, player_id, points, level, difficulty, game_type, session_id, completed_at
		FROM score_records
		WHERE player_id = $1
		ORDER BY completed_at DESC
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, playerID, limit)
	if err != nil {
		return nil, transient("getting recent scores", err)
	}
	defer rows.Close()

	var records []domain.ScoreRecord
	for rows.Next() {
		var rec domain.ScoreRecord
		err := rows.Scan(
			&rec.ID,
			&rec.PlayerID,
			&rec.Points,
			&rec.Level,
			&rec.Difficulty,
			&rec.GameType,
			&rec.SessionID,
			&rec.CompletedAt,
		)
		if err != nil {
			return nil, transient("scanning score record", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, transient("reading recent scores", err)
	}
	return records, nil
}
