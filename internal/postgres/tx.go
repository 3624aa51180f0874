package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/arcade-progression/internal/domain"
	"github.com/arcade-progression/internal/store"
	"github.com/jackc/pgx/v5"
)

// pgTx implements store.Tx on an open transaction that already holds the
// player's advisory lock.
type pgTx struct {
	tx pgx.Tx
}

var _ store.Tx = (*pgTx)(nil)

func (t *pgTx) DeactivateSessions(ctx context.Context, playerID string, endedAt time.Time) (int64, error) {
	tag, err := t.tx.Exec(ctx, `
		UPDATE play_sessions SET active = FALSE, ended_at = $2
		WHERE player_id = $1 AND active
	`, playerID, endedAt)
	if err != nil {
		return 0, transient("deactivating sessions", err)
	}
	return tag.RowsAffected(), nil
}

func (t *pgTx) InsertSession(ctx context.Context, s *domain.PlaySession) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO play_sessions (id, player_id, token, game_type, started_at, active)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, s.ID, s.PlayerID, s.Token, string(s.GameType), s.StartedAt, s.Active)
	if err != nil {
		return transient("inserting session", err)
	}
	return nil
}

func (t *pgTx) FindActiveSession(ctx context.Context, playerID, token string) (*domain.PlaySession, error) {
	var s domain.PlaySession
	err := t.tx.QueryRow(ctx, `
		SELECT id, player_id, token, game_type, started_at, ended_at, active
		FROM play_sessions
		WHERE token = $1 AND player_id = $2 AND active
	`, token, playerID).Scan(&s.ID, &s.PlayerID, &s.Token, &s.GameType, &s.StartedAt, &s.EndedAt, &s.Active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, transient("finding session", err)
	}
	return &s, nil
}

func (t *pgTx) ConsumeSession(ctx context.Context, sessionID string, endedAt time.Time) (bool, error) {
	tag, err := t.tx.Exec(ctx, `
		UPDATE play_sessions SET active = FALSE, ended_at = $2
		WHERE id = $1 AND active
	`, sessionID, endedAt)
	if err != nil {
		return false, transient("consuming session", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (t *pgTx) InsertScore(ctx context.Context, rec *domain.ScoreRecord) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO score_records (id, player_id, points, level, difficulty, game_type, session_id, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		rec.ID,
		rec.PlayerID,
		rec.Points,
		rec.Level,
		string(rec.Difficulty),
		string(rec.GameType),
		rec.SessionID,
		rec.CompletedAt,
	)
	if err != nil {
		return transient("inserting score", err)
	}
	return nil
}

func (t *pgTx) CountScores(ctx context.Context, playerID string) (int64, error) {
	var n int64
	if err := t.tx.QueryRow(ctx, `SELECT COUNT(*) FROM score_records WHERE player_id = $1`, playerID).Scan(&n); err != nil {
		return 0, transient("counting scores", err)
	}
	return n, nil
}

func (t *pgTx) PlayDays(ctx context.Context, playerID string, limit int) ([]time.Time, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT DISTINCT (completed_at AT TIME ZONE 'UTC')::date AS day
		FROM score_records
		WHERE player_id = $1
		ORDER BY day DESC
		LIMIT $2
	`, playerID, limit)
	if err != nil {
		return nil, transient("reading play days", err)
	}
	defer rows.Close()

	var days []time.Time
	for rows.Next() {
		var d time.Time
		if err := rows.Scan(&d); err != nil {
			return nil, transient("scanning play day", err)
		}
		days = append(days, d)
	}
	if err := rows.Err(); err != nil {
		return nil, transient("reading play days", err)
	}
	return days, nil
}

func (t *pgTx) GetProgression(ctx context.Context, playerID string, gameType domain.GameType) (domain.ProgressionState, error) {
	st := domain.ProgressionState{PlayerID: playerID, GameType: gameType}
	err := t.tx.QueryRow(ctx, `
		SELECT current_level, total_xp, stars_earned
		FROM progression_states
		WHERE player_id = $1 AND game_type = $2
	`, playerID, string(gameType)).Scan(&st.CurrentLevel, &st.TotalXP, &st.StarsEarned)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.NewProgressionState(playerID, gameType), nil
		}
		return st, transient("getting progression", err)
	}
	return st, nil
}

func (t *pgTx) SaveProgression(ctx context.Context, st domain.ProgressionState) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO progression_states (player_id, game_type, current_level, total_xp, stars_earned, updated_at)
		VALUES ($1, $2, $3, $4, $5, CURRENT_TIMESTAMP)
		ON CONFLICT (player_id, game_type)
		DO UPDATE SET
			current_level = EXCLUDED.current_level,
			total_xp = EXCLUDED.total_xp,
			stars_earned = EXCLUDED.stars_earned,
			updated_at = EXCLUDED.updated_at
	`, st.PlayerID, string(st.GameType), st.CurrentLevel, st.TotalXP, st.StarsEarned)
	if err != nil {
		return transient("saving progression", err)
	}
	return nil
}

func (t *pgTx) QualifyingAchievements(ctx context.Context, playerID string, counter domain.Counter) ([]domain.Achievement, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT a.id, a.name, a.description, a.requirement_type, a.requirement_value, a.reward_xp
		FROM achievements a
		WHERE a.requirement_type = $2
		  AND a.requirement_value <= $3
		  AND NOT EXISTS (
			SELECT 1 FROM achievement_unlocks u
			WHERE u.player_id = $1 AND u.achievement_id = a.id
		  )
		ORDER BY a.requirement_value, a.id
	`, playerID, string(counter.Type), counter.Value)
	if err != nil {
		return nil, transient("finding qualifying achievements", err)
	}
	defer rows.Close()

	var out []domain.Achievement
	for rows.Next() {
		var a domain.Achievement
		if err := rows.Scan(&a.ID, &a.Name, &a.Description, &a.RequirementType, &a.RequirementValue, &a.RewardXP); err != nil {
			return nil, transient("scanning achievement", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, transient("reading achievements", err)
	}
	return out, nil
}

func (t *pgTx) InsertUnlock(ctx context.Context, u domain.AchievementUnlock) (bool, error) {
	tag, err := t.tx.Exec(ctx, `
		INSERT INTO achievement_unlocks (player_id, achievement_id, unlocked_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (player_id, achievement_id) DO NOTHING
	`, u.PlayerID, u.AchievementID, u.UnlockedAt)
	if err != nil {
		return false, transient("inserting unlock", err)
	}
	return tag.RowsAffected() == 1, nil
}
