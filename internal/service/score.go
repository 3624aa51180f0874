package service

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/arcade-progression/internal/achievement"
	"github.com/arcade-progression/internal/config"
	"github.com/arcade-progression/internal/domain"
	"github.com/arcade-progression/internal/progression"
	"github.com/arcade-progression/internal/session"
	"github.com/arcade-progression/internal/store"
	"github.com/google/uuid"
)

// ScoreDeps are the collaborators of ScoreService. Activity, Events,
// Metrics and Invalidator may be nil.
type ScoreDeps struct {
	Runner      store.Runner
	Sessions    *session.Store
	Calculator  *progression.Calculator
	Evaluator   *achievement.Evaluator
	Activity    store.ActivityLog
	Events      Broadcaster
	Metrics     Metrics
	Invalidator Invalidator
	Now         func() time.Time
}

// ScoreService starts play sessions and turns submitted scores into
// progression.
type ScoreService struct {
	runner      store.Runner
	sessions    *session.Store
	calc        *progression.Calculator
	evaluator   *achievement.Evaluator
	activity    store.ActivityLog
	events      Broadcaster
	metrics     Metrics
	invalidator Invalidator
	now         func() time.Time

	config             *config.ProgressionConfig
	invalidateOnSubmit bool
	logger             *slog.Logger
}

// NewScoreService creates a new score service
func NewScoreService(deps ScoreDeps, cfg *config.ProgressionConfig, invalidateOnSubmit bool, logger *slog.Logger) *ScoreService {
	s := &ScoreService{
		runner:             deps.Runner,
		sessions:           deps.Sessions,
		calc:               deps.Calculator,
		evaluator:          deps.Evaluator,
		activity:           deps.Activity,
		events:             deps.Events,
		metrics:            deps.Metrics,
		invalidator:        deps.Invalidator,
		now:                deps.Now,
		config:             cfg,
		invalidateOnSubmit: invalidateOnSubmit,
		logger:             logger,
	}
	if s.events == nil {
		s.events = NopBroadcaster{}
	}
	if s.metrics == nil {
		s.metrics = NopMetrics{}
	}
	if s.activity == nil {
		s.activity = nopActivity{}
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// StartSession replaces the player's active session with a new one and
// reports the level the player starts the game at.
func (s *ScoreService) StartSession(ctx context.Context, playerID string, gameType domain.GameType) (*domain.SessionStart, error) {
	gameType = gameType.OrDefault()
	if !gameType.Valid() {
		return nil, domain.ErrInvalidGameType
	}

	var start domain.SessionStart
	err := s.runner.InPlayerTx(ctx, playerID, func(tx store.Tx) error {
		sess, err := s.sessions.Start(ctx, tx, playerID, gameType)
		if err != nil {
			return err
		}
		track, err := tx.GetProgression(ctx, playerID, gameType)
		if err != nil {
			return fmt.Errorf("getting %s progression: %w", gameType, err)
		}
		start = domain.SessionStart{
			SessionID:    sess.ID,
			SessionToken: sess.Token,
			GameType:     gameType,
			StartLevel:   track.CurrentLevel,
			StartedAt:    sess.StartedAt,
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("starting session: %w", err)
	}

	s.activity.Append(ctx, domain.ActivityEvent{
		PlayerID: playerID,
		Action:   domain.ActionGameStart,
		Metadata: map[string]interface{}{
			"session_id": start.SessionID,
			"game_type":  string(gameType),
		},
		Timestamp: start.StartedAt,
	})

	s.logger.Debug("session started", "player_id", playerID, "session_id", start.SessionID, "game_type", gameType)
	return &start, nil
}

// SubmitScore validates a submission against its session and applies it in
// one transaction: score record, session consumption, both progression
// tracks and achievement unlocks commit together or not at all.
func (s *ScoreService) SubmitScore(ctx context.Context, sub domain.ScoreSubmission) (*domain.SubmissionResult, error) {
	started := time.Now()
	result, err := s.submit(ctx, sub)
	s.metrics.SubmissionObserved(outcomeOf(err), time.Since(started))
	return result, err
}

func (s *ScoreService) submit(ctx context.Context, sub domain.ScoreSubmission) (*domain.SubmissionResult, error) {
	multiplier, err := s.validate(sub)
	if err != nil {
		return nil, err
	}

	var (
		result domain.SubmissionResult
		record domain.ScoreRecord
		global domain.ProgressionState
	)
	err = s.runner.InPlayerTx(ctx, sub.PlayerID, func(tx store.Tx) error {
		now := s.now().UTC()

		sess, err := s.sessions.Validate(ctx, tx, sub.PlayerID, sub.SessionToken)
		if err != nil {
			return err
		}

		elapsed := now.Sub(sess.StartedAt)
		if elapsed < s.config.MinSessionDuration {
			s.logger.Warn("suspicious session",
				"player_id", sub.PlayerID,
				"session_id", sess.ID,
				"elapsed_ms", elapsed.Milliseconds(),
				"points", sub.Points,
			)
			return domain.ErrSuspiciousSession
		}

		if ceiling := int64(sub.Level) * s.config.PointsCeilingPerLevel; s.config.PointsCeilingPerLevel > 0 && sub.Points > ceiling {
			s.logger.Warn("score out of bounds",
				"player_id", sub.PlayerID,
				"session_id", sess.ID,
				"points", sub.Points,
				"level", sub.Level,
				"ceiling", ceiling,
			)
			return domain.ErrScoreOutOfBounds
		}

		gameType := sub.GameType
		if gameType == "" {
			gameType = sess.GameType.OrDefault()
		}

		finalPoints := int64(math.Floor(float64(sub.Points) * multiplier))
		earnedXP := s.calc.EarnedXP(finalPoints)

		record = domain.ScoreRecord{
			ID:          uuid.NewString(),
			PlayerID:    sub.PlayerID,
			Points:      finalPoints,
			Level:       sub.Level,
			Difficulty:  sub.Difficulty,
			GameType:    gameType,
			SessionID:   sess.ID,
			CompletedAt: now,
		}
		if err := tx.InsertScore(ctx, &record); err != nil {
			return fmt.Errorf("inserting score record: %w", err)
		}
		if err := s.sessions.Consume(ctx, tx, sess.ID); err != nil {
			return err
		}

		gameTrack, err := tx.GetProgression(ctx, sub.PlayerID, gameType)
		if err != nil {
			return fmt.Errorf("getting %s progression: %w", gameType, err)
		}
		global, err = tx.GetProgression(ctx, sub.PlayerID, domain.GlobalTrack)
		if err != nil {
			return fmt.Errorf("getting global progression: %w", err)
		}

		gameTrack, gameGain := s.calc.ApplyXP(gameTrack, earnedXP)
		var globalGain progression.Gain
		global, globalGain = s.calc.ApplyXP(global, earnedXP)

		counters, err := s.counters(ctx, tx, sub, finalPoints, now)
		if err != nil {
			return err
		}
		unlocked, err := s.evaluator.Evaluate(ctx, tx, sub.PlayerID, counters, now)
		if err != nil {
			return fmt.Errorf("evaluating achievements: %w", err)
		}
		if bonus := achievement.TotalRewardXP(unlocked); bonus > 0 {
			var bonusGain progression.Gain
			global, bonusGain = s.calc.ApplyXP(global, bonus)
			globalGain = globalGain.Add(bonusGain)
		}

		if err := tx.SaveProgression(ctx, gameTrack); err != nil {
			return fmt.Errorf("saving %s progression: %w", gameType, err)
		}
		if err := tx.SaveProgression(ctx, global); err != nil {
			return fmt.Errorf("saving global progression: %w", err)
		}

		result = domain.SubmissionResult{
			FinalPoints: finalPoints,
			EarnedXP:    earnedXP,
			Multiplier:  multiplier,
			GameType:    gameType,
			LevelProgress: domain.LevelProgress{
				TrackProgress: s.calc.Track(gameTrack, gameGain),
				Global:        s.calc.Track(global, globalGain),
			},
			Achievements: unlocked,
		}
		return nil
	})
	if err != nil {
		if domain.IsValidationError(err) {
			return nil, err
		}
		return nil, fmt.Errorf("submitting score: %w", err)
	}

	s.afterCommit(ctx, record, global, result)
	return &result, nil
}

// validate checks the request shape before any store access.
func (s *ScoreService) validate(sub domain.ScoreSubmission) (float64, error) {
	multiplier, err := sub.Difficulty.Multiplier()
	if err != nil {
		return 0, err
	}
	if sub.GameType != "" && !sub.GameType.Valid() {
		return 0, domain.ErrInvalidGameType
	}
	if sub.Points < 0 {
		return 0, fmt.Errorf("%w: points must not be negative", domain.ErrInvalidRequest)
	}
	if sub.Level < 1 || (s.config.MaxGameLevel > 0 && sub.Level > s.config.MaxGameLevel) {
		return 0, fmt.Errorf("%w: level must be between 1 and %d", domain.ErrInvalidRequest, s.config.MaxGameLevel)
	}
	return multiplier, nil
}

// counters builds the cumulative values achievements are measured against.
// The score record of this submission is already visible to tx.
func (s *ScoreService) counters(ctx context.Context, tx store.Tx, sub domain.ScoreSubmission, finalPoints int64, now time.Time) ([]domain.Counter, error) {
	games, err := tx.CountScores(ctx, sub.PlayerID)
	if err != nil {
		return nil, fmt.Errorf("counting games: %w", err)
	}
	streak, err := achievement.Streak(ctx, tx, sub.PlayerID, now)
	if err != nil {
		return nil, err
	}
	return []domain.Counter{
		{Type: domain.RequirementGamesPlayed, Value: games},
		{Type: domain.RequirementSingleGameScore, Value: finalPoints},
		{Type: domain.RequirementLevelReached, Value: int64(sub.Level)},
		{Type: domain.RequirementStreakDays, Value: streak},
	}, nil
}

// afterCommit runs the best-effort side effects of an accepted submission.
func (s *ScoreService) afterCommit(ctx context.Context, record domain.ScoreRecord, global domain.ProgressionState, result domain.SubmissionResult) {
	s.activity.Append(ctx, domain.ActivityEvent{
		PlayerID: record.PlayerID,
		Action:   domain.ActionGameComplete,
		Metadata: map[string]interface{}{
			"score_id":     record.ID,
			"session_id":   record.SessionID,
			"game_type":    string(record.GameType),
			"difficulty":   string(record.Difficulty),
			"level":        record.Level,
			"final_points": record.Points,
			"earned_xp":    result.EarnedXP,
			"achievements": len(result.Achievements),
		},
		Timestamp: record.CompletedAt,
	})

	s.events.ScoreSubmitted(domain.ScoreSubmittedEvent{
		PlayerID:    record.PlayerID,
		GameType:    record.GameType,
		FinalPoints: record.Points,
		Level:       result.LevelProgress.CurrentLevel,
		GlobalLevel: global.CurrentLevel,
		Timestamp:   record.CompletedAt,
	})

	if s.invalidateOnSubmit && s.invalidator != nil {
		if err := s.invalidator.Invalidate(ctx); err != nil {
			s.logger.Warn("invalidating leaderboard after submission", "player_id", record.PlayerID, "error", err)
		}
	}

	s.logger.Info("score submitted",
		"player_id", record.PlayerID,
		"game_type", record.GameType,
		"final_points", record.Points,
		"earned_xp", result.EarnedXP,
		"global_level", global.CurrentLevel,
		"achievements", len(result.Achievements),
	)
}
