// Package achievement decides which achievements a player has newly earned.
package achievement

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/arcade-progression/internal/domain"
	"github.com/arcade-progression/internal/store"
)

// maxStreakLookback bounds how many distinct play days are read to compute a streak.
const maxStreakLookback = 366

// Evaluator unlocks qualifying achievements. Duplicate unlocks are prevented
// by the store's unique (player, achievement) constraint, so concurrent
// evaluations for one player are safe.
type Evaluator struct {
	logger *slog.Logger
}

// NewEvaluator creates a new achievement evaluator
func NewEvaluator(logger *slog.Logger) *Evaluator {
	return &Evaluator{logger: logger}
}

// Evaluate checks every counter in one pass and inserts an unlock for each
// achievement whose threshold is met and which the player does not already
// hold. It returns the achievements actually inserted.
func (e *Evaluator) Evaluate(ctx context.Context, tx store.Tx, playerID string, counters []domain.Counter, now time.Time) ([]domain.Achievement, error) {
	var unlocked []domain.Achievement
	for _, counter := range counters {
		candidates, err := tx.QualifyingAchievements(ctx, playerID, counter)
		if err != nil {
			return nil, fmt.Errorf("finding qualifying achievements for %s: %w", counter.Type, err)
		}
		for _, a := range candidates {
			if !Qualifies(a, counter) {
				continue
			}
			inserted, err := tx.InsertUnlock(ctx, domain.AchievementUnlock{
				PlayerID:      playerID,
				AchievementID: a.ID,
				UnlockedAt:    now,
			})
			if err != nil {
				return nil, fmt.Errorf("unlocking achievement %s: %w", a.ID, err)
			}
			if !inserted {
				continue
			}
			e.logger.Info("achievement unlocked",
				"player_id", playerID,
				"achievement_id", a.ID,
				"requirement_type", a.RequirementType,
			)
			unlocked = append(unlocked, a)
		}
	}
	return unlocked, nil
}

// Qualifies reports whether counter meets the achievement's threshold.
func Qualifies(a domain.Achievement, counter domain.Counter) bool {
	return a.RequirementType == counter.Type && a.RequirementValue <= counter.Value
}

// TotalRewardXP sums the XP rewards of achievements.
func TotalRewardXP(achievements []domain.Achievement) int64 {
	var total int64
	for _, a := range achievements {
		total += a.RewardXP
	}
	return total
}

// Streak reads the player's play days and returns the number of consecutive
// UTC days ending today on which they played.
func Streak(ctx context.Context, tx store.Tx, playerID string, now time.Time) (int64, error) {
	days, err := tx.PlayDays(ctx, playerID, maxStreakLookback)
	if err != nil {
		return 0, fmt.Errorf("reading play days: %w", err)
	}
	return ConsecutiveDays(days, now), nil
}

// ConsecutiveDays counts consecutive UTC days ending on now's date present in
// days. days must be distinct and sorted newest first.
func ConsecutiveDays(days []time.Time, now time.Time) int64 {
	n := now.UTC()
	expect := time.Date(n.Year(), n.Month(), n.Day(), 0, 0, 0, 0, time.UTC)
	var streak int64
	for _, d := range days {
		d = d.UTC()
		day := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
		if day.After(expect) {
			continue
		}
		if !day.Equal(expect) {
			break
		}
		streak++
		expect = expect.AddDate(0, 0, -1)
	}
	return streak
}
