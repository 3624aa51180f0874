// Package store declares the persistence and cache ports the core services
// depend on. internal/postgres and internal/redis implement them for
// production; internal/store/memstore implements them in memory.
package store

import (
	"context"
	"time"

	"github.com/arcade-progression/internal/domain"
)

// Tx is the set of queries available inside a player-scoped transaction.
// Every method reads and writes rows of a single player.
type Tx interface {
	// Sessions
	DeactivateSessions(ctx context.Context, playerID string, endedAt time.Time) (int64, error)
	InsertSession(ctx context.Context, session *domain.PlaySession) error
	FindActiveSession(ctx context.Context, playerID, token string) (*domain.PlaySession, error)
	ConsumeSession(ctx context.Context, sessionID string, endedAt time.Time) (bool, error)

	// Scores
	InsertScore(ctx context.Context, record *domain.ScoreRecord) error
	CountScores(ctx context.Context, playerID string) (int64, error)
	PlayDays(ctx context.Context, playerID string, limit int) ([]time.Time, error)

	// Progression; a missing row yields domain.NewProgressionState.
	GetProgression(ctx context.Context, playerID string, gameType domain.GameType) (domain.ProgressionState, error)
	SaveProgression(ctx context.Context, state domain.ProgressionState) error

	// Achievements
	QualifyingAchievements(ctx context.Context, playerID string, counter domain.Counter) ([]domain.Achievement, error)
	InsertUnlock(ctx context.Context, unlock domain.AchievementUnlock) (bool, error)
}

// Runner executes fn in one transaction while holding the player's
// serialization lock. Concurrent calls for the same player run one at a
// time; calls for different players do not contend. If fn returns an error
// every write made through tx is rolled back.
type Runner interface {
	InPlayerTx(ctx context.Context, playerID string, fn func(tx Tx) error) error
}

// PlayerReader reads the external player profile and aggregate history.
// GetProgressionStates includes the global track when it has been stored.
type PlayerReader interface {
	GetPlayer(ctx context.Context, playerID string) (*domain.Player, error)
	GetProgressionStates(ctx context.Context, playerID string) ([]domain.ProgressionState, error)
	GetScoreTotals(ctx context.Context, playerID string) (domain.ScoreTotals, error)
	GetGameHistory(ctx context.Context, playerID string) ([]domain.GameHistory, error)
	GetUnlockedAchievements(ctx context.Context, playerID string) ([]domain.UnlockedAchievement, error)
	GetRecentScores(ctx context.Context, playerID string, limit int) ([]domain.ScoreRecord, error)
}

// PlayerWriter records profiles pushed by the identity gateway.
type PlayerWriter interface {
	UpsertPlayer(ctx context.Context, player domain.Player) error
}

// LeaderboardReader computes ranked windows from score records. Banned
// players never appear.
type LeaderboardReader interface {
	// RankedWindow orders by points desc, global XP desc, player id asc and
	// returns one page without ranks assigned.
	RankedWindow(ctx context.Context, q domain.RankQuery) ([]domain.LeaderboardEntry, error)
	// TotalPoints returns a player's all-time points.
	TotalPoints(ctx context.Context, playerID string) (int64, error)
	// CountPlayersAbove counts eligible players with strictly more all-time points.
	CountPlayersAbove(ctx context.Context, points int64) (int64, error)
}

// SnapshotStore persists dated leaderboard snapshots.
type SnapshotStore interface {
	UpsertSnapshot(ctx context.Context, snapshot domain.Snapshot) error
	GetSnapshot(ctx context.Context, date time.Time, window domain.Window) (*domain.Snapshot, error)
}

// Cache is a low-latency key-value cache. Get returns domain.ErrCacheMiss
// for absent keys.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	DeletePrefix(ctx context.Context, prefix string) (int64, error)
}

// ActivityLog is a fire-and-forget activity sink. Append must not block on
// I/O failures and never fails the caller.
type ActivityLog interface {
	Append(ctx context.Context, event domain.ActivityEvent)
}

// MultiActivity appends every event to each sink in order.
type MultiActivity []ActivityLog

func (m MultiActivity) Append(ctx context.Context, event domain.ActivityEvent) {
	for _, sink := range m {
		sink.Append(ctx, event)
	}
}
