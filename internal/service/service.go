// Package service holds the score submission, leaderboard and player stats
// use cases. Every collaborator is injected; nothing here touches a driver
// directly.
package service

import (
	"context"
	"time"

	"github.com/arcade-progression/internal/domain"
)

// Submission outcomes reported to Metrics
const (
	OutcomeAccepted = "accepted"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"
)

// Cache results reported to Metrics
const (
	CacheHit   = "hit"
	CacheMiss  = "miss"
	CacheError = "error"
)

// Broadcaster pushes real-time events to connected clients. Implementations
// must not block.
type Broadcaster interface {
	LeaderboardUpdated(window domain.Window, entries []domain.LeaderboardEntry)
	ScoreSubmitted(event domain.ScoreSubmittedEvent)
}

// Metrics receives instrumentation from the services.
type Metrics interface {
	SubmissionObserved(outcome string, elapsed time.Duration)
	CacheRequest(window domain.Window, result string)
	CacheInvalidated(deleted int64)
	SnapshotCompleted(err error)
}

// Invalidator drops cached leaderboard pages.
type Invalidator interface {
	Invalidate(ctx context.Context) error
}

// NopBroadcaster discards every event.
type NopBroadcaster struct{}

func (NopBroadcaster) LeaderboardUpdated(domain.Window, []domain.LeaderboardEntry) {}
func (NopBroadcaster) ScoreSubmitted(domain.ScoreSubmittedEvent)                   {}

// NopMetrics discards every observation.
type NopMetrics struct{}

func (NopMetrics) SubmissionObserved(string, time.Duration) {}
func (NopMetrics) CacheRequest(domain.Window, string)       {}
func (NopMetrics) CacheInvalidated(int64)                   {}
func (NopMetrics) SnapshotCompleted(error)                  {}

type nopActivity struct{}

func (nopActivity) Append(context.Context, domain.ActivityEvent) {}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return OutcomeAccepted
	case domain.IsValidationError(err):
		return OutcomeRejected
	default:
		return OutcomeFailed
	}
}
