package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/arcade-progression/internal/config"
	"github.com/arcade-progression/internal/domain"
	"github.com/arcade-progression/internal/store"
	"golang.org/x/sync/singleflight"
)

// LeaderboardDeps are the collaborators of LeaderboardService. Events and
// Metrics may be nil.
type LeaderboardDeps struct {
	Reader    store.LeaderboardReader
	Snapshots store.SnapshotStore
	Cache     store.Cache
	Events    Broadcaster
	Metrics   Metrics
	Now       func() time.Time
}

// LeaderboardService serves ranked windows through a TTL cache and computes
// live ranks and snapshots from the store.
type LeaderboardService struct {
	reader    store.LeaderboardReader
	snapshots store.SnapshotStore
	cache     store.Cache
	events    Broadcaster
	metrics   Metrics
	now       func() time.Time

	config       *config.LeaderboardConfig
	cacheTimeout time.Duration
	snapshotTopN int
	group        singleflight.Group
	logger       *slog.Logger
}

// NewLeaderboardService creates a new leaderboard service
func NewLeaderboardService(
	deps LeaderboardDeps,
	cfg *config.LeaderboardConfig,
	cacheTimeout time.Duration,
	snapshotTopN int,
	logger *slog.Logger,
) *LeaderboardService {
	s := &LeaderboardService{
		reader:       deps.Reader,
		snapshots:    deps.Snapshots,
		cache:        deps.Cache,
		events:       deps.Events,
		metrics:      deps.Metrics,
		now:          deps.Now,
		config:       cfg,
		cacheTimeout: cacheTimeout,
		snapshotTopN: snapshotTopN,
		logger:       logger,
	}
	if s.events == nil {
		s.events = NopBroadcaster{}
	}
	if s.metrics == nil {
		s.metrics = NopMetrics{}
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.snapshotTopN <= 0 {
		s.snapshotTopN = 100
	}
	return s
}

// computeTimeout bounds a coalesced page computation, which outlives the
// caller that started it.
const computeTimeout = 30 * time.Second

// CacheKey returns the cache key of one page of a window.
func (s *LeaderboardService) CacheKey(window domain.Window, page, pageSize int) string {
	return fmt.Sprintf("%s%s:%d:%d", s.config.KeyPrefix, window, page, pageSize)
}

func (s *LeaderboardService) ttl(window domain.Window) time.Duration {
	switch window {
	case domain.WindowDaily:
		return s.config.DailyTTL
	case domain.WindowWeekly:
		return s.config.WeeklyTTL
	default:
		return s.config.GlobalTTL
	}
}

// normalizePage clamps page and size to valid values.
func (s *LeaderboardService) normalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = s.config.DefaultPageSize
	}
	if pageSize > s.config.MaxPageSize {
		pageSize = s.config.MaxPageSize
	}
	return page, pageSize
}

func (s *LeaderboardService) cacheCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cacheTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.cacheTimeout)
}

// GetRanked returns one page of a window. Cached pages are returned as
// stored; on a miss the page is computed from the store, cached with the
// window's TTL and returned. Cache failures fall back to the live query.
func (s *LeaderboardService) GetRanked(ctx context.Context, window domain.Window, page, pageSize int) ([]domain.LeaderboardEntry, error) {
	if _, err := domain.ParseWindow(string(window)); err != nil {
		return nil, err
	}
	page, pageSize = s.normalizePage(page, pageSize)
	key := s.CacheKey(window, page, pageSize)

	if entries, ok := s.fromCache(ctx, window, key); ok {
		return entries, nil
	}

	// The shared computation must not inherit one caller's cancellation.
	ch := s.group.DoChan(key, func() (interface{}, error) {
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), computeTimeout)
		defer cancel()
		return s.computePage(cctx, window, key, page, pageSize)
	})
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("loading %s leaderboard: %w", window, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]domain.LeaderboardEntry), nil
	}
}

func (s *LeaderboardService) fromCache(ctx context.Context, window domain.Window, key string) ([]domain.LeaderboardEntry, bool) {
	cctx, cancel := s.cacheCtx(ctx)
	defer cancel()

	data, err := s.cache.Get(cctx, key)
	if err != nil {
		if errors.Is(err, domain.ErrCacheMiss) {
			s.metrics.CacheRequest(window, CacheMiss)
		} else {
			s.metrics.CacheRequest(window, CacheError)
			s.logger.Warn("leaderboard cache read failed, using live query", "key", key, "error", err)
		}
		return nil, false
	}

	var entries []domain.LeaderboardEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		s.metrics.CacheRequest(window, CacheError)
		s.logger.Warn("discarding undecodable cache entry", "key", key, "error", err)
		return nil, false
	}
	s.metrics.CacheRequest(window, CacheHit)
	return entries, true
}

func (s *LeaderboardService) computePage(ctx context.Context, window domain.Window, key string, page, pageSize int) ([]domain.LeaderboardEntry, error) {
	offset := (page - 1) * pageSize
	entries, err := s.reader.RankedWindow(ctx, domain.RankQuery{
		Window: window,
		Since:  window.Since(s.now()),
		Limit:  pageSize,
		Offset: offset,
	})
	if err != nil {
		return nil, fmt.Errorf("computing %s leaderboard: %w", window, err)
	}
	assignRanks(entries, offset)

	data, err := json.Marshal(entries)
	if err != nil {
		return nil, fmt.Errorf("encoding %s leaderboard: %w", window, err)
	}
	cctx, cancel := s.cacheCtx(ctx)
	defer cancel()
	if err := s.cache.Set(cctx, key, data, s.ttl(window)); err != nil {
		s.logger.Warn("leaderboard cache write failed", "key", key, "error", err)
	}
	return entries, nil
}

// assignRanks numbers entries consecutively starting after offset.
func assignRanks(entries []domain.LeaderboardEntry, offset int) {
	for i := range entries {
		entries[i].Rank = int64(offset + i + 1)
	}
}

// GetRank computes a player's all-time rank live: one plus the number of
// players with strictly more points.
func (s *LeaderboardService) GetRank(ctx context.Context, playerID string) (*domain.PlayerRank, error) {
	points, err := s.reader.TotalPoints(ctx, playerID)
	if err != nil {
		return nil, fmt.Errorf("getting total points: %w", err)
	}
	above, err := s.reader.CountPlayersAbove(ctx, points)
	if err != nil {
		return nil, fmt.Errorf("counting players above: %w", err)
	}
	return &domain.PlayerRank{
		PlayerID:    playerID,
		Rank:        above + 1,
		TotalPoints: points,
	}, nil
}

// Invalidate deletes every cached page and broadcasts the fresh global top page.
func (s *LeaderboardService) Invalidate(ctx context.Context) error {
	cctx, cancel := s.cacheCtx(ctx)
	deleted, err := s.cache.DeletePrefix(cctx, s.config.KeyPrefix)
	cancel()
	if err != nil {
		return fmt.Errorf("invalidating leaderboard cache: %w", err)
	}
	s.metrics.CacheInvalidated(deleted)
	s.logger.Debug("leaderboard cache invalidated", "deleted", deleted)

	top, err := s.GetRanked(ctx, domain.WindowGlobal, 1, s.config.DefaultPageSize)
	if err != nil {
		s.logger.Warn("loading leaderboard for broadcast", "error", err)
		return nil
	}
	s.events.LeaderboardUpdated(domain.WindowGlobal, top)
	return nil
}

// Snapshot persists the live global top-N under date. It never reads or
// writes the cache.
func (s *LeaderboardService) Snapshot(ctx context.Context, date time.Time) (err error) {
	defer func() { s.metrics.SnapshotCompleted(err) }()

	entries, err := s.reader.RankedWindow(ctx, domain.RankQuery{
		Window: domain.WindowGlobal,
		Limit:  s.snapshotTopN,
	})
	if err != nil {
		return fmt.Errorf("computing snapshot: %w", err)
	}
	assignRanks(entries, 0)

	snap := domain.Snapshot{Date: date.UTC(), Window: domain.WindowGlobal, Entries: entries}
	if err := s.snapshots.UpsertSnapshot(ctx, snap); err != nil {
		return fmt.Errorf("persisting snapshot: %w", err)
	}
	s.logger.Info("leaderboard snapshot saved", "date", date.UTC().Format(time.DateOnly), "entries", len(entries))
	return nil
}

// GetSnapshot reads a persisted snapshot.
func (s *LeaderboardService) GetSnapshot(ctx context.Context, date time.Time, window domain.Window) (*domain.Snapshot, error) {
	if _, err := domain.ParseWindow(string(window)); err != nil {
		return nil, err
	}
	snap, err := s.snapshots.GetSnapshot(ctx, date, window)
	if err != nil {
		return nil, fmt.Errorf("getting snapshot: %w", err)
	}
	return snap, nil
}
