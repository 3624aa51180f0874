package service_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/arcade-progression/internal/achievement"
	"github.com/arcade-progression/internal/config"
	"github.com/arcade-progression/internal/domain"
	"github.com/arcade-progression/internal/progression"
	"github.com/arcade-progression/internal/service"
	"github.com/arcade-progression/internal/session"
	"github.com/arcade-progression/internal/store/memstore"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type recordingBroadcaster struct {
	mu          sync.Mutex
	leaderboard [][]domain.LeaderboardEntry
	submitted   []domain.ScoreSubmittedEvent
}

func (b *recordingBroadcaster) LeaderboardUpdated(_ domain.Window, entries []domain.LeaderboardEntry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.leaderboard = append(b.leaderboard, entries)
}

func (b *recordingBroadcaster) ScoreSubmitted(e domain.ScoreSubmittedEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.submitted = append(b.submitted, e)
}

func (b *recordingBroadcaster) Updates() [][]domain.LeaderboardEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([][]domain.LeaderboardEntry(nil), b.leaderboard...)
}

func (b *recordingBroadcaster) Submitted() []domain.ScoreSubmittedEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]domain.ScoreSubmittedEvent(nil), b.submitted...)
}

type recordingMetrics struct {
	mu          sync.Mutex
	outcomes    map[string]int
	cache       map[string]int
	invalidated int
	snapshots   []error
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{outcomes: map[string]int{}, cache: map[string]int{}}
}

func (m *recordingMetrics) SubmissionObserved(outcome string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes[outcome]++
}

func (m *recordingMetrics) CacheRequest(_ domain.Window, result string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache[result]++
}

func (m *recordingMetrics) CacheInvalidated(int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invalidated++
}

func (m *recordingMetrics) SnapshotCompleted(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots = append(m.snapshots, err)
}

func (m *recordingMetrics) Outcome(o string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.outcomes[o]
}

func (m *recordingMetrics) Cache(r string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cache[r]
}

type harness struct {
	ctx      context.Context
	cfg      *config.Config
	db       *memstore.Store
	cache    *memstore.Cache
	activity *memstore.ActivityRecorder
	events   *recordingBroadcaster
	metrics  *recordingMetrics
	clock    *fakeClock
	calc     *progression.Calculator

	scores  *service.ScoreService
	boards  *service.LeaderboardService
	players *service.PlayerService
}

func newHarness(invalidateOnSubmit bool) *harness {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.DefaultConfig()
	clock := &fakeClock{t: time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC)}

	h := &harness{
		ctx:      context.Background(),
		cfg:      cfg,
		db:       memstore.New(achievement.DefaultCatalogue()...),
		cache:    memstore.NewCache(clock.Now),
		activity: &memstore.ActivityRecorder{},
		events:   &recordingBroadcaster{},
		metrics:  newRecordingMetrics(),
		clock:    clock,
		calc:     progression.NewCalculator(&cfg.Progression),
	}

	h.boards = service.NewLeaderboardService(service.LeaderboardDeps{
		Reader:    h.db,
		Snapshots: h.db,
		Cache:     h.cache,
		Events:    h.events,
		Metrics:   h.metrics,
		Now:       clock.Now,
	}, &cfg.Leaderboard, cfg.Redis.OpTimeout, cfg.Snapshot.TopN, logger)

	h.scores = service.NewScoreService(service.ScoreDeps{
		Runner:      h.db,
		Sessions:    session.NewStore(clock.Now, logger),
		Calculator:  h.calc,
		Evaluator:   achievement.NewEvaluator(logger),
		Activity:    h.activity,
		Events:      h.events,
		Metrics:     h.metrics,
		Invalidator: h.boards,
		Now:         clock.Now,
	}, &cfg.Progression, invalidateOnSubmit, logger)

	h.players = service.NewPlayerService(h.db, h.db, h.calc, logger)
	return h
}

func (h *harness) addPlayer(id, username string) {
	h.db.PutPlayer(domain.Player{ID: id, Username: username})
}

func (h *harness) start(playerID string, gameType domain.GameType) *domain.SessionStart {
	s, err := h.scores.StartSession(h.ctx, playerID, gameType)
	if err != nil {
		panic(err)
	}
	return s
}

// play starts a session, waits two seconds and submits.
func (h *harness) play(playerID string, points int64, difficulty domain.Difficulty) (*domain.SubmissionResult, error) {
	s := h.start(playerID, domain.GameTypeColorSort)
	h.clock.Advance(2 * time.Second)
	return h.scores.SubmitScore(h.ctx, domain.ScoreSubmission{
		PlayerID:     playerID,
		SessionToken: s.SessionToken,
		Points:       points,
		Level:        1,
		Difficulty:   difficulty,
	})
}
