// Package memstore is an in-memory implementation of the store ports with
// the same per-player serialization and rollback semantics as the
// PostgreSQL store.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arcade-progression/internal/domain"
	"github.com/arcade-progression/internal/store"
)

type playerData struct {
	player      domain.Player
	sessions    []domain.PlaySession
	scores      []domain.ScoreRecord
	progression map[domain.GameType]domain.ProgressionState
	unlocks     map[string]time.Time
}

func (p *playerData) clone() *playerData {
	c := &playerData{
		player:      p.player,
		sessions:    append([]domain.PlaySession(nil), p.sessions...),
		scores:      append([]domain.ScoreRecord(nil), p.scores...),
		progression: make(map[domain.GameType]domain.ProgressionState, len(p.progression)),
		unlocks:     make(map[string]time.Time, len(p.unlocks)),
	}
	for k, v := range p.progression {
		c.progression[k] = v
	}
	for k, v := range p.unlocks {
		c.unlocks[k] = v
	}
	return c
}

// Store holds players, sessions, scores, progression, achievements and snapshots.
type Store struct {
	mu           sync.RWMutex
	players      map[string]*playerData
	locks        map[string]*sync.Mutex
	achievements []domain.Achievement
	snapshots    map[string]domain.Snapshot
	failures     map[string]error

	aggregateQueries atomic.Int64
}

var (
	_ store.Runner            = (*Store)(nil)
	_ store.PlayerReader      = (*Store)(nil)
	_ store.PlayerWriter      = (*Store)(nil)
	_ store.LeaderboardReader = (*Store)(nil)
	_ store.SnapshotStore     = (*Store)(nil)
)

// New creates an empty store seeded with the given achievement catalogue.
func New(achievements ...domain.Achievement) *Store {
	return &Store{
		players:      make(map[string]*playerData),
		locks:        make(map[string]*sync.Mutex),
		achievements: achievements,
		snapshots:    make(map[string]domain.Snapshot),
		failures:     make(map[string]error),
	}
}

// PutPlayer adds or replaces a player profile.
func (s *Store) PutPlayer(p domain.Player) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.players[p.ID]; ok {
		d.player = p
		return
	}
	s.players[p.ID] = &playerData{
		player:      p,
		progression: make(map[domain.GameType]domain.ProgressionState),
		unlocks:     make(map[string]time.Time),
	}
}

// UpsertPlayer adds or replaces a player profile.
func (s *Store) UpsertPlayer(_ context.Context, p domain.Player) error {
	s.PutPlayer(p)
	return nil
}

// FailOn makes every later call of the named Tx method return err. A nil err clears it.
func (s *Store) FailOn(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, method)
		return
	}
	s.failures[method] = err
}

// AggregateQueries returns how many RankedWindow queries have run.
func (s *Store) AggregateQueries() int64 {
	return s.aggregateQueries.Load()
}

// Sessions returns a copy of every session of a player.
func (s *Store) Sessions(playerID string) []domain.PlaySession {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if d, ok := s.players[playerID]; ok {
		return append([]domain.PlaySession(nil), d.sessions...)
	}
	return nil
}

// Scores returns a copy of every score record of a player.
func (s *Store) Scores(playerID string) []domain.ScoreRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if d, ok := s.players[playerID]; ok {
		return append([]domain.ScoreRecord(nil), d.scores...)
	}
	return nil
}

// Progression returns the committed state of one track.
func (s *Store) Progression(playerID string, gameType domain.GameType) domain.ProgressionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if d, ok := s.players[playerID]; ok {
		if st, ok := d.progression[gameType]; ok {
			return st
		}
	}
	return domain.NewProgressionState(playerID, gameType)
}

// SetProgression overwrites one track, bypassing the transaction path.
func (s *Store) SetProgression(state domain.ProgressionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.players[state.PlayerID]; ok {
		d.progression[state.GameType] = state
	}
}

// AddScore appends a score record, bypassing the transaction path.
func (s *Store) AddScore(record domain.ScoreRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.players[record.PlayerID]; ok {
		d.scores = append(d.scores, record)
	}
}

func (s *Store) playerLock(playerID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[playerID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[playerID] = l
	}
	return l
}

// InPlayerTx runs fn against a private copy of the player's rows and
// publishes the copy only if fn succeeds.
func (s *Store) InPlayerTx(ctx context.Context, playerID string, fn func(tx store.Tx) error) error {
	lock := s.playerLock(playerID)
	lock.Lock()
	defer lock.Unlock()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("beginning transaction: %w: %w", domain.ErrTransientStore, err)
	}

	s.mu.RLock()
	current, ok := s.players[playerID]
	var work *playerData
	if ok {
		work = current.clone()
	}
	s.mu.RUnlock()
	if !ok {
		return domain.ErrPlayerNotFound
	}

	tx := &memTx{store: s, data: work}
	if err := fn(tx); err != nil {
		return err
	}

	s.mu.Lock()
	s.players[playerID] = work
	s.mu.Unlock()
	return nil
}

func (s *Store) failure(method string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err, ok := s.failures[method]; ok {
		return fmt.Errorf("%s: %w: %w", method, domain.ErrTransientStore, err)
	}
	return nil
}

// GetPlayer returns a player profile.
func (s *Store) GetPlayer(_ context.Context, playerID string) (*domain.Player, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.players[playerID]
	if !ok {
		return nil, domain.ErrPlayerNotFound
	}
	p := d.player
	return &p, nil
}

// GetProgressionStates returns every stored track of a player, ordered by
// game type so the global track comes first.
func (s *Store) GetProgressionStates(_ context.Context, playerID string) ([]domain.ProgressionState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.players[playerID]
	if !ok {
		return nil, domain.ErrPlayerNotFound
	}
	out := make([]domain.ProgressionState, 0, len(d.progression))
	for _, st := range d.progression {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GameType < out[j].GameType })
	return out, nil
}

// GetScoreTotals aggregates a player's scores.
func (s *Store) GetScoreTotals(_ context.Context, playerID string) (domain.ScoreTotals, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var t domain.ScoreTotals
	d, ok := s.players[playerID]
	if !ok {
		return t, domain.ErrPlayerNotFound
	}
	for _, r := range d.scores {
		t.GamesPlayed++
		t.TotalPoints += r.Points
		if r.Points > t.HighScore {
			t.HighScore = r.Points
		}
	}
	return t, nil
}

// GetGameHistory aggregates a player's scores per game type.
func (s *Store) GetGameHistory(_ context.Context, playerID string) ([]domain.GameHistory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.players[playerID]
	if !ok {
		return nil, domain.ErrPlayerNotFound
	}
	byType := make(map[domain.GameType]*domain.GameHistory)
	for _, r := range d.scores {
		h, ok := byType[r.GameType]
		if !ok {
			h = &domain.GameHistory{GameType: r.GameType}
			byType[r.GameType] = h
		}
		h.GamesPlayed++
		h.TotalPoints += r.Points
		if r.Points > h.HighScore {
			h.HighScore = r.Points
		}
	}
	out := make([]domain.GameHistory, 0, len(byType))
	for _, h := range byType {
		out = append(out, *h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GameType < out[j].GameType })
	return out, nil
}

// GetUnlockedAchievements returns a player's unlocks, newest first.
func (s *Store) GetUnlockedAchievements(_ context.Context, playerID string) ([]domain.UnlockedAchievement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.players[playerID]
	if !ok {
		return nil, domain.ErrPlayerNotFound
	}
	var out []domain.UnlockedAchievement
	for _, a := range s.achievements {
		if at, ok := d.unlocks[a.ID]; ok {
			out = append(out, domain.UnlockedAchievement{Achievement: a, UnlockedAt: at})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].UnlockedAt.After(out[j].UnlockedAt) })
	return out, nil
}

// GetRecentScores returns a player's newest score records.
func (s *Store) GetRecentScores(_ context.Context, playerID string, limit int) ([]domain.ScoreRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.players[playerID]
	if !ok {
		return nil, domain.ErrPlayerNotFound
	}
	out := append([]domain.ScoreRecord(nil), d.scores...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].CompletedAt.After(out[j].CompletedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) pointsSince(d *playerData, since time.Time) int64 {
	var total int64
	for _, r := range d.scores {
		if since.IsZero() || !r.CompletedAt.Before(since) {
			total += r.Points
		}
	}
	return total
}

// RankedWindow computes one page of a window ordered by points desc, XP desc, id asc.
func (s *Store) RankedWindow(_ context.Context, q domain.RankQuery) ([]domain.LeaderboardEntry, error) {
	s.aggregateQueries.Add(1)
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rows []domain.LeaderboardEntry
	for id, d := range s.players {
		if d.player.Banned {
			continue
		}
		points := s.pointsSince(d, q.Since)
		if q.Window != domain.WindowGlobal && points <= 0 {
			continue
		}
		global, ok := d.progression[domain.GlobalTrack]
		if !ok {
			global = domain.NewProgressionState(id, domain.GlobalTrack)
		}
		rows = append(rows, domain.LeaderboardEntry{
			PlayerID: id,
			Username: d.player.Username,
			Points:   points,
			Level:    global.CurrentLevel,
			TotalXP:  global.TotalXP,
		})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Points != rows[j].Points {
			return rows[i].Points > rows[j].Points
		}
		if rows[i].TotalXP != rows[j].TotalXP {
			return rows[i].TotalXP > rows[j].TotalXP
		}
		return rows[i].PlayerID < rows[j].PlayerID
	})

	if q.Offset >= len(rows) {
		return []domain.LeaderboardEntry{}, nil
	}
	rows = rows[q.Offset:]
	if q.Limit > 0 && len(rows) > q.Limit {
		rows = rows[:q.Limit]
	}
	return rows, nil
}

// TotalPoints returns a player's all-time points.
func (s *Store) TotalPoints(_ context.Context, playerID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.players[playerID]
	if !ok {
		return 0, domain.ErrPlayerNotFound
	}
	return s.pointsSince(d, time.Time{}), nil
}

// CountPlayersAbove counts non-banned players with strictly more all-time points.
func (s *Store) CountPlayersAbove(_ context.Context, points int64) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int64
	for _, d := range s.players {
		if !d.player.Banned && s.pointsSince(d, time.Time{}) > points {
			n++
		}
	}
	return n, nil
}

func snapshotKey(date time.Time, window domain.Window) string {
	return date.UTC().Format(time.DateOnly) + "/" + string(window)
}

// UpsertSnapshot stores a snapshot, replacing rows of the same player, date and window.
func (s *Store) UpsertSnapshot(_ context.Context, snapshot domain.Snapshot) error {
	if err := s.failure("UpsertSnapshot"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := snapshotKey(snapshot.Date, snapshot.Window)
	merged := make(map[string]domain.LeaderboardEntry)
	for _, e := range s.snapshots[key].Entries {
		merged[e.PlayerID] = e
	}
	for _, e := range snapshot.Entries {
		merged[e.PlayerID] = e
	}
	entries := make([]domain.LeaderboardEntry, 0, len(merged))
	for _, e := range merged {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Rank < entries[j].Rank })
	s.snapshots[key] = domain.Snapshot{Date: snapshot.Date, Window: snapshot.Window, Entries: entries}
	return nil
}

// GetSnapshot returns a stored snapshot.
func (s *Store) GetSnapshot(_ context.Context, date time.Time, window domain.Window) (*domain.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snapshots[snapshotKey(date, window)]
	if !ok {
		return nil, domain.ErrSnapshotNotFound
	}
	return &snap, nil
}
