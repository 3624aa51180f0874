package memstore

import (
	"context"
	"sort"
	"time"

	"github.com/arcade-progression/internal/domain"
	"github.com/arcade-progression/internal/store"
)

type memTx struct {
	store *Store
	data  *playerData
}

var _ store.Tx = (*memTx)(nil)

func (t *memTx) DeactivateSessions(_ context.Context, playerID string, endedAt time.Time) (int64, error) {
	if err := t.store.failure("DeactivateSessions"); err != nil {
		return 0, err
	}
	var n int64
	for i := range t.data.sessions {
		s := &t.data.sessions[i]
		if s.PlayerID == playerID && s.Active {
			s.Active = false
			at := endedAt
			s.EndedAt = &at
			n++
		}
	}
	return n, nil
}

func (t *memTx) InsertSession(_ context.Context, session *domain.PlaySession) error {
	if err := t.store.failure("InsertSession"); err != nil {
		return err
	}
	for _, s := range t.data.sessions {
		if s.Active && session.Active {
			return errUniqueActiveSession
		}
	}
	t.data.sessions = append(t.data.sessions, *session)
	return nil
}

func (t *memTx) FindActiveSession(_ context.Context, playerID, token string) (*domain.PlaySession, error) {
	if err := t.store.failure("FindActiveSession"); err != nil {
		return nil, err
	}
	for _, s := range t.data.sessions {
		if s.Token == token && s.PlayerID == playerID && s.Active {
			found := s
			return &found, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (t *memTx) ConsumeSession(_ context.Context, sessionID string, endedAt time.Time) (bool, error) {
	if err := t.store.failure("ConsumeSession"); err != nil {
		return false, err
	}
	for i := range t.data.sessions {
		s := &t.data.sessions[i]
		if s.ID == sessionID && s.Active {
			s.Active = false
			at := endedAt
			s.EndedAt = &at
			return true, nil
		}
	}
	return false, nil
}

func (t *memTx) InsertScore(_ context.Context, record *domain.ScoreRecord) error {
	if err := t.store.failure("InsertScore"); err != nil {
		return err
	}
	t.data.scores = append(t.data.scores, *record)
	return nil
}

func (t *memTx) CountScores(_ context.Context, _ string) (int64, error) {
	if err := t.store.failure("CountScores"); err != nil {
		return 0, err
	}
	return int64(len(t.data.scores)), nil
}

func (t *memTx) PlayDays(_ context.Context, _ string, limit int) ([]time.Time, error) {
	if err := t.store.failure("PlayDays"); err != nil {
		return nil, err
	}
	seen := make(map[time.Time]bool)
	var days []time.Time
	for _, r := range t.data.scores {
		c := r.CompletedAt.UTC()
		day := time.Date(c.Year(), c.Month(), c.Day(), 0, 0, 0, 0, time.UTC)
		if !seen[day] {
			seen[day] = true
			days = append(days, day)
		}
	}
	sort.Slice(days, func(i, j int) bool { return days[i].After(days[j]) })
	if limit > 0 && len(days) > limit {
		days = days[:limit]
	}
	return days, nil
}

func (t *memTx) GetProgression(_ context.Context, playerID string, gameType domain.GameType) (domain.ProgressionState, error) {
	if err := t.store.failure("GetProgression"); err != nil {
		return domain.ProgressionState{}, err
	}
	if st, ok := t.data.progression[gameType]; ok {
		return st, nil
	}
	return domain.NewProgressionState(playerID, gameType), nil
}

func (t *memTx) SaveProgression(_ context.Context, state domain.ProgressionState) error {
	if err := t.store.failure("SaveProgression"); err != nil {
		return err
	}
	t.data.progression[state.GameType] = state
	return nil
}

func (t *memTx) QualifyingAchievements(_ context.Context, _ string, counter domain.Counter) ([]domain.Achievement, error) {
	if err := t.store.failure("QualifyingAchievements"); err != nil {
		return nil, err
	}
	var out []domain.Achievement
	for _, a := range t.store.achievements {
		if a.RequirementType != counter.Type || a.RequirementValue > counter.Value {
			continue
		}
		if _, unlocked := t.data.unlocks[a.ID]; unlocked {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

func (t *memTx) InsertUnlock(_ context.Context, unlock domain.AchievementUnlock) (bool, error) {
	if err := t.store.failure("InsertUnlock"); err != nil {
		return false, err
	}
	if _, exists := t.data.unlocks[unlock.AchievementID]; exists {
		return false, nil
	}
	t.data.unlocks[unlock.AchievementID] = unlock.UnlockedAt
	return true, nil
}
