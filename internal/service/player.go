package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/arcade-progression/internal/domain"
	"github.com/arcade-progression/internal/progression"
	"github.com/arcade-progression/internal/store"
	"golang.org/x/sync/errgroup"
)

// Recent games paging
const (
	DefaultRecentGames = 10
	MaxRecentGames     = 100
)

// PlayerService registers player profiles and reads aggregated player views.
type PlayerService struct {
	reader store.PlayerReader
	writer store.PlayerWriter
	calc   *progression.Calculator
	logger *slog.Logger
}

// NewPlayerService creates a new player service
func NewPlayerService(reader store.PlayerReader, writer store.PlayerWriter, calc *progression.Calculator, logger *slog.Logger) *PlayerService {
	return &PlayerService{
		reader: reader,
		writer: writer,
		calc:   calc,
		logger: logger,
	}
}

// RegisterPlayer records the profile the identity gateway resolved for playerID.
func (s *PlayerService) RegisterPlayer(ctx context.Context, playerID, username string) (*domain.Player, error) {
	username = strings.TrimSpace(username)
	if playerID == "" || username == "" {
		return nil, fmt.Errorf("%w: player id and username are required", domain.ErrInvalidRequest)
	}
	if err := s.writer.UpsertPlayer(ctx, domain.Player{ID: playerID, Username: username}); err != nil {
		return nil, fmt.Errorf("registering player: %w", err)
	}
	s.logger.Info("player registered", "player_id", playerID)
	return s.reader.GetPlayer(ctx, playerID)
}

// GetPlayerStats aggregates a player's progression, history and achievements.
// The independent reads run concurrently.
func (s *PlayerService) GetPlayerStats(ctx context.Context, playerID string) (*domain.PlayerStats, error) {
	if _, err := s.reader.GetPlayer(ctx, playerID); err != nil {
		return nil, fmt.Errorf("getting player: %w", err)
	}

	var (
		states   []domain.ProgressionState
		totals   domain.ScoreTotals
		history  []domain.GameHistory
		unlocked []domain.UnlockedAchievement
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		states, err = s.reader.GetProgressionStates(gctx, playerID)
		return err
	})
	g.Go(func() error {
		var err error
		totals, err = s.reader.GetScoreTotals(gctx, playerID)
		return err
	})
	g.Go(func() error {
		var err error
		history, err = s.reader.GetGameHistory(gctx, playerID)
		return err
	})
	g.Go(func() error {
		var err error
		unlocked, err = s.reader.GetUnlockedAchievements(gctx, playerID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("getting player stats: %w", err)
	}

	global := domain.NewProgressionState(playerID, domain.GlobalTrack)
	games := make([]domain.ProgressionState, 0, len(states))
	for _, st := range states {
		if st.IsGlobal() {
			global = st
			continue
		}
		games = append(games, st)
	}
	if history == nil {
		history = []domain.GameHistory{}
	}
	if unlocked == nil {
		unlocked = []domain.UnlockedAchievement{}
	}

	return &domain.PlayerStats{
		PlayerID:       playerID,
		Level:          global.CurrentLevel,
		Stars:          global.StarsEarned,
		TotalXP:        global.TotalXP,
		XPForNextLevel: s.calc.XPFloor(global.CurrentLevel + 1),
		XPProgress:     global.TotalXP - s.calc.XPFloor(global.CurrentLevel),
		TotalGames:     totals.GamesPlayed,
		HighScore:      totals.HighScore,
		TotalPoints:    totals.TotalPoints,
		GameLevels:     games,
		GameHistory:    history,
		Achievements:   unlocked,
	}, nil
}

// GetRecentGames returns the player's newest score records. limit defaults
// to DefaultRecentGames and is capped at MaxRecentGames.
func (s *PlayerService) GetRecentGames(ctx context.Context, playerID string, limit int) ([]domain.ScoreRecord, error) {
	if limit <= 0 {
		limit = DefaultRecentGames
	}
	if limit > MaxRecentGames {
		limit = MaxRecentGames
	}
	if _, err := s.reader.GetPlayer(ctx, playerID); err != nil {
		return nil, fmt.Errorf("getting player: %w", err)
	}
	records, err := s.reader.GetRecentScores(ctx, playerID, limit)
	if err != nil {
		return nil, fmt.Errorf("getting recent games: %w", err)
	}
	if records == nil {
		records = []domain.ScoreRecord{}
	}
	return records, nil
}
