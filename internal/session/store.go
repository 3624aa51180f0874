// Package session tracks the single active play session of each player.
//
// Sessions move from active to inactive exactly once and are never
// reactivated or deleted. Every method runs inside a player-scoped
// transaction supplied by the caller, which serializes it against other
// session and score operations of the same player.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/arcade-progression/internal/domain"
	"github.com/arcade-progression/internal/store"
	"github.com/google/uuid"
)

// Store manages play sessions
type Store struct {
	now    func() time.Time
	logger *slog.Logger
}

// NewStore creates a new session store. A nil clock means time.Now.
func NewStore(now func() time.Time, logger *slog.Logger) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{now: now, logger: logger}
}

// Start deactivates any active session of the player and creates a new one
// with a fresh random token.
func (s *Store) Start(ctx context.Context, tx store.Tx, playerID string, gameType domain.GameType) (*domain.PlaySession, error) {
	now := s.now().UTC()

	closed, err := tx.DeactivateSessions(ctx, playerID, now)
	if err != nil {
		return nil, fmt.Errorf("deactivating previous sessions: %w", err)
	}
	if closed > 0 {
		s.logger.Debug("replaced active session", "player_id", playerID, "closed", closed)
	}

	session := &domain.PlaySession{
		ID:        uuid.NewString(),
		PlayerID:  playerID,
		Token:     newToken(),
		GameType:  gameType,
		StartedAt: now,
		Active:    true,
	}
	if err := tx.InsertSession(ctx, session); err != nil {
		return nil, fmt.Errorf("inserting session: %w", err)
	}
	return session, nil
}

// Validate returns the active session with token owned by playerID, or
// domain.ErrSessionInvalid.
func (s *Store) Validate(ctx context.Context, tx store.Tx, playerID, token string) (*domain.PlaySession, error) {
	if token == "" {
		return nil, domain.ErrSessionInvalid
	}
	session, err := tx.FindActiveSession(ctx, playerID, token)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrSessionInvalid
		}
		return nil, fmt.Errorf("finding session: %w", err)
	}
	return session, nil
}

// Consume marks the session inactive. Consuming an inactive session is a no-op.
func (s *Store) Consume(ctx context.Context, tx store.Tx, sessionID string) error {
	consumed, err := tx.ConsumeSession(ctx, sessionID, s.now().UTC())
	if err != nil {
		return fmt.Errorf("consuming session: %w", err)
	}
	if !consumed {
		s.logger.Debug("session already inactive", "session_id", sessionID)
	}
	return nil
}

// newToken returns an unguessable opaque token built from two random UUIDs.
func newToken() string {
	a, b := uuid.New(), uuid.New()
	return fmt.Sprintf("%x%x", a[:], b[:])
}
