package postgres

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/arcade-progression/internal/domain"
	"github.com/arcade-progression/internal/store"
)

// ActivityLog appends activity events to the player_activity_logs table.
// Writes run in the background and failures are only logged.
type ActivityLog struct {
	repo    *Repository
	timeout time.Duration
	logger  *slog.Logger
	wg      sync.WaitGroup
}

var _ store.ActivityLog = (*ActivityLog)(nil)

// NewActivityLog creates a table-backed activity sink
func NewActivityLog(repo *Repository, timeout time.Duration, logger *slog.Logger) *ActivityLog {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &ActivityLog{repo: repo, timeout: timeout, logger: logger}
}

// Append records event without blocking the caller
func (a *ActivityLog) Append(ctx context.Context, event domain.ActivityEvent) {
	var metadata []byte
	if event.Metadata != nil {
		var err error
		metadata, err = json.Marshal(event.Metadata)
		if err != nil {
			a.logger.Error("marshaling activity metadata", "player_id", event.PlayerID, "error", err)
			metadata = nil
		}
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.timeout)
		defer cancel()

		_, err := a.repo.pool.Exec(ctx, `
			INSERT INTO player_activity_logs (player_id, action, metadata, created_at)
			VALUES ($1, $2, $3, $4)
		`, event.PlayerID, event.Action, metadata, event.Timestamp)
		if err != nil {
			a.logger.Warn("recording activity", "player_id", event.PlayerID, "action", event.Action, "error", err)
		}
	}()
}

// Close waits for in-flight writes
func (a *ActivityLog) Close() {
	a.wg.Wait()
}
