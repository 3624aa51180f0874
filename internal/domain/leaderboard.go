package domain

import (
	"time"
)

// Window is a leaderboard ranking window.
type Window string

const (
	WindowGlobal Window = "global"
	WindowDaily  Window = "daily"
	WindowWeekly Window = "weekly"
)

// Windows lists every ranking window.
var Windows = []Window{WindowGlobal, WindowDaily, WindowWeekly}

// ParseWindow validates a window name.
func ParseWindow(s string) (Window, error) {
	switch w := Window(s); w {
	case WindowGlobal, WindowDaily, WindowWeekly:
		return w, nil
	}
	return "", ErrInvalidWindow
}

// Since returns the lower bound on completed_at for the window, or the zero
// time for the all-time window. Daily starts at UTC midnight; weekly is the
// trailing seven days.
func (w Window) Since(now time.Time) time.Time {
	now = now.UTC()
	switch w {
	case WindowDaily:
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	case WindowWeekly:
		return now.Add(-7 * 24 * time.Hour)
	default:
		return time.Time{}
	}
}

// LeaderboardEntry represents a single entry in the leaderboard
type LeaderboardEntry struct {
	Rank     int64  `json:"rank"`
	PlayerID string `json:"player_id"`
	Username string `json:"username"`
	Points   int64  `json:"points"`
	Level    int    `json:"level"`
	TotalXP  int64  `json:"total_xp"`
}

// RankQuery selects one page of a window.
type RankQuery struct {
	Window Window
	Since  time.Time
	Limit  int
	Offset int
}

// Snapshot is a dated, persisted copy of a ranking window.
type Snapshot struct {
	Date    time.Time          `json:"date"`
	Window  Window             `json:"window"`
	Entries []LeaderboardEntry `json:"entries"`
}

// Player is the subset of the external player profile the core reads.
type Player struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Banned    bool      `json:"banned"`
	CreatedAt time.Time `json:"created_at"`
}

// PlayerStats is the aggregated profile view of a player's progression.
type PlayerStats struct {
	PlayerID       string                `json:"player_id"`
	Level          int                   `json:"level"`
	Stars          int64                 `json:"stars"`
	TotalXP        int64                 `json:"total_xp"`
	XPForNextLevel int64                 `json:"xp_for_next_level"`
	XPProgress     int64                 `json:"xp_progress"`
	TotalGames     int64                 `json:"total_games"`
	HighScore      int64                 `json:"high_score"`
	TotalPoints    int64                 `json:"total_points"`
	GameLevels     []ProgressionState    `json:"game_levels"`
	GameHistory    []GameHistory         `json:"game_history"`
	Achievements   []UnlockedAchievement `json:"achievements"`
}

// PlayerRank is a player's live all-time position.
type PlayerRank struct {
	PlayerID    string `json:"player_id"`
	Rank        int64  `json:"rank"`
	TotalPoints int64  `json:"total_points"`
}
