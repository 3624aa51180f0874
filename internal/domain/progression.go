package domain

// GlobalTrack is the empty game type used for the player's global progression row.
const GlobalTrack GameType = ""

// ProgressionState is a player's level track, either global or per game type.
type ProgressionState struct {
	PlayerID     string   `json:"player_id"`
	GameType     GameType `json:"game_type,omitempty"`
	CurrentLevel int      `json:"current_level"`
	TotalXP      int64    `json:"total_xp"`
	StarsEarned  int64    `json:"stars_earned"`
}

// NewProgressionState returns the starting state of a track.
func NewProgressionState(playerID string, gameType GameType) ProgressionState {
	return ProgressionState{
		PlayerID:     playerID,
		GameType:     gameType,
		CurrentLevel: 1,
	}
}

// IsGlobal reports whether s is the global track.
func (s ProgressionState) IsGlobal() bool {
	return s.GameType == GlobalTrack
}

// TrackProgress describes one track after a submission.
type TrackProgress struct {
	CurrentLevel   int     `json:"current_level"`
	TotalXP        int64   `json:"total_xp"`
	LevelsGained   int     `json:"levels_gained"`
	StarsGained    int64   `json:"stars_gained"`
	XPForNextLevel int64   `json:"xp_for_next_level"`
	Progress       float64 `json:"progress"`
}

// LevelProgress reports per-game and global track progress for one submission.
type LevelProgress struct {
	TrackProgress
	Global TrackProgress `json:"global"`
}
