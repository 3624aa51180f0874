package domain

import "time"

// RequirementType names the counter an achievement is measured against.
type RequirementType string

const (
	RequirementGamesPlayed     RequirementType = "games_played"
	RequirementSingleGameScore RequirementType = "single_game_score"
	RequirementLevelReached    RequirementType = "level_reached"
	RequirementStreakDays      RequirementType = "streak_days"
)

// Achievement is a catalogue definition.
type Achievement struct {
	ID               string          `json:"id"`
	Name             string          `json:"name"`
	Description      string          `json:"description"`
	RequirementType  RequirementType `json:"requirement_type"`
	RequirementValue int64           `json:"requirement_value"`
	RewardXP         int64           `json:"reward_xp"`
}

// AchievementUnlock records that a player earned an achievement. Unique per (player, achievement).
type AchievementUnlock struct {
	PlayerID      string    `json:"player_id"`
	AchievementID string    `json:"achievement_id"`
	UnlockedAt    time.Time `json:"unlocked_at"`
}

// UnlockedAchievement joins a definition with its unlock time.
type UnlockedAchievement struct {
	Achievement
	UnlockedAt time.Time `json:"unlocked_at"`
}

// Counter is a player's current value for a requirement type.
type Counter struct {
	Type  RequirementType
	Value int64
}
