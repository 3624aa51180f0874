package achievement

import "github.com/arcade-progression/internal/domain"

// DefaultCatalogue is seeded into the achievements table on first migration.
func DefaultCatalogue() []domain.Achievement {
	return []domain.Achievement{
		{ID: "first_game", Name: "First Steps", Description: "Complete your first game",
			RequirementType: domain.RequirementGamesPlayed, RequirementValue: 1, RewardXP: 50},
		{ID: "games_10", Name: "Regular", Description: "Complete 10 games",
			RequirementType: domain.RequirementGamesPlayed, RequirementValue: 10, RewardXP: 100},
		{ID: "games_50", Name: "Dedicated", Description: "Complete 50 games",
			RequirementType: domain.RequirementGamesPlayed, RequirementValue: 50, RewardXP: 250},
		{ID: "games_100", Name: "Centurion", Description: "Complete 100 games",
			RequirementType: domain.RequirementGamesPlayed, RequirementValue: 100, RewardXP: 500},
		{ID: "score_1000", Name: "High Scorer", Description: "Score 1000 points in one game",
			RequirementType: domain.RequirementSingleGameScore, RequirementValue: 1000, RewardXP: 100},
		{ID: "score_5000", Name: "Point Machine", Description: "Score 5000 points in one game",
			RequirementType: domain.RequirementSingleGameScore, RequirementValue: 5000, RewardXP: 300},
		{ID: "level_5", Name: "Climber", Description: "Reach level 5",
			RequirementType: domain.RequirementLevelReached, RequirementValue: 5, RewardXP: 100},
		{ID: "level_10", Name: "Veteran", Description: "Reach level 10",
			RequirementType: domain.RequirementLevelReached, RequirementValue: 10, RewardXP: 200},
		{ID: "level_25", Name: "Master", Description: "Reach level 25",
			RequirementType: domain.RequirementLevelReached, RequirementValue: 25, RewardXP: 500},
		{ID: "streak_7", Name: "Week Warrior", Description: "Play seven days in a row",
			RequirementType: domain.RequirementStreakDays, RequirementValue: 7, RewardXP: 200},
	}
}
