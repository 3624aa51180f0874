package domain

import "time"

// Difficulty is the difficulty a round was played on.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
	DifficultyExpert Difficulty = "expert"
)

// difficultyMultipliers are exact; finalPoints is floor(raw * multiplier).
var difficultyMultipliers = map[Difficulty]float64{
	DifficultyEasy:   1.0,
	DifficultyMedium: 1.5,
	DifficultyHard:   2.0,
	DifficultyExpert: 3.0,
}

// Multiplier returns the point multiplier for d.
func (d Difficulty) Multiplier() (float64, error) {
	m, ok := difficultyMultipliers[d]
	if !ok {
		return 0, ErrInvalidDifficulty
	}
	return m, nil
}

// GameType identifies one of the mini-games.
type GameType string

const (
	GameTypeColorSort     GameType = "color_sort"
	GameTypeBubbleShooter GameType = "bubble_shooter"
	GameTypeRollingBall   GameType = "rolling_ball"
)

// Valid reports whether g is a known game type.
func (g GameType) Valid() bool {
	switch g {
	case GameTypeColorSort, GameTypeBubbleShooter, GameTypeRollingBall:
		return true
	}
	return false
}

// OrDefault returns g, or color_sort when g is empty.
func (g GameType) OrDefault() GameType {
	if g == "" {
		return GameTypeColorSort
	}
	return g
}

// PlaySession is a single play-through. At most one session per player is active.
type PlaySession struct {
	ID        string     `json:"id"`
	PlayerID  string     `json:"player_id"`
	Token     string     `json:"-"`
	GameType  GameType   `json:"game_type"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	Active    bool       `json:"active"`
}

// SessionStart is returned to the client when a session begins.
type SessionStart struct {
	SessionID    string    `json:"sessionId"`
	SessionToken string    `json:"sessionToken"`
	GameType     GameType  `json:"gameType"`
	StartLevel   int       `json:"startLevel"`
	StartedAt    time.Time `json:"startedAt"`
}

// ScoreRecord is an immutable, post-multiplier score.
type ScoreRecord struct {
	ID          string     `json:"id"`
	PlayerID    string     `json:"player_id"`
	Points      int64      `json:"points"`
	Level       int        `json:"level"`
	Difficulty  Difficulty `json:"difficulty"`
	GameType    GameType   `json:"game_type"`
	SessionID   string     `json:"session_id"`
	CompletedAt time.Time  `json:"completed_at"`
}

// ScoreSubmission is an untrusted score report from the client.
type ScoreSubmission struct {
	PlayerID     string     `json:"-"`
	SessionToken string     `json:"sessionToken"`
	Points       int64      `json:"points"`
	Level        int        `json:"level"`
	Difficulty   Difficulty `json:"difficulty"`
	GameType     GameType   `json:"gameType,omitempty"`
}

// SubmissionResult is what an accepted submission earned.
type SubmissionResult struct {
	FinalPoints   int64         `json:"final_points"`
	EarnedXP      int64         `json:"earned_xp"`
	Multiplier    float64       `json:"multiplier"`
	GameType      GameType      `json:"game_type"`
	LevelProgress LevelProgress `json:"level_progress"`
	Achievements  []Achievement `json:"achievements,omitempty"`
}

// GameHistory aggregates a player's scores for one game type.
type GameHistory struct {
	GameType    GameType `json:"game_type"`
	TotalPoints int64    `json:"total_points"`
	GamesPlayed int64    `json:"games_played"`
	HighScore   int64    `json:"high_score"`
}

// ScoreTotals aggregates all of a player's scores.
type ScoreTotals struct {
	GamesPlayed int64 `json:"games_played"`
	HighScore   int64 `json:"high_score"`
	TotalPoints int64 `json:"total_points"`
}
