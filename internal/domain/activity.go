package domain

import "time"

// Activity actions
const (
	ActionGameStart    = "game_start"
	ActionGameComplete = "game_complete"
)

// ActivityEvent is appended to the activity log after a state change.
type ActivityEvent struct {
	PlayerID  string                 `json:"player_id"`
	Action    string                 `json:"action"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// ScoreSubmittedEvent is broadcast to connected clients after an accepted submission.
type ScoreSubmittedEvent struct {
	PlayerID    string    `json:"player_id"`
	GameType    GameType  `json:"game_type"`
	FinalPoints int64     `json:"final_points"`
	Level       int       `json:"level"`
	GlobalLevel int       `json:"global_level"`
	Timestamp   time.Time `json:"timestamp"`
}
