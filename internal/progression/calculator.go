// Package progression maps experience to levels and levels to stars.
// Everything here is pure; callers persist the returned states.
package progression

import (
	"math"

	"github.com/arcade-progression/internal/config"
	"github.com/arcade-progression/internal/domain"
)

const curveGrowth = 1.5

// Calculator applies the level curve xpFloor(L) = floor(XPBase * 1.5^(L-1)).
type Calculator struct {
	xpBase        int64
	maxLevel      int
	xpPerPoint    float64
	starsPerLevel int64
}

// NewCalculator creates a calculator from progression configuration
func NewCalculator(cfg *config.ProgressionConfig) *Calculator {
	maxLevel := cfg.MaxLevel
	if maxLevel < 1 {
		maxLevel = 1
	}
	return &Calculator{
		xpBase:        cfg.XPBase,
		maxLevel:      maxLevel,
		xpPerPoint:    cfg.XPPerPoint,
		starsPerLevel: cfg.StarsPerLevel,
	}
}

// MaxLevel returns the level cap.
func (c *Calculator) MaxLevel() int {
	return c.maxLevel
}

// XPFloor returns the total XP at which level begins. Floors beyond the
// int64 range saturate at math.MaxInt64.
func (c *Calculator) XPFloor(level int) int64 {
	if level < 1 {
		level = 1
	}
	return floorXP(c.xpBase, level)
}

func floorXP(xpBase int64, level int) int64 {
	v := math.Floor(float64(xpBase) * math.Pow(curveGrowth, float64(level-1)))
	if v >= math.MaxInt64 || math.IsNaN(v) {
		return math.MaxInt64
	}
	return int64(v)
}

// EarnedXP converts final points into experience.
func (c *Calculator) EarnedXP(finalPoints int64) int64 {
	return int64(math.Floor(float64(finalPoints) * c.xpPerPoint))
}

// Gain is what a single ApplyXP call changed.
type Gain struct {
	LevelsGained int
	StarsGained  int64
}

// Add accumulates another gain on the same track.
func (g Gain) Add(o Gain) Gain {
	return Gain{
		LevelsGained: g.LevelsGained + o.LevelsGained,
		StarsGained:  g.StarsGained + o.StarsGained,
	}
}

// ApplyXP adds earnedXP to state and raises the level as far as the new total
// justifies, never past MaxLevel. Levels and XP never decrease. The level loop
// runs at most MaxLevel times whatever the curve configuration.
func (c *Calculator) ApplyXP(state domain.ProgressionState, earnedXP int64) (domain.ProgressionState, Gain) {
	if earnedXP < 0 {
		earnedXP = 0
	}
	next := state
	if next.CurrentLevel < 1 {
		next.CurrentLevel = 1
	}
	next.TotalXP = state.TotalXP + earnedXP

	oldLevel := next.CurrentLevel
	for i := 0; i < c.maxLevel && next.CurrentLevel < c.maxLevel; i++ {
		floor := c.XPFloor(next.CurrentLevel + 1)
		if floor == math.MaxInt64 || next.TotalXP < floor {
			break
		}
		next.CurrentLevel++
	}

	gain := Gain{LevelsGained: next.CurrentLevel - oldLevel}
	gain.StarsGained = int64(gain.LevelsGained) * c.starsPerLevel
	next.StarsEarned = state.StarsEarned + gain.StarsGained
	return next, gain
}

// Progress returns percent progress toward the next level, clamped to [0,100].
// At MaxLevel there is no next floor and the result is 100.
func (c *Calculator) Progress(state domain.ProgressionState) float64 {
	if state.CurrentLevel >= c.maxLevel {
		return 100
	}
	floor := c.XPFloor(state.CurrentLevel)
	next := c.XPFloor(state.CurrentLevel + 1)
	span := next - floor
	if span <= 0 {
		return 100
	}
	pct := 100 * float64(state.TotalXP-floor) / float64(span)
	return math.Max(0, math.Min(100, pct))
}

// Track summarises state and gain for a submission response.
func (c *Calculator) Track(state domain.ProgressionState, gain Gain) domain.TrackProgress {
	return domain.TrackProgress{
		CurrentLevel:   state.CurrentLevel,
		TotalXP:        state.TotalXP,
		LevelsGained:   gain.LevelsGained,
		StarsGained:    gain.StarsGained,
		XPForNextLevel: c.XPFloor(state.CurrentLevel + 1),
		Progress:       c.Progress(state),
	}
}
