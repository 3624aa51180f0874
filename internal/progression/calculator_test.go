package progression_test

import (
	"math"
	"testing"

	"github.com/arcade-progression/internal/config"
	"github.com/arcade-progression/internal/domain"
	"github.com/arcade-progression/internal/progression"
	. "github.com/smartystreets/goconvey/convey"
)

func newCalculator() *progression.Calculator {
	return progression.NewCalculator(&config.DefaultConfig().Progression)
}

func TestXPFloor(t *testing.T) {
	Convey("Given the default curve", t, func() {
		calc := newCalculator()

		Convey("Then the first floors match floor(1000 * 1.5^(L-1))", func() {
			So(calc.XPFloor(1), ShouldEqual, 1000)
			So(calc.XPFloor(2), ShouldEqual, 1500)
			So(calc.XPFloor(3), ShouldEqual, 2250)
			So(calc.XPFloor(5), ShouldEqual, 5062)
		})

		Convey("And the floor is strictly increasing up to the cap", func() {
			for level := 1; level < calc.MaxLevel(); level++ {
				So(calc.XPFloor(level+1), ShouldBeGreaterThan, calc.XPFloor(level))
			}
		})
	})
}

func TestXPFloorSaturates(t *testing.T) {
	Convey("Given a curve whose upper floors exceed int64", t, func() {
		calc := progression.NewCalculator(&config.ProgressionConfig{
			XPBase: 1000, MaxLevel: 100, XPPerPoint: 2, StarsPerLevel: 3,
		})

		Convey("Then floors saturate instead of wrapping negative", func() {
			So(calc.XPFloor(91), ShouldBeGreaterThan, 0)
			So(calc.XPFloor(92), ShouldEqual, int64(math.MaxInt64))
			So(calc.XPFloor(101), ShouldEqual, int64(math.MaxInt64))
			for level := 1; level < calc.MaxLevel(); level++ {
				So(calc.XPFloor(level+1), ShouldBeGreaterThanOrEqualTo, calc.XPFloor(level))
			}
		})

		Convey("When applying zero XP at level 91", func() {
			state := domain.ProgressionState{PlayerID: "p1", CurrentLevel: 91, TotalXP: calc.XPFloor(91), StarsEarned: 270}
			next, gain := calc.ApplyXP(state, 0)

			Convey("Then nothing changes", func() {
				So(next, ShouldResemble, state)
				So(gain, ShouldResemble, progression.Gain{})
			})
		})
	})
}

func TestApplyXP(t *testing.T) {
	Convey("Given the default curve", t, func() {
		calc := newCalculator()
		fresh := domain.NewProgressionState("p1", domain.GlobalTrack)

		Convey("When applying zero XP", func() {
			state := domain.ProgressionState{PlayerID: "p1", CurrentLevel: 7, TotalXP: 12000, StarsEarned: 18}
			next, gain := calc.ApplyXP(state, 0)

			Convey("Then nothing changes", func() {
				So(next, ShouldResemble, state)
				So(gain, ShouldResemble, progression.Gain{})
			})
		})

		Convey("When a player one XP below the level 5 floor earns exactly one XP", func() {
			state := domain.ProgressionState{PlayerID: "p1", CurrentLevel: 4, TotalXP: calc.XPFloor(5) - 1, StarsEarned: 9}
			next, gain := calc.ApplyXP(state, 1)

			Convey("Then they reach level 5 and earn three stars", func() {
				So(next.CurrentLevel, ShouldEqual, 5)
				So(next.TotalXP, ShouldEqual, calc.XPFloor(5))
				So(next.StarsEarned, ShouldEqual, 12)
				So(gain.LevelsGained, ShouldEqual, 1)
				So(gain.StarsGained, ShouldEqual, 3)
			})
		})

		Convey("When one grant spans several levels", func() {
			next, gain := calc.ApplyXP(fresh, calc.XPFloor(4))

			Convey("Then every level is counted", func() {
				So(next.CurrentLevel, ShouldEqual, 4)
				So(gain.LevelsGained, ShouldEqual, 3)
				So(next.StarsEarned, ShouldEqual, 9)
			})
		})

		Convey("When applying 10^9 XP", func() {
			next, _ := calc.ApplyXP(fresh, 1_000_000_000)

			Convey("Then the level stays within the cap and the floor invariant holds", func() {
				So(next.CurrentLevel, ShouldBeLessThanOrEqualTo, calc.MaxLevel())
				So(calc.XPFloor(next.CurrentLevel), ShouldBeLessThanOrEqualTo, next.TotalXP)
				So(calc.XPFloor(next.CurrentLevel+1), ShouldBeGreaterThan, next.TotalXP)
			})
		})

		Convey("When applying more XP than the whole curve", func() {
			next, gain := calc.ApplyXP(fresh, math.MaxInt64/2)

			Convey("Then the player stops at the cap", func() {
				So(next.CurrentLevel, ShouldEqual, calc.MaxLevel())
				So(gain.LevelsGained, ShouldEqual, calc.MaxLevel()-1)
				So(calc.Progress(next), ShouldEqual, 100)
			})
		})

		Convey("When applying XP in many small grants", func() {
			state := fresh
			for i := 0; i < 200; i++ {
				var gain progression.Gain
				prev := state
				state, gain = calc.ApplyXP(state, 137*int64(i+1))

				So(state.TotalXP, ShouldBeGreaterThanOrEqualTo, prev.TotalXP)
				So(state.StarsEarned, ShouldBeGreaterThanOrEqualTo, prev.StarsEarned)
				So(gain.StarsGained, ShouldEqual, int64(gain.LevelsGained)*3)
				if state.CurrentLevel > 1 {
					So(calc.XPFloor(state.CurrentLevel), ShouldBeLessThanOrEqualTo, state.TotalXP)
				}
			}
		})

		Convey("When the state is a legacy level above what its XP justifies", func() {
			legacy := domain.ProgressionState{PlayerID: "p1", CurrentLevel: 10, TotalXP: 10}
			next, gain := calc.ApplyXP(legacy, 5)

			Convey("Then the level is never lowered", func() {
				So(next.CurrentLevel, ShouldEqual, 10)
				So(gain.LevelsGained, ShouldEqual, 0)
				So(next.TotalXP, ShouldEqual, 15)
			})
		})
	})

	Convey("Given a malformed curve with a zero base", t, func() {
		calc := progression.NewCalculator(&config.ProgressionConfig{XPBase: 0, MaxLevel: 50, StarsPerLevel: 3})

		Convey("Then applying XP still terminates at the cap", func() {
			next, _ := calc.ApplyXP(domain.NewProgressionState("p1", domain.GlobalTrack), 1)
			So(next.CurrentLevel, ShouldEqual, 50)
		})
	})
}

func TestProgress(t *testing.T) {
	Convey("Given the default curve", t, func() {
		calc := newCalculator()

		Convey("Then a fresh player below the first floor reports 0", func() {
			So(calc.Progress(domain.NewProgressionState("p1", domain.GlobalTrack)), ShouldEqual, 0)
		})

		Convey("And half way through level 1 reports 50", func() {
			state := domain.ProgressionState{CurrentLevel: 1, TotalXP: 1250}
			So(calc.Progress(state), ShouldEqual, 50)
		})

		Convey("And the track summary reports the next floor", func() {
			state := domain.ProgressionState{CurrentLevel: 2, TotalXP: 1500}
			track := calc.Track(state, progression.Gain{LevelsGained: 1, StarsGained: 3})
			So(track.XPForNextLevel, ShouldEqual, 2250)
			So(track.Progress, ShouldEqual, 0)
			So(track.LevelsGained, ShouldEqual, 1)
		})
	})
}

func TestEarnedXP(t *testing.T) {
	Convey("Given two XP per point", t, func() {
		calc := newCalculator()

		Convey("Then 200 final points earn 400 XP", func() {
			So(calc.EarnedXP(200), ShouldEqual, 400)
		})
	})
}
