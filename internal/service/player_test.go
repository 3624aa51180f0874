package service_test

import (
	"errors"
	"testing"
	"time"

	"github.com/arcade-progression/internal/domain"
	"github.com/arcade-progression/internal/service"
	. "github.com/smartystreets/goconvey/convey"
)

func TestPlayerService(t *testing.T) {
	Convey("Given a player service", t, func() {
		h := newHarness(false)

		Convey("When a player registers", func() {
			p, err := h.players.RegisterPlayer(h.ctx, "p1", "  orion ")

			Convey("Then the trimmed profile is stored", func() {
				So(err, ShouldBeNil)
				So(p.Username, ShouldEqual, "orion")
			})
		})

		Convey("When the username is blank", func() {
			_, err := h.players.RegisterPlayer(h.ctx, "p1", "   ")

			Convey("Then it is an invalid request", func() {
				So(errors.Is(err, domain.ErrInvalidRequest), ShouldBeTrue)
			})
		})

		Convey("When a player has played two games", func() {
			h.addPlayer("p1", "orion")
			_, err := h.play("p1", 100, domain.DifficultyHard)
			So(err, ShouldBeNil)
			h.clock.Advance(time.Minute)
			s := h.start("p1", domain.GameTypeBubbleShooter)
			h.clock.Advance(5 * time.Second)
			_, err = h.scores.SubmitScore(h.ctx, domain.ScoreSubmission{
				PlayerID: "p1", SessionToken: s.SessionToken, Points: 1200, Level: 2, Difficulty: domain.DifficultyEasy,
			})
			So(err, ShouldBeNil)

			stats, err := h.players.GetPlayerStats(h.ctx, "p1")

			Convey("Then the stats aggregate both games", func() {
				So(err, ShouldBeNil)
				So(stats.TotalGames, ShouldEqual, 2)
				So(stats.HighScore, ShouldEqual, 1200)
				So(stats.TotalPoints, ShouldEqual, 1400)
				So(len(stats.GameHistory), ShouldEqual, 2)
				So(len(stats.GameLevels), ShouldEqual, 2)
			})

			Convey("And the global track includes achievement rewards", func() {
				// 400 + 2400 earned, plus first_game and score_1000 rewards
				So(stats.TotalXP, ShouldEqual, 2950)
				So(stats.Level, ShouldEqual, 3)
				So(stats.XPForNextLevel, ShouldEqual, h.calc.XPFloor(4))
				So(stats.XPProgress, ShouldEqual, 2950-h.calc.XPFloor(3))
				So(len(stats.Achievements), ShouldEqual, 2)
				So(stats.Achievements[0].ID, ShouldEqual, "score_1000")
			})

			Convey("And recent games are newest first", func() {
				games, err := h.players.GetRecentGames(h.ctx, "p1", 0)
				So(err, ShouldBeNil)
				So(len(games), ShouldEqual, 2)
				So(games[0].GameType, ShouldEqual, domain.GameTypeBubbleShooter)

				one, _ := h.players.GetRecentGames(h.ctx, "p1", 1)
				So(len(one), ShouldEqual, 1)
			})
		})

		Convey("When a player has more games than the cap", func() {
			h.addPlayer("p1", "orion")
			for i := 0; i < service.MaxRecentGames+20; i++ {
				h.score("p1", int64(i), time.Duration(i)*time.Minute)
			}
			games, err := h.players.GetRecentGames(h.ctx, "p1", 1000)

			Convey("Then at most the cap is returned", func() {
				So(err, ShouldBeNil)
				So(len(games), ShouldEqual, service.MaxRecentGames)
			})
		})

		Convey("When the player is unknown", func() {
			_, err := h.players.GetPlayerStats(h.ctx, "ghost")
			_, err2 := h.players.GetRecentGames(h.ctx, "ghost", 10)

			Convey("Then both reads are not found", func() {
				So(errors.Is(err, domain.ErrNotFound), ShouldBeTrue)
				So(errors.Is(err2, domain.ErrNotFound), ShouldBeTrue)
			})
		})
	})
}
