package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/arcade-progression/internal/achievement"
	"github.com/arcade-progression/internal/config"
	"github.com/arcade-progression/internal/domain"
	"github.com/arcade-progression/internal/handler"
	"github.com/arcade-progression/internal/metrics"
	"github.com/arcade-progression/internal/progression"
	"github.com/arcade-progression/internal/service"
	"github.com/arcade-progression/internal/session"
	"github.com/arcade-progression/internal/store/memstore"
	. "github.com/smartystreets/goconvey/convey"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type envelope struct {
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data"`
	Error     string          `json:"error"`
	ErrorKind string          `json:"error_kind"`
}

type server struct {
	router  http.Handler
	db      *memstore.Store
	clock   *clock
	metrics *metrics.Manager
	ready   error
}

func newServer() *server {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.DefaultConfig()
	clk := &clock{t: time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC)}
	db := memstore.New(achievement.DefaultCatalogue()...)
	calc := progression.NewCalculator(&cfg.Progression)
	m := metrics.NewManager()

	boards := service.NewLeaderboardService(service.LeaderboardDeps{
		Reader:    db,
		Snapshots: db,
		Cache:     memstore.NewCache(clk.Now),
		Metrics:   m,
		Now:       clk.Now,
	}, &cfg.Leaderboard, cfg.Redis.OpTimeout, cfg.Snapshot.TopN, logger)

	scores := service.NewScoreService(service.ScoreDeps{
		Runner:     db,
		Sessions:   session.NewStore(clk.Now, logger),
		Calculator: calc,
		Evaluator:  achievement.NewEvaluator(logger),
		Metrics:    m,
		Now:        clk.Now,
	}, &cfg.Progression, false, logger)

	s := &server{db: db, clock: clk, metrics: m}
	s.router = handler.NewHandler(handler.Deps{
		Scores:       scores,
		Leaderboards: boards,
		Players:      service.NewPlayerService(db, db, calc, logger),
		Metrics:      m,
		Checks: map[string]handler.ReadinessCheck{
			"postgres": func(context.Context) error { return s.ready },
		},
	}, logger).Router()
	return s
}

func (s *server) do(method, path, playerID string, body interface{}) (int, envelope) {
	raw := ""
	if body != nil {
		data, _ := json.Marshal(body)
		raw = string(data)
	}
	return s.doRaw(method, path, playerID, raw)
}

func (s *server) doRaw(method, path, playerID, body string) (int, envelope) {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if playerID != "" {
		req.Header.Set(handler.PlayerIDHeader, playerID)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	var env envelope
	_ = json.Unmarshal(rec.Body.Bytes(), &env)
	return rec.Code, env
}

func (s *server) register(playerID, username string) {
	code, _ := s.do(http.MethodPut, "/api/v1/players/me", playerID, map[string]string{"username": username})
	So(code, ShouldEqual, http.StatusOK)
}

func (s *server) play(playerID string, points int64) (int, envelope) {
	code, env := s.do(http.MethodPost, "/api/v1/sessions", playerID, map[string]string{"gameType": "color_sort"})
	So(code, ShouldEqual, http.StatusCreated)
	var start domain.SessionStart
	So(json.Unmarshal(env.Data, &start), ShouldBeNil)

	s.clock.Advance(2 * time.Second)
	return s.do(http.MethodPost, "/api/v1/scores", playerID, map[string]interface{}{
		"sessionToken": start.SessionToken,
		"points":       points,
		"level":        1,
		"difficulty":   "hard",
	})
}

func TestHealthAndReadiness(t *testing.T) {
	Convey("Given the HTTP surface", t, func() {
		s := newServer()

		Convey("Then health always succeeds", func() {
			code, env := s.do(http.MethodGet, "/health", "", nil)
			So(code, ShouldEqual, http.StatusOK)
			So(env.Success, ShouldBeTrue)
		})

		Convey("When a readiness check fails", func() {
			s.ready = errors.New("connection refused")
			code, env := s.do(http.MethodGet, "/ready", "", nil)

			Convey("Then readiness reports unavailable", func() {
				So(code, ShouldEqual, http.StatusServiceUnavailable)
				So(env.Success, ShouldBeFalse)
				So(string(env.Data), ShouldContainSubstring, "postgres")
			})
		})

		Convey("When metrics are scraped after a request", func() {
			s.do(http.MethodGet, "/health", "", nil)
			rec := httptest.NewRecorder()
			s.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

			Convey("Then the request is counted by route", func() {
				So(rec.Code, ShouldEqual, http.StatusOK)
				So(rec.Body.String(), ShouldContainSubstring, `route="/health"`)
			})
		})
	})
}

func TestScoreFlow(t *testing.T) {
	Convey("Given a registered player", t, func() {
		s := newServer()
		s.register("p1", "orion")

		Convey("When a game is played and submitted", func() {
			code, env := s.play("p1", 100)

			Convey("Then the result carries points and progress", func() {
				So(code, ShouldEqual, http.StatusOK)
				var result domain.SubmissionResult
				So(json.Unmarshal(env.Data, &result), ShouldBeNil)
				So(result.FinalPoints, ShouldEqual, 200)
				So(result.EarnedXP, ShouldEqual, 400)
			})

			Convey("And the player ranks first on every window", func() {
				for _, w := range []string{"global", "daily", "weekly"} {
					code, env := s.do(http.MethodGet, "/api/v1/leaderboards/"+w+"?page=1&pageSize=10", "", nil)
					So(code, ShouldEqual, http.StatusOK)
					var entries []domain.LeaderboardEntry
					So(json.Unmarshal(env.Data, &entries), ShouldBeNil)
					So(len(entries), ShouldEqual, 1)
					So(entries[0].Rank, ShouldEqual, 1)
					So(entries[0].Username, ShouldEqual, "orion")
				}

				code, env := s.do(http.MethodGet, "/api/v1/players/me/rank", "p1", nil)
				So(code, ShouldEqual, http.StatusOK)
				var rank domain.PlayerRank
				So(json.Unmarshal(env.Data, &rank), ShouldBeNil)
				So(rank.Rank, ShouldEqual, 1)
				So(rank.TotalPoints, ShouldEqual, 200)
			})

			Convey("And stats and recent games reflect it", func() {
				code, env := s.do(http.MethodGet, "/api/v1/players/me/stats", "p1", nil)
				So(code, ShouldEqual, http.StatusOK)
				var stats domain.PlayerStats
				So(json.Unmarshal(env.Data, &stats), ShouldBeNil)
				So(stats.TotalGames, ShouldEqual, 1)
				So(stats.HighScore, ShouldEqual, 200)

				code, env = s.do(http.MethodGet, "/api/v1/players/me/recent-games?limit=5", "p1", nil)
				So(code, ShouldEqual, http.StatusOK)
				var games []domain.ScoreRecord
				So(json.Unmarshal(env.Data, &games), ShouldBeNil)
				So(len(games), ShouldEqual, 1)
			})
		})

		Convey("When a score is submitted with a forged token", func() {
			code, env := s.do(http.MethodPost, "/api/v1/scores", "p1", map[string]interface{}{
				"sessionToken": "forged", "points": 10, "level": 1, "difficulty": "easy",
			})

			Convey("Then it is rejected as an invalid session", func() {
				So(code, ShouldEqual, http.StatusBadRequest)
				So(env.ErrorKind, ShouldEqual, string(domain.KindSessionInvalid))
			})
		})

		Convey("When a score is submitted immediately", func() {
			_, env := s.do(http.MethodPost, "/api/v1/sessions", "p1", nil)
			var start domain.SessionStart
			So(json.Unmarshal(env.Data, &start), ShouldBeNil)
			code, env := s.do(http.MethodPost, "/api/v1/scores", "p1", map[string]interface{}{
				"sessionToken": start.SessionToken, "points": 10, "level": 1, "difficulty": "easy",
			})

			Convey("Then it is flagged as suspicious", func() {
				So(code, ShouldEqual, http.StatusBadRequest)
				So(env.ErrorKind, ShouldEqual, string(domain.KindSuspiciousSession))
			})
		})

		Convey("When the store fails during submission", func() {
			s.db.FailOn("SaveProgression", errors.New("connection reset"))
			code, env := s.play("p1", 100)

			Convey("Then the client sees a transient error without the cause", func() {
				So(code, ShouldEqual, http.StatusServiceUnavailable)
				So(env.ErrorKind, ShouldEqual, string(domain.KindTransientStore))
				So(env.Error, ShouldNotContainSubstring, "connection reset")
			})
		})

		Convey("When a client sends camelCase request bodies", func() {
			code, env := s.doRaw(http.MethodPost, "/api/v1/sessions", "p1", `{"gameType":"bubble_shooter"}`)
			So(code, ShouldEqual, http.StatusCreated)
			So(string(env.Data), ShouldContainSubstring, `"sessionToken":`)
			var start domain.SessionStart
			So(json.Unmarshal(env.Data, &start), ShouldBeNil)
			So(start.GameType, ShouldEqual, domain.GameTypeBubbleShooter)

			s.clock.Advance(2 * time.Second)
			code, env = s.doRaw(http.MethodPost, "/api/v1/scores", "p1",
				`{"sessionToken":"`+start.SessionToken+`","points":100,"level":1,"difficulty":"hard","gameType":"bubble_shooter"}`)

			Convey("Then the token and game type are honoured", func() {
				So(code, ShouldEqual, http.StatusOK)
				var result domain.SubmissionResult
				So(json.Unmarshal(env.Data, &result), ShouldBeNil)
				So(result.GameType, ShouldEqual, domain.GameTypeBubbleShooter)
				So(result.FinalPoints, ShouldEqual, 200)
			})
		})

		Convey("When the body exceeds the size limit", func() {
			padding := strings.Repeat("x", 2<<20)
			code, env := s.doRaw(http.MethodPost, "/api/v1/scores", "p1", `{"sessionToken":"`+padding+`"}`)

			Convey("Then it is rejected before reaching the service", func() {
				So(code, ShouldEqual, http.StatusRequestEntityTooLarge)
				So(env.ErrorKind, ShouldEqual, string(domain.KindInvalidRequest))
			})
		})

		Convey("When the body is malformed", func() {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/scores", bytes.NewBufferString("{"))
			req.Header.Set(handler.PlayerIDHeader, "p1")
			rec := httptest.NewRecorder()
			s.router.ServeHTTP(rec, req)

			Convey("Then it is a bad request", func() {
				So(rec.Code, ShouldEqual, http.StatusBadRequest)
			})
		})
	})
}

func TestRequestErrors(t *testing.T) {
	Convey("Given the HTTP surface", t, func() {
		s := newServer()

		Convey("Then caller routes require an identity", func() {
			code, _ := s.do(http.MethodPost, "/api/v1/sessions", "", nil)
			So(code, ShouldEqual, http.StatusUnauthorized)
		})

		Convey("Then an unknown window is a bad request", func() {
			code, env := s.do(http.MethodGet, "/api/v1/leaderboards/monthly", "", nil)
			So(code, ShouldEqual, http.StatusBadRequest)
			So(env.ErrorKind, ShouldEqual, string(domain.KindInvalidRequest))
		})

		Convey("Then an unknown player's rank is not found", func() {
			code, env := s.do(http.MethodGet, "/api/v1/players/ghost/rank", "", nil)
			So(code, ShouldEqual, http.StatusNotFound)
			So(env.ErrorKind, ShouldEqual, string(domain.KindNotFound))
		})

		Convey("Then sessions for unknown players are not found", func() {
			code, _ := s.do(http.MethodPost, "/api/v1/sessions", "ghost", nil)
			So(code, ShouldEqual, http.StatusNotFound)
		})

		Convey("Then snapshots validate their date and report absence", func() {
			code, _ := s.do(http.MethodGet, "/api/v1/leaderboards/snapshots/yesterday", "", nil)
			So(code, ShouldEqual, http.StatusBadRequest)

			code, env := s.do(http.MethodGet, "/api/v1/leaderboards/snapshots/2026-03-13?window=global", "", nil)
			So(code, ShouldEqual, http.StatusNotFound)
			So(env.ErrorKind, ShouldEqual, string(domain.KindNotFound))
		})

		Convey("Then a blank username is rejected", func() {
			code, _ := s.do(http.MethodPut, "/api/v1/players/me", "p1", map[string]string{"username": " "})
			So(code, ShouldEqual, http.StatusBadRequest)
		})
	})
}
