package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/arcade-progression/internal/domain"
	"github.com/arcade-progression/internal/service"
	"github.com/arcade-progression/internal/store"
	. "github.com/smartystreets/goconvey/convey"
)

func (h *harness) score(playerID string, points int64, age time.Duration) {
	h.db.AddScore(domain.ScoreRecord{
		ID:          playerID + "-" + age.String(),
		PlayerID:    playerID,
		Points:      points,
		Level:       1,
		Difficulty:  domain.DifficultyEasy,
		GameType:    domain.GameTypeColorSort,
		CompletedAt: h.clock.Now().Add(-age),
	})
}

func (h *harness) globalXP(playerID string, xp int64) {
	st := domain.NewProgressionState(playerID, domain.GlobalTrack)
	st.TotalXP = xp
	h.db.SetProgression(st)
}

func playerIDs(entries []domain.LeaderboardEntry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.PlayerID)
	}
	return out
}

func TestLeaderboardService_GetRanked(t *testing.T) {
	Convey("Given players with scores across windows", t, func() {
		h := newHarness(false)
		for _, id := range []string{"a", "b", "c", "d", "e"} {
			h.addPlayer(id, "user-"+id)
		}
		h.db.PutPlayer(domain.Player{ID: "banned", Username: "cheater", Banned: true})

		h.score("a", 300, time.Hour)
		h.score("b", 200, time.Hour)
		h.globalXP("b", 100)
		h.score("c", 200, time.Hour)
		h.globalXP("c", 500)
		h.score("d", 50, 3*24*time.Hour)
		h.score("banned", 10000, time.Hour)

		Convey("When the global window is read", func() {
			entries, err := h.boards.GetRanked(h.ctx, domain.WindowGlobal, 1, 10)

			Convey("Then players are ordered by points with XP breaking ties", func() {
				So(err, ShouldBeNil)
				So(playerIDs(entries), ShouldResemble, []string{"a", "c", "b", "d", "e"})
				for i, e := range entries {
					So(e.Rank, ShouldEqual, i+1)
				}
			})

			Convey("And higher points always mean a better rank", func() {
				for i := range entries {
					for j := range entries {
						if entries[i].Points > entries[j].Points {
							So(entries[i].Rank, ShouldBeLessThan, entries[j].Rank)
						}
					}
				}
			})
		})

		Convey("When a later page is read", func() {
			entries, err := h.boards.GetRanked(h.ctx, domain.WindowGlobal, 2, 2)

			Convey("Then ranks continue from the page offset", func() {
				So(err, ShouldBeNil)
				So(playerIDs(entries), ShouldResemble, []string{"b", "d"})
				So(entries[0].Rank, ShouldEqual, 3)
				So(entries[1].Rank, ShouldEqual, 4)
			})
		})

		Convey("When the daily window is read", func() {
			entries, err := h.boards.GetRanked(h.ctx, domain.WindowDaily, 1, 10)

			Convey("Then only today's scorers appear", func() {
				So(err, ShouldBeNil)
				So(playerIDs(entries), ShouldResemble, []string{"a", "c", "b"})
				So(h.cache.TTL(h.boards.CacheKey(domain.WindowDaily, 1, 10)), ShouldEqual, 60*time.Second)
			})
		})

		Convey("When the weekly window is read", func() {
			entries, err := h.boards.GetRanked(h.ctx, domain.WindowWeekly, 1, 10)

			Convey("Then scores from the trailing seven days count", func() {
				So(err, ShouldBeNil)
				So(playerIDs(entries), ShouldResemble, []string{"a", "c", "b", "d"})
				So(h.cache.TTL(h.boards.CacheKey(domain.WindowWeekly, 1, 10)), ShouldEqual, 300*time.Second)
			})
		})

		Convey("When the same page is requested twice within the TTL", func() {
			first, err := h.boards.GetRanked(h.ctx, domain.WindowGlobal, 1, 20)
			So(err, ShouldBeNil)
			h.clock.Advance(10 * time.Second)
			second, err := h.boards.GetRanked(h.ctx, domain.WindowGlobal, 1, 20)
			So(err, ShouldBeNil)

			Convey("Then the second is served from cache byte for byte", func() {
				a, _ := json.Marshal(first)
				b, _ := json.Marshal(second)
				So(string(b), ShouldEqual, string(a))
				So(h.db.AggregateQueries(), ShouldEqual, 1)
				So(h.metrics.Cache(service.CacheHit), ShouldEqual, 1)
				So(h.metrics.Cache(service.CacheMiss), ShouldEqual, 1)
			})

			Convey("And a new score stays invisible until the TTL lapses", func() {
				h.score("e", 1000, time.Minute)
				cached, _ := h.boards.GetRanked(h.ctx, domain.WindowGlobal, 1, 20)
				So(cached[0].PlayerID, ShouldEqual, "a")

				h.clock.Advance(300 * time.Second)
				fresh, _ := h.boards.GetRanked(h.ctx, domain.WindowGlobal, 1, 20)
				So(fresh[0].PlayerID, ShouldEqual, "e")
				So(h.db.AggregateQueries(), ShouldEqual, 2)
			})
		})

		Convey("When the cache is unavailable", func() {
			h.cache.SetDown(true)
			entries, err := h.boards.GetRanked(h.ctx, domain.WindowGlobal, 1, 10)

			Convey("Then the read falls back to the live query", func() {
				So(err, ShouldBeNil)
				So(len(entries), ShouldEqual, 5)
				So(h.metrics.Cache(service.CacheError), ShouldEqual, 1)
			})
		})

		Convey("When the page size is out of range", func() {
			_, err := h.boards.GetRanked(h.ctx, domain.WindowGlobal, 0, 1000)

			Convey("Then it is clamped to the first page of the maximum size", func() {
				So(err, ShouldBeNil)
				So(h.cache.TTL(h.boards.CacheKey(domain.WindowGlobal, 1, 100)), ShouldBeGreaterThan, time.Duration(0))
			})
		})

		Convey("When the window is unknown", func() {
			_, err := h.boards.GetRanked(h.ctx, "monthly", 1, 10)

			Convey("Then it is an invalid request", func() {
				So(err, ShouldEqual, domain.ErrInvalidWindow)
			})
		})
	})
}

func TestLeaderboardService_GetRank(t *testing.T) {
	Convey("Given players with all-time points", t, func() {
		h := newHarness(false)
		for _, id := range []string{"a", "b", "c", "d"} {
			h.addPlayer(id, "user-"+id)
		}
		h.score("a", 500, 10*24*time.Hour)
		h.score("b", 300, time.Hour)
		h.score("c", 300, time.Hour)

		Convey("Then rank is one plus the players strictly ahead", func() {
			r, err := h.boards.GetRank(h.ctx, "a")
			So(err, ShouldBeNil)
			So(r.Rank, ShouldEqual, 1)
			So(r.TotalPoints, ShouldEqual, 500)

			rb, _ := h.boards.GetRank(h.ctx, "b")
			rc, _ := h.boards.GetRank(h.ctx, "c")
			So(rb.Rank, ShouldEqual, 2)
			So(rc.Rank, ShouldEqual, 2)

			rd, _ := h.boards.GetRank(h.ctx, "d")
			So(rd.Rank, ShouldEqual, 4)
		})

		Convey("And it is never cached", func() {
			_, _ = h.boards.GetRank(h.ctx, "b")
			h.score("d", 1000, time.Minute)
			r, _ := h.boards.GetRank(h.ctx, "b")
			So(r.Rank, ShouldEqual, 3)
			So(h.cache.Len(), ShouldEqual, 0)
		})

		Convey("And an unknown player is not found", func() {
			_, err := h.boards.GetRank(h.ctx, "ghost")
			So(errors.Is(err, domain.ErrNotFound), ShouldBeTrue)
		})
	})
}

func TestLeaderboardService_Invalidate(t *testing.T) {
	Convey("Given cached pages of every window", t, func() {
		h := newHarness(false)
		h.addPlayer("a", "user-a")
		h.score("a", 100, time.Hour)
		for _, w := range domain.Windows {
			_, err := h.boards.GetRanked(h.ctx, w, 1, 20)
			So(err, ShouldBeNil)
		}
		So(h.cache.Len(), ShouldEqual, 3)

		Convey("When the leaderboard is invalidated", func() {
			So(h.boards.Invalidate(h.ctx), ShouldBeNil)

			Convey("Then only the freshly broadcast global page remains", func() {
				So(h.cache.Len(), ShouldEqual, 1)
				updates := h.events.Updates()
				So(len(updates), ShouldEqual, 1)
				So(updates[0][0].PlayerID, ShouldEqual, "a")
			})
		})

		Convey("When the cache is down during invalidation", func() {
			h.cache.SetDown(true)
			err := h.boards.Invalidate(h.ctx)

			Convey("Then the error reports the cache as unavailable", func() {
				So(errors.Is(err, domain.ErrCacheUnavailable), ShouldBeTrue)
				So(h.events.Updates(), ShouldBeEmpty)
			})
		})
	})
}

func TestLeaderboardService_Snapshot(t *testing.T) {
	Convey("Given more players than the snapshot keeps", t, func() {
		h := newHarness(false)
		for i := 0; i < 120; i++ {
			id := string(rune('A'+i/26)) + string(rune('a'+i%26))
			h.addPlayer(id, "user-"+id)
			h.score(id, int64(1000-i), time.Hour)
		}
		date := h.clock.Now()

		Convey("When a snapshot is taken", func() {
			So(h.boards.Snapshot(h.ctx, date), ShouldBeNil)

			Convey("Then the global top 100 is stored for the date", func() {
				snap, err := h.boards.GetSnapshot(h.ctx, date, domain.WindowGlobal)
				So(err, ShouldBeNil)
				So(len(snap.Entries), ShouldEqual, 100)
				So(snap.Entries[0].Rank, ShouldEqual, 1)
				So(snap.Entries[0].Points, ShouldEqual, 1000)
				So(snap.Entries[99].Rank, ShouldEqual, 100)
				So(h.cache.Len(), ShouldEqual, 0)
			})

			Convey("And taking it again the same day upserts in place", func() {
				h.score("Aa", 5000, time.Minute)
				So(h.boards.Snapshot(h.ctx, date), ShouldBeNil)
				snap, _ := h.boards.GetSnapshot(h.ctx, date, domain.WindowGlobal)
				So(len(snap.Entries), ShouldEqual, 100)
				So(snap.Entries[0].PlayerID, ShouldEqual, "Aa")
				So(snap.Entries[0].Points, ShouldEqual, 6000)
			})
		})

		Convey("When persisting the snapshot fails", func() {
			h.db.FailOn("UpsertSnapshot", errors.New("disk full"))
			err := h.boards.Snapshot(h.ctx, date)

			Convey("Then the error is transient and live reads still work", func() {
				So(domain.KindOf(err), ShouldEqual, domain.KindTransientStore)
				entries, err := h.boards.GetRanked(h.ctx, domain.WindowGlobal, 1, 10)
				So(err, ShouldBeNil)
				So(len(entries), ShouldEqual, 10)
			})
		})

		Convey("When no snapshot exists for a date", func() {
			_, err := h.boards.GetSnapshot(h.ctx, date.AddDate(0, 0, -1), domain.WindowGlobal)

			Convey("Then it is not found", func() {
				So(errors.Is(err, domain.ErrNotFound), ShouldBeTrue)
			})
		})
	})
}

// gatedReader holds RankedWindow until released.
type gatedReader struct {
	store.LeaderboardReader
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *gatedReader) RankedWindow(ctx context.Context, q domain.RankQuery) ([]domain.LeaderboardEntry, error) {
	g.once.Do(func() { close(g.entered) })
	<-g.release
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return g.LeaderboardReader.RankedWindow(ctx, q)
}

func TestLeaderboardService_CoalescedMissOutlivesCaller(t *testing.T) {
	Convey("Given a page computation shared by two callers", t, func() {
		h := newHarness(false)
		h.addPlayer("a", "user-a")
		h.score("a", 300, time.Hour)

		reader := &gatedReader{LeaderboardReader: h.db, entered: make(chan struct{}), release: make(chan struct{})}
		boards := service.NewLeaderboardService(service.LeaderboardDeps{
			Reader:    reader,
			Snapshots: h.db,
			Cache:     h.cache,
			Now:       h.clock.Now,
		}, &h.cfg.Leaderboard, h.cfg.Redis.OpTimeout, h.cfg.Snapshot.TopN, slog.New(slog.NewTextHandler(io.Discard, nil)))

		leaderCtx, cancelLeader := context.WithCancel(context.Background())
		leaderErr := make(chan error, 1)
		go func() {
			_, err := boards.GetRanked(leaderCtx, domain.WindowGlobal, 1, 10)
			leaderErr <- err
		}()
		<-reader.entered

		type result struct {
			entries []domain.LeaderboardEntry
			err     error
		}
		follower := make(chan result, 1)
		go func() {
			entries, err := boards.GetRanked(context.Background(), domain.WindowGlobal, 1, 10)
			follower <- result{entries, err}
		}()
		time.Sleep(20 * time.Millisecond)

		Convey("When the caller that started it goes away", func() {
			cancelLeader()
			err := <-leaderErr
			close(reader.release)
			res := <-follower

			Convey("Then only that caller sees its cancellation", func() {
				So(errors.Is(err, context.Canceled), ShouldBeTrue)
				So(res.err, ShouldBeNil)
				So(playerIDs(res.entries), ShouldResemble, []string{"a"})
			})

			Convey("And the computed page is still cached", func() {
				_, getErr := h.cache.Get(context.Background(), boards.CacheKey(domain.WindowGlobal, 1, 10))
				So(getErr, ShouldBeNil)
			})
		})
	})
}
