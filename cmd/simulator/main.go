package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
)

var playerPrefixes = []string{
	"Phoenix", "Shadow", "Thunder", "Storm", "Blaze", "Ninja", "Dragon", "Wolf", "Hawk", "Viper",
	"Ghost", "Titan", "Frost", "Cyber", "Nova", "Raven", "Omega", "Alpha", "Delta", "Sigma",
	"Ace", "Bolt", "Crash", "Dash", "Edge", "Flash", "Glitch", "Haze", "Ion", "Jade",
	"Knight", "Luna", "Mystic", "Neon", "Orion", "Pulse", "Quantum", "Rebel", "Spark", "Turbo",
}

var (
	difficulties = []string{"easy", "medium", "hard", "expert"}
	gameTypes    = []string{"color_sort", "bubble_shooter", "rolling_ball"}
)

func getPlayerName(idx int) string {
	prefixIdx := idx % len(playerPrefixes)
	suffix := idx/len(playerPrefixes) + 1
	return fmt.Sprintf("%s%d", playerPrefixes[prefixIdx], suffix)
}

type envelope struct {
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data"`
	Error     string          `json:"error"`
	ErrorKind string          `json:"error_kind"`
}

type client struct {
	baseURL string
	http    *http.Client
}

func (c *client) call(ctx context.Context, method, path, playerID string, body interface{}) (*envelope, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Player-ID", playerID)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling %s: %w", path, err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("decoding %s response: %w", path, err)
	}
	return &env, nil
}

type stats struct {
	games    atomic.Int64
	accepted atomic.Int64
	rejected atomic.Int64
	errors   atomic.Int64
}

// play runs one game: start a session, wait out the play time, submit
func (c *client) play(ctx context.Context, playerID string, playTime time.Duration, s *stats) {
	s.games.Add(1)
	gameType := gameTypes[rand.Intn(len(gameTypes))]

	env, err := c.call(ctx, http.MethodPost, "/api/v1/sessions", playerID, map[string]string{"gameType": gameType})
	if err != nil || !env.Success {
		s.errors.Add(1)
		return
	}
	var start struct {
		SessionToken string `json:"sessionToken"`
		StartLevel   int    `json:"startLevel"`
	}
	if err := json.Unmarshal(env.Data, &start); err != nil {
		s.errors.Add(1)
		return
	}

	select {
	case <-time.After(playTime):
	case <-ctx.Done():
		return
	}

	level := start.StartLevel
	if level < 1 {
		level = 1
	}
	env, err = c.call(ctx, http.MethodPost, "/api/v1/scores", playerID, map[string]interface{}{
		"sessionToken": start.SessionToken,
		"points":       rand.Intn(level*800) + 100,
		"level":        level,
		"difficulty":   difficulties[rand.Intn(len(difficulties))],
		"gameType":     gameType,
	})
	switch {
	case err != nil:
		s.errors.Add(1)
	case env.Success:
		s.accepted.Add(1)
	default:
		s.rejected.Add(1)
	}
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "Server base URL")
	totalPlayers := flag.Int("players", 200, "Total number of players to simulate")
	gamesPerSecond := flag.Int("rate", 20, "Games started per second")
	concurrency := flag.Int("concurrency", 100, "Maximum games in flight")
	playTime := flag.Duration("play-time", 1500*time.Millisecond, "Time between session start and submission")
	duration := flag.Duration("duration", 0, "Duration to run (0 = forever)")
	flag.Parse()

	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println("  Arcade Progression Simulator")
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Printf("  Server:           %s\n", *baseURL)
	fmt.Printf("  Total Players:    %d\n", *totalPlayers)
	fmt.Printf("  Games/sec:        %d\n", *gamesPerSecond)
	fmt.Printf("  Play time:        %s\n", *playTime)
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if *duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *duration)
		defer cancel()
	}

	c := &client{baseURL: *baseURL, http: &http.Client{Timeout: 10 * time.Second}}

	fmt.Printf("Registering %d players...\n", *totalPlayers)
	for i := 0; i < *totalPlayers; i++ {
		name := getPlayerName(i)
		env, err := c.call(ctx, http.MethodPut, "/api/v1/players/me", name, map[string]string{"username": name})
		if err != nil {
			log.Fatalf("Failed to register %s: %v", name, err)
		}
		if !env.Success {
			log.Fatalf("Failed to register %s: %s", name, env.Error)
		}
		fmt.Printf("\r  Progress: %d/%d players", i+1, *totalPlayers)
	}
	fmt.Printf("\n✓ Registered %d players\n\n", *totalPlayers)
	fmt.Println("Press Ctrl+C to stop")
	fmt.Println()

	var s stats
	var g errgroup.Group
	g.SetLimit(*concurrency)

	ticker := time.NewTicker(time.Second / time.Duration(*gamesPerSecond))
	defer ticker.Stop()

	statsTicker := time.NewTicker(5 * time.Second)
	defer statsTicker.Stop()

	var skipped int64
	for {
		select {
		case <-ctx.Done():
			fmt.Println("\n\nShutting down...")
			_ = g.Wait()
			fmt.Printf("\n✓ Completed. Games: %d, Accepted: %d, Rejected: %d, Errors: %d, Skipped: %d\n",
				s.games.Load(), s.accepted.Load(), s.rejected.Load(), s.errors.Load(), skipped)
			return

		case <-ticker.C:
			// Top players play more often to create movement
			var playerIdx int
			if rand.Intn(100) < 70 || *totalPlayers <= 20 {
				playerIdx = rand.Intn(min(20, *totalPlayers))
			} else {
				playerIdx = rand.Intn(*totalPlayers-20) + 20
			}
			playerID := getPlayerName(playerIdx)

			started := g.TryGo(func() error {
				c.play(ctx, playerID, *playTime, &s)
				return nil
			})
			if !started {
				skipped++
			}

		case <-statsTicker.C:
			fmt.Printf("[%s] Games: %d | Accepted: %d | Rejected: %d | Errors: %d\n",
				time.Now().Format("15:04:05"),
				s.games.Load(),
				s.accepted.Load(),
				s.rejected.Load(),
				s.errors.Load(),
			)
		}
	}
}
