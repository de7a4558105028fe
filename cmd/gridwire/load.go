package main

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"

	"github.com/gridwire/gridwire/pkg/client"
	"github.com/gridwire/gridwire/pkg/protocol"
)

func loadCmd() *cobra.Command {
	var (
		url      string
		clients  int
		duration time.Duration
		rate     float64
	)

	cmd := &cobra.Command{
		Use:   "load",
		Short: "Run a load test against a gridwire server",
		Long: `Run a load test against a gridwire server.

Each simulated client joins the world and issues random moves at the
configured rate. Latency is measured from sending a move to seeing the
resulting update for the client's own player.

Examples:
  gridwire load --url=ws://localhost:8080/ws
  gridwire load --clients=200 --duration=60s --rate=10`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLoad(url, clients, duration, rate)
		},
	}

	cmd.Flags().StringVarP(&url, "url", "u", "ws://localhost:8080/ws", "WebSocket URL of the server")
	cmd.Flags().IntVarP(&clients, "clients", "c", 50, "Number of concurrent clients")
	cmd.Flags().DurationVarP(&duration, "duration", "d", 30*time.Second, "Test duration")
	cmd.Flags().Float64VarP(&rate, "rate", "r", 5, "Moves per second per client")

	return cmd
}

type loadStats struct {
	mu        sync.Mutex
	latencies []time.Duration

	sent     atomic.Uint64
	acked    atomic.Uint64
	resyncs  atomic.Uint64
	dialErrs atomic.Uint64
}

func (s *loadStats) record(d time.Duration) {
	s.acked.Add(1)
	s.mu.Lock()
	s.latencies = append(s.latencies, d)
	s.mu.Unlock()
}

func (s *loadStats) percentile(p float64) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.latencies) == 0 {
		return 0
	}
	sorted := make([]time.Duration, len(s.latencies))
	copy(sorted, s.latencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := int(p * float64(len(sorted)-1))
	return sorted[idx]
}

func runLoad(url string, clients int, duration time.Duration, rate float64) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))

	ctx, cancel := context.WithTimeout(context.Background(), duration)
	defer cancel()

	stats := &loadStats{}
	var wg sync.WaitGroup

	fmt.Printf("Starting %d clients against %s for %s (%.1f moves/s each)\n",
		clients, url, duration, rate)
	start := time.Now()

	for i := 0; i < clients; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			// Spread connection attempts to avoid a thundering herd.
			time.Sleep(time.Duration(n) * 5 * time.Millisecond)
			runLoadClient(ctx, url, n, rate, stats, logger)
		}(i)
	}

	wg.Wait()
	elapsed := time.Since(start)

	sent := stats.sent.Load()
	acked := stats.acked.Load()
	fmt.Println()
	fmt.Printf("Duration:      %s\n", elapsed.Round(time.Millisecond))
	fmt.Printf("Moves sent:    %d (%.1f/s)\n", sent, float64(sent)/elapsed.Seconds())
	fmt.Printf("Moves acked:   %d\n", acked)
	fmt.Printf("Resyncs:       %d\n", stats.resyncs.Load())
	fmt.Printf("Dial errors:   %d\n", stats.dialErrs.Load())
	if acked > 0 {
		fmt.Printf("Latency p50:   %s\n", stats.percentile(0.50).Round(time.Microsecond))
		fmt.Printf("Latency p95:   %s\n", stats.percentile(0.95).Round(time.Microsecond))
		fmt.Printf("Latency p99:   %s\n", stats.percentile(0.99).Round(time.Microsecond))
	}
	return nil
}

func runLoadClient(ctx context.Context, url string, n int, rate float64, stats *loadStats, logger *slog.Logger) {
	c, err := client.Dial(ctx, url, &client.Options{
		Name:   fmt.Sprintf("load-%d", n),
		Logger: logger,
	})
	if err != nil {
		stats.dialErrs.Add(1)
		return
	}
	defer c.Close()

	if err := c.Join(); err != nil {
		return
	}

	// inflight holds send times of moves awaiting their own-player
	// update, oldest first.
	var inflight []time.Time
	rng := rand.New(rand.NewSource(int64(n)))
	dirs := []protocol.Direction{
		protocol.DirUp, protocol.DirDown, protocol.DirLeft, protocol.DirRight,
	}

	interval := time.Duration(float64(time.Second) / rate)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			if err := c.Move(dirs[rng.Intn(len(dirs))]); err != nil {
				return
			}
			stats.sent.Add(1)
			inflight = append(inflight, time.Now())

		case ev, ok := <-c.Events():
			if !ok {
				return
			}
			switch ev.Kind {
			case client.EventUpdate:
				if ev.Update == nil || len(inflight) == 0 {
					continue
				}
				for _, ch := range ev.Update.Changes {
					if ch.Kind == protocol.ChangeUpsert && ch.Player.ID == c.PlayerID() {
						stats.record(time.Since(inflight[0]))
						inflight = inflight[1:]
						break
					}
				}
			case client.EventStateChange:
				if ev.State == client.StateResyncNeeded {
					stats.resyncs.Add(1)
				}
			case client.EventSnapshot:
				// A snapshot voids latency attribution for anything
				// still in flight.
				inflight = inflight[:0]
			}
		}
	}
}
