// services/scheduler.go
package services

import (
	"context"
	"log"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// StartExpirySweeper runs the expiry sweep every minute in the background.
// Correctness never depends on it — the lazy sweep inside every engine call
// already guards state — but it keeps the leaderboard and streaks honest for
// users who started a challenge and never came back.
func (s *ChallengeService) StartExpirySweeper() {
	sched, _ := gocron.NewScheduler()
	sched.Start()

	_, _ = sched.NewJob(
		gocron.DurationJob(1*time.Minute),
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			swept, err := s.SweepExpired(ctx)
			if err != nil {
				log.Printf("[Sweeper] sweep error: %v", err)
				return
			}
			if swept > 0 {
				log.Printf("[Sweeper] ⌛ expired %d stale challenge(s)", swept)
			}
		}),
	)
}
