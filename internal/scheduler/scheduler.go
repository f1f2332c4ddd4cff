// Package scheduler runs the periodic maintenance jobs: session eviction and
// a daily redemption-count log line.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"

	"house-concierge-bot/internal/lib/sl"
	"house-concierge-bot/internal/session"
	"house-concierge-bot/internal/storage"
)

func Start(log *slog.Logger, sessions *session.Store, db *storage.DB) (gocron.Scheduler, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}

	_, err = s.NewJob(
		gocron.DurationJob(10*time.Minute),
		gocron.NewTask(func() {
			if n := sessions.Evict(); n > 0 {
				log.Info("evicted idle sessions", slog.Int("count", n))
			}
		}),
	)
	if err != nil {
		return nil, err
	}

	_, err = s.NewJob(
		gocron.DailyJob(1, gocron.NewAtTimes(gocron.NewAtTime(3, 0, 0))),
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			n, err := db.CountCodeUsages(ctx)
			if err != nil {
				log.Error("usage stats query failed", sl.Err(err))
				return
			}
			log.Info("code redemptions to date", slog.Int("total", n))
		}),
	)
	if err != nil {
		return nil, err
	}

	s.Start()
	return s, nil
}
