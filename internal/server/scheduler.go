package server

import (
	"context"
	"log"
	"time"

	"github.com/gorhill/cronexpr"
	"github.com/redis/go-redis/v9"

	"github.com/skovale/briefgen/internal/jobs"
	"github.com/skovale/briefgen/internal/research"
	"github.com/skovale/briefgen/internal/store"
)

// Scheduler re-runs standing topics on their cron cadence. Due topics are
// resubmitted through the job manager as follow-up requests so each run
// builds on the previous brief.
type Scheduler struct {
	Store    *store.Store
	Manager  *jobs.Manager
	Rdb      *redis.Client // optional, lock across replicas
	Logger   *log.Logger
	Interval time.Duration
	LockTTL  time.Duration
	Stop     chan struct{}
}

func (s *Scheduler) Start() {
	if s.Logger == nil {
		s.Logger = log.New(log.Writer(), "[SCHED] ", log.LstdFlags)
	}
	if s.Interval <= 0 {
		s.Interval = time.Hour
	}
	if s.LockTTL <= 0 {
		s.LockTTL = 2 * time.Minute
	}
	ticker := time.NewTicker(s.Interval)
	go func() {
		for {
			select {
			case <-s.Stop:
				ticker.Stop()
				return
			case <-ticker.C:
				s.tick()
			}
		}
	}()
}

func (s *Scheduler) tick() {
	ctx := context.Background()
	topics, err := s.Store.ListAllTopics(ctx)
	if err != nil {
		s.Logger.Printf("warn: list topics failed: %v", err)
		return
	}
	for _, t := range topics {
		if !isDue(t.ScheduleCron, t.LastRunAt) {
			continue
		}

		// Lock per topic so replicas do not double-fire. The lock expires on
		// its own; a held lock within the TTL means another replica ran it.
		if s.Rdb != nil {
			lockKey := "sched:lock:" + t.ID
			ok, err := s.Rdb.SetNX(ctx, lockKey, "1", s.LockTTL).Result()
			if err != nil {
				s.Logger.Printf("warn: scheduler lock for topic %s failed: %v", t.ID, err)
				continue
			}
			if !ok {
				continue
			}
		}

		b, err := s.Manager.Submit(ctx, research.ResearchRequest{
			Topic:    t.Name,
			Depth:    t.Depth,
			FollowUp: true,
			UserID:   t.UserID,
		})
		if err != nil {
			s.Logger.Printf("warn: scheduled submit for topic %s failed: %v", t.ID, err)
			continue
		}
		if err := s.Store.TouchTopicRun(ctx, t.ID, time.Now().UTC()); err != nil {
			s.Logger.Printf("warn: touch topic %s failed: %v", t.ID, err)
		}
		s.Logger.Printf("topic %s (%q) resubmitted as brief %s", t.ID, t.Name, b.BriefID)
	}
}

// isDue determines if a topic with cronSpec should run now based on last run time.
// Supports "@daily", "@hourly", and standard 5-field cron expressions.
func isDue(cronSpec string, last *time.Time) bool {
	now := time.Now()
	switch cronSpec {
	case "@daily":
		if last == nil {
			return true
		}
		return now.Sub(*last) >= 24*time.Hour
	case "@hourly":
		if last == nil {
			return true
		}
		return now.Sub(*last) >= time.Hour
	default:
		expr, err := cronexpr.Parse(cronSpec)
		if err != nil {
			// Invalid spec behaves like @daily
			if last == nil {
				return true
			}
			return now.Sub(*last) >= 24*time.Hour
		}
		if last == nil {
			return true
		}
		next := expr.Next(*last)
		return !next.After(now)
	}
}
