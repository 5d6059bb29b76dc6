package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/huangang/feedbackloop/internal/feedback"
	"github.com/huangang/feedbackloop/internal/models"
	"github.com/huangang/feedbackloop/internal/store"
	"github.com/huangang/feedbackloop/pkg/logger"
	"github.com/robfig/cron/v3"
	"gorm.io/gorm"
)

const (
	sweepLockName = "feedback_sweeper"
	sweepBatch    = 200
)

// EventSubmitter accepts internal lifecycle events.
type EventSubmitter interface {
	Submit(ev feedback.Event) <-chan error
}

// Sweeper fires persisted timers: due outreach, delivery and
// classification retries, unconfirmed sends and response deadlines. Timers live in the
// database, so they survive restarts and fire late rather than never.
type Sweeper struct {
	db       *gorm.DB
	repo     store.Repository
	events   EventSubmitter
	logs     *SystemLogService
	interval time.Duration
	owner    string
	now      func() time.Time
	cron     *cron.Cron
}

func NewSweeper(db *gorm.DB, repo store.Repository, events EventSubmitter, interval time.Duration, now func() time.Time) *Sweeper {
	if now == nil {
		now = time.Now
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	host, _ := os.Hostname()
	return &Sweeper{
		db:       db,
		repo:     repo,
		events:   events,
		logs:     NewSystemLogService(db),
		interval: interval,
		owner:    fmt.Sprintf("%s-%d", host, os.Getpid()),
		now:      func() time.Time { return now().UTC() },
	}
}

func (s *Sweeper) Start() error {
	s.cron = cron.New()

	if _, err := s.cron.AddFunc(fmt.Sprintf("@every %s", s.interval), func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.interval*4)
		defer cancel()
		if _, err := s.Sweep(ctx); err != nil {
			logger.Error().Err(err).Msg("[Sweeper] sweep failed")
		}
	}); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc("@daily", func() {
		if s.acquire(context.Background(), "log_cleanup", time.Hour) {
			s.logs.RunCleanup(s.now())
		}
	}); err != nil {
		return err
	}

	s.cron.Start()
	logger.Infof("[Sweeper] Scheduler started (every %s)", s.interval)
	return nil
}

func (s *Sweeper) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}

// Sweep submits an event for every timer that is due and waits for them.
// It returns the number of events that caused a transition.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	if !s.acquire(ctx, "due_actions", s.interval*4) {
		logger.Debug().Str("owner", s.owner).Msg("[Sweeper] lock held elsewhere")
		return 0, nil
	}
	defer s.release("due_actions")

	now := s.now()
	var events []feedback.Event

	due := []struct {
		status feedback.Status
		event  func(visitID string) feedback.Event
	}{
		{feedback.StatusCreated, func(id string) feedback.Event { return feedback.OutreachDue{VisitID: id, At: now} }},
		{feedback.StatusPendingOutreach, func(id string) feedback.Event { return feedback.RetryDue{VisitID: id, At: now} }},
		{feedback.StatusClassifying, func(id string) feedback.Event { return feedback.ClassifyRetryDue{VisitID: id, At: now} }},
	}
	for _, d := range due {
		reqs, err := s.repo.DueActions(ctx, string(d.status), now, sweepBatch)
		if err != nil {
			return 0, err
		}
		for _, r := range reqs {
			events = append(events, d.event(r.VisitID))
		}
	}

	expired, err := s.repo.ExpiredDeadlines(ctx, now, sweepBatch)
	if err != nil {
		return 0, err
	}
	for _, r := range expired {
		events = append(events, feedback.ResponseTimeout{VisitID: r.VisitID, At: now})
	}

	unconfirmed, err := s.repo.UnconfirmedSends(ctx, now, sweepBatch)
	if err != nil {
		return 0, err
	}
	for _, r := range unconfirmed {
		events = append(events, feedback.ConfirmationTimeout{VisitID: r.VisitID, At: now})
	}

	results := make([]<-chan error, 0, len(events))
	for _, ev := range events {
		results = append(results, s.events.Submit(ev))
	}
	fired := 0
	for i, ch := range results {
		select {
		case err := <-ch:
			switch {
			case err == nil:
				fired++
			case errors.Is(err, feedback.ErrIgnored):
			default:
				logger.Warn().Err(err).Str("visit_id", events[i].Visit()).Str("event", string(events[i].Kind())).Msg("[Sweeper] timer event failed")
			}
		case <-ctx.Done():
			return fired, ctx.Err()
		}
	}
	if len(events) > 0 {
		logger.Debug().Int("due", len(events)).Int("fired", fired).Msg("[Sweeper] sweep complete")
	}
	return fired, nil
}

// acquire takes or renews the named lock. An expired lock held by another
// replica is taken over.
func (s *Sweeper) acquire(ctx context.Context, key string, ttl time.Duration) bool {
	now := s.now()
	db := s.db.WithContext(ctx)

	res := db.Model(&models.SchedulerLock{}).
		Where("lock_name = ? AND lock_key = ? AND (expires_at < ? OR locked_by = ?)", sweepLockName, key, now, s.owner).
		Updates(map[string]interface{}{
			"locked_by":  s.owner,
			"locked_at":  now,
			"expires_at": now.Add(ttl),
		})
	if res.Error != nil {
		logger.Warn().Err(res.Error).Str("lock", key).Msg("[Sweeper] lock update failed")
		return false
	}
	if res.RowsAffected > 0 {
		return true
	}

	lock := models.SchedulerLock{
		LockName:  sweepLockName,
		LockKey:   key,
		LockedBy:  s.owner,
		LockedAt:  now,
		ExpiresAt: now.Add(ttl),
	}
	return db.Create(&lock).Error == nil
}

func (s *Sweeper) release(key string) {
	s.db.Where("lock_name = ? AND lock_key = ? AND locked_by = ?", sweepLockName, key, s.owner).
		Delete(&models.SchedulerLock{})
}
