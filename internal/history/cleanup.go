package history

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const cleanupTimeout = time.Minute

// CleanupScheduler deletes finished upload records older than the retention period, once a day at 2 AM.
type CleanupScheduler struct {
	repository    Repository
	retentionDays int
	now           func() time.Time

	timer    *time.Timer
	done     chan struct{}
	stopOnce sync.Once
	mu       sync.Mutex
}

func NewCleanupScheduler(repository Repository, retentionDays int) *CleanupScheduler {
	if retentionDays <= 0 {
		retentionDays = 7
	}

	return &CleanupScheduler{
		repository:    repository,
		retentionDays: retentionDays,
		now:           time.Now,
		done:          make(chan struct{}),
	}
}

func (cs *CleanupScheduler) Start() {
	nextRun := nextDailyRun(cs.now())
	log.Info().
		Str("nextRun", nextRun.Format("2006-01-02 15:04:05")).
		Int("retentionDays", cs.retentionDays).
		Msg("[HISTORY] Upload cleanup scheduler started")

	cs.mu.Lock()
	cs.timer = time.AfterFunc(time.Until(nextRun), cs.loop)
	cs.mu.Unlock()
}

func (cs *CleanupScheduler) loop() {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-cs.done:
			return
		default:
		}
		cs.RunNow()

		select {
		case <-ticker.C:
		case <-cs.done:
			return
		}
	}
}

// RunNow deletes expired records immediately and returns how many were removed.
func (cs *CleanupScheduler) RunNow() int64 {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	cutoff := cs.now().AddDate(0, 0, -cs.retentionDays).Unix()
	deleted, err := cs.repository.DeleteFinishedBefore(ctx, cutoff)
	if err != nil {
		log.Error().Err(err).Msg("[HISTORY] Failed to cleanup upload records")
		return 0
	}

	log.Info().
		Int64("deletedCount", deleted).
		Int("retentionDays", cs.retentionDays).
		Msg("[HISTORY] Upload cleanup completed")
	return deleted
}

func (cs *CleanupScheduler) Stop() {
	cs.stopOnce.Do(func() {
		log.Info().Msg("[HISTORY] Stopping upload cleanup scheduler")
		cs.mu.Lock()
		if cs.timer != nil {
			cs.timer.Stop()
		}
		cs.mu.Unlock()
		close(cs.done)
	})
}

func nextDailyRun(now time.Time) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), 2, 0, 0, 0, now.Location())
	if now.After(next) {
		next = next.Add(24 * time.Hour)
	}
	return next
}
