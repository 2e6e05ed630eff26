package cleanup

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Sweep intervals.
const (
	clientSweepInterval  = 120 * time.Second
	reapInterval         = 60 * time.Second
	savedMessagesEvery   = 10 * time.Minute
	orphanSessionsEvery  = 15 * time.Minute
	messageLogPurgeEvery = time.Hour
)

// Registry is the client-cache side of the scheduler.
type Registry interface {
	Sweep() int
}

// Supervisor is the worker-fleet side of the scheduler.
type Supervisor interface {
	Reap(ctx context.Context)
}

// Store is the persistence side of the scheduler.
type Store interface {
	CleanupOldSavedMessages(ctx context.Context) (int64, error)
	CleanupOrphanedLoggingSessions(ctx context.Context) (int64, error)
	PurgeMessageLogsOlderThan(ctx context.Context, retention time.Duration) (int64, error)
}

// Scheduler runs the periodic retention and cleanup tasks. It is started
// once at process bring-up and stopped at shutdown; every task logs its
// failures and never crashes the loop.
type Scheduler struct {
	registry   Registry
	supervisor Supervisor
	store      Store
	log        *zap.Logger

	// MessageLogRetention > 0 enables the optional message_logs purge.
	messageLogRetention time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a scheduler. messageLogRetention of zero disables the
// message-log purge (the default: logs are kept forever).
func New(registry Registry, supervisor Supervisor, store Store, messageLogRetention time.Duration, log *zap.Logger) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{
		registry:            registry,
		supervisor:          supervisor,
		store:               store,
		log:                 log,
		messageLogRetention: messageLogRetention,
	}
}

// Start launches the background tasks.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	s.every(ctx, clientSweepInterval, func(context.Context) {
		s.registry.Sweep()
	})

	s.every(ctx, reapInterval, func(ctx context.Context) {
		s.supervisor.Reap(ctx)
	})

	s.every(ctx, savedMessagesEvery, func(ctx context.Context) {
		removed, err := s.store.CleanupOldSavedMessages(ctx)
		if err != nil {
			s.log.Error("saved message cleanup failed", zap.Error(err))
			return
		}
		if removed > 0 {
			s.log.Info("purged old saved messages", zap.Int64("removed", removed))
		}
	})

	s.every(ctx, orphanSessionsEvery, func(ctx context.Context) {
		moved, err := s.store.CleanupOrphanedLoggingSessions(ctx)
		if err != nil {
			s.log.Error("orphaned session cleanup failed", zap.Error(err))
			return
		}
		if moved > 0 {
			s.log.Info("retired orphaned logging sessions", zap.Int64("count", moved))
		}
	})

	if s.messageLogRetention > 0 {
		s.every(ctx, messageLogPurgeEvery, func(ctx context.Context) {
			removed, err := s.store.PurgeMessageLogsOlderThan(ctx, s.messageLogRetention)
			if err != nil {
				s.log.Error("message log purge failed", zap.Error(err))
				return
			}
			if removed > 0 {
				s.log.Info("purged old message logs", zap.Int64("removed", removed))
			}
		})
	}
}

// Stop cancels the tasks and waits for in-flight iterations to finish.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) every(ctx context.Context, interval time.Duration, task func(ctx context.Context)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				task(ctx)
			}
		}
	}()
}
