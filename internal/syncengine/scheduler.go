package syncengine

import (
	"context"
	"sync"
	"time"
)

// SchedulerStatus reports the periodic sync state
type SchedulerStatus struct {
	Running          bool      `json:"running"`
	Interval         string    `json:"interval"`
	LastRun          time.Time `json:"lastRun,omitempty"`
	NextScheduledRun time.Time `json:"nextScheduledRun,omitempty"`
	LastError        string    `json:"lastError,omitempty"`
}

// Scheduler runs a sync pass on a fixed interval
type Scheduler struct {
	engine   *Engine
	interval time.Duration

	mu       sync.RWMutex
	ticker   *time.Ticker
	stopChan chan struct{}
	done     chan struct{}
	status   SchedulerStatus
}

// NewScheduler creates a scheduler; it does nothing until Start
func NewScheduler(engine *Engine, interval time.Duration) *Scheduler {
	return &Scheduler{
		engine:   engine,
		interval: interval,
		status:   SchedulerStatus{Interval: interval.String()},
	}
}

// Start runs a pass immediately and then every interval until Stop or ctx ends
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.ticker != nil || s.interval <= 0 {
		s.mu.Unlock()
		return
	}
	s.stopChan = make(chan struct{})
	s.done = make(chan struct{})
	s.ticker = time.NewTicker(s.interval)
	s.status.Running = true
	s.status.NextScheduledRun = time.Now().Add(s.interval)
	ticker, stop, done := s.ticker, s.stopChan, s.done
	s.mu.Unlock()

	s.engine.logger.Infof("Periodic sync started (every %s)", s.interval)

	go func() {
		defer close(done)
		defer ticker.Stop()

		s.run(ctx)
		for {
			select {
			case <-ticker.C:
				s.mu.Lock()
				s.status.NextScheduledRun = time.Now().Add(s.interval)
				s.mu.Unlock()
				s.run(ctx)
			case <-stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop ends the loop and waits for an in-flight pass to finish
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.ticker == nil {
		s.mu.Unlock()
		return
	}
	close(s.stopChan)
	done := s.done
	s.ticker = nil
	s.status.Running = false
	s.mu.Unlock()

	<-done
	s.engine.logger.Info("Periodic sync stopped")
}

// Status returns the scheduler state
func (s *Scheduler) Status() SchedulerStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

func (s *Scheduler) run(ctx context.Context) {
	_, err := s.engine.Sync(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.LastRun = time.Now()
	s.status.LastError = ""
	if err != nil {
		s.status.LastError = err.Error()
		s.engine.logger.Warnf("Periodic sync failed: %v", err)
	}
}
