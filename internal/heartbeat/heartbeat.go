package heartbeat

import (
	"context"
	"log"
	"sync"
	"time"

	"audio-extractor/internal/status"
)

// ProgressFunc returns how many items of a batch have finished so far.
type ProgressFunc func() (done, total int)

// Service appends a keepalive status line at a fixed interval while a long
// batch is running, so a silent conversion is not mistaken for a hang.
type Service struct {
	interval time.Duration
	reporter status.Reporter
	progress ProgressFunc
}

// New creates a heartbeat service. intervalSec <= 0 disables it.
func New(intervalSec int, reporter status.Reporter, progress ProgressFunc) *Service {
	return &Service{
		interval: time.Duration(intervalSec) * time.Second,
		reporter: reporter,
		progress: progress,
	}
}

// Start launches the heartbeat loop in a non-blocking way. The returned stop
// function ends the loop and waits for it, after which no further line is
// appended.
func (s *Service) Start(ctx context.Context) (stop func()) {
	if s.interval <= 0 {
		return func() {}
	}

	ctx, cancel := context.WithCancel(ctx)
	ticker := time.NewTicker(s.interval)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.beat()
			}
		}
	}()

	return func() {
		cancel()
		wg.Wait()
	}
}

func (s *Service) beat() {
	done, total := s.progress()
	if total > 0 && done >= total {
		return
	}
	s.reporter.Appendf("Still converting: %d/%d finished", done, total)
	log.Printf("[Heartbeat] %d/%d finished", done, total)
}
