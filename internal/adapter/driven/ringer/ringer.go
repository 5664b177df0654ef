package ringer

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Log is a ringer for headless agents: while ringing it logs a line every
// interval. It implements port.Ringer.
type Log struct {
	interval time.Duration
	logger   zerolog.Logger

	mu   sync.Mutex
	stop chan struct{}
	wg   sync.WaitGroup
}

func NewLog(interval time.Duration) *Log {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Log{
		interval: interval,
		logger:   log.With().Str("component", "ringer").Logger(),
	}
}

func (r *Log) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stop != nil {
		return
	}
	stop := make(chan struct{})
	r.stop = stop
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.logger.Info().Msg("Incoming call ringing")
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				r.logger.Info().Msg("Incoming call ringing")
			}
		}
	}()
}

// Stop silences the ringer and waits for the ticker goroutine.
func (r *Log) Stop() {
	r.mu.Lock()
	stop := r.stop
	r.stop = nil
	r.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	r.wg.Wait()
}

func (r *Log) Ringing() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stop != nil
}
