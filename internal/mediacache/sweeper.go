package mediacache

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Sweeper periodically drops expired media from a Store.
type Sweeper struct {
	cron   *cron.Cron
	store  *Store
	maxAge time.Duration
	logger zerolog.Logger
	now    func() time.Time
}

// NewSweeper schedules Sweep on a cron schedule such as "@every 10m" or
// "*/15 * * * *".
func NewSweeper(store *Store, schedule string, maxAge time.Duration, logger zerolog.Logger) (*Sweeper, error) {
	s := &Sweeper{
		cron:   cron.New(),
		store:  store,
		maxAge: maxAge,
		logger: logger,
		now:    time.Now,
	}
	if _, err := s.cron.AddFunc(schedule, s.Run); err != nil {
		return nil, fmt.Errorf("invalid media sweep schedule %q: %w", schedule, err)
	}
	return s, nil
}

// Run performs one sweep immediately.
func (s *Sweeper) Run() {
	removed, err := s.store.Sweep(s.maxAge, s.now())
	if err != nil {
		s.logger.Error().Err(err).Str("dir", s.store.Dir()).Msg("media sweep failed")
		return
	}
	if removed > 0 {
		s.logger.Info().Int("removed", removed).Dur("max_age", s.maxAge).Msg("expired media removed")
	}
}

func (s *Sweeper) Start() {
	s.cron.Start()
	s.logger.Debug().Dur("max_age", s.maxAge).Msg("media sweeper started")
}

// Stop waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}
