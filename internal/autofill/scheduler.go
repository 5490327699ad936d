package autofill

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/tunez/guildradio/internal/guild"
	"github.com/tunez/guildradio/internal/provider"
)

type State int

const (
	Idle State = iota
	Scheduled
	Filling
)

func (s State) String() string {
	switch s {
	case Scheduled:
		return "scheduled"
	case Filling:
		return "filling"
	}
	return "idle"
}

// Host is the guild the scheduler fills.
type Host interface {
	GuildID() string
	// Idle reports an empty queue with nothing playing.
	Idle() bool
	Settings() guild.Settings
	// AppendAutofill adds tracks only if the guild is still idle and ctx is live.
	AppendAutofill(ctx context.Context, tracks []provider.Track) int
	PlayNext(ctx context.Context) error
}

// Scheduler runs the Idle -> Scheduled -> Filling cycle for one guild.
type Scheduler struct {
	engine      *Engine
	host        Host
	fillTimeout time.Duration
	log         *slog.Logger

	mu         sync.Mutex
	state      State
	gen        uint64
	timer      *time.Timer
	cancelFill context.CancelFunc
	done       chan struct{}
}

func NewScheduler(engine *Engine, host Host, fillTimeout time.Duration, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if fillTimeout <= 0 {
		fillTimeout = 2 * time.Minute
	}
	return &Scheduler{
		engine:      engine,
		host:        host,
		fillTimeout: fillTimeout,
		log:         logger.With(slog.String("guild", host.GuildID())),
	}
}

func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ScheduleIfIdle arms a delayed fill. It does nothing when a fill is already
// pending or running, or when the feature is globally off.
func (s *Scheduler) ScheduleIfIdle(delay time.Duration) bool {
	if !s.engine.FeatureEnabled() || !s.host.Settings().Autofill.Enabled {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Idle {
		return false
	}
	if delay < 0 {
		delay = 0
	}
	s.gen++
	gen := s.gen
	s.state = Scheduled
	s.done = make(chan struct{})
	s.timer = time.AfterFunc(delay, func() { s.fire(gen) })
	s.log.Debug("autofill scheduled", slog.Duration("delay", delay))
	return true
}

// Cancel stops a pending or running fill. It reports whether anything was cancelled.
func (s *Scheduler) Cancel() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case Scheduled:
		s.timer.Stop()
		s.gen++
		s.finishLocked()
		s.log.Debug("autofill cancelled")
		return true
	case Filling:
		s.gen++
		if s.cancelFill != nil {
			s.cancelFill()
		}
		s.log.Debug("autofill fill cancelled")
		return true
	}
	return false
}

// Wait blocks until the current cycle ends or ctx expires.
func (s *Scheduler) Wait(ctx context.Context) error {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) finishLocked() {
	s.state = Idle
	s.timer = nil
	s.cancelFill = nil
	if s.done != nil {
		close(s.done)
		s.done = nil
	}
}

func (s *Scheduler) fire(gen uint64) {
	s.mu.Lock()
	if gen != s.gen || s.state != Scheduled {
		s.mu.Unlock()
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.fillTimeout)
	s.state = Filling
	s.cancelFill = cancel
	s.mu.Unlock()

	defer func() {
		cancel()
		s.mu.Lock()
		s.finishLocked()
		s.mu.Unlock()
	}()

	if !s.host.Idle() {
		s.log.Debug("autofill skipped, guild busy")
		return
	}
	settings := s.host.Settings().Autofill
	if !s.engine.Eligible(ctx, s.host.GuildID(), settings) {
		s.log.Debug("autofill skipped, not eligible")
		return
	}
	tracks, err := s.engine.Fill(ctx, s.host.GuildID(), settings)
	if err != nil {
		s.log.Warn("autofill fill failed", slog.Any("err", err))
		return
	}
	if len(tracks) == 0 {
		return
	}
	added := s.host.AppendAutofill(ctx, tracks)
	if added == 0 {
		return
	}
	s.log.Info("autofill queued tracks", slog.Int("count", added))
	if err := s.host.PlayNext(context.Background()); err != nil {
		s.log.Warn("autofill hand-off failed", slog.Any("err", err))
	}
}
