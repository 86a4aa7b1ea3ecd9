package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Handle cancels a scheduled timer. Stop is safe to call more than once.
type Handle interface {
	Stop()
}

// Timers is what the tracker schedules its periodic and one-shot work on.
type Timers interface {
	Every(name string, interval time.Duration, fn func()) Handle
	After(name string, delay time.Duration, fn func()) Handle
}

type Scheduler struct {
	cron *cron.Cron
	log  zerolog.Logger

	mu      sync.Mutex
	started bool
}

func NewScheduler(log zerolog.Logger) *Scheduler {
	clog := cronLogger{log: log}
	c := cron.New(
		cron.WithSeconds(),
		cron.WithLogger(clog),
		cron.WithChain(cron.Recover(clog), cron.SkipIfStillRunning(clog)),
	)
	return &Scheduler{
		cron: c,
		log:  log,
	}
}

var _ Timers = (*Scheduler)(nil)

func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.cron.Start()
}

// Stop halts the scheduler. The returned context is done once running
// jobs have finished.
func (s *Scheduler) Stop() context.Context {
	s.mu.Lock()
	s.started = false
	s.mu.Unlock()
	return s.cron.Stop()
}

// AddFunc registers fn on a six-field cron spec.
func (s *Scheduler) AddFunc(name, spec string, fn func()) (Handle, error) {
	id, err := s.cron.AddFunc(spec, fn)
	if err != nil {
		return nil, err
	}
	s.log.Debug().Str("job", name).Str("spec", spec).Msg("job scheduled")
	return &cronHandle{cron: s.cron, id: id}, nil
}

func (s *Scheduler) Every(name string, interval time.Duration, fn func()) Handle {
	id := s.cron.Schedule(cron.Every(interval), cron.FuncJob(fn))
	s.log.Debug().Str("job", name).Dur("interval", interval).Msg("job scheduled")
	return &cronHandle{cron: s.cron, id: id}
}

func (s *Scheduler) After(name string, delay time.Duration, fn func()) Handle {
	t := time.AfterFunc(delay, func() {
		defer func() {
			if r := recover(); r != nil {
				s.log.Error().Str("job", name).Interface("panic", r).Msg("timer panicked")
			}
		}()
		fn()
	})
	return &timerHandle{timer: t}
}

type cronHandle struct {
	once sync.Once
	cron *cron.Cron
	id   cron.EntryID
}

func (h *cronHandle) Stop() {
	h.once.Do(func() { h.cron.Remove(h.id) })
}

type timerHandle struct {
	once  sync.Once
	timer *time.Timer
}

func (h *timerHandle) Stop() {
	h.once.Do(func() { h.timer.Stop() })
}

type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
