// Package schedule runs cancellable repeating tasks owned by the application
// lifecycle.
package schedule

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Task is one run of a repeating job.
type Task func(ctx context.Context)

// Handle controls a running repeating task.
type Handle struct {
	cron   *cron.Cron
	cancel context.CancelFunc
	once   sync.Once

	mu      sync.Mutex
	stopped bool
	running sync.WaitGroup
}

type options struct {
	immediate bool
	logger    zerolog.Logger
}

// Option configures Every.
type Option func(*options)

// Immediately runs the task once before the first interval elapses.
func Immediately() Option {
	return func(o *options) {
		o.immediate = true
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// Every runs task every interval until the handle is stopped or ctx ends.
// A run that is still going when the next one is due causes that one to be
// skipped. Intervals below one second are rounded up to one second.
func Every(ctx context.Context, interval time.Duration, task Task, opts ...Option) *Handle {
	o := options{logger: log.Logger}
	for _, opt := range opts {
		opt(&o)
	}

	ctx, cancel := context.WithCancel(ctx)
	cl := cronLogger{logger: o.logger}
	c := cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	h := &Handle{cron: c, cancel: cancel}
	job := cron.FuncJob(func() {
		if !h.enter() {
			return
		}
		defer h.running.Done()
		task(ctx)
	})
	id := c.Schedule(cron.Every(interval), job)

	if o.immediate {
		// Run through the entry's wrapped job so the skip chain sees it.
		go c.Entry(id).WrappedJob.Run()
	}
	c.Start()

	go func() {
		<-ctx.Done()
		h.Stop()
	}()
	return h
}

// Stop cancels the task and waits for a running invocation to return. It is
// safe to call more than once.
func (h *Handle) Stop() {
	h.once.Do(func() {
		h.mu.Lock()
		h.stopped = true
		h.mu.Unlock()

		h.cancel()
		<-h.cron.Stop().Done()
		h.running.Wait()
	})
}

func (h *Handle) enter() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return false
	}
	h.running.Add(1)
	return true
}

type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
