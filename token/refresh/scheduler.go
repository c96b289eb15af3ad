package refresh

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jrsteele09/go-crm-session/internal/schedule"
	"github.com/jrsteele09/go-crm-session/sessions"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	DefaultInterval  = 60 * time.Second
	DefaultThreshold = 180 * time.Second
)

// State is the scheduler's position in its check cycle.
type State int32

const (
	Idle State = iota
	Checking
	Refreshing
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Checking:
		return "checking"
	case Refreshing:
		return "refreshing"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// CheckResult describes one scheduler tick.
type CheckResult struct {
	// HasToken is false when no decodable access token was stored.
	HasToken  bool
	Remaining time.Duration
	Refreshed bool
	Err       error
}

// Scheduler checks the access token on a fixed interval and refreshes it
// shortly before it expires. Expired tokens are left alone; renewing those is
// up to the HTTP client's 401 handling.
type Scheduler struct {
	manager   *Manager
	store     *sessions.Store
	interval  time.Duration
	threshold time.Duration
	nowFunc   func() time.Time
	logger    zerolog.Logger

	state   atomic.Int32
	mu      sync.Mutex
	handle  *schedule.Handle
	lastErr error
}

// SchedulerOption defines a function type to modify the Scheduler instance.
type SchedulerOption func(*Scheduler)

func WithInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithThreshold sets how close to expiry a token must be to get refreshed.
func WithThreshold(d time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		if d > 0 {
			s.threshold = d
		}
	}
}

// WithNowFunc sets the now time function (primarily for testing)
func WithNowFunc(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) {
		s.nowFunc = now
	}
}

func WithSchedulerLogger(logger zerolog.Logger) SchedulerOption {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

func NewScheduler(manager *Manager, options ...SchedulerOption) (*Scheduler, error) {
	if manager == nil {
		return nil, errors.New("[NewScheduler] refresh manager is required")
	}
	s := &Scheduler{
		manager:   manager,
		store:     manager.store,
		interval:  DefaultInterval,
		threshold: DefaultThreshold,
		nowFunc:   func() time.Time { return NowTimeFunc() },
		logger:    log.Logger,
	}
	for _, opt := range options {
		opt(s)
	}
	return s, nil
}

// State returns the current state.
func (s *Scheduler) State() State {
	return State(s.state.Load())
}

// LastError is the error of the most recent failed refresh, if any.
func (s *Scheduler) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Check runs a single tick.
func (s *Scheduler) Check(ctx context.Context) CheckResult {
	s.state.Store(int32(Checking))
	next := Idle
	defer func() { s.state.Store(int32(next)) }()

	claims := s.store.DecodedToken(ctx)
	if claims == nil {
		return CheckResult{}
	}
	res := CheckResult{HasToken: true, Remaining: claims.Remaining(s.nowFunc())}
	if res.Remaining <= 0 || res.Remaining >= s.threshold {
		return res
	}

	s.logger.Debug().Dur("remaining", res.Remaining).Msg("access token close to expiry")
	s.state.Store(int32(Refreshing))
	performed, err := s.manager.TryRefresh(ctx)
	res.Refreshed = performed && err == nil
	if err != nil {
		next = Failed
		s.mu.Lock()
		s.lastErr = err
		s.mu.Unlock()
		res.Err = err
	}
	return res
}

// Start runs a tick now and then every interval until Stop.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handle != nil {
		return
	}
	s.handle = schedule.Every(ctx, s.interval, func(ctx context.Context) {
		s.Check(ctx)
	}, schedule.Immediately(), schedule.WithLogger(s.logger))
	s.logger.Debug().Dur("interval", s.interval).Msg("refresh scheduler started")
}

// Stop cancels the timer and waits for a running tick.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	h := s.handle
	s.handle = nil
	s.mu.Unlock()
	if h != nil {
		h.Stop()
	}
}
