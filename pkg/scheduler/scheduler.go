package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/mygasbridge/mygasbridge/pkg/log"
	"github.com/mygasbridge/mygasbridge/pkg/types"
)

// UpdateFunc runs a single update and returns the delay until the next
// automatic run. A zero delay disables automatic runs.
type UpdateFunc func(ctx context.Context) (time.Duration, error)

// Listener is notified after every successful update.
type Listener func(ctx context.Context)

// Status describes the outcome of the last update.
type Status struct {
	LastAttempt time.Time `json:"lastAttempt"`
	LastSuccess time.Time `json:"lastSuccess"`
	NextUpdate  time.Time `json:"nextUpdate"`
	LastError   string    `json:"lastError,omitempty"`
	AuthFailed  bool      `json:"authFailed"`
}

// Scheduler runs an UpdateFunc on the interval it returns. Only one update
// runs at a time. Refresh requests are debounced by the cooldown.
type Scheduler struct {
	update   UpdateFunc
	cooldown time.Duration
	retryMin time.Duration
	retryMax time.Duration
	now      func() time.Time

	updateMu sync.Mutex

	mu          sync.Mutex
	listeners   []Listener
	lastAttempt time.Time
	lastSuccess time.Time
	lastErr     error
	authFailed  bool
	nextAt      time.Time
	retryDelay  time.Duration
	debounce    *time.Timer

	requests    chan struct{}
	rescheduled chan struct{}
}

// Configured sets up flags for the scheduler and returns the instance.
func Configured(update UpdateFunc) *Scheduler {
	s := New(update, 5*time.Second)
	cooldown := lflag.Duration("refresh-cooldown", s.cooldown, "Minimum delay before a requested refresh runs, repeated requests are coalesced")
	retryMin := lflag.Duration("retry-backoff-min", s.retryMin, "Delay before retrying a failed update, doubled after every failure")
	retryMax := lflag.Duration("retry-backoff-max", s.retryMax, "Maximum delay between retries of a failed update")

	lflag.Do(func() {
		if *cooldown < 0 {
			panic(fmt.Sprintf("invalid refresh-cooldown: %s", *cooldown))
		}
		if *retryMin <= 0 || *retryMax < *retryMin {
			panic(fmt.Sprintf("invalid retry backoff [%s, %s]", *retryMin, *retryMax))
		}
		s.cooldown = *cooldown
		s.retryMin = *retryMin
		s.retryMax = *retryMax
	})

	return s
}

// New returns a Scheduler for update.
func New(update UpdateFunc, cooldown time.Duration) *Scheduler {
	return &Scheduler{
		update:      update,
		cooldown:    cooldown,
		retryMin:    30 * time.Second,
		retryMax:    30 * time.Minute,
		now:         time.Now,
		requests:    make(chan struct{}, 1),
		rescheduled: make(chan struct{}, 1),
	}
}

// AddListener registers l to be called after every successful update.
func (s *Scheduler) AddListener(l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

// Status returns the outcome of the last update.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{
		LastAttempt: s.lastAttempt,
		LastSuccess: s.lastSuccess,
		AuthFailed:  s.authFailed,
	}
	if !s.authFailed {
		st.NextUpdate = s.nextAt
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st
}

// LastError returns the error of the last update, nil if it succeeded.
func (s *Scheduler) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Run performs the first update and then keeps updating until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.run(ctx); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "first update failed", slog.Any("error", err))
	}

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		var timerC <-chan time.Time
		if d, ok := s.nextRun(); ok {
			timer.Reset(d)
			timerC = timer.C
		}

		select {
		case <-ctx.Done():
			s.mu.Lock()
			if s.debounce != nil {
				s.debounce.Stop()
				s.debounce = nil
			}
			s.mu.Unlock()
			return nil
		case <-timerC:
			_ = s.run(ctx)
		case <-s.requests:
			_ = s.run(ctx)
		case <-s.rescheduled:
		}
		timer.Stop()
	}
}

// Refresh runs an update now and waits for it. A successful refresh resumes
// automatic updates after an authentication failure.
func (s *Scheduler) Refresh(ctx context.Context) error {
	err := s.run(ctx)
	select {
	case s.rescheduled <- struct{}{}:
	default:
	}
	return err
}

// RequestRefresh schedules an update after the cooldown. Requests made while
// one is pending are coalesced into it.
func (s *Scheduler) RequestRefresh() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.debounce != nil {
		return
	}
	s.debounce = time.AfterFunc(s.cooldown, func() {
		s.mu.Lock()
		s.debounce = nil
		s.mu.Unlock()
		select {
		case s.requests <- struct{}{}:
		default:
		}
	})
}

func (s *Scheduler) nextRun() (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.authFailed || s.nextAt.IsZero() {
		return 0, false
	}
	return max(s.nextAt.Sub(s.now()), 0), true
}

func (s *Scheduler) run(ctx context.Context) error {
	err := s.runUpdate(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	listeners := append([]Listener(nil), s.listeners...)
	s.mu.Unlock()
	for _, l := range listeners {
		l(ctx)
	}
	return nil
}

func (s *Scheduler) runUpdate(ctx context.Context) error {
	s.updateMu.Lock()
	defer s.updateMu.Unlock()

	start := s.now()
	interval, err := s.update(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastAttempt = start
	s.lastErr = err

	next := interval
	switch {
	case err == nil:
		s.lastSuccess = start
		s.authFailed = false
		s.retryDelay = 0
	case types.IsAuthFailure(err):
		// credentials will not fix themselves, wait for a manual refresh
		s.authFailed = true
		s.retryDelay = 0
		log.Ctx(ctx).ErrorContext(ctx, "authentication failed, automatic updates paused", slog.Any("error", err))
	default:
		s.retryDelay = s.nextRetryDelay()
		if next <= 0 || s.retryDelay < next {
			next = s.retryDelay
		}
		log.Ctx(ctx).WarnContext(ctx, "update failed", slog.Any("error", err), slog.Duration("retryIn", next))
	}

	if next > 0 {
		s.nextAt = s.now().Add(next)
	} else {
		s.nextAt = time.Time{}
	}
	return err
}

// nextRetryDelay doubles the previous retry delay within [retryMin, retryMax].
// Must be called with mu held.
func (s *Scheduler) nextRetryDelay() time.Duration {
	if s.retryDelay <= 0 {
		return s.retryMin
	}
	return min(2*s.retryDelay, s.retryMax)
}
