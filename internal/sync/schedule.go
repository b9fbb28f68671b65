package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	gosync "sync"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultRefreshTimeout bounds one scheduled load.
const DefaultRefreshTimeout = 5 * time.Minute

// Loader is the part of Engine a Scheduler drives.
type Loader interface {
	Invalidate()
	Load(ctx context.Context, force bool) (*Snapshot, error)
}

// ParseSchedule parses a standard 5-field cron expression
// (minute hour day-of-month month day-of-week).
func ParseSchedule(expr string) (cron.Schedule, error) {
	parser := cron.NewParser(
		cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
	)
	sched, err := parser.Parse(strings.TrimSpace(expr))
	if err != nil {
		return nil, fmt.Errorf("parsing refresh schedule %q: %w", expr, err)
	}
	return sched, nil
}

// Scheduler refreshes a Loader on a cron schedule. Each tick
// drops the cached snapshot and loads incrementally.
type Scheduler struct {
	loader   Loader
	sched    cron.Schedule
	timeout  time.Duration
	loc      *time.Location
	now      func() time.Time
	stop     chan struct{}
	done     chan struct{}
	stopOnce gosync.Once
}

// NewScheduler creates a scheduler for expr. loc is the zone the
// expression is evaluated in; nil means local time.
func NewScheduler(
	expr string, loc *time.Location, loader Loader,
) (*Scheduler, error) {
	if loader == nil {
		return nil, errors.New("scheduler: loader is nil")
	}
	sched, err := ParseSchedule(expr)
	if err != nil {
		return nil, err
	}
	if loc == nil {
		loc = time.Local
	}
	return &Scheduler{
		loader:  loader,
		sched:   sched,
		timeout: DefaultRefreshTimeout,
		loc:     loc,
		now:     time.Now,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}, nil
}

// Next returns the next refresh time after t.
func (s *Scheduler) Next(t time.Time) time.Time {
	return s.sched.Next(t.In(s.loc))
}

// Start runs the schedule in a goroutine until Stop.
func (s *Scheduler) Start() {
	go s.loop()
}

// Stop ends the schedule and waits for an in-flight refresh.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
		<-s.done
	})
}

func (s *Scheduler) loop() {
	defer close(s.done)
	for {
		now := s.now()
		next := s.Next(now)
		wait := next.Sub(now)
		log.Printf("next scheduled refresh at %s (in %s)",
			next.Format("Mon Jan 2 15:04"), wait.Round(time.Second))

		timer := time.NewTimer(wait)
		select {
		case <-s.stop:
			timer.Stop()
			return
		case <-timer.C:
			s.refresh()
		}
	}
}

func (s *Scheduler) refresh() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	go func() {
		select {
		case <-s.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	s.loader.Invalidate()
	if _, err := s.loader.Load(ctx, false); err != nil &&
		!errors.Is(err, ErrNoData) {
		log.Printf("scheduled refresh: %v", err)
	}
}
