// Package scheduler runs the unattended Ingest->Encrypt->Write pipeline
// on a cron expression for nightly backup windows, adapted from teacher's
// multi-job DB-backed scheduler into the single fixed pipeline this
// project's data model calls for.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/RoseOO/tapebackarr/internal/logging"

	"github.com/robfig/cron/v3"
)

// Pipeline runs one full Ingest->Encrypt->Write cycle. Its context is
// cancelled if the scheduler is stopped mid-run.
type Pipeline func(ctx context.Context) error

// Service drives Pipeline on a cron schedule.
type Service struct {
	cron     *cron.Cron
	pipeline Pipeline
	log      *logging.Logger

	mu      sync.Mutex
	running bool
	lastRun time.Time
	lastErr error

	ctx    context.Context
	cancel context.CancelFunc
}

// NewService builds a scheduler that runs pipeline on cronExpr.
func NewService(cronExpr string, pipeline Pipeline, log *logging.Logger) (*Service, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	if _, err := parser.Parse(cronExpr); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		cron:     cron.New(),
		pipeline: pipeline,
		log:      log,
		ctx:      ctx,
		cancel:   cancel,
	}
	if _, err := s.cron.AddFunc(cronExpr, s.runOnce); err != nil {
		cancel()
		return nil, err
	}
	return s, nil
}

// Start begins the cron loop. It does not block.
func (s *Service) Start() {
	s.logf("starting scheduler")
	s.cron.Start()
}

// Stop halts the cron loop, cancels an in-flight run's context, and waits
// for that run to return.
func (s *Service) Stop() {
	s.logf("stopping scheduler")
	ctx := s.cron.Stop()
	s.cancel()
	<-ctx.Done()
}

// RunNow triggers an out-of-schedule pipeline run, e.g. for a `schedule
// run-now` CLI invocation.
func (s *Service) RunNow() error {
	s.runOnce()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

func (s *Service) runOnce() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.logf("skipping run: previous pipeline still in progress")
		return
	}
	s.running = true
	s.mu.Unlock()

	start := time.Now()
	err := s.pipeline(s.ctx)

	s.mu.Lock()
	s.running = false
	s.lastRun = start
	s.lastErr = err
	s.mu.Unlock()

	if err != nil {
		s.logf("scheduled pipeline run failed after %s: %v", time.Since(start), err)
		return
	}
	s.logf("scheduled pipeline run finished in %s", time.Since(start))
}

// LastRun reports when the pipeline last ran and the error it returned,
// for `schedule status`.
func (s *Service) LastRun() (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun, s.lastErr
}

func (s *Service) logf(format string, args ...interface{}) {
	if s.log == nil {
		return
	}
	s.log.Info(fmt.Sprintf(format, args...), nil)
}
