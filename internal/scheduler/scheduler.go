package scheduler

import (
	"context"
	"fmt"
	"time"

	cooldowndomain "outreach-backend/internal/cooldown/domain"
	inbounddomain "outreach-backend/internal/inbound/domain"
	"outreach-backend/pkg/logger"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// cronParser accepts 5-field expressions (minute, hour, dom, month, dow) and @descriptors.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

type Poller interface {
	Run(ctx context.Context) (*inbounddomain.Summary, error)
}

type Sweeper interface {
	Sweep(ctx context.Context) (*cooldowndomain.SweepResult, error)
}

// Scheduler runs the inbound poll and the cooldown sweep on cron schedules.
// A run still in progress when its next tick fires is skipped.
type Scheduler struct {
	cron    *cron.Cron
	poller  Poller
	sweeper Sweeper
	timeout time.Duration
}

// New registers both jobs. An empty schedule disables that job.
func New(poller Poller, sweeper Sweeper, pollSchedule, sweepSchedule string, timeout time.Duration) (*Scheduler, error) {
	cl := cronLogger{}
	s := &Scheduler{
		cron: cron.New(
			cron.WithParser(cronParser),
			cron.WithLocation(time.UTC),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		poller:  poller,
		sweeper: sweeper,
		timeout: timeout,
	}

	if pollSchedule != "" {
		if _, err := s.cron.AddFunc(pollSchedule, s.runPoll); err != nil {
			return nil, fmt.Errorf("invalid poll schedule %q: %w", pollSchedule, err)
		}
	}
	if sweepSchedule != "" {
		if _, err := s.cron.AddFunc(sweepSchedule, s.runSweep); err != nil {
			return nil, fmt.Errorf("invalid sweep schedule %q: %w", sweepSchedule, err)
		}
	}
	return s, nil
}

func (s *Scheduler) Start() {
	logger.Info("starting scheduler", zap.Int("jobs", len(s.cron.Entries())))
	s.cron.Start()
}

// Stop halts scheduling and waits for running jobs, up to ctx.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		logger.Info("scheduler stopped")
	case <-ctx.Done():
		logger.Warn("scheduler stop timed out with jobs still running")
	}
}

func (s *Scheduler) jobContext() (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(context.Background())
	}
	return context.WithTimeout(context.Background(), s.timeout)
}

func (s *Scheduler) runPoll() {
	ctx, cancel := s.jobContext()
	defer cancel()
	if _, err := s.poller.Run(ctx); err != nil {
		logger.Error("scheduled poll failed", zap.Error(err))
	}
}

func (s *Scheduler) runSweep() {
	ctx, cancel := s.jobContext()
	defer cancel()
	if _, err := s.sweeper.Sweep(ctx); err != nil {
		logger.Error("scheduled cooldown sweep failed", zap.Error(err))
	}
}

// cronLogger adapts cron's logger to zap.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	logger.L().Sugar().Debugw("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	logger.L().Sugar().Errorw("cron: "+msg, append(keysAndValues, "error", err)...)
}
