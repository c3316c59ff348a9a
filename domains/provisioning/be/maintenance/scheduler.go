// Package maintenance runs the periodic housekeeping jobs of the provisioning queue.
package maintenance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/zenGate-Global/palmyra-provisioning/domains/provisioning/be/service"
)

// Job names, also used as log fields.
const (
	JobRequeueStalled = "requeue_stalled"
	JobOverdueReport  = "overdue_report"
	JobStatsRefresh   = "stats_refresh"
)

// Operations is the slice of the provisioning service the jobs call.
type Operations interface {
	RequeueStalled(ctx context.Context, olderThan time.Duration, limit int) (int, error)
	OverdueTasks(ctx context.Context, limit int) ([]service.QueueItem, error)
	ComputeStats(ctx context.Context) (service.Stats, error)
}

// StatsRefresher is implemented by the stats cache.
type StatsRefresher interface {
	Refresh(ctx context.Context, compute func(ctx context.Context) (service.Stats, error)) (bool, error)
}

type Config struct {
	// Schedule is a cron spec or descriptor such as "@every 1m".
	Schedule     string
	StalledAfter time.Duration
	BatchSize    int
	JobTimeout   time.Duration
}

// Scheduler runs every job on the same schedule. A job still running when its next
// tick fires is skipped.
type Scheduler struct {
	ops       Operations
	refresher StatsRefresher
	cfg       Config
	logger    *zap.Logger
	cron      *cron.Cron

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
}

// New validates the schedule and registers the jobs. refresher may be nil.
func New(ops Operations, refresher StatsRefresher, cfg Config, logger *zap.Logger) (*Scheduler, error) {
	if ops == nil {
		panic("maintenance scheduler requires operations")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Schedule == "" {
		cfg.Schedule = "@every 1m"
	}
	if cfg.StalledAfter <= 0 {
		cfg.StalledAfter = 5 * time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 30 * time.Second
	}

	clog := cronLogger{logger: logger.Named("cron")}
	s := &Scheduler{
		ops:       ops,
		refresher: refresher,
		cfg:       cfg,
		logger:    logger,
		ctx:       context.Background(),
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithLogger(clog),
			cron.WithChain(cron.Recover(clog), cron.SkipIfStillRunning(clog)),
		),
	}

	for _, name := range s.jobNames() {
		if _, err := s.cron.AddFunc(cfg.Schedule, func() { s.run(name) }); err != nil {
			return nil, fmt.Errorf("schedule %s: %w", name, err)
		}
	}
	return s, nil
}

func (s *Scheduler) jobNames() []string {
	names := []string{JobRequeueStalled, JobOverdueReport}
	if s.refresher != nil {
		names = append(names, JobStatsRefresh)
	}
	return names
}

// Start begins ticking. Jobs inherit ctx for cancellation.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	s.cron.Start()
	s.logger.Info("maintenance scheduler started", zap.String("schedule", s.cfg.Schedule))
}

// Stop halts the schedule and waits for running jobs or ctx, whichever ends first.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	select {
	case <-s.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("stop maintenance scheduler: %w", ctx.Err())
	}
}

// RunOnce runs every job immediately, in order, and returns the first error.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	for _, name := range s.jobNames() {
		if err := s.runJob(ctx, name); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

func (s *Scheduler) run(name string) {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()

	if err := s.runJob(ctx, name); err != nil {
		s.logger.Warn("maintenance job failed", zap.String("job", name), zap.Error(err))
	}
}

func (s *Scheduler) runJob(ctx context.Context, name string) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.JobTimeout)
	defer cancel()

	switch name {
	case JobRequeueStalled:
		n, err := s.ops.RequeueStalled(ctx, s.cfg.StalledAfter, s.cfg.BatchSize)
		if n > 0 {
			s.logger.Info("requeued stalled migrations", zap.Int("count", n))
		}
		return err
	case JobOverdueReport:
		items, err := s.ops.OverdueTasks(ctx, s.cfg.BatchSize)
		if err != nil {
			return err
		}
		for _, item := range items {
			s.logger.Warn("provisioning task overdue",
				zap.String("task_id", item.Task.ID.String()),
				zap.String("customer_id", item.Task.CustomerID.String()),
				zap.String("status", string(item.Task.Status)),
				zap.Timep("estimated_completion", item.Task.EstimatedCompletion),
			)
		}
		return nil
	case JobStatsRefresh:
		_, err := s.refresher.Refresh(ctx, s.ops.ComputeStats)
		return err
	default:
		return fmt.Errorf("unknown maintenance job %q", name)
	}
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	logger *zap.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}
