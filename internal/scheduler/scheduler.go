package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/mamadbah2/flockhealth/internal/config"
	"github.com/mamadbah2/flockhealth/internal/domain/models"
	"github.com/mamadbah2/flockhealth/internal/service/reconcile"
)

const runTimeout = 10 * time.Minute

// Reconciler runs one reconciliation pass.
type Reconciler interface {
	Run(ctx context.Context, p models.ReconcilePayload) (reconcile.Report, error)
}

// Scheduler triggers the reconciliation pass on a cron schedule.
type Scheduler struct {
	cron       *cron.Cron
	reconciler Reconciler
	cfg        config.ReconcileConfig
	logger     *zap.Logger
}

// NewScheduler creates a new scheduler instance bound to the configured timezone.
func NewScheduler(cfg config.ReconcileConfig, reconciler Reconciler, logger *zap.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	loc := time.UTC
	if cfg.Timezone != "" {
		var err error
		if loc, err = time.LoadLocation(cfg.Timezone); err != nil {
			return nil, fmt.Errorf("load timezone %s: %w", cfg.Timezone, err)
		}
	}

	c := cron.New(
		cron.WithLocation(loc),
		cron.WithChain(cron.Recover(cronLogger{logger}), cron.SkipIfStillRunning(cronLogger{logger})),
	)

	return &Scheduler{
		cron:       c,
		reconciler: reconciler,
		cfg:        cfg,
		logger:     logger,
	}, nil
}

// Start registers the reconciliation job and starts the scheduler. An empty
// schedule leaves reconciliation to explicit reconcile_records calls.
func (s *Scheduler) Start() error {
	if s.cfg.CronSchedule == "" {
		s.logger.Info("reconciliation schedule not configured, scheduler idle")
		return nil
	}

	if _, err := s.cron.AddFunc(s.cfg.CronSchedule, s.runReconcile); err != nil {
		return fmt.Errorf("schedule reconciliation %q: %w", s.cfg.CronSchedule, err)
	}

	s.logger.Info("starting scheduler", zap.String("schedule", s.cfg.CronSchedule), zap.Bool("dry_run", s.cfg.DryRun))
	s.cron.Start()
	return nil
}

// Stop stops the scheduler and waits for a running pass to finish.
func (s *Scheduler) Stop() {
	s.logger.Info("stopping scheduler")
	<-s.cron.Stop().Done()
}

func (s *Scheduler) runReconcile() {
	s.logger.Info("running scheduled reconciliation")
	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()

	report, err := s.reconciler.Run(ctx, models.ReconcilePayload{DryRun: s.cfg.DryRun})
	if err != nil {
		s.logger.Error("scheduled reconciliation failed", zap.Error(err))
		return
	}

	s.logger.Info("scheduled reconciliation finished",
		zap.Bool("dry_run", report.DryRun),
		zap.Int("scanned", report.Scanned),
		zap.Int("findings", len(report.Findings)),
		zap.Duration("duration", report.FinishedAt.Sub(report.StartedAt)))
}

// cronLogger routes cron's internal logging through zap.
type cronLogger struct {
	logger *zap.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Sugar().Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}
