package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/predixa/entitlements/internal/clock"
	"github.com/predixa/entitlements/internal/entitlement/domain"
	"github.com/predixa/entitlements/internal/kv"
	webhookdomain "github.com/predixa/entitlements/internal/webhook/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var ErrInvalidConfig = errors.New("invalid scheduler config")

const (
	jobTrialSweep    = "trial_sweep"
	jobEventLogPrune = "event_log_prune"

	lockKeyPrefix = "predixa:scheduler:"
)

type Params struct {
	fx.In

	Log            *zap.Logger
	EntitlementSvc domain.Service
	GenID          *snowflake.Node
	Clock          clock.Clock
	Config         Config                   `optional:"true"`
	Events         webhookdomain.Repository `optional:"true"`
	Locker         *kv.Locker               `optional:"true"`
}

// Scheduler runs periodic entitlement maintenance.
type Scheduler struct {
	log            *zap.Logger
	cfg            Config
	genID          *snowflake.Node
	clock          clock.Clock
	entitlementSvc domain.Service
	events         webhookdomain.Repository
	locker         *kv.Locker
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.EntitlementSvc == nil || p.GenID == nil || p.Clock == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		log:            p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:            p.Config.withDefaults(),
		genID:          p.GenID,
		clock:          p.Clock,
		entitlementSvc: p.EntitlementSvc,
		events:         p.Events,
		locker:         p.Locker,
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	timeout time.Duration,
	fn func(ctx context.Context, run *jobRun) error,
) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, run := s.newJobRun(ctx, name)
	release, ok := s.acquire(ctx, name, timeout)
	if !ok {
		s.logger(ctx).Info("scheduler.job.skipped", zap.String("job", name), zap.String("reason", "locked"))
		return nil
	}
	defer release()
	s.logJobStart(ctx, run)

	err := fn(ctx, run)
	if err != nil && run.errorCount == 0 {
		run.IncError()
	}
	s.logJobFinish(ctx, run)
	if err == nil {
		return nil
	}

	// deadline is a soft timeout; the next tick picks up the rest
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		s.logger(ctx).Warn("job timed out",
			zap.String("job", name),
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}
	return fmt.Errorf("%s: %w", name, err)
}

// acquire takes the job's cluster lock. Without redis, or when redis errors,
// the job runs anyway; both jobs tolerate a duplicate run.
func (s *Scheduler) acquire(ctx context.Context, name string, ttl time.Duration) (func(), bool) {
	if s.locker == nil {
		return func() {}, true
	}
	key := lockKeyPrefix + name
	token, ok, err := s.locker.TryLock(ctx, key, ttl)
	if err != nil {
		s.logger(ctx).Warn("scheduler lock unavailable, running unlocked", zap.String("job", name), zap.Error(err))
		return func() {}, true
	}
	if !ok {
		return nil, false
	}
	return func() {
		if err := s.locker.Release(context.WithoutCancel(ctx), key, token); err != nil {
			s.logger(ctx).Warn("scheduler lock release failed", zap.String("job", name), zap.Error(err))
		}
	}, true
}

// RunOnce executes every enabled job a single time.
func (s *Scheduler) RunOnce(parent context.Context) error {
	if !s.cfg.Enabled {
		return nil
	}
	var errs []error
	if err := s.runJob(parent, jobTrialSweep, s.cfg.JobTimeout, s.TrialSweepJob); err != nil {
		errs = append(errs, err)
	}
	if s.events != nil && s.cfg.EventLogRetention > 0 {
		if err := s.runJob(parent, jobEventLogPrune, s.cfg.JobTimeout, s.EventLogPruneJob); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// TrialSweepJob refreshes trial day counts and expires lapsed trials.
func (s *Scheduler) TrialSweepJob(ctx context.Context, run *jobRun) error {
	summary, err := s.entitlementSvc.SweepTrials(ctx)
	run.AddProcessed(summary.Scanned)
	for i := 0; i < summary.Errors; i++ {
		run.IncError()
	}
	if err != nil {
		return err
	}
	s.logger(ctx).Info("trial sweep summary",
		zap.Int("scanned", summary.Scanned),
		zap.Int("updated", summary.Updated),
		zap.Int("expired", summary.Expired),
		zap.Int("skipped", summary.Skipped),
		zap.Int("errors", summary.Errors),
	)
	return nil
}

// EventLogPruneJob deletes webhook event log rows older than the retention.
func (s *Scheduler) EventLogPruneJob(ctx context.Context, run *jobRun) error {
	cutoff := s.clock.Now().Add(-s.cfg.EventLogRetention)
	deleted, err := s.events.PruneBefore(ctx, cutoff)
	if err != nil {
		return err
	}
	run.AddProcessed(int(deleted))
	s.logger(ctx).Info("event log pruned",
		zap.Time("cutoff", cutoff),
		zap.Int64("deleted", deleted),
	)
	return nil
}
