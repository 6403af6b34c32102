package metricspush

import (
	"context"
	"time"

	"github.com/predixa/entitlements/internal/config"
	"github.com/predixa/entitlements/internal/entitlement/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const defaultInterval = 5 * time.Minute

var Module = fx.Module("metrics.push",
	fx.Provide(NewPusher),
	fx.Invoke(Register),
)

// Register starts the push worker when a pusher is configured.
func Register(lc fx.Lifecycle, cfg config.Config, pusher Pusher, repo domain.Repository, logger *zap.Logger) {
	if pusher == nil {
		return
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("metricspush")

	interval := cfg.MetricsPush.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	worker := NewWorker(NewSnapshot(repo), pusher, interval, logger)

	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			logger.Info("starting metrics push worker", zap.Duration("interval", interval))
			go worker.Run(ctx)
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}

type Worker struct {
	snapshot *Snapshot
	pusher   Pusher
	interval time.Duration
	log      *zap.Logger
}

func NewWorker(snapshot *Snapshot, pusher Pusher, interval time.Duration, log *zap.Logger) *Worker {
	return &Worker{snapshot: snapshot, pusher: pusher, interval: interval, log: log}
}

// Run pushes once immediately and then on every tick until ctx ends.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.PushOnce(ctx)
	for {
		select {
		case <-ticker.C:
			w.PushOnce(ctx)
		case <-ctx.Done():
			w.log.Info("stopping metrics push worker")
			return
		}
	}
}

func (w *Worker) PushOnce(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, defaultPushTimeout)
	defer cancel()

	if err := w.snapshot.Refresh(ctx); err != nil {
		w.log.Warn("entitlement snapshot failed", zap.Error(err))
		return
	}
	if err := w.pusher.Push(ctx, w.snapshot.Gatherer()); err != nil {
		w.log.Warn("metrics push failed", zap.Error(err))
	}
}
