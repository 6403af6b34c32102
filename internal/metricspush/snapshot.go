package metricspush

import (
	"context"
	"runtime"

	"github.com/predixa/entitlements/internal/entitlement/domain"
	"github.com/prometheus/client_golang/prometheus"
)

var snapshotStatuses = []domain.Status{
	domain.StatusActive,
	domain.StatusTrialing,
	domain.StatusTrialExpired,
	domain.StatusPastDue,
	domain.StatusCanceled,
	domain.StatusInactive,
	domain.StatusNone,
}

// Snapshot owns a private registry holding the gauges that get pushed.
type Snapshot struct {
	registry *prometheus.Registry
	byStatus *prometheus.GaugeVec
	memory   prometheus.Gauge
	repo     domain.Repository
}

func NewSnapshot(repo domain.Repository) *Snapshot {
	s := &Snapshot{
		registry: prometheus.NewRegistry(),
		byStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "predixa_entitlements_records",
			Help: "Entitlement records by stored status.",
		}, []string{"status"}),
		memory: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "predixa_process_memory_bytes",
			Help: "Memory obtained from the OS by the service process.",
		}),
		repo: repo,
	}
	s.registry.MustRegister(s.byStatus, s.memory)
	return s
}

func (s *Snapshot) Gatherer() prometheus.Gatherer {
	return s.registry
}

// Refresh recomputes every gauge. Statuses with no records report zero.
func (s *Snapshot) Refresh(ctx context.Context) error {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	s.memory.Set(float64(mem.Sys))

	counts, err := s.repo.CountByStatus(ctx)
	if err != nil {
		return err
	}
	for _, status := range snapshotStatuses {
		s.byStatus.WithLabelValues(string(status)).Set(float64(counts[status]))
	}
	return nil
}
