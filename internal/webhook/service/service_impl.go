package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/predixa/entitlements/internal/clock"
	entitlementdomain "github.com/predixa/entitlements/internal/entitlement/domain"
	obslogger "github.com/predixa/entitlements/internal/observability/logger"
	obsmetrics "github.com/predixa/entitlements/internal/observability/metrics"
	"github.com/predixa/entitlements/internal/webhook/adapters"
	"github.com/predixa/entitlements/internal/webhook/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

type Params struct {
	fx.In

	Log          *zap.Logger
	GenID        *snowflake.Node
	Clock        clock.Clock
	Adapters     *adapters.Registry
	Entitlements entitlementdomain.Repository
	Events       domain.Repository
	ObsMetrics   *obsmetrics.Metrics            `optional:"true"`
	Metrics      *obsmetrics.EntitlementMetrics `optional:"true"`
}

type Service struct {
	log          *zap.Logger
	genID        *snowflake.Node
	clock        clock.Clock
	adapters     *adapters.Registry
	entitlements entitlementdomain.Repository
	events       domain.Repository
	obsMetrics   *obsmetrics.Metrics
	metrics      *obsmetrics.EntitlementMetrics
}

func NewService(p Params) domain.Service {
	return &Service{
		log:          p.Log.Named("webhook.service"),
		genID:        p.GenID,
		clock:        p.Clock,
		adapters:     p.Adapters,
		entitlements: p.Entitlements,
		events:       p.Events,
		obsMetrics:   p.ObsMetrics,
		metrics:      p.Metrics,
	}
}

// Ingest verifies, normalizes and applies one webhook delivery. Signature
// checks run before the payload is trusted.
func (s *Service) Ingest(ctx context.Context, provider string, payload []byte, headers http.Header) (domain.Result, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	adapter, err := s.adapters.Adapter(provider)
	if err != nil {
		return domain.Result{}, err
	}
	log := obslogger.WithContext(ctx, s.log).With(zap.String("provider", provider))

	if err := adapter.Verify(ctx, payload, headers); err != nil {
		s.metrics.IncWebhook(provider, "rejected")
		log.Warn("webhook verification failed", zap.Error(err))
		return domain.Result{}, err
	}
	if !json.Valid(payload) {
		return domain.Result{}, domain.ErrInvalidPayload
	}

	event, err := adapter.Parse(ctx, payload)
	switch {
	case errors.Is(err, domain.ErrEventIgnored):
		s.record(ctx, provider, "ignored", "ignored")
		return domain.Result{Success: true, Message: "event ignored", Outcome: "ignored"}, nil
	case errors.Is(err, domain.ErrUnmappedCustomer):
		log.Warn("webhook customer has no cognito_sub")
		s.record(ctx, provider, "unmapped", "ignored")
		return domain.Result{Success: true, Message: "no cognito_sub on customer", Outcome: "ignored"}, nil
	case err != nil:
		s.metrics.IncWebhook(provider, "invalid")
		return domain.Result{}, err
	}

	received := s.clock.Now()
	if event.AckOnly {
		log.Info("webhook test event acknowledged", zap.String("event_type", event.Type))
		s.record(ctx, provider, event.Type, domain.OutcomeAcknowledged)
		return domain.Result{Success: true, Message: "test event acknowledged", Outcome: domain.OutcomeAcknowledged}, nil
	}
	if event.Unknown {
		log.Warn("unknown webhook event type", zap.String("event_type", event.Type))
	}

	if event.ProviderEventID != "" {
		existing, err := s.events.FindEvent(ctx, provider, event.ProviderEventID)
		if err != nil {
			log.Warn("webhook event log lookup failed", zap.Error(err))
		} else if existing != nil {
			s.record(ctx, provider, event.Type, "duplicate")
			return domain.Result{
				Success: true,
				Message: "duplicate event ignored",
				UserID:  existing.UserID,
				Status:  entitlementdomain.Status(existing.ResolvedStatus),
				Outcome: "duplicate",
			}, nil
		}
	}

	change := entitlementdomain.Change{
		UserID:           event.UserID,
		Status:           event.Status,
		Plan:             event.Plan,
		ClearPlan:        event.ClearPlan,
		CurrentPeriodEnd: event.CurrentPeriodEnd,
		ClearPeriodEnd:   event.ClearPeriodEnd,
		TrialExpiresAt:   event.TrialExpiresAt,
		ClearTrial:       event.ClearTrial,
		Provider:         provider,
		ProductID:        event.ProductID,
		Environment:      event.Environment,
		EventID:          event.ProviderEventID,
		EventAt:          event.OrderingTimestamp(received),
		At:               received,
	}
	applied, err := s.entitlements.Apply(ctx, change)
	if err != nil {
		s.metrics.IncStoreError("apply", err)
		s.record(ctx, provider, event.Type, "store_error")
		log.Error("webhook store update failed", zap.String("event_type", event.Type), zap.Error(err))
		return domain.Result{}, fmt.Errorf("%w: %v", domain.ErrStoreFailure, err)
	}

	outcome := string(applied.Outcome)
	s.logEvent(ctx, event, outcome, received)
	s.record(ctx, provider, event.Type, outcome)

	if applied.Outcome == entitlementdomain.ApplyStale {
		s.metrics.IncStaleEvent(provider)
		log.Info("stale webhook event ignored",
			zap.String("event_type", event.Type),
			zap.Int64("event_at", change.EventAt),
			zap.Int64("last_event_at", applied.Record.LastEventAt),
		)
		return domain.Result{
			Success: true,
			Message: "stale event ignored",
			UserID:  event.UserID,
			Status:  applied.Record.Status,
			Outcome: outcome,
		}, nil
	}

	log.Info("webhook applied",
		zap.String("event_type", event.Type),
		zap.String("status", string(applied.Record.Status)),
		zap.String("outcome", outcome),
	)
	return domain.Result{
		Success: true,
		UserID:  event.UserID,
		Status:  applied.Record.Status,
		Plan:    applied.Record.Plan,
		Outcome: outcome,
	}, nil
}

// logEvent appends to the event log. Failures only cost dedup of a later
// redelivery, so they are logged and swallowed.
func (s *Service) logEvent(ctx context.Context, event *domain.Event, outcome string, received time.Time) {
	if event.ProviderEventID == "" {
		return
	}
	record := &domain.EventRecord{
		ID:              s.genID.Generate(),
		Provider:        event.Provider,
		ProviderEventID: event.ProviderEventID,
		EventType:       event.Type,
		UserID:          event.UserID,
		ResolvedStatus:  string(event.Status),
		Outcome:         outcome,
		Payload:         datatypes.JSON(event.RawPayload),
		ReceivedAt:      received,
	}
	if _, err := s.events.InsertEvent(ctx, record); err != nil {
		obslogger.WithContext(ctx, s.log).Warn("webhook event log insert failed", zap.Error(err))
	}
}

func (s *Service) record(ctx context.Context, provider, eventType, outcome string) {
	s.metrics.IncWebhook(provider, outcome)
	if s.obsMetrics != nil {
		s.obsMetrics.RecordWebhookEvent(ctx, provider, eventType, outcome)
	}
}
