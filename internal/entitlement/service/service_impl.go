package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/predixa/entitlements/internal/clock"
	"github.com/predixa/entitlements/internal/config"
	"github.com/predixa/entitlements/internal/entitlement/domain"
	obslogger "github.com/predixa/entitlements/internal/observability/logger"
	"github.com/predixa/entitlements/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const secondsPerDay = 86400

type Service struct {
	log     *zap.Logger
	clock   clock.Clock
	repo    domain.Repository
	metrics *metrics.EntitlementMetrics

	trialDays int
}

type ServiceParam struct {
	fx.In

	Config  config.Config
	Log     *zap.Logger
	Clock   clock.Clock
	Repo    domain.Repository
	Metrics *metrics.EntitlementMetrics `optional:"true"`
}

func NewService(p ServiceParam) domain.Service {
	trialDays := p.Config.TrialDays
	if trialDays <= 0 {
		trialDays = 7
	}
	return &Service{
		log:       p.Log.Named("entitlement.service"),
		clock:     p.Clock,
		repo:      p.Repo,
		metrics:   p.Metrics,
		trialDays: trialDays,
	}
}

// GetEntitlements implements domain.Service.
func (s *Service) GetEntitlements(ctx context.Context, userID string) (domain.EntitlementsResponse, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.EntitlementsResponse{}, domain.ErrInvalidUserID
	}

	record, err := s.repo.Get(ctx, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return noEntitlement(), nil
	}
	if err != nil {
		s.metrics.IncStoreError("get", err)
		return domain.EntitlementsResponse{}, fmt.Errorf("get entitlement: %w", err)
	}

	resp, repair := Derive(*record, s.clock.Now())
	if !repair.Empty() {
		if err := s.repo.Repair(ctx, userID, repair); err != nil {
			s.metrics.IncStoreError("repair", err)
			obslogger.WithContext(ctx, s.log).Warn("entitlement read-repair failed",
				zap.String("status", string(resp.Status)),
				zap.Error(err),
			)
		}
	}
	return resp, nil
}

// StartTrial implements domain.Service. A user who already has a record keeps
// it and gets the current read model back.
func (s *Service) StartTrial(ctx context.Context, userID string) (domain.EntitlementsResponse, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.EntitlementsResponse{}, domain.ErrInvalidUserID
	}

	_, err := s.repo.Get(ctx, userID)
	switch {
	case err == nil:
		return s.GetEntitlements(ctx, userID)
	case !errors.Is(err, domain.ErrNotFound):
		s.metrics.IncStoreError("get", err)
		return domain.EntitlementsResponse{}, fmt.Errorf("get entitlement: %w", err)
	}

	now := s.clock.Now()
	startedAt := now
	expiresAt := now.Add(time.Duration(s.trialDays) * 24 * time.Hour).Unix()
	record := &domain.Entitlement{
		UserID:             userID,
		Status:             domain.StatusTrialing,
		TrialStartedAt:     &startedAt,
		TrialExpiresAt:     &expiresAt,
		TrialActive:        true,
		TrialDaysRemaining: s.trialDays,
		AccessGranted:      true,
		AccessReason:       domain.ReasonTrial,
		Provider:           domain.SourceTrial,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := s.repo.Create(ctx, record); err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			return s.GetEntitlements(ctx, userID)
		}
		s.metrics.IncStoreError("create", err)
		return domain.EntitlementsResponse{}, fmt.Errorf("create trial: %w", err)
	}

	obslogger.WithContext(ctx, s.log).Info("trial started",
		zap.Int("trial_days", s.trialDays),
		zap.Int64("trial_expires_at", expiresAt),
	)
	resp, _ := Derive(*record, now)
	return resp, nil
}

// SweepTrials implements domain.Service.
func (s *Service) SweepTrials(ctx context.Context) (domain.SweepSummary, error) {
	var summary domain.SweepSummary

	records, err := s.repo.ListByStatus(ctx, domain.StatusTrialing)
	if err != nil {
		s.metrics.IncStoreError("list", err)
		return summary, fmt.Errorf("list trialing entitlements: %w", err)
	}

	log := obslogger.WithContext(ctx, s.log)
	for _, record := range records {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		summary.Scanned++

		repair, expired := sweepRepair(record, s.clock.Now())
		if repair.Empty() {
			summary.Skipped++
			continue
		}
		if err := s.repo.Repair(ctx, record.UserID, repair); err != nil {
			summary.Errors++
			s.metrics.IncStoreError("repair", err)
			log.Warn("trial sweep update failed", zap.Error(err))
			continue
		}
		if expired {
			summary.Expired++
		} else {
			summary.Updated++
		}
	}
	return summary, nil
}

// sweepRepair refreshes the stored day count of a trialing record, or
// expires it once the trial end has passed.
func sweepRepair(record domain.Entitlement, now time.Time) (domain.Repair, bool) {
	if record.TrialExpiresAt == nil {
		return domain.Repair{}, false
	}

	remaining := *record.TrialExpiresAt - now.Unix()
	if remaining > 0 {
		days := daysRemaining(remaining)
		if days == record.TrialDaysRemaining && record.TrialActive {
			return domain.Repair{}, false
		}
		active := true
		return domain.Repair{TrialDaysRemaining: &days, TrialActive: &active, At: now}, false
	}

	status := domain.StatusTrialExpired
	days := 0
	inactive := false
	reason := domain.ReasonTrialExpired
	return domain.Repair{
		Status:             &status,
		TrialDaysRemaining: &days,
		TrialActive:        &inactive,
		AccessGranted:      &inactive,
		AccessReason:       &reason,
		At:                 now,
	}, true
}

// Derive computes the read model for record at now, plus the corrections
// that should be written back.
func Derive(record domain.Entitlement, now time.Time) (domain.EntitlementsResponse, domain.Repair) {
	resp := domain.EntitlementsResponse{
		Status:           record.Status,
		Plan:             record.Plan,
		CurrentPeriodEnd: record.CurrentPeriodEnd,
		TrialExpiresAt:   record.TrialExpiresAt,
		TrialStartedAt:   record.TrialStartedAt,
	}
	repair := domain.Repair{At: now}

	switch {
	case record.Status == domain.StatusActive:
		resp.TrialExpiresAt = nil
		resp.TrialActive = false
		resp.TrialDaysRemaining = 0
		if record.HasTrialFields() || record.TrialActive {
			repair.ClearTrial = true
		}
	case record.TrialExpiresAt != nil:
		remaining := *record.TrialExpiresAt - now.Unix()
		if remaining > 0 {
			resp.TrialActive = true
			resp.TrialDaysRemaining = daysRemaining(remaining)
		} else if record.Status == domain.StatusTrialing {
			resp.Status = domain.StatusTrialExpired
			status := domain.StatusTrialExpired
			repair.Status = &status
		}
	}

	resp.AccessGranted, resp.AccessReason = domain.AccessFor(resp.Status, resp.TrialActive)

	if record.Status != domain.StatusActive {
		days := resp.TrialDaysRemaining
		persistDays := resp.TrialActive ||
			resp.Status == domain.StatusTrialing || resp.Status == domain.StatusTrialExpired
		if persistDays && days != record.TrialDaysRemaining {
			repair.TrialDaysRemaining = &days
		}
		if resp.TrialActive != record.TrialActive {
			active := resp.TrialActive
			repair.TrialActive = &active
		}
	}
	if resp.AccessGranted != record.AccessGranted {
		granted := resp.AccessGranted
		repair.AccessGranted = &granted
	}
	if resp.AccessReason != record.AccessReason {
		reason := resp.AccessReason
		repair.AccessReason = &reason
	}
	return resp, repair
}

// daysRemaining rounds up and never reports less than one day for a live trial.
func daysRemaining(seconds int64) int {
	days := int((seconds + secondsPerDay - 1) / secondsPerDay)
	if days < 1 {
		return 1
	}
	return days
}

func noEntitlement() domain.EntitlementsResponse {
	return domain.EntitlementsResponse{
		Status:       domain.StatusNone,
		AccessReason: domain.ReasonNoEntitlement,
	}
}
