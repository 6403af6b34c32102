package domain

import (
	"context"
	"time"
)

// Access reasons reported by the read model.
const (
	ReasonActiveSubscription = "active_subscription"
	ReasonTrial              = "trial"
	ReasonPastDue            = "past_due"
	ReasonTrialExpired       = "trial_expired"
	ReasonCanceled           = "canceled"
	ReasonNoEntitlement      = "no_entitlement"
)

// AccessFor derives access and its reason from a status and the trial flag.
func AccessFor(status Status, trialActive bool) (bool, string) {
	switch {
	case status == StatusActive:
		return true, ReasonActiveSubscription
	case status == StatusTrialing && trialActive:
		return true, ReasonTrial
	case status == StatusPastDue:
		return false, ReasonPastDue
	case status == StatusTrialing, status == StatusTrialExpired:
		return false, ReasonTrialExpired
	case status == StatusCanceled:
		return false, ReasonCanceled
	case status == "":
		return false, string(StatusNone)
	default:
		return false, string(status)
	}
}

// EntitlementsResponse is the wire shape of GET /api/entitlements.
type EntitlementsResponse struct {
	Status             Status     `json:"status"`
	Plan               *string    `json:"plan"`
	CurrentPeriodEnd   *int64     `json:"current_period_end"`
	TrialExpiresAt     *int64     `json:"trial_expires_at"`
	TrialStartedAt     *time.Time `json:"trial_started_at"`
	TrialDaysRemaining int        `json:"trial_days_remaining"`
	TrialActive        bool       `json:"trial_active"`
	AccessGranted      bool       `json:"access_granted"`
	AccessReason       string     `json:"access_reason"`
}

// SweepSummary reports one pass of the scheduled trial sweep.
type SweepSummary struct {
	Scanned int `json:"scanned"`
	Updated int `json:"updated"`
	Expired int `json:"expired"`
	Skipped int `json:"skipped"`
	Errors  int `json:"errors"`
}

type Service interface {
	// GetEntitlements derives the read model and writes back any repairs.
	GetEntitlements(ctx context.Context, userID string) (EntitlementsResponse, error)
	// StartTrial creates a trialing record for a user without one.
	StartTrial(ctx context.Context, userID string) (EntitlementsResponse, error)
	// SweepTrials refreshes trial day counts and expires lapsed trials.
	SweepTrials(ctx context.Context) (SweepSummary, error)
}
