// Package domain contains the entitlement record, the access verdict and the
// contracts shared by the store, resolver and read model.
package domain

import (
	"strings"
	"time"
)

// Status is the subscription status vocabulary shared by every billing source.
type Status string

const (
	StatusActive       Status = "active"
	StatusTrialing     Status = "trialing"
	StatusPastDue      Status = "past_due"
	StatusCanceled     Status = "canceled"
	StatusInactive     Status = "inactive"
	StatusNone         Status = "none"
	StatusTrialExpired Status = "trial_expired"
)

// Grants reports whether the status alone grants access.
func (s Status) Grants() bool {
	return s == StatusActive || s == StatusTrialing
}

type Platform string

const (
	PlatformDirect Platform = "direct"
	PlatformMobile Platform = "mobile"
	PlatformNone   Platform = "none"
)

// Billing sources that write entitlement records.
const (
	SourceRevenueCat = "revenuecat"
	SourceStripe     = "stripe"
	SourceTrial      = "trial"
)

type Interval string

const (
	IntervalMonth Interval = "month"
	IntervalYear  Interval = "year"
)

// Plan describes the plan behind a granted verdict.
type Plan struct {
	ID               string   `json:"id"`
	Name             string   `json:"name"`
	AmountMinorUnits int64    `json:"amount"`
	Interval         Interval `json:"interval"`
}

// AccessVerdict is the unified answer to "does this user have access now".
type AccessVerdict struct {
	Status    Status   `json:"status"`
	Platform  Platform `json:"platform"`
	PeriodEnd int64    `json:"period_end,omitempty"`
	Plan      *Plan    `json:"plan,omitempty"`
}

// HasAccess is true iff the status is active or trialing. Platform never
// influences the decision.
func (v AccessVerdict) HasAccess() bool {
	return v.Status.Grants()
}

func NoneVerdict() AccessVerdict {
	return AccessVerdict{Status: StatusNone, Platform: PlatformNone}
}

// Entitlement is the durable per-user record keyed by the Cognito sub.
// Period and trial instants are epoch seconds; LastEventAt is epoch millis.
type Entitlement struct {
	UserID             string     `gorm:"primaryKey;type:varchar(128)"`
	Status             Status     `gorm:"type:varchar(32);not null;index"`
	Plan               *string    `gorm:"type:varchar(255)"`
	CurrentPeriodEnd   *int64     `gorm:""`
	TrialStartedAt     *time.Time `gorm:""`
	TrialExpiresAt     *int64     `gorm:""`
	TrialActive        bool       `gorm:"not null;default:false"`
	TrialDaysRemaining int        `gorm:"not null;default:0"`
	AccessGranted      bool       `gorm:"not null;default:false"`
	AccessReason       string     `gorm:"type:varchar(64)"`
	Provider           string     `gorm:"type:varchar(32)"`
	ProductID          string     `gorm:"type:varchar(255)"`
	Environment        string     `gorm:"type:varchar(32)"`
	LastEventAt        int64      `gorm:"not null;default:0"`
	LastEventID        string     `gorm:"type:varchar(255)"`
	CreatedAt          time.Time  `gorm:"not null;autoCreateTime:false"`
	UpdatedAt          time.Time  `gorm:"not null;autoUpdateTime:false"`
}

// TableName sets the database table name.
func (Entitlement) TableName() string { return "entitlements" }

// PlatformFor derives the informational platform from the writing source.
func (e Entitlement) PlatformFor() Platform {
	if strings.EqualFold(e.Provider, SourceRevenueCat) {
		return PlatformMobile
	}
	return PlatformDirect
}

func (e Entitlement) PlanID() string {
	if e.Plan == nil {
		return ""
	}
	return *e.Plan
}

// HasTrialFields reports whether trial bookkeeping is still stored.
func (e Entitlement) HasTrialFields() bool {
	return e.TrialExpiresAt != nil || e.TrialDaysRemaining > 0
}

// ApplyOutcome describes what Apply did with a change.
type ApplyOutcome string

const (
	ApplyCreated ApplyOutcome = "created"
	ApplyUpdated ApplyOutcome = "updated"
	ApplyStale   ApplyOutcome = "stale"
)

// Change is a provider-driven partial update. Nil pointers leave the stored
// value untouched; the Clear flags null it.
type Change struct {
	UserID           string
	Status           Status
	Plan             *string
	ClearPlan        bool
	CurrentPeriodEnd *int64
	ClearPeriodEnd   bool
	TrialExpiresAt   *int64
	ClearTrial       bool
	Provider         string
	ProductID        string
	Environment      string
	EventID          string
	// EventAt is epoch millis; a stored LastEventAt newer than this makes
	// the change stale.
	EventAt int64
	At      time.Time
}

type ApplyResult struct {
	Outcome ApplyOutcome
	Record  Entitlement
}

// Repair is a read-model correction written back to the store.
type Repair struct {
	Status             *Status
	TrialDaysRemaining *int
	TrialActive        *bool
	AccessGranted      *bool
	AccessReason       *string
	ClearTrial         bool
	At                 time.Time
}

// Empty reports whether the repair would change nothing.
func (r Repair) Empty() bool {
	return r.Status == nil && r.TrialDaysRemaining == nil && r.TrialActive == nil &&
		r.AccessGranted == nil && r.AccessReason == nil && !r.ClearTrial
}

// Apply mutates e in place; repositories use it so both backends agree.
func (r Repair) Apply(e *Entitlement) {
	if r.Status != nil {
		e.Status = *r.Status
	}
	if r.TrialDaysRemaining != nil {
		e.TrialDaysRemaining = *r.TrialDaysRemaining
	}
	if r.TrialActive != nil {
		e.TrialActive = *r.TrialActive
	}
	if r.AccessGranted != nil {
		e.AccessGranted = *r.AccessGranted
	}
	if r.AccessReason != nil {
		e.AccessReason = *r.AccessReason
	}
	if r.ClearTrial {
		e.TrialExpiresAt = nil
		e.TrialDaysRemaining = 0
		e.TrialActive = false
	}
	e.UpdatedAt = r.At
}

// Merge applies c onto existing (or a fresh record when existing is nil)
// and returns the resulting record. It does not check ordering.
func (c Change) Merge(existing *Entitlement) Entitlement {
	var out Entitlement
	if existing != nil {
		out = *existing
	} else {
		out = Entitlement{UserID: c.UserID, CreatedAt: c.At}
	}

	out.Status = c.Status
	out.UpdatedAt = c.At
	switch {
	case c.ClearPlan:
		out.Plan = nil
	case c.Plan != nil:
		plan := *c.Plan
		out.Plan = &plan
	}
	switch {
	case c.ClearPeriodEnd:
		out.CurrentPeriodEnd = nil
	case c.CurrentPeriodEnd != nil:
		end := *c.CurrentPeriodEnd
		out.CurrentPeriodEnd = &end
	}
	switch {
	case c.ClearTrial:
		out.TrialExpiresAt = nil
		out.TrialActive = false
		out.TrialDaysRemaining = 0
	case c.TrialExpiresAt != nil:
		end := *c.TrialExpiresAt
		out.TrialExpiresAt = &end
	}
	if c.Provider != "" {
		out.Provider = c.Provider
	}
	if c.ProductID != "" {
		out.ProductID = c.ProductID
	}
	if c.Environment != "" {
		out.Environment = c.Environment
	}
	if out.Status == StatusTrialing && out.TrialExpiresAt != nil {
		out.TrialActive = *out.TrialExpiresAt > c.At.Unix()
	}
	out.AccessGranted, out.AccessReason = AccessFor(out.Status, out.TrialActive)
	if c.EventAt > out.LastEventAt {
		out.LastEventAt = c.EventAt
	}
	if c.EventID != "" {
		out.LastEventID = c.EventID
	}
	return out
}

// IsStaleFor reports whether c is older than the newest event already applied.
func (c Change) IsStaleFor(existing *Entitlement) bool {
	return existing != nil && c.EventAt > 0 && existing.LastEventAt > c.EventAt
}
