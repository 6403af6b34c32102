package stripe

import (
	"strings"

	"github.com/predixa/entitlements/internal/entitlement/domain"
)

// MapStatus converts a Stripe subscription status to the entitlement vocabulary.
func MapStatus(status string) domain.Status {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "active":
		return domain.StatusActive
	case "trialing":
		return domain.StatusTrialing
	case "past_due", "unpaid":
		return domain.StatusPastDue
	case "canceled", "incomplete_expired":
		return domain.StatusCanceled
	case "incomplete":
		return domain.StatusNone
	default:
		return domain.StatusNone
	}
}

// GrantsDirectAccess reports whether a Stripe subscription in this status
// counts as a found verdict for the direct provider.
func GrantsDirectAccess(status string) bool {
	switch MapStatus(status) {
	case domain.StatusActive, domain.StatusTrialing:
		return true
	default:
		return false
	}
}

// Plan converts the subscription's first item into a verdict plan.
func (s Subscription) Plan() *domain.Plan {
	name := s.ProductName
	if name == "" {
		name = "Pro Plan"
	}
	interval := domain.IntervalMonth
	if s.Interval == string(domain.IntervalYear) {
		interval = domain.IntervalYear
	}
	return &domain.Plan{
		ID:               s.PriceID,
		Name:             name,
		AmountMinorUnits: s.UnitAmount,
		Interval:         interval,
	}
}
