package resolver

import (
	"context"
	"errors"
	"strings"

	"time"

	billing "github.com/predixa/entitlements/internal/billing/stripe"
	"github.com/predixa/entitlements/internal/clock"
	"github.com/predixa/entitlements/internal/config"
	"github.com/predixa/entitlements/internal/entitlement/domain"
	"github.com/predixa/entitlements/internal/entitlement/service"
)

const (
	ProviderStore  = "store"
	ProviderDirect = "direct"
	ProviderMobile = "mobile"
)

// StoreProvider reads the durable entitlement record and evaluates it the
// way GET /api/entitlements does, so a lapsed trial stops granting access as
// soon as its end passes.
type StoreProvider struct {
	repo  domain.Repository
	plans *config.PlanCatalogHolder
	clock clock.Clock
}

func NewStoreProvider(repo domain.Repository, plans *config.PlanCatalogHolder, c clock.Clock) *StoreProvider {
	if c == nil {
		c = clock.NewSystemClock()
	}
	return &StoreProvider{repo: repo, plans: plans, clock: c}
}

func (p *StoreProvider) Name() string { return ProviderStore }

func (p *StoreProvider) Lookup(ctx context.Context, identity string) (domain.AccessVerdict, bool, error) {
	record, err := p.repo.Get(ctx, identity)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.AccessVerdict{}, false, nil
	}
	if err != nil {
		return domain.AccessVerdict{}, false, err
	}
	verdict, ok := VerdictFromRecord(*record, p.plans.Get(), p.clock.Now())
	return verdict, ok, nil
}

// VerdictFromRecord converts a stored record into a verdict as of now. The
// stored TrialActive and AccessGranted flags are recomputed first; an elapsed
// trialExpiresAt always wins over them. A record that does not grant access
// is reported as not found so the chain continues.
func VerdictFromRecord(record domain.Entitlement, catalog config.PlanCatalog, now time.Time) (domain.AccessVerdict, bool) {
	derived, _ := service.Derive(record, now)
	granted := derived.Status == domain.StatusActive ||
		(derived.Status == domain.StatusTrialing && derived.TrialActive) ||
		derived.AccessGranted
	if !granted {
		return domain.AccessVerdict{}, false
	}

	status := domain.StatusTrialing
	if derived.Status == domain.StatusActive {
		status = domain.StatusActive
	}

	planID := record.PlanID()
	name := catalog.TrialName
	if status != domain.StatusTrialing {
		name = catalog.DisplayName(planID)
	}
	interval := domain.IntervalMonth
	if strings.Contains(strings.ToLower(planID), "year") {
		interval = domain.IntervalYear
	}

	var periodEnd int64
	switch {
	case derived.CurrentPeriodEnd != nil:
		periodEnd = *derived.CurrentPeriodEnd
	case derived.TrialExpiresAt != nil:
		periodEnd = *derived.TrialExpiresAt
	}

	return domain.AccessVerdict{
		Status:    status,
		Platform:  record.PlatformFor(),
		PeriodEnd: periodEnd,
		Plan: &domain.Plan{
			ID:       planID,
			Name:     name,
			Interval: interval,
		},
	}, true
}

// DirectProvider asks Stripe for the customer's latest subscription.
type DirectProvider struct {
	client billing.Client
}

func NewDirectProvider(client billing.Client) *DirectProvider {
	return &DirectProvider{client: client}
}

func (p *DirectProvider) Name() string { return ProviderDirect }

func (p *DirectProvider) Lookup(ctx context.Context, identity string) (domain.AccessVerdict, bool, error) {
	cust, err := p.client.FindCustomerByUser(ctx, identity)
	if errors.Is(err, billing.ErrCustomerNotFound) || errors.Is(err, billing.ErrNotConfigured) {
		return domain.AccessVerdict{}, false, nil
	}
	if err != nil {
		return domain.AccessVerdict{}, false, err
	}

	sub, err := p.client.LatestSubscription(ctx, cust.ID)
	if err != nil {
		return domain.AccessVerdict{}, false, err
	}
	if sub == nil || !billing.GrantsDirectAccess(sub.Status) {
		return domain.AccessVerdict{}, false, nil
	}

	return domain.AccessVerdict{
		Status:    billing.MapStatus(sub.Status),
		Platform:  domain.PlatformDirect,
		PeriodEnd: sub.CurrentPeriodEnd,
		Plan:      sub.Plan(),
	}, true, nil
}

// MobileProvider is reserved for querying the mobile store directly. Mobile
// purchases reach the store provider through webhooks today.
type MobileProvider struct{}

func (MobileProvider) Name() string { return ProviderMobile }

func (MobileProvider) Lookup(context.Context, string) (domain.AccessVerdict, bool, error) {
	return domain.AccessVerdict{}, false, nil
}
