package resolver

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	stripeapi "github.com/stripe/stripe-go/v82"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	billing "github.com/predixa/entitlements/internal/billing/stripe"
	"github.com/predixa/entitlements/internal/clock"
	"github.com/predixa/entitlements/internal/config"
	"github.com/predixa/entitlements/internal/entitlement/domain"
	"github.com/predixa/entitlements/internal/entitlement/repository"
)

type stubProvider struct {
	name    string
	verdict domain.AccessVerdict
	found   bool
	err     error
	delay   time.Duration
	calls   atomic.Int32
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) Lookup(ctx context.Context, _ string) (domain.AccessVerdict, bool, error) {
	s.calls.Add(1)
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return domain.AccessVerdict{}, false, ctx.Err()
		}
	}
	return s.verdict, s.found, s.err
}

type fakeStripe struct {
	billing.Client
	customer *stripeapi.Customer
	sub      *billing.Subscription
	findErr  error
}

func (f *fakeStripe) FindCustomerByUser(context.Context, string) (*stripeapi.Customer, error) {
	if f.findErr != nil {
		return nil, f.findErr
	}
	if f.customer == nil {
		return nil, billing.ErrCustomerNotFound
	}
	return f.customer, nil
}

func (f *fakeStripe) LatestSubscription(context.Context, string) (*billing.Subscription, error) {
	return f.sub, nil
}

type failingRepo struct {
	domain.Repository
}

func (failingRepo) Get(context.Context, string) (*domain.Entitlement, error) {
	return nil, domain.ErrStoreUnavailable
}

func setupRepo(t *testing.T) domain.Repository {
	t.Helper()
	dsn := fmt.Sprintf("file:resolver_%d?mode=memory&cache=shared", time.Now().UnixNano())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&domain.Entitlement{}))
	return repository.NewGormRepository(conn)
}

func plans() *config.PlanCatalogHolder {
	return config.NewStaticPlanCatalogHolder(config.DefaultPlanCatalog())
}

var testNow = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

func testClock() *clock.FakeClock {
	return clock.NewFakeClock(testNow)
}

func strPtr(v string) *string { return &v }
func int64Ptr(v int64) *int64 { return &v }

func seed(t *testing.T, repo domain.Repository, record domain.Entitlement) {
	t.Helper()
	record.CreatedAt = testNow
	record.UpdatedAt = testNow
	require.NoError(t, repo.Create(context.Background(), &record))
}

func TestResolveDefaultsToNone(t *testing.T) {
	r := NewResolver(zap.NewNop(), nil, time.Second,
		NewStoreProvider(setupRepo(t), plans(), testClock()),
		NewDirectProvider(&fakeStripe{}),
		MobileProvider{},
	)

	verdict := r.Resolve(context.Background(), "sub-unknown")
	assert.Equal(t, domain.NoneVerdict(), verdict)

	verdict = r.Resolve(context.Background(), "  ")
	assert.Equal(t, domain.NoneVerdict(), verdict)
}

func TestStoreProviderTrialingReportsFreeTrial(t *testing.T) {
	repo := setupRepo(t)
	seed(t, repo, domain.Entitlement{
		UserID:         "sub-trial",
		Status:         domain.StatusTrialing,
		TrialActive:    true,
		TrialExpiresAt: int64Ptr(1_760_000_000),
		Provider:       domain.SourceTrial,
	})

	r := NewResolver(zap.NewNop(), nil, time.Second, NewStoreProvider(repo, plans(), testClock()))
	verdict := r.Resolve(context.Background(), "sub-trial")

	assert.Equal(t, domain.StatusTrialing, verdict.Status)
	require.NotNil(t, verdict.Plan)
	assert.Equal(t, "Free Trial", verdict.Plan.Name)
	assert.Equal(t, int64(1_760_000_000), verdict.PeriodEnd)
	assert.Equal(t, domain.PlatformDirect, verdict.Platform)
	assert.True(t, verdict.HasAccess())
}

func TestStoreProviderLapsedTrialDeniesAccess(t *testing.T) {
	repo := setupRepo(t)
	startedAt := testNow.Add(-10 * 24 * time.Hour)
	expiresAt := startedAt.Add(7 * 24 * time.Hour).Unix()
	seed(t, repo, domain.Entitlement{
		UserID:             "sub-lapsed",
		Status:             domain.StatusTrialing,
		TrialStartedAt:     &startedAt,
		TrialExpiresAt:     &expiresAt,
		TrialActive:        true,
		TrialDaysRemaining: 7,
		AccessGranted:      true,
		AccessReason:       domain.ReasonTrial,
		Provider:           domain.SourceTrial,
	})

	r := NewResolver(zap.NewNop(), nil, time.Second, NewStoreProvider(repo, plans(), testClock()))

	assert.Equal(t, domain.NoneVerdict(), r.Resolve(context.Background(), "sub-lapsed"))
	ok, err := r.HasActiveAccess(context.Background(), "sub-lapsed")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStoreProviderTrialExpiresWithClock(t *testing.T) {
	repo := setupRepo(t)
	expiresAt := testNow.Add(time.Hour).Unix()
	seed(t, repo, domain.Entitlement{
		UserID:         "sub-ending",
		Status:         domain.StatusTrialing,
		TrialExpiresAt: &expiresAt,
		TrialActive:    true,
		AccessGranted:  true,
		Provider:       domain.SourceTrial,
	})

	clk := testClock()
	r := NewResolver(zap.NewNop(), nil, time.Second, NewStoreProvider(repo, plans(), clk))
	assert.Equal(t, domain.StatusTrialing, r.Resolve(context.Background(), "sub-ending").Status)

	clk.Advance(2 * time.Hour)
	assert.Equal(t, domain.StatusNone, r.Resolve(context.Background(), "sub-ending").Status)
}

func TestStoreProviderActiveIgnoresTrialFlag(t *testing.T) {
	repo := setupRepo(t)
	seed(t, repo, domain.Entitlement{
		UserID:           "sub-active",
		Status:           domain.StatusActive,
		TrialActive:      false,
		Plan:             strPtr("predixa_yearly"),
		CurrentPeriodEnd: int64Ptr(1_790_000_000),
		Provider:         domain.SourceRevenueCat,
	})

	r := NewResolver(zap.NewNop(), nil, time.Second, NewStoreProvider(repo, plans(), testClock()))
	verdict := r.Resolve(context.Background(), "sub-active")

	assert.Equal(t, domain.StatusActive, verdict.Status)
	assert.Equal(t, domain.PlatformMobile, verdict.Platform)
	require.NotNil(t, verdict.Plan)
	assert.Equal(t, "Yearly Pro", verdict.Plan.Name)
	assert.Equal(t, domain.IntervalYear, verdict.Plan.Interval)
	assert.Equal(t, int64(1_790_000_000), verdict.PeriodEnd)
}

func TestStoreProviderSkipsRecordsWithoutAccess(t *testing.T) {
	repo := setupRepo(t)
	seed(t, repo, domain.Entitlement{UserID: "sub-canceled", Status: domain.StatusCanceled})

	direct := &fakeStripe{
		customer: &stripeapi.Customer{ID: "cus_1"},
		sub:      &billing.Subscription{ID: "sub_1", Status: "active", PriceID: "price_m", CurrentPeriodEnd: 42},
	}
	r := NewResolver(zap.NewNop(), nil, time.Second, NewStoreProvider(repo, plans(), testClock()), NewDirectProvider(direct))
	verdict := r.Resolve(context.Background(), "sub-canceled")

	assert.Equal(t, domain.StatusActive, verdict.Status)
	assert.Equal(t, domain.PlatformDirect, verdict.Platform)
	assert.Equal(t, int64(42), verdict.PeriodEnd)
	require.NotNil(t, verdict.Plan)
	assert.Equal(t, "Pro Plan", verdict.Plan.Name)
}

func TestResolveFallsBackWhenStoreIsDown(t *testing.T) {
	direct := &fakeStripe{
		customer: &stripeapi.Customer{ID: "cus_1"},
		sub:      &billing.Subscription{ID: "sub_1", Status: "trialing", ProductName: "Predixa Pro"},
	}
	r := NewResolver(zap.NewNop(), nil, time.Second,
		NewStoreProvider(failingRepo{}, plans(), testClock()),
		NewDirectProvider(direct),
		MobileProvider{},
	)

	verdict := r.Resolve(context.Background(), "sub-1")
	assert.Equal(t, domain.StatusTrialing, verdict.Status)
	assert.Equal(t, "Predixa Pro", verdict.Plan.Name)
}

func TestResolveAllProvidersDownIsNone(t *testing.T) {
	r := NewResolver(zap.NewNop(), nil, time.Second,
		NewStoreProvider(failingRepo{}, plans(), testClock()),
		NewDirectProvider(&fakeStripe{findErr: errors.New("stripe down")}),
		MobileProvider{},
	)

	assert.Equal(t, domain.NoneVerdict(), r.Resolve(context.Background(), "sub-1"))

	ok, err := r.HasActiveAccess(context.Background(), "sub-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestResolveStopsAtFirstFound(t *testing.T) {
	first := &stubProvider{name: "first", found: true, verdict: domain.AccessVerdict{Status: domain.StatusActive, Platform: domain.PlatformDirect}}
	second := &stubProvider{name: "second", found: true}

	r := NewResolver(zap.NewNop(), nil, time.Second, first, second)
	verdict := r.Resolve(context.Background(), "sub-1")

	assert.Equal(t, domain.StatusActive, verdict.Status)
	assert.Equal(t, int32(1), first.calls.Load())
	assert.Equal(t, int32(0), second.calls.Load())
}

func TestResolveProviderTimeoutMovesOn(t *testing.T) {
	slow := &stubProvider{name: "slow", found: true, delay: time.Second,
		verdict: domain.AccessVerdict{Status: domain.StatusActive}}
	fast := &stubProvider{name: "fast", found: true,
		verdict: domain.AccessVerdict{Status: domain.StatusTrialing, Platform: domain.PlatformMobile}}

	r := NewResolver(zap.NewNop(), nil, 20*time.Millisecond, slow, fast)
	verdict := r.Resolve(context.Background(), "sub-1")

	assert.Equal(t, domain.StatusTrialing, verdict.Status)
	assert.Equal(t, int32(1), fast.calls.Load())
}

func TestHasActiveAccessReportsCanceledContext(t *testing.T) {
	r := NewResolver(zap.NewNop(), nil, time.Second, &stubProvider{name: "any"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ok, err := r.HasActiveAccess(ctx, "sub-1")
	assert.False(t, ok)
	assert.ErrorIs(t, err, context.Canceled)
}
