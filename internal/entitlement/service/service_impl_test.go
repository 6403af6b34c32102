package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/predixa/entitlements/internal/clock"
	"github.com/predixa/entitlements/internal/config"
	"github.com/predixa/entitlements/internal/entitlement/domain"
	"github.com/predixa/entitlements/internal/entitlement/repository"
)

var baseTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	svc   domain.Service
	repo  domain.Repository
	clock *clock.FakeClock
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	dsn := fmt.Sprintf("file:entitlement_service_%d?mode=memory&cache=shared", time.Now().UnixNano())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&domain.Entitlement{}))

	repo := repository.NewGormRepository(conn)
	fake := clock.NewFakeClock(baseTime)
	svc := NewService(ServiceParam{
		Config: config.Config{TrialDays: 7},
		Log:    zap.NewNop(),
		Clock:  fake,
		Repo:   repo,
	})
	return fixture{svc: svc, repo: repo, clock: fake}
}

func (f fixture) seed(t *testing.T, record domain.Entitlement) {
	t.Helper()
	record.CreatedAt = baseTime
	record.UpdatedAt = baseTime
	require.NoError(t, f.repo.Create(context.Background(), &record))
}

func int64Ptr(v int64) *int64 { return &v }
func strPtr(v string) *string { return &v }

func TestGetEntitlementsWithoutRecord(t *testing.T) {
	f := newFixture(t)

	resp, err := f.svc.GetEntitlements(context.Background(), "sub-none")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusNone, resp.Status)
	assert.Nil(t, resp.Plan)
	assert.Nil(t, resp.TrialExpiresAt)
	assert.False(t, resp.AccessGranted)
	assert.Equal(t, domain.ReasonNoEntitlement, resp.AccessReason)
}

func TestGetEntitlementsRejectsEmptyUser(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.GetEntitlements(context.Background(), " ")
	assert.ErrorIs(t, err, domain.ErrInvalidUserID)
}

func TestGetEntitlementsLiveTrial(t *testing.T) {
	f := newFixture(t)
	expires := baseTime.Add(36 * time.Hour).Unix()
	f.seed(t, domain.Entitlement{
		UserID:         "sub-trial",
		Status:         domain.StatusTrialing,
		TrialExpiresAt: int64Ptr(expires),
	})

	resp, err := f.svc.GetEntitlements(context.Background(), "sub-trial")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusTrialing, resp.Status)
	assert.True(t, resp.TrialActive)
	assert.Equal(t, 2, resp.TrialDaysRemaining)
	assert.True(t, resp.AccessGranted)
	assert.Equal(t, domain.ReasonTrial, resp.AccessReason)

	stored, err := f.repo.Get(context.Background(), "sub-trial")
	require.NoError(t, err)
	assert.Equal(t, 2, stored.TrialDaysRemaining)
	assert.True(t, stored.TrialActive)
	assert.True(t, stored.AccessGranted)
}

func TestGetEntitlementsTrialUnderOneDayReportsOne(t *testing.T) {
	f := newFixture(t)
	f.seed(t, domain.Entitlement{
		UserID:         "sub-trial",
		Status:         domain.StatusTrialing,
		TrialExpiresAt: int64Ptr(baseTime.Add(10 * time.Minute).Unix()),
	})

	resp, err := f.svc.GetEntitlements(context.Background(), "sub-trial")
	require.NoError(t, err)
	assert.Equal(t, 1, resp.TrialDaysRemaining)
}

func TestGetEntitlementsExpiresLapsedTrial(t *testing.T) {
	f := newFixture(t)
	f.seed(t, domain.Entitlement{
		UserID:             "sub-lapsed",
		Status:             domain.StatusTrialing,
		TrialExpiresAt:     int64Ptr(baseTime.Add(-time.Hour).Unix()),
		TrialActive:        true,
		TrialDaysRemaining: 1,
		AccessGranted:      true,
		AccessReason:       domain.ReasonTrial,
	})

	resp, err := f.svc.GetEntitlements(context.Background(), "sub-lapsed")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusTrialExpired, resp.Status)
	assert.False(t, resp.TrialActive)
	assert.Equal(t, 0, resp.TrialDaysRemaining)
	assert.False(t, resp.AccessGranted)
	assert.Equal(t, domain.ReasonTrialExpired, resp.AccessReason)

	stored, err := f.repo.Get(context.Background(), "sub-lapsed")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusTrialExpired, stored.Status)
	assert.Equal(t, 0, stored.TrialDaysRemaining)
	assert.False(t, stored.TrialActive)
	assert.False(t, stored.AccessGranted)
}

func TestGetEntitlementsActiveClearsTrialFields(t *testing.T) {
	f := newFixture(t)
	f.seed(t, domain.Entitlement{
		UserID:             "sub-paid",
		Status:             domain.StatusActive,
		Plan:               strPtr("predixa_monthly"),
		CurrentPeriodEnd:   int64Ptr(1_760_000_000),
		TrialExpiresAt:     int64Ptr(baseTime.Add(48 * time.Hour).Unix()),
		TrialDaysRemaining: 2,
	})

	resp, err := f.svc.GetEntitlements(context.Background(), "sub-paid")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, resp.Status)
	assert.Nil(t, resp.TrialExpiresAt)
	assert.False(t, resp.TrialActive)
	assert.True(t, resp.AccessGranted)
	assert.Equal(t, domain.ReasonActiveSubscription, resp.AccessReason)
	require.NotNil(t, resp.Plan)
	assert.Equal(t, "predixa_monthly", *resp.Plan)

	stored, err := f.repo.Get(context.Background(), "sub-paid")
	require.NoError(t, err)
	assert.Nil(t, stored.TrialExpiresAt)
	assert.Equal(t, 0, stored.TrialDaysRemaining)
}

func TestGetEntitlementsAccessReasons(t *testing.T) {
	cases := []struct {
		status domain.Status
		reason string
	}{
		{domain.StatusPastDue, domain.ReasonPastDue},
		{domain.StatusCanceled, domain.ReasonCanceled},
		{domain.StatusInactive, "inactive"},
	}
	for _, tc := range cases {
		t.Run(string(tc.status), func(t *testing.T) {
			f := newFixture(t)
			f.seed(t, domain.Entitlement{UserID: "sub-x", Status: tc.status})

			resp, err := f.svc.GetEntitlements(context.Background(), "sub-x")
			require.NoError(t, err)
			assert.False(t, resp.AccessGranted)
			assert.Equal(t, tc.reason, resp.AccessReason)
		})
	}
}

func TestStartTrialCreatesOnce(t *testing.T) {
	f := newFixture(t)

	resp, err := f.svc.StartTrial(context.Background(), "sub-new")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusTrialing, resp.Status)
	assert.Equal(t, 7, resp.TrialDaysRemaining)
	assert.True(t, resp.AccessGranted)
	require.NotNil(t, resp.TrialExpiresAt)
	assert.Equal(t, baseTime.Add(7*24*time.Hour).Unix(), *resp.TrialExpiresAt)

	f.clock.Advance(3 * 24 * time.Hour)
	again, err := f.svc.StartTrial(context.Background(), "sub-new")
	require.NoError(t, err)
	assert.Equal(t, *resp.TrialExpiresAt, *again.TrialExpiresAt)
	assert.Equal(t, 4, again.TrialDaysRemaining)
}

func TestSweepTrials(t *testing.T) {
	f := newFixture(t)
	f.seed(t, domain.Entitlement{
		UserID:             "sub-live",
		Status:             domain.StatusTrialing,
		TrialActive:        true,
		TrialExpiresAt:     int64Ptr(baseTime.Add(50 * time.Hour).Unix()),
		TrialDaysRemaining: 7,
	})
	f.seed(t, domain.Entitlement{
		UserID:             "sub-current",
		Status:             domain.StatusTrialing,
		TrialActive:        true,
		TrialExpiresAt:     int64Ptr(baseTime.Add(20 * time.Hour).Unix()),
		TrialDaysRemaining: 1,
	})
	f.seed(t, domain.Entitlement{
		UserID:             "sub-done",
		Status:             domain.StatusTrialing,
		TrialActive:        true,
		TrialExpiresAt:     int64Ptr(baseTime.Add(-time.Minute).Unix()),
		TrialDaysRemaining: 1,
		AccessGranted:      true,
	})
	f.seed(t, domain.Entitlement{UserID: "sub-paid", Status: domain.StatusActive})

	summary, err := f.svc.SweepTrials(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.SweepSummary{Scanned: 3, Updated: 1, Expired: 1, Skipped: 1}, summary)

	live, err := f.repo.Get(context.Background(), "sub-live")
	require.NoError(t, err)
	assert.Equal(t, 3, live.TrialDaysRemaining)

	done, err := f.repo.Get(context.Background(), "sub-done")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusTrialExpired, done.Status)
	assert.False(t, done.AccessGranted)
	assert.Equal(t, 0, done.TrialDaysRemaining)
}

func TestClosedStoreSurfacesUnavailable(t *testing.T) {
	dsn := fmt.Sprintf("file:entitlement_service_closed_%d?mode=memory&cache=shared", time.Now().UnixNano())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&domain.Entitlement{}))
	svc := NewService(ServiceParam{
		Config: config.Config{TrialDays: 7},
		Log:    zap.NewNop(),
		Clock:  clock.NewFakeClock(baseTime),
		Repo:   repository.NewGormRepository(conn),
	})

	sqlDB, err := conn.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	_, err = svc.GetEntitlements(context.Background(), "u1")
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)

	_, err = svc.StartTrial(context.Background(), "u1")
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
}
