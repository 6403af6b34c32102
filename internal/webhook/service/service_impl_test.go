package service

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/predixa/entitlements/internal/clock"
	"github.com/predixa/entitlements/internal/config"
	entitlementdomain "github.com/predixa/entitlements/internal/entitlement/domain"
	entitlementrepo "github.com/predixa/entitlements/internal/entitlement/repository"
	"github.com/predixa/entitlements/internal/entitlement/resolver"
	"github.com/predixa/entitlements/internal/webhook/adapters"
	"github.com/predixa/entitlements/internal/webhook/adapters/revenuecat"
	"github.com/predixa/entitlements/internal/webhook/domain"
	webhookrepo "github.com/predixa/entitlements/internal/webhook/repository"
)

const secret = "rc_secret"

type fixture struct {
	svc          domain.Service
	entitlements entitlementdomain.Repository
	events       domain.Repository
	clock        *clock.FakeClock
	db           *gorm.DB
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	dsn := fmt.Sprintf("file:webhook_service_%d?mode=memory&cache=shared", time.Now().UnixNano())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&entitlementdomain.Entitlement{}, &domain.EventRecord{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	fake := clock.NewFakeClock(time.Date(2024, 12, 1, 0, 0, 0, 0, time.UTC))
	ents := entitlementrepo.NewGormRepository(conn)
	events := webhookrepo.Provide(conn)
	svc := NewService(Params{
		Log:          zap.NewNop(),
		GenID:        node,
		Clock:        fake,
		Adapters:     adapters.NewRegistry(revenuecat.NewAdapter(config.Config{RevenueCatWebhookSecret: secret})),
		Entitlements: ents,
		Events:       events,
	})
	return fixture{svc: svc, entitlements: ents, events: events, clock: fake, db: conn}
}

func signed(payload string) ([]byte, http.Header) {
	body := []byte(payload)
	headers := http.Header{}
	headers.Set(revenuecat.SignatureHeader, revenuecat.Sign(secret, body))
	return body, headers
}

func (f fixture) ingest(t *testing.T, payload string) (domain.Result, error) {
	t.Helper()
	body, headers := signed(payload)
	return f.svc.Ingest(context.Background(), domain.ProviderRevenueCat, body, headers)
}

func TestPurchaseThenCancellationEndToEnd(t *testing.T) {
	f := newFixture(t)
	r := resolver.NewResolver(zap.NewNop(), nil, time.Second,
		resolver.NewStoreProvider(f.entitlements, config.NewStaticPlanCatalogHolder(config.DefaultPlanCatalog()), f.clock),
		resolver.MobileProvider{},
	)

	res, err := f.ingest(t, `{"event":{"type":"INITIAL_PURCHASE","app_user_id":"u1","product_id":"monthly_pro","expiration_at_ms":1735689600000}}`)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "u1", res.UserID)
	assert.Equal(t, entitlementdomain.StatusActive, res.Status)

	stored, err := f.entitlements.Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, entitlementdomain.StatusActive, stored.Status)
	assert.Equal(t, "monthly_pro", stored.PlanID())
	assert.Equal(t, int64(1735689600), *stored.CurrentPeriodEnd)

	verdict := r.Resolve(context.Background(), "u1")
	assert.Equal(t, entitlementdomain.StatusActive, verdict.Status)
	assert.Equal(t, "Monthly Pro", verdict.Plan.Name)

	f.clock.Advance(time.Minute)
	res, err = f.ingest(t, `{"event":{"type":"CANCELLATION","app_user_id":"u1"}}`)
	require.NoError(t, err)
	assert.Equal(t, entitlementdomain.StatusCanceled, res.Status)

	stored, err = f.entitlements.Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, entitlementdomain.StatusCanceled, stored.Status)
	assert.Equal(t, "monthly_pro", stored.PlanID())

	verdict = r.Resolve(context.Background(), "u1")
	assert.False(t, verdict.HasAccess())
	assert.Equal(t, entitlementdomain.NoneVerdict(), verdict)
}

func TestCancellationWithPurchaseTimeIsNotStale(t *testing.T) {
	f := newFixture(t)

	_, err := f.ingest(t, `{"event":{"id":"evt-buy","type":"INITIAL_PURCHASE","app_user_id":"u1","product_id":"monthly_pro","expiration_at_ms":1735689600000}}`)
	require.NoError(t, err)

	f.clock.Advance(time.Hour)
	res, err := f.ingest(t, `{"event":{"id":"evt-cancel","type":"CANCELLATION","app_user_id":"u1","purchased_at_ms":1733000000000}}`)
	require.NoError(t, err)
	assert.NotEqual(t, "stale event ignored", res.Message)
	assert.Equal(t, entitlementdomain.StatusCanceled, res.Status)

	stored, err := f.entitlements.Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, entitlementdomain.StatusCanceled, stored.Status)
	assert.Equal(t, f.clock.Now().UnixMilli(), stored.LastEventAt)
}

func TestTestEventNeverMutates(t *testing.T) {
	f := newFixture(t)

	res, err := f.ingest(t, `{"event":{"type":"TEST","app_user_id":"u1"}}`)
	require.NoError(t, err)
	assert.True(t, res.Success)

	_, err = f.entitlements.Get(context.Background(), "u1")
	assert.ErrorIs(t, err, entitlementdomain.ErrNotFound)
}

func TestDuplicateDeliveryAppliesOnce(t *testing.T) {
	f := newFixture(t)
	payload := `{"event":{"id":"evt-dup","type":"RENEWAL","app_user_id":"u1","product_id":"yearly_pro","event_timestamp_ms":1733000000000}}`

	first, err := f.ingest(t, payload)
	require.NoError(t, err)
	before, err := f.entitlements.Get(context.Background(), "u1")
	require.NoError(t, err)

	f.clock.Advance(time.Hour)
	second, err := f.ingest(t, payload)
	require.NoError(t, err)
	assert.Equal(t, "duplicate event ignored", second.Message)
	assert.Equal(t, first.Status, second.Status)

	after, err := f.entitlements.Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.True(t, before.UpdatedAt.Equal(after.UpdatedAt))

	var count int64
	require.NoError(t, f.db.Model(&domain.EventRecord{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestStaleEventIgnored(t *testing.T) {
	f := newFixture(t)

	_, err := f.ingest(t, `{"event":{"id":"evt-new","type":"RENEWAL","app_user_id":"u1","event_timestamp_ms":2000}}`)
	require.NoError(t, err)

	res, err := f.ingest(t, `{"event":{"id":"evt-old","type":"EXPIRATION","app_user_id":"u1","event_timestamp_ms":1000}}`)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "stale event ignored", res.Message)

	stored, err := f.entitlements.Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, entitlementdomain.StatusActive, stored.Status)
}

func TestSignatureRejectedBeforeMutation(t *testing.T) {
	f := newFixture(t)
	body := []byte(`{"event":{"type":"INITIAL_PURCHASE","app_user_id":"u1"}}`)

	headers := http.Header{}
	headers.Set(revenuecat.SignatureHeader, revenuecat.Sign("forged", body))
	_, err := f.svc.Ingest(context.Background(), domain.ProviderRevenueCat, body, headers)
	assert.ErrorIs(t, err, domain.ErrInvalidSignature)

	_, err = f.svc.Ingest(context.Background(), domain.ProviderRevenueCat, body, http.Header{})
	assert.ErrorIs(t, err, domain.ErrInvalidSignature)

	_, err = f.entitlements.Get(context.Background(), "u1")
	assert.ErrorIs(t, err, entitlementdomain.ErrNotFound)
}

func TestMalformedEnvelope(t *testing.T) {
	f := newFixture(t)

	_, err := f.ingest(t, `{"app_user_id":"u1"}`)
	assert.ErrorIs(t, err, domain.ErrInvalidPayload)

	_, err = f.ingest(t, `{"event":{"type":"RENEWAL"}}`)
	assert.ErrorIs(t, err, domain.ErrMissingUser)
}

func TestUnknownProvider(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Ingest(context.Background(), "paddle", []byte(`{}`), http.Header{})
	assert.ErrorIs(t, err, domain.ErrProviderNotFound)
}

func TestStoreFailureSurfaces(t *testing.T) {
	f := newFixture(t)
	sqlDB, err := f.db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	_, err = f.ingest(t, `{"event":{"type":"RENEWAL","app_user_id":"u1"}}`)
	assert.ErrorIs(t, err, domain.ErrStoreFailure)
}
