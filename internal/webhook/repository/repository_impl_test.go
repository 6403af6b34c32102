package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/predixa/entitlements/internal/webhook/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:webhook_events_%d?mode=memory&cache=shared", time.Now().UnixNano())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&domain.EventRecord{}))
	return conn
}

func TestInsertEventDeduplicates(t *testing.T) {
	ctx := context.Background()
	r := Provide(setupTestDB(t))
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	inserted, err := r.InsertEvent(ctx, &domain.EventRecord{
		ID: 1, Provider: domain.ProviderRevenueCat, ProviderEventID: "evt-1",
		EventType: "RENEWAL", UserID: "u1", Outcome: domain.OutcomeUpdated, ReceivedAt: now,
	})
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = r.InsertEvent(ctx, &domain.EventRecord{
		ID: 2, Provider: domain.ProviderRevenueCat, ProviderEventID: "evt-1",
		EventType: "RENEWAL", UserID: "u1", Outcome: domain.OutcomeUpdated, ReceivedAt: now,
	})
	require.NoError(t, err)
	assert.False(t, inserted)

	found, err := r.FindEvent(ctx, domain.ProviderRevenueCat, "evt-1")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.EqualValues(t, 1, found.ID)

	missing, err := r.FindEvent(ctx, domain.ProviderStripe, "evt-1")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestListByUserAndPrune(t *testing.T) {
	ctx := context.Background()
	r := Provide(setupTestDB(t))
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		_, err := r.InsertEvent(ctx, &domain.EventRecord{
			ID:              int64ID(i + 1),
			Provider:        domain.ProviderStripe,
			ProviderEventID: fmt.Sprintf("evt_%d", i),
			EventType:       "customer.subscription.updated",
			UserID:          "u1",
			Outcome:         domain.OutcomeUpdated,
			ReceivedAt:      base.Add(time.Duration(i) * 24 * time.Hour),
		})
		require.NoError(t, err)
	}

	events, err := r.ListByUser(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, "evt_2", events[0].ProviderEventID)

	pruned, err := r.PruneBefore(ctx, base.Add(36*time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 2, pruned)

	events, err = r.ListByUser(ctx, "u1", 10)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func int64ID(v int) snowflake.ID { return snowflake.ID(v) }
