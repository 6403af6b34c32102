package migration

import (
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	entitlementdomain "github.com/predixa/entitlements/internal/entitlement/domain"
	webhookdomain "github.com/predixa/entitlements/internal/webhook/domain"
	"github.com/predixa/entitlements/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func TestMigrationFilesAreOrdered(t *testing.T) {
	files, err := MigrationFiles()
	require.NoError(t, err)
	assert.Equal(t, []string{
		"000001_create_entitlements.up.sql",
		"000002_create_entitlement_events.up.sql",
	}, files)
}

func TestRunAutoMigratesNonPostgres(t *testing.T) {
	dsn := fmt.Sprintf("file:migration_%d?mode=memory&cache=shared", time.Now().UnixNano())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, Run(conn, db.Config{Type: "sqlite"}, zap.NewNop()))

	assert.True(t, conn.Migrator().HasTable(&entitlementdomain.Entitlement{}))
	assert.True(t, conn.Migrator().HasTable(&webhookdomain.EventRecord{}))
	assert.True(t, conn.Migrator().HasIndex(&webhookdomain.EventRecord{}, "ux_entitlement_events_provider_event"))
}

func TestRunMigrationsRequiresHandle(t *testing.T) {
	assert.Error(t, RunMigrations(nil))
}
