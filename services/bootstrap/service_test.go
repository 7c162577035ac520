package bootstrap

import (
	"context"
	"testing"

	"reseller-billing/services/testutil"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func TestMigrateCreatesTables(t *testing.T) {
	db := testutil.NewTestDB(t)
	svc := NewService(ServiceParams{DB: db})

	require.NoError(t, svc.Migrate(context.Background()))
	// idempotent
	require.NoError(t, svc.Migrate(context.Background()))

	for _, table := range []string{
		"wallet_accounts",
		"ledger_entries",
		"compute_instances",
		"billing_runs",
		"billing_cycle_records",
		"executor_heartbeats",
	} {
		require.True(t, db.Migrator().HasTable(table), table)
	}
}
