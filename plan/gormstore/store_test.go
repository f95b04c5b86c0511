package gormstore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/corvomail/payments/plan/tests"
)

func TestPlan_GormStore(t *testing.T) {
	testStore, err := Open(filepath.Join(t.TempDir(), "plans.db"))
	require.NoError(t, err)

	teardown := func() {
		require.NoError(t, testStore.db.Exec("DELETE FROM plans").Error)
		require.NoError(t, testStore.db.Exec("DELETE FROM subscription").Error)
	}
	tests.RunStoreTests(t, testStore, teardown)
}
