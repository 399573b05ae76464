// Package storetest opens throwaway databases for tests.
package storetest

import (
	"path/filepath"
	"testing"

	"github.com/oliverisaac/nudge/lib/store"
	"github.com/oliverisaac/nudge/types"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// MustOpen opens a migrated SQLite database in a temp dir. It is closed via
// t.Cleanup.
func MustOpen(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := store.Open(types.Config{
		DBDriver: "sqlite",
		DBPath:   filepath.Join(t.TempDir(), "nudge.db"),
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = store.Close(db)
	})
	return db
}
