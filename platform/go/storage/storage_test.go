package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestResolveObjectLocation(t *testing.T) {
	customerID := uuid.New()
	taskID := uuid.New()

	loc, err := ResolveObjectLocation("dev", "palmyra-dev-reports", customerID.String()+"/migrations/"+taskID.String()+".json")
	require.NoError(t, err)
	require.Equal(t, "palmyra-dev-reports", loc.Bucket)
	require.Equal(t, "dev/"+customerID.String()+"/migrations/"+taskID.String()+".json", loc.FullPath)
}

func TestResolveObjectLocation_trimsSlashAndValidates(t *testing.T) {
	loc, err := ResolveObjectLocation("prod/", "bucket", "/reports/a.json")
	require.NoError(t, err)
	require.Equal(t, "prod/reports/a.json", loc.FullPath)

	_, err = ResolveObjectLocation("dev", "", "file")
	require.Error(t, err)

	_, err = ResolveObjectLocation("dev", "bucket", " ")
	require.Error(t, err)

	_, err = ResolveObjectLocation("dev", "bucket", "../escape.json")
	require.Error(t, err)

	_, err = ResolveObjectLocation("", "bucket", "file")
	require.Error(t, err)
}

func TestLocalReportStorePut(t *testing.T) {
	root := t.TempDir()
	store := NewLocalReportStore(root, "dev")

	require.NoError(t, store.Check(context.Background()))
	require.NoError(t, store.Put(context.Background(), "cust/migrations/task.json", []byte(`{"ok":true}`)))

	raw, err := os.ReadFile(filepath.Join(root, "dev", "cust", "migrations", "task.json"))
	require.NoError(t, err)
	require.JSONEq(t, `{"ok":true}`, string(raw))

	require.NoError(t, store.Put(context.Background(), "cust/migrations/task.json", []byte(`{"ok":false}`)))
	raw, err = os.ReadFile(filepath.Join(root, "dev", "cust", "migrations", "task.json"))
	require.NoError(t, err)
	require.JSONEq(t, `{"ok":false}`, string(raw))
}

func TestLocalReportStoreCheckCreatesRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "reports")
	require.NoError(t, NewLocalReportStore(root, "dev").Check(context.Background()))

	info, err := os.Stat(root)
	require.NoError(t, err)
	require.True(t, info.IsDir())
}
