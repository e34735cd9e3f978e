package backup

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gridmind/gridnode/core/testutil"
)

func TestStartAndStopPeriodicBackup(t *testing.T) {
	db := testutil.TestMustDB()
	defer db.Close()

	service := NewService(testutil.GetLogger(), db, t.TempDir())

	require.NoError(t, service.StartPeriodicBackup(time.Hour))
	require.True(t, service.Running())

	// a second start while running is rejected
	require.Error(t, service.StartPeriodicBackup(time.Hour))

	service.StopPeriodicBackup()
	require.False(t, service.Running())

	// stopping again is a no-op
	service.StopPeriodicBackup()

	// the service can be restarted after a stop
	require.NoError(t, service.StartPeriodicBackup(time.Hour))
	service.StopPeriodicBackup()
}

func TestPerformBackupWritesSnapshot(t *testing.T) {
	db := testutil.TestMustDB()
	defer db.Close()

	require.NoError(t, db.Set([]byte("task:state:1"), []byte(`{"status":"success"}`)))

	service := NewService(testutil.GetLogger(), db, t.TempDir())

	backupFile, err := service.PerformBackup()
	require.NoError(t, err)

	info, err := os.Stat(backupFile)
	require.NoError(t, err)
	require.Greater(t, info.Size(), int64(0))
}
