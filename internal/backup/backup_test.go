package backup

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wgfleet/wgfleet/internal/testutil"
)

func writeFixtures(t *testing.T) (dbPath, configDir string) {
	t.Helper()
	dir := t.TempDir()

	// A real SQLite file so the WAL checkpoint has something to open.
	dbPath = filepath.Join(dir, "wgfleet.db")
	db := testutil.NewFileStore(t, dbPath)
	require.NoError(t, db.Close())

	configDir = filepath.Join(dir, "wireguard")
	require.NoError(t, os.MkdirAll(configDir, 0o700))
	conf := "[Interface]\nPrivateKey = " + testutil.Key() + "\nAddress = 10.8.0.1/24\n"
	require.NoError(t, os.WriteFile(filepath.Join(configDir, "wg0.conf"), []byte(conf), 0o600))
	return dbPath, configDir
}

func TestBackupRestore_RoundTrip(t *testing.T) {
	dbPath, configDir := writeFixtures(t)
	archive := filepath.Join(t.TempDir(), "backup.tar.gz")

	require.NoError(t, Backup(context.Background(), dbPath, configDir, archive))

	target := t.TempDir()
	require.NoError(t, Restore(context.Background(), archive, target, false))

	assert.FileExists(t, filepath.Join(target, "wgfleet.db"))

	restored, err := os.ReadFile(filepath.Join(target, "configs", "wg0.conf"))
	require.NoError(t, err)
	original, err := os.ReadFile(filepath.Join(configDir, "wg0.conf"))
	require.NoError(t, err)
	assert.Equal(t, original, restored)
}

func TestRestore_RefusesOverwriteWithoutForce(t *testing.T) {
	dbPath, configDir := writeFixtures(t)
	archive := filepath.Join(t.TempDir(), "backup.tar.gz")
	require.NoError(t, Backup(context.Background(), dbPath, configDir, archive))

	target := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(target, "wgfleet.db"), []byte("precious"), 0o600))

	err := Restore(context.Background(), archive, target, false)
	require.ErrorIs(t, err, ErrExists)

	data, err := os.ReadFile(filepath.Join(target, "wgfleet.db"))
	require.NoError(t, err)
	assert.Equal(t, "precious", string(data), "existing file must survive")

	require.NoError(t, Restore(context.Background(), archive, target, true))
}

func TestBackup_MissingDatabase(t *testing.T) {
	dir := t.TempDir()
	err := Backup(context.Background(), filepath.Join(dir, "absent.db"), "", filepath.Join(dir, "out.tar.gz"))
	assert.Error(t, err)
}
