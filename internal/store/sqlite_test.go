package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FeelPulse/claudechat/internal/config"
)

func TestSQLiteKV_CreateAndClose(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "test.db")

	kv, err := NewSQLiteKV(dbPath)
	require.NoError(t, err)
	defer kv.Close()

	_, err = os.Stat(dbPath)
	assert.NoError(t, err, "database file was not created")
}

func TestSQLiteKV_SetGetDelete(t *testing.T) {
	kv, err := NewSQLiteKV(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	defer kv.Close()

	_, ok, err := kv.Get(KeyCredential)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, kv.Set(KeyCredential, "sk-ant-first"))
	require.NoError(t, kv.Set(KeyCredential, "sk-ant-second"))

	value, ok, err := kv.Get(KeyCredential)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "sk-ant-second", value)

	require.NoError(t, kv.Delete(KeyCredential))
	_, ok, err = kv.Get(KeyCredential)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, kv.Delete("never-set"), "deleting a missing key is not an error")
}

func TestSQLiteKV_Persistence(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	kv1, err := NewSQLiteKV(dbPath)
	require.NoError(t, err)
	require.NoError(t, kv1.Set(KeySettings, `{"darkMode":true}`))
	require.NoError(t, kv1.Close())

	kv2, err := NewSQLiteKV(dbPath)
	require.NoError(t, err)
	defer kv2.Close()

	value, ok, err := kv2.Get(KeySettings)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `{"darkMode":true}`, value)
}

func TestOpen(t *testing.T) {
	kv, err := Open(config.StorageConfig{Backend: config.BackendMemory})
	require.NoError(t, err)
	assert.IsType(t, &MemoryKV{}, kv)

	kv, err = Open(config.StorageConfig{Backend: config.BackendSQLite, Path: filepath.Join(t.TempDir(), "x.db")})
	require.NoError(t, err)
	assert.IsType(t, &SQLiteKV{}, kv)
	require.NoError(t, kv.Close())

	_, err = Open(config.StorageConfig{Backend: "floppy"})
	assert.Error(t, err)
}

func TestMemoryKV(t *testing.T) {
	kv := NewMemoryKV()
	require.NoError(t, kv.Set("b", "2"))
	require.NoError(t, kv.Set("a", "1"))
	v, ok, err := kv.Get("b")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "2", v)

	require.NoError(t, kv.Delete("a"))
	_, ok, _ = kv.Get("a")
	assert.False(t, ok)
}
