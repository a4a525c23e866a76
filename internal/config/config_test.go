package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"YokoFund/internal/address"
	"YokoFund/internal/program"
	"YokoFund/internal/token"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, ":9090", cfg.GRPCAddr)
	require.Equal(t, 50, cfg.PersistBatchSize)
	require.Equal(t, 10*time.Millisecond, cfg.PersistFlushTimeout)
	require.True(t, cfg.NATSEnabled)

	ids, err := cfg.Identities()
	require.NoError(t, err)
	require.Equal(t, program.DefaultConfig(), ids.Program)
	require.Equal(t, address.MustParse(token.DefaultProgramID), ids.Token)
}

func TestLoadFromEnvAndFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	envFile := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(envFile, []byte("YOKO_HTTP_ADDR=:18080\nYOKO_NATS_ENABLED=false\n"), 0o600))
	t.Setenv("YOKO_PERSIST_BATCH_SIZE", "7")
	t.Setenv("YOKO_SNAPSHOT_CHECK_EVERY", "250ms")

	cfg, err := Load(envFile)
	require.NoError(t, err)
	require.Equal(t, ":18080", cfg.HTTPAddr)
	require.False(t, cfg.NATSEnabled)
	require.Equal(t, 7, cfg.PersistBatchSize)
	require.Equal(t, 250*time.Millisecond, cfg.SnapshotCheckEvery)

	// godotenv does not unset what it loaded.
	os.Unsetenv("YOKO_HTTP_ADDR")
	os.Unsetenv("YOKO_NATS_ENABLED")
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.env"))
	require.Error(t, err)
}

func TestValidateRejectsBadIdentity(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("YOKO_ROUTER_ID", "not-an-address")

	_, err := Load("")
	require.ErrorContains(t, err, "YOKO_ROUTER_ID")
}

func TestValidateRejectsCollidingIdentities(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("YOKO_TOKEN_PROGRAM_ID", program.DefaultProgramID)

	_, err := Load("")
	require.Error(t, err)
}

func TestValidateRejectsZeroBatch(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("YOKO_PERSIST_BATCH_SIZE", "0")

	_, err := Load("")
	require.ErrorContains(t, err, "YOKO_PERSIST_BATCH_SIZE")
}
