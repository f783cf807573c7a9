package commands

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/crashtriage/pkg/clientid"
	"github.com/Sumatoshi-tech/crashtriage/pkg/observability"
)

func TestSendCommand_UploadsAndRemoves(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "")
	out := filepath.Join(f.root, "uploads.txt")
	f.uploaderScript(t, out, 0)
	f.record(t, "good")

	stdout, _, err := execute(t, NewSendCommand(), "send", "--config", f.config)
	require.NoError(t, err)
	assert.Contains(t, stdout, "sent 1")
	assert.Contains(t, stdout, "of 1 scanned")

	args, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(args), "--meta="+filepath.Join(f.crashDir, "good.meta"))
	assert.Contains(t, string(args), "--kind=log")
	assert.Contains(t, string(args), "--exec_name=good")

	assert.NoFileExists(t, filepath.Join(f.crashDir, "good.meta"))
	assert.NoFileExists(t, filepath.Join(f.crashDir, "good.log"))

	id, err := os.ReadFile(filepath.Join(f.stateDir, "client_id"))
	require.NoError(t, err)
	assert.True(t, clientid.Valid(strings.TrimSpace(string(id))))
	assert.Contains(t, string(args), "--client_id="+strings.TrimSpace(string(id)))

	stamps, err := os.ReadDir(filepath.Join(f.stateDir, timestampsDir))
	require.NoError(t, err)
	assert.Len(t, stamps, 1)
}

func TestSendCommand_UploadFailureKeepsRecord(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "")
	f.uploaderScript(t, filepath.Join(f.root, "uploads.txt"), 1)
	f.record(t, "kept")

	stdout, _, err := execute(t, NewSendCommand(), "send", "--config", f.config)
	require.NoError(t, err)
	assert.Contains(t, stdout, "failed 1")
	assert.FileExists(t, filepath.Join(f.crashDir, "kept.meta"))
	assert.NoFileExists(t, filepath.Join(f.crashDir, "kept.processing"))
}

func TestSendCommand_TestModeSkipsUploader(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "")
	out := filepath.Join(f.root, "uploads.txt")
	f.uploaderScript(t, out, 0)
	f.record(t, "dry")

	_, _, err := execute(t, NewSendCommand(), "send", "--config", f.config, "--test-mode", "-q")
	require.NoError(t, err)
	assert.NoFileExists(t, out)
	assert.NoFileExists(t, filepath.Join(f.crashDir, "dry.meta"))
}

func TestSendCommand_NoConsentRemoves(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "")
	out := filepath.Join(f.root, "uploads.txt")
	f.uploaderScript(t, out, 0)
	f.record(t, "private")
	require.NoError(t, os.Remove(filepath.Join(f.root, "consent")))

	stdout, _, err := execute(t, NewSendCommand(), "send", "--config", f.config)
	require.NoError(t, err)
	assert.Contains(t, stdout, "removed 1")
	assert.NoFileExists(t, out)
	assert.NoFileExists(t, filepath.Join(f.crashDir, "private.meta"))
}

func TestSendCommand_CrashDirOverride(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "")
	f.uploaderScript(t, filepath.Join(f.root, "uploads.txt"), 0)
	f.record(t, "elsewhere")

	other := filepath.Join(f.root, "empty")
	require.NoError(t, os.MkdirAll(other, 0o755))

	stdout, _, err := execute(t, NewSendCommand(), "send", "--config", f.config, "--crash-dir", other)
	require.NoError(t, err)
	assert.Contains(t, stdout, "of 0 scanned")
	assert.FileExists(t, filepath.Join(f.crashDir, "elsewhere.meta"))
}

func TestSendCommand_ObservabilityMode(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "")
	f.uploaderScript(t, filepath.Join(f.root, "uploads.txt"), 0)

	var seen observability.Config

	initFn := func(cfg observability.Config, w io.Writer) (observability.Providers, error) {
		seen = cfg

		return observability.InitWithWriter(cfg, w)
	}

	_, _, err := execute(t, newSendCommandWithDeps(initFn), "send", "--config", f.config, "-v")
	require.NoError(t, err)
	assert.Equal(t, observability.ModeSender, seen.Mode)
	assert.Equal(t, slog.LevelDebug, seen.LogLevel)
	assert.True(t, seen.TraceVerbose)
	assert.False(t, seen.Prometheus)
}

func TestSendCommand_MissingConfigFails(t *testing.T) {
	t.Parallel()

	_, _, err := execute(t, NewSendCommand(), "send", "--config", filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}
