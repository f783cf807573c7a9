package commands

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

const officialRelease = "CHROMEOS_RELEASE_DESCRIPTION=\"1.0.0 (Official Build) stable-channel\"\n" +
	"CHROMEOS_RELEASE_BOARD=eve\n"

// fixture is a self-contained device layout under one temp dir.
type fixture struct {
	root     string
	crashDir string
	stateDir string
	config   string
}

func newFixture(t *testing.T, extraYAML string) *fixture {
	t.Helper()

	root := t.TempDir()
	f := &fixture{
		root:     root,
		crashDir: filepath.Join(root, "crash"),
		stateDir: filepath.Join(root, "state"),
		config:   filepath.Join(root, "crashtriage.yaml"),
	}

	require.NoError(t, os.MkdirAll(f.crashDir, 0o755))
	require.NoError(t, os.MkdirAll(f.stateDir, 0o755))
	f.writeFile(t, "lsb-release", officialRelease)
	f.writeFile(t, "consent", "1")

	cfg := fmt.Sprintf(`crash_directories:
  - %[1]s/crash
log:
  level: debug
sender:
  lock_path: %[1]s/state/lock
  state_dir: %[1]s/state
  client_id_path: %[1]s/state/client_id
  uploader_command: %[1]s/uploader.sh
  hold_off_time: 0s
  max_spread_time: 0s
  lock_timeout: 2s
policy:
  lsb_release_path: %[1]s/lsb-release
  consent_path: %[1]s/consent
  mock_consent_path: %[1]s/mock-consent
  crash_test_path: %[1]s/crash-test
  device_coredump_flag_path: %[1]s/devcore-allowed
`, root) + extraYAML

	require.NoError(t, os.WriteFile(f.config, []byte(cfg), 0o600))

	return f
}

func (f *fixture) writeFile(t *testing.T, name, content string) string {
	t.Helper()

	path := filepath.Join(f.root, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

// record writes a complete log record into the crash directory, aged an hour.
func (f *fixture) record(t *testing.T, base string) {
	t.Helper()

	old := time.Now().Add(-time.Hour)

	for name, content := range map[string]string{
		base + ".log":  "log payload",
		base + ".meta": "exec_name=" + base + "\nupload_var_prod=Test\npayload=" + base + ".log\ndone=1\n",
	} {
		path := filepath.Join(f.crashDir, name)
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
		require.NoError(t, os.Chtimes(path, old, old))
	}
}

// uploaderScript installs an uploader that appends its arguments to out.
func (f *fixture) uploaderScript(t *testing.T, out string, exitCode int) {
	t.Helper()

	script := fmt.Sprintf("#!/bin/sh\nprintf '%%s\\n' \"$@\" >> %q\nexit %d\n", out, exitCode)
	path := filepath.Join(f.root, "uploader.sh")
	require.NoError(t, os.WriteFile(path, []byte(script), 0o700))
}

// execute runs sub under a root carrying the global flags and returns
// stdout and stderr.
func execute(t *testing.T, sub *cobra.Command, args ...string) (string, string, error) {
	t.Helper()

	return executeContext(t, context.Background(), sub, args...)
}

func executeContext(t *testing.T, ctx context.Context, sub *cobra.Command, args ...string) (string, string, error) {
	t.Helper()

	root := &cobra.Command{Use: "crashtriage", SilenceUsage: true, SilenceErrors: true}
	RegisterGlobalFlags(root)
	root.AddCommand(sub)

	var stdout, stderr bytes.Buffer

	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(args)

	err := root.ExecuteContext(ctx)

	return stdout.String(), stderr.String(), err
}
