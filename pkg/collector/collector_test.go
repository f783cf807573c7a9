package collector_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/crashtriage/pkg/anomaly"
	"github.com/Sumatoshi-tech/crashtriage/pkg/collector"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "collector.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))

	return path
}

func TestExec_PassesFlagsAndText(t *testing.T) {
	t.Parallel()

	out := t.TempDir()
	script := writeScript(t, `printf '%s\n' "$@" > "`+out+`/args"
cat > "`+out+`/stdin"
`)

	c := &collector.Exec{Path: script}
	report := &anomaly.CrashReport{
		Text:  "0000abcd-exit2-shill\n",
		Flags: []string{"--service_failure=shill"},
	}

	require.NoError(t, c.Collect(context.Background(), report))

	args, err := os.ReadFile(filepath.Join(out, "args"))
	require.NoError(t, err)
	assert.Equal(t, "--service_failure=shill\n", string(args))

	stdin, err := os.ReadFile(filepath.Join(out, "stdin"))
	require.NoError(t, err)
	assert.Equal(t, report.Text, string(stdin))
}

func TestExec_Failure(t *testing.T) {
	t.Parallel()

	c := &collector.Exec{Path: writeScript(t, "echo no space left >&2\nexit 1\n")}

	err := c.Collect(context.Background(), &anomaly.CrashReport{Flags: []string{"--kernel_warning"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no space left")
}

func TestExec_MissingBinary(t *testing.T) {
	t.Parallel()

	c := &collector.Exec{Path: filepath.Join(t.TempDir(), "absent")}
	require.Error(t, c.Collect(context.Background(), &anomaly.CrashReport{}))
}
