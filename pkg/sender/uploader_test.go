package sender_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/crashtriage/pkg/sender"
)

var testUpload = sender.Upload{
	MetaPath:    "/var/spool/crash/app.1.meta",
	PayloadPath: "/var/spool/crash/app.1.dmp",
	Kind:        "minidump",
	ClientID:    "0123456789abcdef0123456789abcdef",
	ExecName:    "app",
}

func TestUpload_Args(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []string{
		"--meta=/var/spool/crash/app.1.meta",
		"--payload=/var/spool/crash/app.1.dmp",
		"--kind=minidump",
		"--client_id=0123456789abcdef0123456789abcdef",
		"--exec_name=app",
	}, testUpload.Args())
}

func TestExecUploader_PassesFlags(t *testing.T) {
	t.Parallel()

	out := filepath.Join(t.TempDir(), "args")
	u := &sender.ExecUploader{
		Command: "/bin/sh",
		Args:    []string{"-c", `printf '%s\n' "$@" > "$0"`, out},
	}

	require.NoError(t, u.Upload(context.Background(), testUpload))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, testUpload.Args(), strings.Fields(string(data)))
}

func TestExecUploader_Failure(t *testing.T) {
	t.Parallel()

	u := &sender.ExecUploader{
		Command: "/bin/sh",
		Args:    []string{"-c", "echo upload refused >&2; exit 3"},
	}

	err := u.Upload(context.Background(), testUpload)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upload refused")
}

func TestDryRunUploader(t *testing.T) {
	t.Parallel()

	u := &sender.DryRunUploader{Logger: discardLogger()}
	require.NoError(t, u.Upload(context.Background(), testUpload))
}
