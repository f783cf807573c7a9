package commands

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

const testMaxMetaSize = 1024

func TestListCommand_JSON(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "")
	f.record(t, "done")
	require.NoError(t, os.WriteFile(filepath.Join(f.crashDir, "partial.meta"), []byte("exec_name=partial\n"), 0o600))

	stdout, _, err := execute(t, NewListCommand(), "list", "--config", f.config, "--format", FormatJSON)
	require.NoError(t, err)

	var entries []QueueEntry
	require.NoError(t, json.Unmarshal([]byte(stdout), &entries))
	require.Len(t, entries, 2)

	// Oldest first: the complete record was backdated.
	assert.Equal(t, "done.meta", entries[0].Meta)
	assert.Equal(t, StateComplete, entries[0].State)
	assert.Equal(t, "log", entries[0].Kind)
	assert.Equal(t, 2, entries[0].Files)

	assert.Equal(t, "partial.meta", entries[1].Meta)
	assert.Equal(t, StateIncomplete, entries[1].State)

	assert.NoFileExists(t, filepath.Join(f.crashDir, "done.processing"))
}

func TestListCommand_DirectoryArgs(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "")
	f.record(t, "ignored")

	other := t.TempDir()

	stdout, _, err := execute(t, NewListCommand(), "list", "--config", f.config, "-f", FormatJSON, other)
	require.NoError(t, err)
	assert.JSONEq(t, "[]", stdout)
}

func TestListCommand_Table(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "")
	f.record(t, "shown")

	stdout, _, err := execute(t, NewListCommand(), "list", "--config", f.config)
	require.NoError(t, err)
	assert.Contains(t, stdout, "shown.meta")
	assert.Contains(t, stdout, StateComplete)
	assert.Contains(t, stdout, "Total: 1 reports")
}

func TestListQueue_States(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	files := map[string]string{
		"busy.meta":       "payload=busy.log\ndone=1\n",
		"busy.log":        "x",
		"busy.processing": "",
		"broken.meta":     "no equals sign\n",
		"huge.meta":       string(bytes.Repeat([]byte("a=b\n"), testMaxMetaSize)),
	}

	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
	}

	entries, err := listQueue(dir, testMaxMetaSize)
	require.NoError(t, err)

	states := make(map[string]string, len(entries))
	for _, e := range entries {
		states[e.Meta] = e.State
	}

	assert.Equal(t, map[string]string{
		"busy.meta":   StateProcessing,
		"broken.meta": StateInvalid,
		"huge.meta":   StateInvalid,
	}, states)

	assert.FileExists(t, filepath.Join(dir, "busy.processing"))
}

func TestWriteQueue_Formats(t *testing.T) {
	t.Parallel()

	entries := []QueueEntry{{Directory: "/var/spool/crash", Meta: "a.meta", Kind: "kcrash", State: StateComplete}}

	var buf bytes.Buffer
	require.NoError(t, writeQueue(&buf, FormatYAML, entries))

	var decoded []QueueEntry
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &decoded))
	require.Len(t, decoded, 1)
	assert.Equal(t, "kcrash", decoded[0].Kind)

	require.ErrorIs(t, writeQueue(&buf, "xml", entries), ErrUnknownListFormat)
}
