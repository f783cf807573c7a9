package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/crashtriage/pkg/config"
	"github.com/Sumatoshi-tech/crashtriage/pkg/logreader"
)

const (
	serviceFailureLine = "2024-03-01T10:00:00.000000Z WARNING init[1]: crash-crash main process (2563) terminated with status 2\n"
	eventuallyWait     = 5 * time.Second
	eventuallyTick     = 20 * time.Millisecond
)

func anomalyFixture(t *testing.T) (*fixture, string) {
	t.Helper()

	root := t.TempDir()
	collected := filepath.Join(root, "collected.txt")

	f := newFixture(t, fmt.Sprintf(`anomaly:
  sources:
    - path: %[1]s/messages
      format: syslog
  collector_path: %[1]s/collector.sh
  poll_interval: 10ms
`, root))

	script := fmt.Sprintf("#!/bin/sh\nprintf '%%s\\n' \"$@\" >> %q\ncat >> %q\n", collected, collected)
	require.NoError(t, os.WriteFile(filepath.Join(root, "collector.sh"), []byte(script), 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(root, "messages"), []byte(serviceFailureLine), 0o600))

	return f, collected
}

func TestAnomalyCommand_ReportsServiceFailure(t *testing.T) {
	t.Parallel()

	f, collected := anomalyFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)

	go func() {
		_, _, err := executeContext(t, ctx, NewAnomalyCommand(),
			"anomaly", "--config", f.config, "--from-start", "--send-all")
		done <- err
	}()

	require.Eventually(t, func() bool {
		data, err := os.ReadFile(collected)

		return err == nil && len(data) > 0 && containsAll(string(data), "--service_failure=crash-crash", "-exit2-crash-crash")
	}, eventuallyWait, eventuallyTick)

	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(eventuallyWait):
		t.Fatal("anomaly command did not stop after cancellation")
	}
}

func TestAnomalyCommand_NoSources(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "anomaly:\n  sources: []\n")

	_, _, err := execute(t, NewAnomalyCommand(), "anomaly", "--config", f.config)
	require.ErrorIs(t, err, ErrNoLogSources)
}

func TestSourceFormat(t *testing.T) {
	t.Parallel()

	assert.IsType(t, logreader.AuditFormat{}, sourceFormat(config.FormatAudit))
	assert.IsType(t, logreader.SyslogFormat{}, sourceFormat(config.FormatSyslog))
}

func containsAll(s string, parts ...string) bool {
	for _, p := range parts {
		if !strings.Contains(s, p) {
			return false
		}
	}

	return true
}
