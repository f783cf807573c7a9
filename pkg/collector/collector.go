// Package collector hands anomaly reports to the external crash collector.
package collector

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/Sumatoshi-tech/crashtriage/pkg/anomaly"
)

// DefaultTimeout bounds one collector invocation.
const DefaultTimeout = 30 * time.Second

// Exec runs "<Path> <flags...>" with the report text on stdin.
type Exec struct {
	Path    string
	Timeout time.Duration
	Logger  *slog.Logger
}

// Collect implements anomaly.Collector.
func (c *Exec) Collect(ctx context.Context, report *anomaly.CrashReport) error {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var stderr bytes.Buffer

	cmd := exec.CommandContext(ctx, c.Path, report.Flags...)
	cmd.Stdin = strings.NewReader(report.Text)
	cmd.Stderr = &stderr

	start := time.Now()

	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("run collector %s: %w: %s", c.Path, err, msg)
		}

		return fmt.Errorf("run collector %s: %w", c.Path, err)
	}

	if c.Logger != nil {
		c.Logger.DebugContext(ctx, "collector finished", "flags", report.Flags, "elapsed", time.Since(start))
	}

	return nil
}
