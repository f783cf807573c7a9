package sender

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
)

// Upload describes one record handed to an Uploader.
type Upload struct {
	MetaPath    string
	PayloadPath string
	Kind        string
	ClientID    string
	ExecName    string
}

// Args renders the upload as uploader command-line flags.
func (u Upload) Args() []string {
	return []string{
		"--meta=" + u.MetaPath,
		"--payload=" + u.PayloadPath,
		"--kind=" + u.Kind,
		"--client_id=" + u.ClientID,
		"--exec_name=" + u.ExecName,
	}
}

// Uploader transmits an accepted record.
type Uploader interface {
	Upload(ctx context.Context, up Upload) error
}

// ExecUploader runs an external command per record. Args are placed
// before the upload flags.
type ExecUploader struct {
	Command string
	Args    []string
	Logger  *slog.Logger
}

// Upload implements Uploader.
func (u *ExecUploader) Upload(ctx context.Context, up Upload) error {
	args := append(append([]string{}, u.Args...), up.Args()...)

	var stderr bytes.Buffer

	cmd := exec.CommandContext(ctx, u.Command, args...)
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return fmt.Errorf("run uploader %s: %w: %s", u.Command, err, msg)
		}

		return fmt.Errorf("run uploader %s: %w", u.Command, err)
	}

	if u.Logger != nil {
		u.Logger.DebugContext(ctx, "uploader finished", "command", u.Command, "meta", up.MetaPath)
	}

	return nil
}

// DryRunUploader logs each upload and reports success.
type DryRunUploader struct {
	Logger *slog.Logger
}

// Upload implements Uploader.
func (u *DryRunUploader) Upload(ctx context.Context, up Upload) error {
	logger := u.Logger
	if logger == nil {
		logger = slog.Default()
	}

	logger.InfoContext(ctx, "test mode: skipping upload",
		"meta", up.MetaPath, "payload", up.PayloadPath, "kind", up.Kind, "exec_name", up.ExecName)

	return nil
}
