package logreader

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// TailerOptions configures a Tailer.
type TailerOptions struct {
	// PollInterval is the fallback wake-up period when no file events arrive.
	PollInterval time.Duration
	// FromStart reads an already existing file from its beginning instead
	// of its end.
	FromStart bool
}

// DefaultTailerOptions returns options matching the detector's loop period.
func DefaultTailerOptions() TailerOptions {
	return TailerOptions{
		PollInterval: 100 * time.Millisecond,
	}
}

// Tailer follows one log file across rotation and truncation.
type Tailer struct {
	path   string
	format Format
	opts   TailerOptions
	logger *slog.Logger

	file     *os.File
	info     os.FileInfo
	reader   *bufio.Reader
	offset   int64
	partial  strings.Builder
	tried    bool
}

// NewTailer creates a tailer for path. A nil opts selects DefaultTailerOptions.
func NewTailer(path string, format Format, opts *TailerOptions, logger *slog.Logger) *Tailer {
	if opts == nil {
		defaults := DefaultTailerOptions()
		opts = &defaults
	}

	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultTailerOptions().PollInterval
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Tailer{
		path:   path,
		format: format,
		opts:   *opts,
		logger: logger.With("log", path),
	}
}

// Run delivers entries to out until ctx is done. A missing file is retried
// on every wake-up.
func (t *Tailer) Run(ctx context.Context, out chan<- Entry) error {
	defer t.closeFile()

	events := t.watch(ctx)

	ticker := time.NewTicker(t.opts.PollInterval)
	defer ticker.Stop()

	for {
		if err := t.drain(ctx, out); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return nil
		case <-events:
		case <-ticker.C:
		}
	}
}

// watch subscribes to changes in the file's directory. On failure the
// returned channel never fires and the tailer polls.
func (t *Tailer) watch(ctx context.Context) <-chan struct{} {
	wake := make(chan struct{}, 1)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		t.logger.WarnContext(ctx, "file watcher unavailable, polling", "error", err)

		return wake
	}

	if err = watcher.Add(filepath.Dir(t.path)); err != nil {
		t.logger.WarnContext(ctx, "cannot watch log directory, polling", "error", err)
		watcher.Close()

		return wake
	}

	base := filepath.Base(t.path)

	go func() {
		defer watcher.Close()

		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}

				if filepath.Base(ev.Name) != base {
					continue
				}

				select {
				case wake <- struct{}{}:
				default:
				}
			case werr, ok := <-watcher.Errors:
				if !ok {
					return
				}

				t.logger.DebugContext(ctx, "file watcher error", "error", werr)
			}
		}
	}()

	return wake
}

func (t *Tailer) drain(ctx context.Context, out chan<- Entry) error {
	if t.file == nil && !t.open(ctx) {
		return nil
	}

	if err := t.readLines(ctx, out); err != nil {
		return err
	}

	current, err := os.Stat(t.path)

	switch {
	case err != nil:
		// Rotated away and not yet recreated.
		return nil
	case !os.SameFile(current, t.info):
		t.logger.DebugContext(ctx, "log rotated")
		t.closeFile()

		if t.open(ctx) {
			return t.readLines(ctx, out)
		}
	case current.Size() < t.offset:
		t.logger.DebugContext(ctx, "log truncated")

		if _, err = t.file.Seek(0, io.SeekStart); err != nil {
			return fmt.Errorf("rewind %s: %w", t.path, err)
		}

		t.offset = 0
		t.partial.Reset()
		t.reader.Reset(t.file)

		return t.readLines(ctx, out)
	}

	return nil
}

// open opens the file. A file that already exists on the first attempt is
// read from its end unless FromStart is set; later opens start at offset 0.
func (t *Tailer) open(ctx context.Context) bool {
	seekEnd := !t.tried && !t.opts.FromStart
	t.tried = true

	file, err := os.Open(t.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			t.logger.WarnContext(ctx, "open log", "error", err)
		}

		return false
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()

		return false
	}

	t.offset = 0
	if seekEnd {
		t.offset, err = file.Seek(0, io.SeekEnd)
		if err != nil {
			file.Close()

			return false
		}
	}

	t.file = file
	t.info = info
	t.reader = bufio.NewReader(file)
	t.partial.Reset()

	return true
}

func (t *Tailer) readLines(ctx context.Context, out chan<- Entry) error {
	for {
		chunk, err := t.reader.ReadString('\n')
		t.offset += int64(len(chunk))

		if err != nil {
			t.partial.WriteString(chunk)

			if errors.Is(err, io.EOF) {
				return nil
			}

			return fmt.Errorf("read %s: %w", t.path, err)
		}

		line := t.partial.String() + strings.TrimSuffix(chunk, "\n")
		t.partial.Reset()

		entry, ok := t.format.Parse(line)
		if !ok {
			continue
		}

		select {
		case out <- entry:
		case <-ctx.Done():
			return nil
		}
	}
}

func (t *Tailer) closeFile() {
	if t.file != nil {
		t.file.Close()
		t.file = nil
	}
}
