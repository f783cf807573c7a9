package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Sumatoshi-tech/crashtriage/pkg/crash"
	"github.com/Sumatoshi-tech/crashtriage/pkg/observability"
)

// Output formats of the list command.
const (
	FormatTable = "table"
	FormatJSON  = "json"
	FormatYAML  = "yaml"
)

// Queue entry states.
const (
	StateComplete   = "complete"
	StateIncomplete = "incomplete"
	StateProcessing = "processing"
	StateInvalid    = "invalid"
)

// ErrUnknownListFormat is returned for an unsupported --format value.
var ErrUnknownListFormat = errors.New("unknown output format")

// QueueEntry describes one queued crash report as the list command shows it.
type QueueEntry struct {
	Directory string    `json:"directory" yaml:"directory"`
	Meta      string    `json:"meta"      yaml:"meta"`
	ExecName  string    `json:"exec_name" yaml:"exec_name"`
	Kind      string    `json:"kind"      yaml:"kind"`
	Payload   string    `json:"payload"   yaml:"payload"`
	Files     int       `json:"files"     yaml:"files"`
	Size      int64     `json:"size"      yaml:"size"`
	Modified  time.Time `json:"modified"  yaml:"modified"`
	State     string    `json:"state"     yaml:"state"`
}

// ListCommand holds flags and dependencies for the list command.
type ListCommand struct {
	format string

	obsInit observabilityInit
}

// NewListCommand creates the list command.
func NewListCommand() *cobra.Command {
	return newListCommandWithDeps(observability.InitWithWriter)
}

func newListCommandWithDeps(obsInit observabilityInit) *cobra.Command {
	lc := &ListCommand{obsInit: obsInit}

	cmd := &cobra.Command{
		Use:   "list [crash-dir...]",
		Short: "Show the crash report queue",
		Long: `List the metadata files in the crash directories, oldest first, with
their payload and completion state. Listing never modifies the queue.`,
		RunE: lc.run,
	}

	cmd.Flags().StringVarP(&lc.format, "format", "f", FormatTable, "output format: table, json or yaml")

	return cmd
}

func (lc *ListCommand) run(cmd *cobra.Command, args []string) error {
	sess, err := openSession(cmd, observability.ModeCLI, lc.obsInit)
	if err != nil {
		return err
	}
	defer sess.close()

	maxMeta, err := sess.cfg.MaxMetaSizeBytes()
	if err != nil {
		return err
	}

	var entries []QueueEntry

	for _, dir := range crashDirectories(sess.cfg, args) {
		dirEntries, listErr := listQueue(dir, maxMeta)
		if listErr != nil {
			return listErr
		}

		entries = append(entries, dirEntries...)
	}

	return writeQueue(cmd.OutOrStdout(), lc.format, entries)
}

// listQueue inspects every record in dir without evaluating it, so no
// sentinel is created and nothing is removed.
func listQueue(dir string, maxMetaSize int64) ([]QueueEntry, error) {
	metas, err := crash.ListMetaFiles(dir)
	if err != nil {
		return nil, err
	}

	entries := make([]QueueEntry, 0, len(metas))

	for _, mf := range metas {
		entry := QueueEntry{
			Directory: dir,
			Meta:      filepath.Base(mf.Path),
			Modified:  mf.ModTime,
			State:     StateInvalid,
		}

		if files, filesErr := crash.ReportFiles(mf.Path); filesErr == nil {
			entry.Files = len(files)

			for _, f := range files {
				if fi, statErr := os.Stat(f); statErr == nil {
					entry.Size += fi.Size()
				}
			}
		}

		describe(&entry, mf, maxMetaSize)
		entries = append(entries, entry)
	}

	return entries, nil
}

func describe(entry *QueueEntry, mf crash.MetaFile, maxMetaSize int64) {
	if mf.Size > maxMetaSize {
		return
	}

	raw, err := os.ReadFile(mf.Path)
	if err != nil {
		return
	}

	md, err := crash.ParseMetadata(string(raw))
	if err != nil {
		return
	}

	entry.ExecName = md.Value(crash.KeyExecName)
	entry.Payload = md.Value(crash.KeyPayload)
	entry.Kind = crash.KindFromPayloadPath(entry.Payload)

	_, statErr := os.Stat(crash.ProcessingPath(mf.Path))

	switch {
	case statErr == nil:
		entry.State = StateProcessing
	case md.IsComplete():
		entry.State = StateComplete
	default:
		entry.State = StateIncomplete
	}
}

func writeQueue(w io.Writer, format string, entries []QueueEntry) error {
	switch format {
	case FormatTable, "":
		writeQueueTable(w, entries)

		return nil
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")

		if entries == nil {
			entries = []QueueEntry{}
		}

		return enc.Encode(entries)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		defer enc.Close()

		return enc.Encode(entries)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownListFormat, format)
	}
}

func writeQueueTable(w io.Writer, entries []QueueEntry) {
	tbl := table.NewWriter()
	tbl.SetOutputMirror(w)
	tbl.SetStyle(table.StyleLight)
	tbl.AppendHeader(table.Row{"Meta", "Exec", "Kind", "Files", "Size", "Modified", "State"})

	for _, e := range entries {
		tbl.AppendRow(table.Row{
			filepath.Join(e.Directory, e.Meta),
			e.ExecName,
			e.Kind,
			e.Files,
			humanize.IBytes(uint64(max(e.Size, 0))),
			humanize.Time(e.Modified),
			stateColor(e.State).Sprint(e.State),
		})
	}

	tbl.AppendFooter(table.Row{fmt.Sprintf("Total: %d reports", len(entries))})
	tbl.Render()
}

func stateColor(state string) *color.Color {
	switch state {
	case StateComplete:
		return color.New(color.FgGreen)
	case StateProcessing:
		return color.New(color.FgCyan)
	case StateIncomplete:
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgRed)
	}
}
