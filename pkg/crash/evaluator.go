package crash

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/Sumatoshi-tech/crashtriage/pkg/clock"
)

// Evaluator defaults.
const (
	DefaultMaxMetaSize      = 1 << 20
	DefaultMaxOSAge         = 180 * 24 * time.Hour
	DefaultIncompleteMaxAge = 24 * time.Hour
)

// Info is what evaluation learned about a record.
type Info struct {
	MetaPath     string
	Metadata     *Metadata
	PayloadPath  string
	PayloadKind  string
	LastModified time.Time
}

// Verdict is the outcome of evaluating one metadata file. Reason is a
// human-readable explanation; RemoveReason is set for counted removals.
type Verdict struct {
	Action       Action
	Reason       string
	RemoveReason RemoveReason
	Info         Info
}

// Counted reports whether the verdict carries a RemoveReason.
func (v Verdict) Counted() bool {
	return v.Action == ActionRemove && v.RemoveReason != 0
}

// ReasonRecorder counts Remove verdicts by reason.
type ReasonRecorder interface {
	RecordRemoveReason(ctx context.Context, reason RemoveReason)
}

// EvaluatorOptions configures an Evaluator. Zero values select defaults.
type EvaluatorOptions struct {
	Clock            clock.Clock
	Recorder         ReasonRecorder
	Logger           *slog.Logger
	MaxMetaSize      int64
	MaxOSAge         time.Duration
	IncompleteMaxAge time.Duration
}

// Evaluator classifies metadata files as Remove, Ignore or Send.
type Evaluator struct {
	clock            clock.Clock
	recorder         ReasonRecorder
	logger           *slog.Logger
	maxMetaSize      int64
	maxOSAge         time.Duration
	incompleteMaxAge time.Duration
}

// NewEvaluator creates an Evaluator.
func NewEvaluator(opts EvaluatorOptions) *Evaluator {
	e := &Evaluator{
		clock:            opts.Clock,
		recorder:         opts.Recorder,
		logger:           opts.Logger,
		maxMetaSize:      opts.MaxMetaSize,
		maxOSAge:         opts.MaxOSAge,
		incompleteMaxAge: opts.IncompleteMaxAge,
	}

	if e.clock == nil {
		e.clock = clock.Real()
	}

	if e.logger == nil {
		e.logger = slog.Default()
	}

	if e.maxMetaSize <= 0 {
		e.maxMetaSize = DefaultMaxMetaSize
	}

	if e.maxOSAge <= 0 {
		e.maxOSAge = DefaultMaxOSAge
	}

	if e.incompleteMaxAge <= 0 {
		e.incompleteMaxAge = DefaultIncompleteMaxAge
	}

	return e
}

// Evaluate classifies metaPath. Unless the record was abandoned by an
// earlier run, it returns the record's ProcessingFile, which the caller
// must Release once it has finished with the record.
func (e *Evaluator) Evaluate(ctx context.Context, metaPath string, allowOldOS bool) (Verdict, *ProcessingFile) {
	info := Info{MetaPath: metaPath}

	processing, err := CreateProcessingFile(metaPath)
	if errors.Is(err, ErrProcessingFileExists) {
		return e.Reject(ctx, info, ReasonProcessingFileExists,
			".processing file already exists for: "+metaPath), nil
	}

	if err != nil {
		e.logger.ErrorContext(ctx, "failed to mark crash as being processed", "meta", metaPath, "error", err)
	}

	return e.evaluate(ctx, info, allowOldOS), processing
}

func (e *Evaluator) evaluate(ctx context.Context, info Info, allowOldOS bool) Verdict {
	metaPath := info.MetaPath

	raw, err := e.readBounded(metaPath)
	if err != nil {
		if len(raw) == 0 {
			return ignore(info, "Metadata file is inaccessible: "+metaPath)
		}

		return e.Reject(ctx, info, ReasonLargeMetaFile, "Metadata file is unusually large: "+metaPath)
	}

	md, err := ParseMetadata(string(raw))
	if err != nil {
		return e.Reject(ctx, info, ReasonUnparseableMetaFile, "Corrupted metadata: "+string(raw))
	}

	info.Metadata = md

	st, err := os.Stat(metaPath)
	if err != nil {
		return ignore(info, "Failed to get file info")
	}

	info.LastModified = st.ModTime()

	if !md.IsComplete() {
		if e.clock.Now().Sub(info.LastModified) >= e.incompleteMaxAge {
			return e.Reject(ctx, info, ReasonOldIncompleteMeta, "Removing old incomplete metadata")
		}

		return ignore(info, "Recent incomplete metadata")
	}

	payload := md.Value(KeyPayload)
	if payload == "" {
		return e.Reject(ctx, info, ReasonPayloadUnspecified, "Payload is not found in the meta data: "+string(raw))
	}

	if filepath.IsAbs(payload) {
		return e.Reject(ctx, info, ReasonPayloadAbsolute, "Corrupt meta: payload path is absolute: "+payload)
	}

	info.PayloadPath = filepath.Join(filepath.Dir(metaPath), filepath.Base(payload))
	info.PayloadKind = KindFromPayloadPath(info.PayloadPath)

	if _, err := os.Stat(info.PayloadPath); err != nil {
		return e.Reject(ctx, info, ReasonPayloadNonexistent, "Missing payload: "+info.PayloadPath)
	}

	if !IsKnownKind(info.PayloadKind) {
		return e.Reject(ctx, info, ReasonPayloadKindUnknown, "Unknown kind: "+info.PayloadKind)
	}

	if !allowOldOS && e.osTooOld(ctx, md) {
		return e.Reject(ctx, info, ReasonOSVersionTooOld, "Old OS version")
	}

	return Verdict{Action: ActionSend, Info: info}
}

// readBounded reads at most maxMetaSize bytes. A larger file yields the
// truncated content and an error.
func (e *Evaluator) readBounded(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open metadata: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, e.maxMetaSize+1))
	if err != nil {
		return data, fmt.Errorf("read metadata: %w", err)
	}

	if int64(len(data)) > e.maxMetaSize {
		return data[:e.maxMetaSize], fmt.Errorf("metadata exceeds %d bytes", e.maxMetaSize)
	}

	return data, nil
}

// osTooOld reports whether os_millis names a build older than maxOSAge.
// Future and negative timestamps never count as old.
func (e *Evaluator) osTooOld(ctx context.Context, md *Metadata) bool {
	raw, ok := md.Get(KeyOSMillis)
	if !ok {
		return false
	}

	millis, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return false
	}

	now := e.clock.Now()
	ts := time.UnixMilli(millis)

	switch {
	case ts.After(now):
		e.logger.WarnContext(ctx, "OS timestamp is in the future", "os_millis", millis)

		return false
	case millis < 0:
		e.logger.WarnContext(ctx, "OS timestamp is negative", "os_millis", millis)

		return false
	}

	return now.Sub(ts) > e.maxOSAge
}

// Reject builds a Remove verdict and counts it by reason. Callers layering
// extra rules over Evaluate use it so every removal is counted alike.
func (e *Evaluator) Reject(ctx context.Context, info Info, reason RemoveReason, text string) Verdict {
	if e.recorder != nil {
		e.recorder.RecordRemoveReason(ctx, reason)
	}

	return Verdict{Action: ActionRemove, Reason: text, RemoveReason: reason, Info: info}
}

func ignore(info Info, text string) Verdict {
	return Verdict{Action: ActionIgnore, Reason: text, Info: info}
}
