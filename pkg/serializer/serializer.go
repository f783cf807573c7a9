// Package serializer turns sendable crash records into structured
// records for inspection outside the device. It reads the crash store
// under the same lock and sentinel discipline as the sender but never
// deletes anything.
package serializer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/Sumatoshi-tech/crashtriage/pkg/clock"
	"github.com/Sumatoshi-tech/crashtriage/pkg/crash"
	"github.com/Sumatoshi-tech/crashtriage/pkg/lockfile"
	"github.com/Sumatoshi-tech/crashtriage/pkg/observability"
	"github.com/Sumatoshi-tech/crashtriage/pkg/persist"
	"github.com/Sumatoshi-tech/crashtriage/pkg/sender"
)

const metricRecords = "crashtriage.serializer.records"

// Options tunes one serializer pass.
type Options struct {
	CrashDirectories  []string
	LockPath          string
	LockTimeout       time.Duration
	LockRetry         time.Duration
	HoldOffTime       time.Duration
	IgnoreHoldOffTime bool
	FetchCore         bool
	Compression       Compression
	Validate          bool
}

// Config wires a Serializer.
type Config struct {
	Options

	Evaluator *crash.Evaluator
	Codec     persist.Codec
	ClientID  sender.ClientIDSource
	Device    DeviceInfo
	Clock     clock.Clock
	Meter     metric.Meter
	Tracer    trace.Tracer
	Logger    *slog.Logger
}

// Summary counts what one pass did.
type Summary struct {
	Scanned int
	Written int
	Skipped int
}

// Serializer writes one structured record per sendable crash.
type Serializer struct {
	opts      Options
	evaluator *crash.Evaluator
	codec     persist.Codec
	clientID  sender.ClientIDSource
	device    DeviceInfo
	clock     clock.Clock
	builder   *recordBuilder
	validator *Validator
	records   metric.Int64Counter
	tracer    trace.Tracer
	logger    *slog.Logger
}

// New creates a Serializer.
func New(cfg Config) (*Serializer, error) {
	s := &Serializer{
		opts:      cfg.Options,
		evaluator: cfg.Evaluator,
		codec:     cfg.Codec,
		clientID:  cfg.ClientID,
		device:    cfg.Device,
		clock:     cfg.Clock,
		tracer:    cfg.Tracer,
		logger:    cfg.Logger,
	}

	if s.clock == nil {
		s.clock = clock.Real()
	}

	if s.tracer == nil {
		s.tracer = noop.NewTracerProvider().Tracer("")
	}

	if s.logger == nil {
		s.logger = slog.Default()
	}

	if s.codec == nil {
		s.codec = persist.NewJSONCodec()
	}

	if s.opts.LockTimeout <= 0 {
		s.opts.LockTimeout = lockfile.DefaultTimeout
	}

	comp, err := newCompressor()
	if err != nil {
		return nil, err
	}

	s.builder = &recordBuilder{
		compression: s.opts.Compression,
		compressor:  comp,
		warn:        func(msg string, args ...any) { s.logger.Warn(msg, args...) },
	}

	if s.opts.Validate {
		if s.validator, err = NewValidator(); err != nil {
			return nil, err
		}
	}

	if cfg.Meter != nil {
		b := observability.NewMetricBuilder(cfg.Meter)
		s.records = b.Counter(metricRecords, "Structured crash records written", "{record}")

		if err := b.Err(); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// Run serializes every sendable record to w. Only a failure to take the
// crash lock or to write output is returned as an error.
func (s *Serializer) Run(ctx context.Context, w io.Writer) (Summary, error) {
	var sum Summary

	lock, err := lockfile.Open(s.opts.LockPath)
	if err != nil {
		return sum, err
	}
	defer lock.Close()

	if err := s.acquire(ctx, lock); err != nil {
		return sum, err
	}

	var toWrite []crash.Info

	for _, dir := range s.opts.CrashDirectories {
		toWrite = append(toWrite, s.pick(ctx, dir, &sum)...)
	}

	if len(toWrite) == 0 {
		return sum, nil
	}

	clientID, err := s.clientID.Get()
	if err != nil {
		s.logger.WarnContext(ctx, "failed to get client id", "error", err)
	}

	for i, info := range toWrite {
		if err := s.writeOne(ctx, lock, w, int64(i), clientID, info, &sum); err != nil {
			return sum, err
		}
	}

	return sum, nil
}

func (s *Serializer) acquire(ctx context.Context, lock *lockfile.Lock) error {
	if err := lock.Acquire(ctx, s.clock, s.opts.LockTimeout, s.opts.LockRetry); err != nil {
		return fmt.Errorf("acquire crash lock: %w", err)
	}

	return nil
}

// pick evaluates every record in dir. Records the sender would remove are
// only skipped here.
func (s *Serializer) pick(ctx context.Context, dir string, sum *Summary) []crash.Info {
	metas, err := crash.ListMetaFiles(dir)
	if err != nil {
		s.logger.WarnContext(ctx, "failed to list crash directory", "dir", dir, "error", err)

		return nil
	}

	var picked []crash.Info

	for _, mf := range metas {
		sum.Scanned++

		v, processing := s.evaluator.Evaluate(ctx, mf.Path, true)
		if err := processing.Release(); err != nil {
			s.logger.ErrorContext(ctx, "failed to remove processing file", "meta", mf.Path, "error", err)
		}

		if v.Action != crash.ActionSend {
			sum.Skipped++

			s.logger.InfoContext(ctx, "ignoring crash report", "meta", mf.Path, "reason", v.Reason)

			continue
		}

		picked = append(picked, v.Info)
	}

	return picked
}

func (s *Serializer) writeOne(
	ctx context.Context, lock *lockfile.Lock, w io.Writer, crashID int64, clientID string, info crash.Info, sum *Summary,
) error {
	ctx, span := s.tracer.Start(ctx, observability.SpanSerializerRecord, trace.WithAttributes(
		attribute.String(observability.AttrCrashMeta, info.MetaPath),
		attribute.Int64("serializer.crash_id", crashID),
	))
	defer span.End()

	ctx = observability.WithCrashRecord(ctx, observability.CrashRecord{MetaPath: info.MetaPath, Kind: info.PayloadKind})

	holdOff := s.opts.HoldOffTime
	if s.opts.IgnoreHoldOffTime {
		holdOff = 0
	}

	sleep := sender.SleepTime(s.clock.Now(), info.LastModified, holdOff, 0, nil)

	if err := lock.Unlock(); err != nil {
		return fmt.Errorf("release crash lock: %w", err)
	}

	if err := s.clock.Sleep(ctx, sleep); err != nil {
		return fmt.Errorf("wait to serialize: %w", err)
	}

	if err := s.acquire(ctx, lock); err != nil {
		return err
	}

	processing, err := crash.CreateProcessingFile(info.MetaPath)
	if errors.Is(err, crash.ErrProcessingFileExists) {
		sum.Skipped++

		s.logger.WarnContext(ctx, "crash report is being processed elsewhere")

		return nil
	}

	defer func() {
		if err := processing.Release(); err != nil {
			s.logger.ErrorContext(ctx, "failed to remove processing file", "error", err)
		}
	}()

	if _, err := os.Stat(info.MetaPath); err != nil {
		sum.Skipped++

		s.logger.InfoContext(ctx, "metadata is no longer accessible")

		return nil
	}

	rec, err := s.builder.build(Details{
		CrashID:     crashID,
		MetaPath:    info.MetaPath,
		PayloadPath: info.PayloadPath,
		PayloadKind: info.PayloadKind,
		ClientID:    clientID,
		Metadata:    info.Metadata,
		Device:      s.device,
		FetchCore:   s.opts.FetchCore,
	})
	if err == nil && s.validator != nil {
		err = s.validator.Validate(rec)
	}

	if err != nil {
		sum.Skipped++

		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.ErrorContext(ctx, "failed to serialize crash report", "error", err)

		return nil
	}

	if err := s.codec.Encode(w, rec); err != nil {
		return fmt.Errorf("write crash record: %w", err)
	}

	sum.Written++

	if s.records != nil {
		s.records.Add(ctx, 1)
	}

	s.logger.InfoContext(ctx, "crash record written", "crash_id", crashID)

	return nil
}

// DecodeBlob returns the raw bytes of b, verifying size and digest.
func DecodeBlob(b Blob) ([]byte, error) {
	comp, err := newCompressor()
	if err != nil {
		return nil, err
	}

	raw, err := comp.decompress(b.Data, b.Compression, int(b.Size))
	if err != nil {
		return nil, err
	}

	if int64(len(raw)) != b.Size {
		return nil, fmt.Errorf("blob %s: got %d bytes, expected %d", b.Key, len(raw), b.Size)
	}

	if got := blobDigest(raw); got != b.Digest {
		return nil, fmt.Errorf("blob %s: digest mismatch", b.Key)
	}

	return raw, nil
}
