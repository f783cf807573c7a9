// Package sender runs the crash queue: it evaluates every record in the
// crash directories, removes the ones that must go, and uploads the rest
// under the rate limit while holding the crash lock.
package sender

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/Sumatoshi-tech/crashtriage/pkg/clock"
	"github.com/Sumatoshi-tech/crashtriage/pkg/crash"
	"github.com/Sumatoshi-tech/crashtriage/pkg/lockfile"
	"github.com/Sumatoshi-tech/crashtriage/pkg/observability"
	"github.com/Sumatoshi-tech/crashtriage/pkg/policy"
)

// ErrRateLimited stops a pass once the send cap for the window is reached.
// Remaining records are left for a later pass.
var ErrRateLimited = errors.New("crash send rate limit reached")

const spanPass = "crashtriage.sender.pass"

// Policy gates records that passed structural evaluation.
type Policy interface {
	Check(kind string) (policy.Rejection, bool)
	IsCrashTestInProgress() bool
}

// RateLimiter caps sends per window.
type RateLimiter interface {
	Allow() (bool, error)
	Record() error
}

// ClientIDSource supplies the device client identifier.
type ClientIDSource interface {
	Get() (string, error)
}

// Options tunes one sender pass.
type Options struct {
	CrashDirectories  []string
	LockPath          string
	LockTimeout       time.Duration
	LockRetry         time.Duration
	HoldOffTime       time.Duration
	MaxSpreadTime     time.Duration
	OrphanAge         time.Duration
	IgnoreHoldOffTime bool
	IgnoreRateLimits  bool
	UploadOldReports  bool
}

// Config wires a Sender.
type Config struct {
	Options

	Evaluator *crash.Evaluator
	Recorder  crash.ReasonRecorder
	Policy    Policy
	Limiter   RateLimiter
	ClientID  ClientIDSource
	Uploader  Uploader
	Clock     clock.Clock
	Rand      RandFunc
	Metrics   *Metrics
	Tracer    trace.Tracer
	Logger    *slog.Logger
}

// Summary counts what one pass did.
type Summary struct {
	Scanned     int
	Removed     int
	Ignored     int
	Sent        int
	Failed      int
	Orphans     int
	RateLimited bool
}

// Sender is the queue orchestrator.
type Sender struct {
	opts      Options
	evaluator *crash.Evaluator
	recorder  crash.ReasonRecorder
	policy    Policy
	limiter   RateLimiter
	clientID  ClientIDSource
	uploader  Uploader
	clock     clock.Clock
	rand      RandFunc
	metrics   *Metrics
	tracer    trace.Tracer
	logger    *slog.Logger
}

// New creates a Sender. Evaluator, Policy, Limiter, ClientID and Uploader
// are required.
func New(cfg Config) *Sender {
	s := &Sender{
		opts:      cfg.Options,
		evaluator: cfg.Evaluator,
		recorder:  cfg.Recorder,
		policy:    cfg.Policy,
		limiter:   cfg.Limiter,
		clientID:  cfg.ClientID,
		uploader:  cfg.Uploader,
		clock:     cfg.Clock,
		rand:      cfg.Rand,
		metrics:   cfg.Metrics,
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

	if s.opts.LockTimeout <= 0 {
		s.opts.LockTimeout = lockfile.DefaultTimeout
	}

	if s.opts.OrphanAge <= 0 {
		s.opts.OrphanAge = crash.DefaultOrphanAge
	}

	return s
}

// Run performs one pass over every crash directory. Only a failure to
// take the crash lock is returned as an error.
func (s *Sender) Run(ctx context.Context) (Summary, error) {
	start := s.clock.Now()

	ctx, span := s.tracer.Start(ctx, spanPass)
	defer span.End()

	var sum Summary

	err := s.run(ctx, &sum)

	span.SetAttributes(
		attribute.Int("sender.scanned", sum.Scanned),
		attribute.Int("sender.removed", sum.Removed),
		attribute.Int("sender.sent", sum.Sent),
		attribute.Int("sender.failed", sum.Failed),
		attribute.Bool("sender.rate_limited", sum.RateLimited),
	)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	s.metrics.recordPass(ctx, s.clock.Now().Sub(start))

	return sum, err
}

func (s *Sender) run(ctx context.Context, sum *Summary) error {
	lock, err := lockfile.Open(s.opts.LockPath)
	if err != nil {
		return err
	}
	defer lock.Close()

	if err := s.acquire(ctx, lock); err != nil {
		return err
	}

	var toSend []crash.Info

	for _, dir := range s.opts.CrashDirectories {
		toSend = append(toSend, s.pick(ctx, dir, sum)...)
	}

	for i, info := range toSend {
		err := s.send(ctx, lock, info, sum)
		if errors.Is(err, ErrRateLimited) {
			sum.RateLimited = true

			s.logger.InfoContext(ctx, "cannot send more crashes, rate limit reached",
				"pending", len(toSend)-i)

			return nil
		}

		if err != nil {
			return err
		}
	}

	return nil
}

func (s *Sender) acquire(ctx context.Context, lock *lockfile.Lock) error {
	timeout := s.opts.LockTimeout
	if s.policy != nil && s.policy.IsCrashTestInProgress() {
		timeout = lockfile.CrashTestTimeout
	}

	if err := lock.Acquire(ctx, s.clock, timeout, s.opts.LockRetry); err != nil {
		return fmt.Errorf("acquire crash lock: %w", err)
	}

	return nil
}

// pick removes orphans in dir and evaluates every record there, deleting
// the ones to remove and returning the ones to send in order.
func (s *Sender) pick(ctx context.Context, dir string, sum *Summary) []crash.Info {
	orphans, err := crash.RemoveOrphans(dir, s.clock.Now(), s.opts.OrphanAge)
	if err != nil {
		s.logger.WarnContext(ctx, "failed to remove orphaned files", "dir", dir, "error", err)
	}

	for _, path := range orphans {
		s.logger.InfoContext(ctx, "removed orphaned crash file", "path", path)
	}

	sum.Orphans += len(orphans)

	metas, err := crash.ListMetaFiles(dir)
	if err != nil {
		s.logger.WarnContext(ctx, "failed to list crash directory", "dir", dir, "error", err)

		return nil
	}

	var toSend []crash.Info

	for _, mf := range metas {
		sum.Scanned++

		s.logger.DebugContext(ctx, "checking metadata", "meta", mf.Path)

		v := s.ChooseAction(ctx, mf.Path)

		switch v.Action {
		case crash.ActionRemove:
			sum.Removed++

			s.logger.InfoContext(ctx, "removing crash report", "meta", mf.Path, "reason", v.Reason)

			if err := crash.RemoveReportFiles(mf.Path); err != nil {
				s.logger.ErrorContext(ctx, "failed to remove crash report", "meta", mf.Path, "error", err)
			}
		case crash.ActionIgnore:
			sum.Ignored++
			s.metrics.recordIgnored(ctx)

			s.logger.InfoContext(ctx, "ignoring crash report", "meta", mf.Path, "reason", v.Reason)
		case crash.ActionSend:
			toSend = append(toSend, v.Info)
		}
	}

	return toSend
}

// ChooseAction evaluates metaPath and applies the upload policy to
// records that would otherwise be sent.
func (s *Sender) ChooseAction(ctx context.Context, metaPath string) crash.Verdict {
	v, processing := s.evaluator.Evaluate(ctx, metaPath, s.opts.UploadOldReports)
	defer s.release(ctx, processing)

	if v.Action != crash.ActionSend || s.policy == nil {
		return v
	}

	if rej, rejected := s.policy.Check(v.Info.PayloadKind); rejected {
		return s.evaluator.Reject(ctx, v.Info, rej.Reason, rej.Text)
	}

	return v
}

func (s *Sender) send(ctx context.Context, lock *lockfile.Lock, info crash.Info, sum *Summary) error {
	ctx, span := s.tracer.Start(ctx, observability.SpanSenderRecord, trace.WithAttributes(
		attribute.String(observability.AttrCrashMeta, info.MetaPath),
		attribute.String(observability.AttrCrashKind, info.PayloadKind),
	))
	defer span.End()

	ctx = observability.WithCrashRecord(ctx, observability.CrashRecord{MetaPath: info.MetaPath, Kind: info.PayloadKind})

	if err := s.checkRate(ctx); err != nil {
		return err
	}

	holdOff := s.opts.HoldOffTime
	if s.opts.IgnoreHoldOffTime {
		holdOff = 0
	}

	sleep := SleepTime(s.clock.Now(), info.LastModified, holdOff, s.opts.MaxSpreadTime, s.rand)

	s.logger.InfoContext(ctx, "scheduled to send", "sleep", sleep)

	if err := lock.Unlock(); err != nil {
		return fmt.Errorf("release crash lock: %w", err)
	}

	if err := s.clock.Sleep(ctx, sleep); err != nil {
		return fmt.Errorf("wait to send: %w", err)
	}

	if err := s.acquire(ctx, lock); err != nil {
		return err
	}

	processing, err := crash.CreateProcessingFile(info.MetaPath)
	if errors.Is(err, crash.ErrProcessingFileExists) {
		s.logger.WarnContext(ctx, "crash report is being processed elsewhere")

		return nil
	}

	if err != nil {
		s.logger.ErrorContext(ctx, "failed to mark crash as being processed", "error", err)
	}
	defer s.release(ctx, processing)

	if _, err := os.Stat(info.MetaPath); err != nil {
		s.logger.InfoContext(ctx, "metadata is no longer accessible")

		return nil
	}

	if err := s.upload(ctx, info); err != nil {
		sum.Failed++
		s.metrics.recordFailure(ctx)

		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.ErrorContext(ctx, "failed to send crash report", "error", err)

		return nil
	}

	sum.Sent++
	s.metrics.recordSent(ctx)

	if err := s.limiter.Record(); err != nil {
		s.logger.WarnContext(ctx, "failed to record send time", "error", err)
	}

	if err := crash.RemoveReportFiles(info.MetaPath); err != nil {
		s.logger.ErrorContext(ctx, "failed to remove sent crash report", "error", err)
	}

	if s.recorder != nil {
		s.recorder.RecordRemoveReason(ctx, crash.ReasonFinishedUploading)
	}

	s.logger.InfoContext(ctx, "crash report sent")

	return nil
}

func (s *Sender) checkRate(ctx context.Context) error {
	if s.opts.IgnoreRateLimits {
		return nil
	}

	ok, err := s.limiter.Allow()
	if err != nil {
		s.logger.WarnContext(ctx, "failed to read send rate", "error", err)

		return fmt.Errorf("%w: %w", ErrRateLimited, err)
	}

	if !ok {
		return ErrRateLimited
	}

	return nil
}

func (s *Sender) upload(ctx context.Context, info crash.Info) error {
	id, err := s.clientID.Get()
	if err != nil {
		return fmt.Errorf("get client id: %w", err)
	}

	return s.uploader.Upload(ctx, Upload{
		MetaPath:    info.MetaPath,
		PayloadPath: info.PayloadPath,
		Kind:        info.PayloadKind,
		ClientID:    id,
		ExecName:    info.Metadata.Value(crash.KeyExecName),
	})
}

func (s *Sender) release(ctx context.Context, processing *crash.ProcessingFile) {
	if err := processing.Release(); err != nil {
		s.logger.ErrorContext(ctx, "failed to remove processing file, crash will be deleted",
			"path", processing.Path(), "error", err)
	}
}
