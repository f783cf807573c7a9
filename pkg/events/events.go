// Package events carries out-of-band anomaly notifications to registered
// listeners. Publishing is fire-and-forget: there is no acknowledgment and a
// listener cannot fail a publish.
package events

import (
	"context"
	"log/slog"
	"sync"
)

// Signal names.
const (
	NameGuestFileCorruption = "GuestFileCorruption"
	NameOOMKill             = "OOMKill"
)

// Signal is a structured out-of-band notification.
type Signal interface {
	// Name identifies the signal kind.
	Name() string
}

// GuestFileCorruption reports a filesystem checksum failure inside a guest VM.
type GuestFileCorruption struct {
	VsockCID int64 `json:"vsock_cid"`
}

// Name implements Signal.
func (GuestFileCorruption) Name() string { return NameGuestFileCorruption }

// OOMKill reports a kernel out-of-memory kill.
type OOMKill struct {
	// TimestampMillis is the log entry time in milliseconds since the epoch.
	TimestampMillis int64 `json:"timestamp"`
}

// Name implements Signal.
func (OOMKill) Name() string { return NameOOMKill }

// Publisher emits signals.
type Publisher interface {
	Publish(ctx context.Context, sig Signal)
}

// Handler receives published signals.
type Handler func(ctx context.Context, sig Signal)

// Bus fans a published signal out to every subscribed handler in
// subscription order.
type Bus struct {
	mu       sync.RWMutex
	handlers []Handler
}

// NewBus creates a bus with the given initial handlers.
func NewBus(handlers ...Handler) *Bus {
	return &Bus{handlers: handlers}
}

// Subscribe registers h for all future publishes.
func (b *Bus) Subscribe(h Handler) {
	b.mu.Lock()
	b.handlers = append(b.handlers, h)
	b.mu.Unlock()
}

// Publish delivers sig to every handler.
func (b *Bus) Publish(ctx context.Context, sig Signal) {
	b.mu.RLock()
	handlers := make([]Handler, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.RUnlock()

	for _, h := range handlers {
		h(ctx, sig)
	}
}

// LogHandler returns a Handler that logs each signal at info level.
func LogHandler(logger *slog.Logger) Handler {
	return func(ctx context.Context, sig Signal) {
		logger.InfoContext(ctx, "anomaly signal", "signal", sig.Name(), "payload", sig)
	}
}

// Recorder is a Publisher that keeps every published signal. Used by
// callers that inspect emitted signals after the fact.
type Recorder struct {
	mu      sync.Mutex
	signals []Signal
}

// Publish implements Publisher.
func (r *Recorder) Publish(_ context.Context, sig Signal) {
	r.mu.Lock()
	r.signals = append(r.signals, sig)
	r.mu.Unlock()
}

// Signals returns a copy of the recorded signals.
func (r *Recorder) Signals() []Signal {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Signal, len(r.signals))
	copy(out, r.signals)

	return out
}
