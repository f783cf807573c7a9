package events_test

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/crashtriage/pkg/events"
)

func TestBus_FansOutInOrder(t *testing.T) {
	t.Parallel()

	var order []string

	bus := events.NewBus(func(_ context.Context, sig events.Signal) {
		order = append(order, "first:"+sig.Name())
	})
	bus.Subscribe(func(_ context.Context, sig events.Signal) {
		order = append(order, "second:"+sig.Name())
	})

	bus.Publish(context.Background(), events.GuestFileCorruption{VsockCID: 3})

	assert.Equal(t, []string{"first:GuestFileCorruption", "second:GuestFileCorruption"}, order)
}

func TestBus_NoHandlers(t *testing.T) {
	t.Parallel()

	bus := events.NewBus()

	assert.NotPanics(t, func() {
		bus.Publish(context.Background(), events.OOMKill{TimestampMillis: 1})
	})
}

func TestRecorder_KeepsSignals(t *testing.T) {
	t.Parallel()

	rec := &events.Recorder{}
	rec.Publish(context.Background(), events.OOMKill{TimestampMillis: 1500})
	rec.Publish(context.Background(), events.GuestFileCorruption{VsockCID: 7})

	got := rec.Signals()
	require.Len(t, got, 2)
	assert.Equal(t, events.OOMKill{TimestampMillis: 1500}, got[0])
	assert.Equal(t, events.GuestFileCorruption{VsockCID: 7}, got[1])
}

func TestLogHandler_WritesSignalName(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	logger := slog.New(slog.NewTextHandler(&buf, nil))
	events.LogHandler(logger)(context.Background(), events.OOMKill{TimestampMillis: 9})

	assert.Contains(t, buf.String(), "signal=OOMKill")
}
