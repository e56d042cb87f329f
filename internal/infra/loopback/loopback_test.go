package loopback

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/vcjukebox/internal/app/transport"
	"github.com/osa030/vcjukebox/internal/domain/track"
)

func newTestTransport(t *testing.T) *Transport {
	t.Helper()
	l := New(Config{TickInterval: 10 * time.Millisecond})
	t.Cleanup(l.Close)
	return l
}

func oneSecond(title string) track.Track {
	return track.Track{StreamURL: "https://media.example/" + title, Title: title, DurationSec: 1}
}

func expectEvent(t *testing.T, l *Transport, within time.Duration) transport.Event {
	t.Helper()
	select {
	case ev := <-l.Events():
		return ev
	case <-time.After(within):
		t.Fatalf("no event within %v", within)
		return transport.Event{}
	}
}

func expectNoEvent(t *testing.T, l *Transport, within time.Duration) {
	t.Helper()
	select {
	case ev := <-l.Events():
		t.Fatalf("unexpected event: %+v", ev)
	case <-time.After(within):
	}
}

func TestTransport_StreamEndsAfterDuration(t *testing.T) {
	l := newTestTransport(t)
	ctx := context.Background()

	start := time.Now()
	require.NoError(t, l.Join(ctx, 7, oneSecond("A")))

	ev := expectEvent(t, l, 3*time.Second)
	assert.Equal(t, transport.Event{Type: transport.EventStreamEnded, ChatID: 7}, ev)
	assert.GreaterOrEqual(t, time.Since(start), 900*time.Millisecond)

	// The call stays up until the engine changes or leaves.
	status, ok := l.Status(7)
	require.True(t, ok)
	assert.Equal(t, "A", status.Track.Title)
}

func TestTransport_OneCallPerChat(t *testing.T) {
	l := newTestTransport(t)
	ctx := context.Background()

	require.NoError(t, l.Join(ctx, 1, oneSecond("A")))
	err := l.Join(ctx, 1, oneSecond("B"))
	assert.True(t, errors.Is(err, ErrCallActive))
	require.NoError(t, l.Join(ctx, 2, oneSecond("C")))
}

func TestTransport_RequiresCall(t *testing.T) {
	l := newTestTransport(t)
	ctx := context.Background()

	assert.True(t, errors.Is(l.ChangeStream(ctx, 1, oneSecond("A")), ErrNoCall))
	assert.True(t, errors.Is(l.Pause(ctx, 1), ErrNoCall))
	assert.True(t, errors.Is(l.Resume(ctx, 1), ErrNoCall))
	assert.True(t, errors.Is(l.Leave(ctx, 1), ErrNoCall))
	assert.True(t, errors.Is(l.SetVolume(ctx, 1, 50), ErrNoCall))
}

func TestTransport_PauseHoldsTimer(t *testing.T) {
	l := newTestTransport(t)
	ctx := context.Background()

	require.NoError(t, l.Join(ctx, 1, oneSecond("A")))
	require.NoError(t, l.Pause(ctx, 1))

	status, ok := l.Status(1)
	require.True(t, ok)
	assert.True(t, status.Paused)

	expectNoEvent(t, l, 1300*time.Millisecond)

	require.NoError(t, l.Resume(ctx, 1))
	ev := expectEvent(t, l, 3*time.Second)
	assert.Equal(t, transport.EventStreamEnded, ev.Type)
}

func TestTransport_ChangeStreamRestartsTimer(t *testing.T) {
	l := newTestTransport(t)
	ctx := context.Background()

	require.NoError(t, l.Join(ctx, 1, oneSecond("A")))
	time.Sleep(600 * time.Millisecond)
	require.NoError(t, l.ChangeStream(ctx, 1, oneSecond("B")))

	// A's timer would have fired by now.
	expectNoEvent(t, l, 600*time.Millisecond)
	ev := expectEvent(t, l, 2*time.Second)
	assert.Equal(t, int64(1), ev.ChatID)

	status, ok := l.Status(1)
	require.True(t, ok)
	assert.Equal(t, "B", status.Track.Title)
}

func TestTransport_LeaveCancelsTimer(t *testing.T) {
	l := newTestTransport(t)
	ctx := context.Background()

	require.NoError(t, l.Join(ctx, 1, oneSecond("A")))
	require.NoError(t, l.Leave(ctx, 1))

	_, ok := l.Status(1)
	assert.False(t, ok)
	expectNoEvent(t, l, 1300*time.Millisecond)
}

func TestTransport_LiveTrackNeverEnds(t *testing.T) {
	l := newTestTransport(t)

	require.NoError(t, l.Join(context.Background(), 1, track.Track{StreamURL: "u", Title: "radio"}))
	expectNoEvent(t, l, 200*time.Millisecond)
}

func TestTransport_SetVolume(t *testing.T) {
	l := newTestTransport(t)
	ctx := context.Background()

	require.NoError(t, l.Join(ctx, 1, oneSecond("A")))
	require.NoError(t, l.SetVolume(ctx, 1, 150))

	status, ok := l.Status(1)
	require.True(t, ok)
	assert.Equal(t, 150, status.Volume)
}

func TestTransport_DeliverVoiceChatClosed(t *testing.T) {
	l := newTestTransport(t)
	ctx := context.Background()

	require.NoError(t, l.Join(ctx, 1, oneSecond("A")))
	ev := transport.Event{Type: transport.EventVoiceChatClosed, ChatID: 1}
	require.NoError(t, l.Deliver(ctx, ev))

	assert.Equal(t, ev, expectEvent(t, l, time.Second))
	_, ok := l.Status(1)
	assert.False(t, ok)
	expectNoEvent(t, l, 1300*time.Millisecond)
}

func TestTransport_DeliverStreamEndedKeepsCall(t *testing.T) {
	l := newTestTransport(t)
	ctx := context.Background()

	require.NoError(t, l.Join(ctx, 1, oneSecond("A")))
	ev := transport.Event{Type: transport.EventStreamEnded, ChatID: 1}
	require.NoError(t, l.Deliver(ctx, ev))

	assert.Equal(t, ev, expectEvent(t, l, time.Second))
	_, ok := l.Status(1)
	assert.True(t, ok)
	// The injected end replaces the timer's.
	expectNoEvent(t, l, 1300*time.Millisecond)
}

func TestTransport_JoinAfterClose(t *testing.T) {
	l := New(Config{})
	l.Close()
	l.Close()

	assert.True(t, errors.Is(l.Join(context.Background(), 1, oneSecond("A")), ErrClosed))
	assert.True(t, errors.Is(l.Deliver(context.Background(), transport.Event{Type: transport.EventStreamEnded, ChatID: 1}), ErrClosed) ||
		len(l.Events()) == 1)
}

func TestStartWallClockTimer(t *testing.T) {
	var fired atomic.Int32
	cancel := startWallClockTimer(30*time.Millisecond, 5*time.Millisecond, func() { fired.Add(1) })
	defer cancel()

	require.Eventually(t, func() bool { return fired.Load() == 1 }, time.Second, 5*time.Millisecond)

	var cancelled atomic.Int32
	stop := startWallClockTimer(50*time.Millisecond, 5*time.Millisecond, func() { cancelled.Add(1) })
	stop()
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(0), cancelled.Load())
}
