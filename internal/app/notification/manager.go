// Package notification provides the notification manager for broadcasting
// playback announcements to subscribers.
package notification

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/vcjukebox/internal/app/playback"
	"github.com/osa030/vcjukebox/internal/infra/metrics"
)

// Notification is a playback announcement as delivered to subscribers.
type Notification struct {
	SequenceNo  uint64    `json:"sequence_no"`
	Type        string    `json:"type"`
	ChatID      int64     `json:"chat_id"`
	Title       string    `json:"title,omitempty"`
	DurationSec int       `json:"duration_sec,omitempty"`
	State       string    `json:"state"`
	Time        time.Time `json:"time"`
}

// Stream represents a notification stream for a subscriber.
type Stream interface {
	Send(*Notification) error
}

// subscription represents a subscriber's subscription.
type subscription struct {
	id     string
	stream Stream
}

// Manager manages notification subscriptions and broadcasting.
// It implements playback.Announcer.
type Manager struct {
	mu            sync.RWMutex
	subscriptions map[string]*subscription
	sequenceNo    uint64
	sequenceNoMu  sync.Mutex

	queue       chan playback.Event
	sendTimeout time.Duration

	done      chan struct{}
	closeOnce sync.Once
}

// NewManager creates a new notification manager.
func NewManager() *Manager {
	return &Manager{
		subscriptions: make(map[string]*subscription),
		queue:         make(chan playback.Event, 256),
		sendTimeout:   500 * time.Millisecond,
		done:          make(chan struct{}),
	}
}

// Subscribe adds a new subscription and returns the subscription ID.
func (m *Manager) Subscribe(stream Stream) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := uuid.New().String()
	m.subscriptions[id] = &subscription{
		id:     id,
		stream: stream,
	}
	metrics.AnnouncementSubscribers.Set(float64(len(m.subscriptions)))
	return id
}

// Unsubscribe removes a subscription.
func (m *Manager) Unsubscribe(subscriptionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subscriptions, subscriptionID)
	metrics.AnnouncementSubscribers.Set(float64(len(m.subscriptions)))
}

// Publish queues a playback event for broadcasting. It never blocks; events
// are dropped when the queue is full.
func (m *Manager) Publish(ev playback.Event) {
	select {
	case m.queue <- ev:
	default:
		zlog.Warn().Msgf("announcement queue full, dropping: type=%s chat_id=%d", ev.Type, ev.ChatID)
	}
}

// Run broadcasts queued events until ctx is done.
func (m *Manager) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-m.queue:
			m.Broadcast(toNotification(ev))
		}
	}
}

// Broadcast sends a notification to all subscribers.
// Each stream send is done in a goroutine with a timeout to prevent blocking.
func (m *Manager) Broadcast(notification *Notification) {
	m.sequenceNoMu.Lock()
	m.sequenceNo++
	notification.SequenceNo = m.sequenceNo
	m.sequenceNoMu.Unlock()

	m.mu.RLock()
	// Copy subscriptions to avoid holding lock during sends
	subs := make([]*subscription, 0, len(m.subscriptions))
	for _, sub := range m.subscriptions {
		subs = append(subs, sub)
	}
	m.mu.RUnlock()

	var wg sync.WaitGroup
	for _, sub := range subs {
		wg.Add(1)
		go func(s *subscription) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), m.sendTimeout)
			defer cancel()

			done := make(chan error, 1)
			go func() {
				done <- s.stream.Send(notification)
			}()

			select {
			case err := <-done:
				if err != nil {
					zlog.Debug().Msgf("notification send failed: subscription_id=%s error=%v", s.id, err)
				}
			case <-ctx.Done():
				zlog.Debug().Msgf("notification send timed out: subscription_id=%s", s.id)
			}
		}(sub)
	}

	// Wait for all sends to complete or timeout
	wg.Wait()
}

// SubscriberCount returns the number of active subscribers.
func (m *Manager) SubscriberCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subscriptions)
}

// Done is closed when the manager is closed. Long-lived subscribers should
// return when it fires.
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

// Close closes the manager and removes all subscriptions.
func (m *Manager) Close() {
	m.closeOnce.Do(func() { close(m.done) })

	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscriptions = make(map[string]*subscription)
	metrics.AnnouncementSubscribers.Set(0)
}

func toNotification(ev playback.Event) *Notification {
	n := &Notification{
		Type:   ev.Type.String(),
		ChatID: ev.ChatID,
		State:  ev.State.String(),
		Time:   time.Now(),
	}
	if ev.Track != nil {
		n.Title = ev.Track.Title
		n.DurationSec = ev.Track.DurationSec
	}
	return n
}

// ChannelStream is a Stream backed by a buffered channel.
type ChannelStream struct {
	C chan *Notification
}

// NewChannelStream creates a channel stream with the given buffer size.
func NewChannelStream(buffer int) *ChannelStream {
	return &ChannelStream{C: make(chan *Notification, buffer)}
}

// ErrStreamFull is returned when a subscriber is not keeping up.
var ErrStreamFull = errors.New("notification stream is full")

// Send delivers n without blocking.
func (s *ChannelStream) Send(n *Notification) error {
	select {
	case s.C <- n:
		return nil
	default:
		return ErrStreamFull
	}
}
