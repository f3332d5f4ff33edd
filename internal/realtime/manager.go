// Package realtime multiplexes logical subscribers onto shared pub/sub
// channels and delivers events to browsers over websockets.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/josecentenodev/crm-aurelia-sub005/internal/common/logger"
	"github.com/josecentenodev/crm-aurelia-sub005/internal/common/metrics"

	"github.com/google/uuid"
)

var ErrManagerClosed = errors.New("realtime manager closed")

const (
	DefaultIdleTimeout   = 30 * time.Minute
	DefaultSweepInterval = 5 * time.Minute
)

type Options struct {
	IdleTimeout   time.Duration
	SweepInterval time.Duration
}

// Stats reports open shared channels and logical subscribers.
type Stats struct {
	Channels    int `json:"channels"`
	Subscribers int `json:"subscribers"`
}

type channel struct {
	name         string
	subs         map[string]*Subscription
	leaver       Leaver
	joinErr      error
	ready        chan struct{}
	pending      int
	lastActivity time.Time
	closed       bool
	// orphaned marks a channel closed by the manager while its join was in flight.
	orphaned bool
}

// Subscription is one logical listener on a shared channel.
type Subscription struct {
	id      string
	channel string
	handler Handler
	manager *Manager
	done    chan struct{}
	once    sync.Once
}

func (s *Subscription) ID() string      { return s.id }
func (s *Subscription) Channel() string { return s.channel }

// Done is closed when the subscription ends, by Unsubscribe or by an idle sweep.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Unsubscribe is shorthand for Manager.Unsubscribe(s).
func (s *Subscription) Unsubscribe() { s.manager.Unsubscribe(s) }

func (s *Subscription) finish() {
	s.once.Do(func() { close(s.done) })
}

// Manager owns the shared channels. It joins a transport channel on the
// first subscriber and leaves it when the last one goes away.
type Manager struct {
	transport Transport
	log       logger.Logger
	opts      Options
	now       func() time.Time

	mu       sync.Mutex
	channels map[string]*channel
	closed   bool

	stopOnce sync.Once
	stop     chan struct{}
}

func NewManager(transport Transport, opts Options, log logger.Logger) *Manager {
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = DefaultIdleTimeout
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = DefaultSweepInterval
	}
	return &Manager{
		transport: transport,
		log:       logger.WithComponent(log, "realtime"),
		opts:      opts,
		now:       time.Now,
		channels:  make(map[string]*channel),
		stop:      make(chan struct{}),
	}
}

// Subscribe registers handler on name, joining the transport channel if
// this is its first subscriber. Concurrent first subscribers share one join.
func (m *Manager) Subscribe(ctx context.Context, name string, handler Handler) (*Subscription, error) {
	if name == "" {
		return nil, fmt.Errorf("channel name is required")
	}
	if handler == nil {
		return nil, fmt.Errorf("handler is required")
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrManagerClosed
	}
	ch, exists := m.channels[name]
	if !exists {
		ch = &channel{
			name:         name,
			subs:         make(map[string]*Subscription),
			ready:        make(chan struct{}),
			lastActivity: m.now(),
		}
		m.channels[name] = ch
	}
	ch.pending++
	m.mu.Unlock()

	if !exists {
		leaver, err := m.transport.Join(ctx, name, func(ev Event) { m.deliver(ch, ev) })
		m.mu.Lock()
		ch.leaver, ch.joinErr = leaver, err
		close(ch.ready)
		orphaned := ch.orphaned
		m.mu.Unlock()
		if err == nil && orphaned {
			m.leave(name, leaver)
			return nil, ErrManagerClosed
		}
		if err == nil {
			m.log.Debug("Joined realtime channel", map[string]interface{}{"channel": name})
		}
	} else {
		select {
		case <-ch.ready:
		case <-ctx.Done():
			m.release(ch)
			return nil, ctx.Err()
		}
	}

	m.mu.Lock()
	ch.pending--
	if ch.joinErr != nil {
		if ch.pending == 0 && m.channels[name] == ch {
			delete(m.channels, name)
			ch.closed = true
		}
		m.mu.Unlock()
		return nil, fmt.Errorf("join channel %s: %w", name, ch.joinErr)
	}
	if ch.closed {
		m.mu.Unlock()
		return nil, ErrManagerClosed
	}

	sub := &Subscription{
		id:      uuid.NewString(),
		channel: name,
		handler: handler,
		manager: m,
		done:    make(chan struct{}),
	}
	ch.subs[sub.id] = sub
	ch.lastActivity = m.now()
	m.updateGaugesLocked()
	m.mu.Unlock()

	return sub, nil
}

// release drops a pending subscriber that gave up waiting for the join.
func (m *Manager) release(ch *channel) {
	m.mu.Lock()
	ch.pending--
	leaver := m.teardownIfEmptyLocked(ch)
	m.mu.Unlock()
	m.leave(ch.name, leaver)
}

// Unsubscribe removes sub. The shared channel is left when its last
// subscriber goes. Calling it twice is a no-op.
func (m *Manager) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}

	m.mu.Lock()
	var leaver Leaver
	if ch, ok := m.channels[sub.channel]; ok && ch.subs[sub.id] == sub {
		delete(ch.subs, sub.id)
		leaver = m.teardownIfEmptyLocked(ch)
		m.updateGaugesLocked()
	}
	m.mu.Unlock()

	sub.finish()
	m.leave(sub.channel, leaver)
}

func (m *Manager) teardownIfEmptyLocked(ch *channel) Leaver {
	if ch.closed || len(ch.subs) > 0 || ch.pending > 0 {
		return nil
	}
	select {
	case <-ch.ready:
	default:
		return nil
	}
	if m.channels[ch.name] == ch {
		delete(m.channels, ch.name)
	}
	ch.closed = true
	return ch.leaver
}

func (m *Manager) leave(name string, leaver Leaver) {
	if leaver == nil {
		return
	}
	if err := leaver.Leave(); err != nil {
		m.log.Warn("Failed to leave realtime channel", map[string]interface{}{
			"channel": name,
			"error":   err.Error(),
		})
		return
	}
	m.log.Debug("Left realtime channel", map[string]interface{}{"channel": name})
}

func (m *Manager) deliver(ch *channel, ev Event) {
	m.mu.Lock()
	if ch.closed {
		m.mu.Unlock()
		return
	}
	ch.lastActivity = m.now()
	handlers := make([]*Subscription, 0, len(ch.subs))
	for _, s := range ch.subs {
		handlers = append(handlers, s)
	}
	m.mu.Unlock()

	metrics.RealtimeEvents.WithLabelValues("delivered").Add(float64(len(handlers)))
	for _, s := range handlers {
		m.invoke(s, ev)
	}
}

func (m *Manager) invoke(s *Subscription, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("Realtime handler panicked", map[string]interface{}{
				"channel":        s.channel,
				"subscriptionId": s.id,
				"panic":          fmt.Sprint(r),
			})
		}
	}()
	s.handler(ev)
}

// Publish sends an event to every subscriber of channel on every instance.
func (m *Manager) Publish(ctx context.Context, channel, eventType string, payload interface{}) error {
	if m.isClosed() {
		return ErrManagerClosed
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", eventType, err)
	}

	ev := Event{
		ID:        uuid.NewString(),
		Channel:   channel,
		Type:      eventType,
		Payload:   raw,
		Timestamp: m.now().UTC(),
	}
	if err := m.transport.Publish(ctx, channel, ev); err != nil {
		return err
	}
	metrics.RealtimeEvents.WithLabelValues("published").Inc()
	return nil
}

// Sweep removes channels with no subscribe or delivery since IdleTimeout
// and ends their subscriptions. It returns the number of channels removed.
func (m *Manager) Sweep(now time.Time) int {
	type removal struct {
		name   string
		leaver Leaver
		subs   []*Subscription
	}

	m.mu.Lock()
	var removed []removal
	for name, ch := range m.channels {
		if ch.pending > 0 || now.Sub(ch.lastActivity) < m.opts.IdleTimeout {
			continue
		}
		select {
		case <-ch.ready:
		default:
			continue
		}
		r := removal{name: name, leaver: ch.leaver}
		for _, s := range ch.subs {
			r.subs = append(r.subs, s)
		}
		ch.subs = make(map[string]*Subscription)
		ch.closed = true
		delete(m.channels, name)
		removed = append(removed, r)
	}
	m.updateGaugesLocked()
	m.mu.Unlock()

	for _, r := range removed {
		for _, s := range r.subs {
			s.finish()
		}
		m.leave(r.name, r.leaver)
	}
	if len(removed) > 0 {
		m.log.Info("Swept idle realtime channels", map[string]interface{}{"removed": len(removed)})
	}
	return len(removed)
}

// Start runs Sweep every SweepInterval until ctx is done or Close is called.
func (m *Manager) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(m.opts.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stop:
				return
			case <-ticker.C:
				m.Sweep(m.now())
			}
		}
	}()
}

// Close ends every subscription, leaves every channel and closes the transport.
func (m *Manager) Close() error {
	m.stopOnce.Do(func() { close(m.stop) })

	type closing struct {
		name   string
		leaver Leaver
		subs   map[string]*Subscription
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	var all []closing
	for name, ch := range m.channels {
		ch.closed = true
		c := closing{name: name, subs: ch.subs}
		select {
		case <-ch.ready:
			c.leaver = ch.leaver
		default:
			ch.orphaned = true
		}
		ch.subs = make(map[string]*Subscription)
		all = append(all, c)
	}
	m.channels = make(map[string]*channel)
	m.updateGaugesLocked()
	m.mu.Unlock()

	for _, c := range all {
		for _, s := range c.subs {
			s.finish()
		}
		m.leave(c.name, c.leaver)
	}
	return m.transport.Close()
}

func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statsLocked()
}

func (m *Manager) statsLocked() Stats {
	s := Stats{Channels: len(m.channels)}
	for _, ch := range m.channels {
		s.Subscribers += len(ch.subs)
	}
	return s
}

func (m *Manager) updateGaugesLocked() {
	s := m.statsLocked()
	metrics.RealtimeChannels.Set(float64(s.Channels))
	metrics.RealtimeSubscribers.Set(float64(s.Subscribers))
}

func (m *Manager) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
