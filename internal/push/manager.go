// Package push maintains the real-time notification channel: one STOMP
// session per signed-in user, subscribed to the user's private queue and the
// broadcast topic, re-established with bounded exponential backoff.
package push

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"k8s.io/apimachinery/pkg/util/wait"

	"campusdesk.io/notify/internal/config"
	"campusdesk.io/notify/internal/notification"
	"campusdesk.io/notify/internal/pkg/eventbus"
	"campusdesk.io/notify/internal/pkg/logger"
	"campusdesk.io/notify/internal/pkg/worker"
)

// UserIDPlaceholder is replaced with the user id in the private destination.
const UserIDPlaceholder = "{userId}"

var errUnsubscribeTimeout = errors.New("timed out waiting for unsubscribe receipts")

// Options configures a Manager.
type Options struct {
	PrivateDestination   string
	BroadcastDestination string
	// Backoff yields the delay before each reconnect. Steps is reset on every
	// successful connect.
	Backoff            wait.Backoff
	MaxAttempts        int
	UnsubscribeTimeout time.Duration
}

// OptionsFromConfig maps the push configuration onto Options.
func OptionsFromConfig(cfg config.PushConfig) Options {
	return Options{
		PrivateDestination:   cfg.PrivateDestination,
		BroadcastDestination: cfg.BroadcastDestination,
		Backoff: wait.Backoff{
			Duration: cfg.ReconnectDelay,
			Factor:   cfg.BackoffFactor,
			Jitter:   cfg.Jitter,
			Steps:    cfg.MaxReconnectAttempts,
			Cap:      cfg.MaxReconnectDelay,
		},
		MaxAttempts:        cfg.MaxReconnectAttempts,
		UnsubscribeTimeout: cfg.UnsubscribeTimeout,
	}
}

// Manager owns the push session of the signed-in user.
//
// Connect starts a connection loop on the push pool. The loop dials,
// subscribes, and runs one delivery task per subscription; on a dial
// failure or a lost session it backs off and retries. After MaxAttempts
// consecutive failures the state becomes FAILED and the loop stops until
// the next Connect.
//
// Notification handlers and state-change handlers run on pool goroutines.
// They must not call Disconnect.
type Manager struct {
	dialer Dialer
	pools  *worker.Pools
	opts   Options

	notifications *eventbus.Bus[notification.Notification]
	states        *eventbus.Bus[StateChange]

	// pubMu orders state-change publications.
	pubMu sync.Mutex
	// deliverMu is held shared by deliveries and exclusively by Disconnect,
	// so no delivery is running once Disconnect returns.
	deliverMu sync.RWMutex

	mu            sync.Mutex
	state         State
	attempts      int
	userID        string
	generation    uint64
	cancel        context.CancelFunc
	loopDone      chan struct{}
	session       Session
	subs          []Subscription
	unsubsHandler eventbus.Unsubscribe
}

// NewManager creates a disconnected Manager.
func NewManager(dialer Dialer, pools *worker.Pools, opts Options) *Manager {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 5
	}
	if opts.UnsubscribeTimeout <= 0 {
		opts.UnsubscribeTimeout = 2 * time.Second
	}
	if opts.Backoff.Duration <= 0 {
		opts.Backoff.Duration = 5 * time.Second
	}
	return &Manager{
		dialer:        dialer,
		pools:         pools,
		opts:          opts,
		notifications: eventbus.New[notification.Notification]("push.notifications"),
		states:        eventbus.New[StateChange]("push.state"),
		state:         StateDisconnected,
	}
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Attempts returns the number of consecutive failures so far.
func (m *Manager) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

// Subscribe registers h for every pushed notification, across sessions.
func (m *Manager) Subscribe(h eventbus.Handler[notification.Notification]) eventbus.Unsubscribe {
	return m.notifications.Subscribe(h)
}

// OnStateChange registers h for connection state transitions.
func (m *Manager) OnStateChange(h eventbus.Handler[StateChange]) eventbus.Unsubscribe {
	return m.states.Subscribe(h)
}

// Connect starts the push session for userID. onNotification, if not nil,
// receives every notification until the next Disconnect.
//
// Connect is a no-op while a session for the same user is connected or
// being established. A different user replaces the current session. From
// FAILED or DISCONNECTED it starts over with a fresh attempt budget.
// Transport errors never surface here; they drive the state machine.
func (m *Manager) Connect(ctx context.Context, userID string, onNotification eventbus.Handler[notification.Notification]) error {
	if userID == "" {
		return fmt.Errorf("connect: empty user id")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	if m.state.active() && m.userID == userID {
		state := m.state
		m.mu.Unlock()
		logger.Debug("push connect ignored, session already active",
			zap.String("user_id", userID),
			zap.String("state", string(state)),
		)
		return nil
	}
	replace := m.state.active()
	m.mu.Unlock()

	if replace {
		m.Disconnect()
	}

	loopCtx, cancel := context.WithCancel(m.pools.Context())
	loopDone := make(chan struct{})

	m.pubMu.Lock()
	m.mu.Lock()
	m.generation++
	gen := m.generation
	if m.cancel != nil {
		m.cancel()
	}
	m.userID = userID
	m.attempts = 0
	m.cancel = cancel
	m.loopDone = loopDone
	if m.unsubsHandler != nil {
		m.unsubsHandler()
		m.unsubsHandler = nil
	}
	if onNotification != nil {
		m.unsubsHandler = m.notifications.Subscribe(onNotification)
	}
	from := m.state
	m.state = StateConnecting
	m.mu.Unlock()
	m.states.Publish(StateChange{From: from, To: StateConnecting})
	m.pubMu.Unlock()

	log := logger.With(zap.String("user_id", userID))
	err := m.spawn(func() {
		defer close(loopDone)
		m.run(loopCtx, gen, userID, log)
	})
	if err != nil {
		cancel()
		close(loopDone)
		m.transition(gen, StateFailed, err)
		return fmt.Errorf("start push connection loop: %w", err)
	}
	return nil
}

// Disconnect unsubscribes (best effort), closes the transport and moves to
// DISCONNECTED. No notification handler runs after it returns. Calling it
// when already disconnected is a no-op.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.generation++
	from := m.state
	cancel, loopDone := m.cancel, m.loopDone
	session, subs := m.session, m.subs
	unsubsHandler := m.unsubsHandler
	userID := m.userID
	m.cancel, m.loopDone = nil, nil
	m.session, m.subs = nil, nil
	m.unsubsHandler = nil
	m.userID = ""
	m.attempts = 0
	m.state = StateDisconnected
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if session != nil {
		if err := m.unsubscribeAll(subs); err != nil {
			logger.Warn("push unsubscribe incomplete",
				zap.String("user_id", userID),
				zap.Error(err),
			)
		}
		if err := session.Close(); err != nil {
			logger.Debug("push session close", zap.Error(err))
		}
	}
	if loopDone != nil {
		<-loopDone
	}

	m.deliverMu.Lock()
	if unsubsHandler != nil {
		unsubsHandler()
	}
	m.deliverMu.Unlock()

	if from != StateDisconnected {
		logger.Info("push disconnected", zap.String("user_id", userID))
		m.pubMu.Lock()
		m.states.Publish(StateChange{From: from, To: StateDisconnected})
		m.pubMu.Unlock()
	}
}

// spawn runs fn on the push pool. fn always runs once submitted.
func (m *Manager) spawn(fn func()) error {
	return m.pools.Push.Submit(context.Background(), func(context.Context) { fn() })
}

func (m *Manager) run(ctx context.Context, gen uint64, userID string, log *zap.Logger) {
	backoff := m.opts.Backoff
	next := StateConnecting

	for {
		if !m.transition(gen, next, nil) {
			return
		}
		log.Info("push connecting", zap.String("state", string(next)), zap.Int("attempt", m.Attempts()+1))

		session, err := m.dialer.Dial(ctx)
		if ctx.Err() != nil {
			if session != nil {
				_ = session.Close()
			}
			return
		}

		if err == nil {
			if !m.established(ctx, gen, userID, session, log) {
				_ = session.Close()
				return
			}
			backoff = m.opts.Backoff

			select {
			case <-ctx.Done():
				return
			case <-session.Done():
			}
			err = session.Err()
			if err == nil {
				err = errors.New("session closed by server")
			}
			m.dropSession(gen, session)
			_ = session.Close()
		}

		retry, ok := m.failed(gen, err, log)
		if !ok || !retry {
			return
		}

		delay := backoff.Step()
		log.Info("push reconnect scheduled", zap.Duration("delay", delay))
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		next = StateReconnecting
	}
}

// established subscribes on a fresh session and starts delivery. It reports
// false when the session belongs to a superseded generation.
func (m *Manager) established(ctx context.Context, gen uint64, userID string, session Session, log *zap.Logger) bool {
	destinations := []string{
		strings.ReplaceAll(m.opts.PrivateDestination, UserIDPlaceholder, userID),
		m.opts.BroadcastDestination,
	}

	subs := make([]Subscription, 0, len(destinations))
	for _, dest := range destinations {
		sub, err := session.Subscribe(dest)
		if err != nil {
			log.Error("push subscribe failed", zap.String("destination", dest), zap.Error(err))
			continue
		}
		subs = append(subs, sub)
	}

	m.pubMu.Lock()
	m.mu.Lock()
	if m.generation != gen {
		m.mu.Unlock()
		m.pubMu.Unlock()
		return false
	}
	from := m.state
	m.state = StateConnected
	m.attempts = 0
	m.session = session
	m.subs = subs
	m.mu.Unlock()
	m.states.Publish(StateChange{From: from, To: StateConnected})
	m.pubMu.Unlock()

	log.Info("push connected", zap.Int("subscriptions", len(subs)))

	for _, sub := range subs {
		if err := m.spawn(func() { m.deliver(ctx, gen, sub, log) }); err != nil {
			log.Error("push delivery not started", zap.String("destination", sub.Destination()), zap.Error(err))
		}
	}
	return true
}

// deliver forwards one subscription's messages in arrival order.
func (m *Manager) deliver(ctx context.Context, gen uint64, sub Subscription, log *zap.Logger) {
	log = log.With(zap.String("destination", sub.Destination()))
	for {
		msg, err := sub.Receive()
		if err != nil {
			if !errors.Is(err, ErrSubscriptionClosed) && ctx.Err() == nil {
				log.Warn("push subscription ended", zap.Error(err))
			}
			return
		}

		n, err := notification.Decode(msg.Body)
		if err != nil {
			log.Warn("dropping malformed push payload", zap.Error(err), zap.Int("bytes", len(msg.Body)))
			continue
		}

		m.deliverMu.RLock()
		if m.currentGeneration() == gen {
			m.notifications.Publish(n)
		}
		m.deliverMu.RUnlock()
	}
}

// failed records a failure and reports whether to retry. ok is false when
// gen is stale.
func (m *Manager) failed(gen uint64, cause error, log *zap.Logger) (retry, ok bool) {
	m.pubMu.Lock()
	defer m.pubMu.Unlock()

	m.mu.Lock()
	if m.generation != gen {
		m.mu.Unlock()
		return false, false
	}
	from := m.state
	m.attempts++
	attempts := m.attempts
	to := StateReconnecting
	if attempts >= m.opts.MaxAttempts {
		to = StateFailed
	}
	m.state = to
	m.mu.Unlock()

	if to == StateFailed {
		log.Error("push unavailable, reconnect budget exhausted",
			zap.Int("attempt", attempts),
			zap.Error(cause),
		)
	} else {
		log.Warn("push connection failed",
			zap.Int("attempt", attempts),
			zap.Int("max_attempts", m.opts.MaxAttempts),
			zap.Error(cause),
		)
	}

	m.states.Publish(StateChange{From: from, To: to, Attempts: attempts, Err: cause})
	return to != StateFailed, true
}

// transition moves to state `to` if gen is current.
func (m *Manager) transition(gen uint64, to State, cause error) bool {
	m.pubMu.Lock()
	defer m.pubMu.Unlock()

	m.mu.Lock()
	if m.generation != gen {
		m.mu.Unlock()
		return false
	}
	from := m.state
	m.state = to
	attempts := m.attempts
	m.mu.Unlock()

	if from != to {
		m.states.Publish(StateChange{From: from, To: to, Attempts: attempts, Err: cause})
	}
	return true
}

func (m *Manager) dropSession(gen uint64, session Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.generation == gen && m.session == session {
		m.session = nil
		m.subs = nil
	}
}

func (m *Manager) currentGeneration() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.generation
}

// unsubscribeAll unsubscribes concurrently and waits up to
// UnsubscribeTimeout for all of them.
func (m *Manager) unsubscribeAll(subs []Subscription) error {
	if len(subs) == 0 {
		return nil
	}

	results := make(chan error, len(subs))
	for _, sub := range subs {
		err := m.pools.General.Submit(context.Background(), func(context.Context) {
			results <- sub.Unsubscribe()
		})
		if err != nil {
			results <- fmt.Errorf("unsubscribe %s: %w", sub.Destination(), err)
		}
	}

	timer := time.NewTimer(m.opts.UnsubscribeTimeout)
	defer timer.Stop()

	var errs error
	for range subs {
		select {
		case err := <-results:
			errs = multierr.Append(errs, err)
		case <-timer.C:
			return multierr.Append(errs, errUnsubscribeTimeout)
		}
	}
	return errs
}
