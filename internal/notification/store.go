package notification

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"campusdesk.io/notify/internal/pkg/eventbus"
	"campusdesk.io/notify/internal/pkg/logger"
)

// DefaultRecentWindow is the number of notifications kept for the recent view.
const DefaultRecentWindow = 10

// API is the REST surface the store reconciles against.
type API interface {
	Recent(ctx context.Context) ([]Notification, error)
	UnreadCount(ctx context.Context) (int, error)
	MarkRead(ctx context.Context, id ID) error
	MarkAllRead(ctx context.Context) error
	Delete(ctx context.Context, id ID) error
}

// Snapshot is an immutable copy of the store state.
type Snapshot struct {
	Items  []Notification
	Unread int
}

// Store is the client-side view of recent notifications and the unread
// counter. The list is newest-first and never longer than the window.
//
// The counter is seeded from the server and then adjusted locally without
// re-fetching, so it may drift from the server until the next sync.
type Store struct {
	api     API
	window  int
	changes *eventbus.Bus[Snapshot]

	// pubMu orders change notifications; mu guards state.
	pubMu      sync.Mutex
	mu         sync.Mutex
	items      []Notification
	unread     int
	generation uint64
}

// NewStore creates a Store. A non-positive window falls back to
// DefaultRecentWindow.
func NewStore(api API, window int) *Store {
	if window <= 0 {
		window = DefaultRecentWindow
	}
	return &Store{
		api:     api,
		window:  window,
		changes: eventbus.New[Snapshot]("store"),
	}
}

// OnChange registers h to receive a snapshot after every state change.
// h runs synchronously and must not call mutating Store methods.
func (s *Store) OnChange(h eventbus.Handler[Snapshot]) eventbus.Unsubscribe {
	return s.changes.Subscribe(h)
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() Snapshot {
	return Snapshot{Items: slices.Clone(s.items), Unread: s.unread}
}

// Items returns a copy of the recent list, newest first.
func (s *Store) Items() []Notification {
	return s.Snapshot().Items
}

// UnreadCount returns the current unread counter.
func (s *Store) UnreadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unread
}

func (s *Store) notify() {
	s.pubMu.Lock()
	defer s.pubMu.Unlock()
	s.changes.Publish(s.Snapshot())
}

// Reset drops all state and invalidates in-flight loads. Called on sign-out.
func (s *Store) Reset() {
	s.mu.Lock()
	s.items = nil
	s.unread = 0
	s.generation++
	s.mu.Unlock()
	s.notify()
}

func (s *Store) currentGeneration() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

// LoadRecent replaces the list with the server's recent notifications.
// On error the previous list is kept.
func (s *Store) LoadRecent(ctx context.Context) error {
	gen := s.currentGeneration()

	recent, err := s.api.Recent(ctx)
	if err != nil {
		logger.Warn("failed to load recent notifications, keeping stale list", zap.Error(err))
		return fmt.Errorf("load recent notifications: %w", err)
	}

	items := s.normalize(recent)

	s.mu.Lock()
	if s.generation != gen {
		s.mu.Unlock()
		logger.Debug("discarding recent notifications from a closed session")
		return nil
	}
	s.items = items
	s.mu.Unlock()

	s.notify()
	return nil
}

// normalize orders a server snapshot newest-first, drops repeated ids and
// caps it to the window.
func (s *Store) normalize(in []Notification) []Notification {
	items := make([]Notification, 0, min(len(in), s.window))
	seen := make(map[ID]struct{}, len(in))
	sorted := slices.Clone(in)
	slices.SortStableFunc(sorted, func(a, b Notification) int {
		return cmp.Compare(b.CreatedAt.UnixNano(), a.CreatedAt.UnixNano())
	})
	for _, n := range sorted {
		if _, dup := seen[n.ID]; dup {
			continue
		}
		seen[n.ID] = struct{}{}
		items = append(items, n)
		if len(items) == s.window {
			break
		}
	}
	return items
}

// LoadUnreadCount sets the counter from the server. On error the previous
// value is kept.
func (s *Store) LoadUnreadCount(ctx context.Context) error {
	gen := s.currentGeneration()

	count, err := s.api.UnreadCount(ctx)
	if err != nil {
		logger.Warn("failed to load unread count, keeping stale value", zap.Error(err))
		return fmt.Errorf("load unread count: %w", err)
	}
	if count < 0 {
		count = 0
	}

	s.mu.Lock()
	if s.generation != gen {
		s.mu.Unlock()
		logger.Debug("discarding unread count from a closed session")
		return nil
	}
	s.unread = count
	s.mu.Unlock()

	s.notify()
	return nil
}

// Sync runs LoadRecent and LoadUnreadCount. Both run even if the first fails.
func (s *Store) Sync(ctx context.Context) error {
	return multierr.Combine(s.LoadRecent(ctx), s.LoadUnreadCount(ctx))
}

// ReceivePush prepends a pushed notification, evicting the oldest entry past
// the window, and counts it unread. A push that arrives already read is
// listed but not counted, keeping the counter equal to the unread entries it
// accounts for. A notification whose id is already in the list is ignored;
// ReceivePush then reports false.
func (s *Store) ReceivePush(n Notification) bool {
	s.mu.Lock()
	for _, existing := range s.items {
		if existing.ID == n.ID {
			s.mu.Unlock()
			logger.Debug("duplicate push ignored", zap.String("notification_id", string(n.ID)))
			return false
		}
	}

	items := make([]Notification, 0, min(len(s.items)+1, s.window))
	items = append(items, n)
	for _, existing := range s.items {
		if len(items) == s.window {
			break
		}
		items = append(items, existing)
	}
	s.items = items
	if !n.Read {
		s.unread++
	}
	s.mu.Unlock()

	s.notify()
	return true
}

// MarkRead marks id read locally, then on the server. The counter only moves
// when a tracked entry goes from unread to read, so repeated calls never
// push it below the true value. A server failure is returned; the local
// change is kept.
func (s *Store) MarkRead(ctx context.Context, id ID) error {
	s.mu.Lock()
	changed := false
	for i := range s.items {
		if s.items[i].ID == id && !s.items[i].Read {
			s.items[i].Read = true
			changed = true
			break
		}
	}
	if changed && s.unread > 0 {
		s.unread--
	}
	s.mu.Unlock()

	if changed {
		s.notify()
	}

	if err := s.api.MarkRead(ctx, id); err != nil {
		logger.Error("failed to mark notification read",
			zap.String("notification_id", string(id)),
			zap.Error(err),
		)
		return fmt.Errorf("mark notification %s read: %w", id, err)
	}
	return nil
}

// MarkAllRead marks every entry read and zeroes the counter, then tells the
// server. A server failure is returned; the local change is kept.
func (s *Store) MarkAllRead(ctx context.Context) error {
	s.mu.Lock()
	for i := range s.items {
		s.items[i].Read = true
	}
	s.unread = 0
	s.mu.Unlock()

	s.notify()

	if err := s.api.MarkAllRead(ctx); err != nil {
		logger.Error("failed to mark all notifications read", zap.Error(err))
		return fmt.Errorf("mark all notifications read: %w", err)
	}
	return nil
}

// Delete removes id locally, then on the server. Deleting an unread entry
// also decrements the counter.
func (s *Store) Delete(ctx context.Context, id ID) error {
	s.mu.Lock()
	removed := false
	for i, n := range s.items {
		if n.ID != id {
			continue
		}
		if !n.Read && s.unread > 0 {
			s.unread--
		}
		s.items = slices.Delete(slices.Clone(s.items), i, i+1)
		removed = true
		break
	}
	s.mu.Unlock()

	if removed {
		s.notify()
	}

	if err := s.api.Delete(ctx, id); err != nil {
		logger.Error("failed to delete notification",
			zap.String("notification_id", string(id)),
			zap.Error(err),
		)
		return fmt.Errorf("delete notification %s: %w", id, err)
	}
	return nil
}
