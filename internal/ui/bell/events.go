package bell

import (
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"campusdesk.io/notify/internal/notification"
	"campusdesk.io/notify/internal/push"
)

type toastMsg struct{ toast notification.Toast }

type bannerMsg struct{ banner notification.Banner }

type clearBannerMsg struct{ key string }

type snapshotMsg struct{ snapshot notification.Snapshot }

type stateMsg struct{ change push.StateChange }

// feedClosedMsg is returned by Wait once the feed is closed.
type feedClosedMsg struct{}

const feedBuffer = 64

// Feed carries client events into the Bubble Tea program. It is the
// notification.Alerter for the UI and also adapts store snapshots and
// connection-state changes into messages.
//
// Senders block while the buffer is full, until Close.
type Feed struct {
	ch        chan tea.Msg
	done      chan struct{}
	closeOnce sync.Once
}

// NewFeed creates an open Feed.
func NewFeed() *Feed {
	return &Feed{
		ch:   make(chan tea.Msg, feedBuffer),
		done: make(chan struct{}),
	}
}

func (f *Feed) send(msg tea.Msg) {
	select {
	case f.ch <- msg:
	case <-f.done:
	}
}

// ShowToast implements notification.Alerter.
func (f *Feed) ShowToast(t notification.Toast) { f.send(toastMsg{toast: t}) }

// ShowBanner implements notification.Alerter.
func (f *Feed) ShowBanner(b notification.Banner) { f.send(bannerMsg{banner: b}) }

// ClearBanner implements notification.Alerter.
func (f *Feed) ClearBanner(key string) { f.send(clearBannerMsg{key: key}) }

// StoreChanged is a store OnChange handler.
func (f *Feed) StoreChanged(s notification.Snapshot) { f.send(snapshotMsg{snapshot: s}) }

// StateChanged is a connection OnStateChange handler.
func (f *Feed) StateChanged(c push.StateChange) { f.send(stateMsg{change: c}) }

// Close releases blocked senders. Events sent afterwards are dropped.
func (f *Feed) Close() {
	f.closeOnce.Do(func() { close(f.done) })
}

// Wait returns a command that blocks until the next event.
func (f *Feed) Wait() tea.Cmd {
	return func() tea.Msg {
		select {
		case msg := <-f.ch:
			return msg
		case <-f.done:
			return feedClosedMsg{}
		}
	}
}

var _ notification.Alerter = (*Feed)(nil)
