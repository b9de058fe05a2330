package bell

import (
	"context"
	"errors"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campusdesk.io/notify/internal/notification"
	"campusdesk.io/notify/internal/push"
)

type fakeActions struct {
	read       []notification.ID
	deleted    []notification.ID
	allRead    int
	refreshErr error
	refreshed  int
}

func (f *fakeActions) MarkRead(id notification.ID) { f.read = append(f.read, id) }
func (f *fakeActions) MarkAllRead()                { f.allRead++ }
func (f *fakeActions) Delete(id notification.ID)   { f.deleted = append(f.deleted, id) }
func (f *fakeActions) Refresh(context.Context) error {
	f.refreshed++
	return f.refreshErr
}

var now = time.Date(2025, 9, 10, 12, 0, 0, 0, time.UTC)

func item(id string, read bool, age time.Duration) notification.Notification {
	return notification.Notification{
		ID:        notification.ID(id),
		Type:      notification.TypeTaskAssigned,
		Title:     "Task " + id,
		Message:   "Details for " + id,
		CreatedAt: notification.Timestamp{Time: now.Add(-age)},
		Read:      read,
	}
}

func newModel(t *testing.T, actions *fakeActions) Model {
	t.Helper()
	presenter := notification.NewPresenter(notification.LogAlerter{}, notification.PresenterOptions{
		Now: func() time.Time { return now },
	})
	feed := NewFeed()
	t.Cleanup(feed.Close)
	return New(feed, actions, presenter, "Notifications", notification.Snapshot{
		Items:  []notification.Notification{item("2", false, 5*time.Minute), item("1", true, 2*time.Hour)},
		Unread: 1,
	}, push.StateConnecting)
}

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	bm, ok := next.(Model)
	require.True(t, ok)
	return bm, cmd
}

func runes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestMarkReadSelected(t *testing.T) {
	actions := &fakeActions{}
	m := newModel(t, actions)

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	assert.Equal(t, []notification.ID{"2"}, actions.read)

	// The second entry is already read.
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyDown})
	_, _ = update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	assert.Equal(t, []notification.ID{"2"}, actions.read)
}

func TestCursorBounds(t *testing.T) {
	m := newModel(t, &fakeActions{})

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyUp})
	assert.Equal(t, 0, m.cursor)

	m, _ = update(t, m, runes("j"))
	m, _ = update(t, m, runes("j"))
	assert.Equal(t, 1, m.cursor)

	m, _ = update(t, m, snapshotMsg{snapshot: notification.Snapshot{
		Items: []notification.Notification{item("3", false, 0)},
	}})
	assert.Equal(t, 0, m.cursor)
}

func TestDeleteAndMarkAll(t *testing.T) {
	actions := &fakeActions{}
	m := newModel(t, actions)

	m, _ = update(t, m, runes("j"))
	m, _ = update(t, m, runes("d"))
	_, _ = update(t, m, runes("a"))

	assert.Equal(t, []notification.ID{"1"}, actions.deleted)
	assert.Equal(t, 1, actions.allRead)
}

func TestSnapshotUpdatesBadge(t *testing.T) {
	m := newModel(t, &fakeActions{})

	m, cmd := update(t, m, snapshotMsg{snapshot: notification.Snapshot{
		Items:  []notification.Notification{item("3", false, 30*time.Second), item("2", false, 5*time.Minute)},
		Unread: 120,
	}})
	assert.NotNil(t, cmd)
	assert.Equal(t, 120, m.unread)

	view := m.View()
	assert.Contains(t, view, "99+")
	assert.Contains(t, view, "Task 3")
	assert.Contains(t, view, "Just now")
	assert.Contains(t, view, "5m ago")
}

func TestOpenLatestToast(t *testing.T) {
	m := newModel(t, &fakeActions{})

	var opened []string
	m, _ = update(t, m, toastMsg{toast: notification.Toast{
		NotificationID: "7", Title: "First", OnClick: func() { opened = append(opened, "7") },
	}})
	m, _ = update(t, m, toastMsg{toast: notification.Toast{
		NotificationID: "8", Title: "Second", OnClick: func() { opened = append(opened, "8") },
	}})
	m, _ = update(t, m, toastMsg{toast: notification.Toast{
		Level: notification.LevelError, Title: "Could not delete",
	}})
	require.Len(t, m.toasts, 3)

	m, _ = update(t, m, runes("o"))
	assert.Equal(t, []string{"8"}, opened)
	assert.Len(t, m.toasts, 2)

	m, _ = update(t, m, runes("o"))
	m, _ = update(t, m, runes("o"))
	assert.Equal(t, []string{"8", "7"}, opened)
	require.Len(t, m.toasts, 1)
	assert.Equal(t, notification.LevelError, m.toasts[0].toast.Level)
}

func TestToastExpires(t *testing.T) {
	m := newModel(t, &fakeActions{})

	m, _ = update(t, m, toastMsg{toast: notification.Toast{Title: "Hello", Duration: time.Second}})
	require.Len(t, m.toasts, 1)
	seq := m.toasts[0].seq

	m, _ = update(t, m, expireMsg{seq: seq + 1})
	assert.Len(t, m.toasts, 1)

	m, _ = update(t, m, expireMsg{seq: seq})
	assert.Empty(t, m.toasts)
}

func TestToastsAreCapped(t *testing.T) {
	m := newModel(t, &fakeActions{})
	for i := 0; i < maxToasts+2; i++ {
		m, _ = update(t, m, toastMsg{toast: notification.Toast{Title: "t"}})
	}
	assert.Len(t, m.toasts, maxToasts)
	assert.Equal(t, maxToasts+2, m.toasts[len(m.toasts)-1].seq)
}

func TestBanner(t *testing.T) {
	m := newModel(t, &fakeActions{})

	m, _ = update(t, m, stateMsg{change: push.StateChange{From: push.StateReconnecting, To: push.StateFailed, Attempts: 5}})
	m, _ = update(t, m, bannerMsg{banner: notification.Banner{
		Key: notification.BannerUnavailable, Message: notification.UnavailableMessage,
	}})
	assert.Contains(t, m.View(), notification.UnavailableMessage)
	assert.Contains(t, m.View(), "failed")

	m, _ = update(t, m, clearBannerMsg{key: "other"})
	require.NotNil(t, m.banner)

	m, _ = update(t, m, clearBannerMsg{key: notification.BannerUnavailable})
	assert.Nil(t, m.banner)
	assert.NotContains(t, m.View(), notification.UnavailableMessage)
}

func TestRefresh(t *testing.T) {
	actions := &fakeActions{refreshErr: errors.New("backend down")}
	m := newModel(t, actions)

	m, cmd := update(t, m, runes("r"))
	require.NotNil(t, cmd)
	msg := cmd()
	assert.Equal(t, 1, actions.refreshed)

	m, _ = update(t, m, msg)
	require.Len(t, m.toasts, 1)
	assert.Equal(t, notification.LevelError, m.toasts[0].toast.Level)
	assert.Equal(t, "backend down", m.toasts[0].toast.Body)
}

func TestQuitClosesFeed(t *testing.T) {
	m := newModel(t, &fakeActions{})

	_, cmd := update(t, m, runes("q"))
	require.NotNil(t, cmd)
	assert.Equal(t, tea.QuitMsg{}, cmd())

	assert.Equal(t, feedClosedMsg{}, m.feed.Wait()())
}

func TestFeed(t *testing.T) {
	f := NewFeed()

	f.ShowToast(notification.Toast{Title: "hi"})
	f.StateChanged(push.StateChange{To: push.StateConnected})
	f.ClearBanner(notification.BannerUnavailable)

	assert.Equal(t, toastMsg{toast: notification.Toast{Title: "hi"}}, f.Wait()())
	assert.Equal(t, stateMsg{change: push.StateChange{To: push.StateConnected}}, f.Wait()())
	assert.Equal(t, clearBannerMsg{key: notification.BannerUnavailable}, f.Wait()())

	f.Close()
	f.Close()
	for i := 0; i < feedBuffer+1; i++ {
		f.StoreChanged(notification.Snapshot{})
	}
}
