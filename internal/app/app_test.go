package app

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campusdesk.io/notify/internal/auth"
	"campusdesk.io/notify/internal/config"
	"campusdesk.io/notify/internal/notification"
	apperrors "campusdesk.io/notify/internal/pkg/errors"
	"campusdesk.io/notify/internal/pkg/logger"
	"campusdesk.io/notify/internal/push"
	"campusdesk.io/notify/internal/testutil"
)

const (
	waitFor = 3 * time.Second
	tick    = 10 * time.Millisecond

	markReadRoute = "PUT /api/notifications/:id/read"
	recentRoute   = "GET /api/notifications/recent"
)

func init() {
	_ = logger.Init("error", "json")
}

type recordingAlerter struct {
	mu      sync.Mutex
	toasts  []notification.Toast
	banners map[string]string
}

func (r *recordingAlerter) ShowToast(t notification.Toast) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.toasts = append(r.toasts, t)
}

func (r *recordingAlerter) ShowBanner(b notification.Banner) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.banners == nil {
		r.banners = map[string]string{}
	}
	r.banners[b.Key] = b.Message
}

func (r *recordingAlerter) ClearBanner(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.banners, key)
}

func (r *recordingAlerter) toastList() []notification.Toast {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notification.Toast(nil), r.toasts...)
}

func (r *recordingAlerter) banner(key string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	msg, ok := r.banners[key]
	return msg, ok
}

func testConfig(b *testutil.Backend) *config.Config {
	return &config.Config{
		API: b.APIConfig(),
		Push: config.PushConfig{
			URL:                  b.WSURL(),
			Heartbeat:            4 * time.Second,
			ReconnectDelay:       5 * time.Millisecond,
			MaxReconnectDelay:    20 * time.Millisecond,
			BackoffFactor:        2,
			Jitter:               0.2,
			MaxReconnectAttempts: 5,
			PrivateDestination:   "/user/{userId}/queue/notifications",
			BroadcastDestination: "/topic/notifications",
			UnsubscribeTimeout:   time.Second,
		},
		Store:  config.StoreConfig{RecentWindow: 10},
		Alert:  config.AlertConfig{ToastDuration: time.Second},
		Worker: config.WorkerConfig{GeneralPoolSize: 4, PushPoolSize: 8},
	}
}

func seeded(id string, age time.Duration, read bool) notification.Notification {
	return notification.Notification{
		ID:        notification.ID(id),
		Type:      notification.TypeGeneral,
		Title:     "Notice " + id,
		CreatedAt: notification.Timestamp{Time: time.Now().Add(-age).UTC().Truncate(time.Second)},
		Read:      read,
	}
}

func signedIn(t *testing.T) (*Application, *testutil.Backend, *recordingAlerter) {
	t.Helper()
	b := testutil.NewBackend(t)
	b.Seed("42",
		seeded("1", 3*time.Hour, true),
		seeded("2", 2*time.Hour, false),
		seeded("3", time.Hour, false),
	)

	alerter := &recordingAlerter{}
	a, err := Bootstrap(context.Background(), testConfig(b), alerter)
	require.NoError(t, err)
	t.Cleanup(a.Shutdown)

	id, err := a.SignIn(context.Background(), b.MintToken("42", "ada", auth.RoleStudent))
	require.NoError(t, err)
	require.Equal(t, "42", id.UserID)

	require.Eventually(t, func() bool {
		return a.Push.State() == push.StateConnected && b.Subscribers(testutil.PrivateDestination("42")) == 1
	}, waitFor, tick)
	return a, b, alerter
}

func TestApplication_PushThenMarkRead(t *testing.T) {
	a, b, alerter := signedIn(t)

	require.Equal(t, 2, a.Store.UnreadCount())
	require.Len(t, a.Store.Items(), 3)

	b.PushToUser("42", seeded("7", 0, false))

	require.Eventually(t, func() bool {
		items := a.Store.Items()
		return len(items) == 4 && items[0].ID == "7"
	}, waitFor, tick)
	assert.Equal(t, 3, a.Store.UnreadCount(), "server count plus one")

	toasts := alerter.toastList()
	require.Len(t, toasts, 1)
	assert.Equal(t, notification.ID("7"), toasts[0].NotificationID)
	assert.Equal(t, "📢", toasts[0].Icon)

	a.MarkRead("7")
	require.Eventually(t, func() bool { return a.Store.UnreadCount() == 2 }, waitFor, tick)
	require.Eventually(t, func() bool { return b.Calls(markReadRoute) == 1 }, waitFor, tick)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, b.Calls(markReadRoute), "exactly one REST call")
	assert.True(t, a.Store.Items()[0].Read)
	assert.True(t, b.Inbox("42")[0].Read, "server sees the notification read")
}

func TestApplication_ToastClickMarksRead(t *testing.T) {
	a, b, alerter := signedIn(t)

	b.PushToUser("42", seeded("9", 0, false))
	require.Eventually(t, func() bool { return len(alerter.toastList()) == 1 }, waitFor, tick)

	alerter.toastList()[0].OnClick()

	require.Eventually(t, func() bool { return b.Calls(markReadRoute) == 1 }, waitFor, tick)
	assert.Equal(t, 2, a.Store.UnreadCount())
}

func TestApplication_DuplicatePushIsIgnored(t *testing.T) {
	a, b, alerter := signedIn(t)

	n := seeded("11", 0, false)
	b.PushToUser("42", n)
	b.Broadcast(n)

	require.Eventually(t, func() bool { return a.Store.UnreadCount() == 3 }, waitFor, tick)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 3, a.Store.UnreadCount())
	assert.Len(t, alerter.toastList(), 1)
}

func TestApplication_FailedMutationReconciles(t *testing.T) {
	a, b, alerter := signedIn(t)
	syncsBefore := b.Calls(recentRoute)

	b.FailMutations(true)
	a.Delete("3")

	require.Eventually(t, func() bool {
		for _, toast := range alerter.toastList() {
			if toast.Level == notification.LevelError {
				return true
			}
		}
		return false
	}, waitFor, tick)
	require.Eventually(t, func() bool { return b.Calls(recentRoute) > syncsBefore }, waitFor, tick)

	require.Eventually(t, func() bool {
		for _, n := range a.Store.Items() {
			if n.ID == "3" {
				return true
			}
		}
		return false
	}, waitFor, tick, "the re-sync restores what the server kept")
	assert.Equal(t, 2, a.Store.UnreadCount())
}

func TestApplication_UnavailableBannerAndRefresh(t *testing.T) {
	a, b, alerter := signedIn(t)

	b.RejectDials(true)
	b.DropConnections()

	require.Eventually(t, func() bool { return a.Push.State() == push.StateFailed }, waitFor, tick)
	msg, ok := alerter.banner(notification.BannerUnavailable)
	require.True(t, ok)
	assert.Equal(t, notification.UnavailableMessage, msg)

	b.RejectDials(false)
	require.NoError(t, a.Refresh(context.Background()))

	require.Eventually(t, func() bool { return a.Push.State() == push.StateConnected }, waitFor, tick)
	require.Eventually(t, func() bool {
		_, shown := alerter.banner(notification.BannerUnavailable)
		return !shown
	}, waitFor, tick)
}

func TestApplication_SignOut(t *testing.T) {
	a, b, _ := signedIn(t)

	a.SignOut()

	assert.Nil(t, a.Identity())
	assert.Equal(t, push.StateDisconnected, a.Push.State())
	assert.Empty(t, a.Store.Items())
	assert.Equal(t, 0, a.Store.UnreadCount())
	require.Eventually(t, func() bool { return b.Subscribers(testutil.PrivateDestination("42")) == 0 }, waitFor, tick)

	err := a.Refresh(context.Background())
	assert.Equal(t, apperrors.CodeUnauthorized, apperrors.CodeOf(err))
}

func TestApplication_SignInRejectsBadToken(t *testing.T) {
	b := testutil.NewBackend(t)
	a, err := Bootstrap(context.Background(), testConfig(b), &recordingAlerter{})
	require.NoError(t, err)
	t.Cleanup(a.Shutdown)

	_, err = a.SignIn(context.Background(), "garbage")
	assert.Equal(t, apperrors.CodeTokenInvalid, apperrors.CodeOf(err))
	assert.Nil(t, a.Identity())
	assert.Equal(t, push.StateDisconnected, a.Push.State())
}
