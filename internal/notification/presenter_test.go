package notification

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingAlerter struct {
	toasts  []Toast
	banners map[string]string
}

func (r *recordingAlerter) ShowToast(t Toast) { r.toasts = append(r.toasts, t) }

func (r *recordingAlerter) ShowBanner(b Banner) {
	if r.banners == nil {
		r.banners = map[string]string{}
	}
	r.banners[b.Key] = b.Message
}

func (r *recordingAlerter) ClearBanner(key string) { delete(r.banners, key) }

func TestIconFor(t *testing.T) {
	seen := map[string]Type{}
	for _, typ := range Types {
		icon := IconFor(typ)
		if icon == "" {
			t.Errorf("IconFor(%s) is empty", typ)
		}
		if prev, dup := seen[icon]; dup {
			t.Errorf("IconFor(%s) = %s, same as %s", typ, icon, prev)
		}
		seen[icon] = typ
	}

	for _, unknown := range []Type{"", "EXAM_PUBLISHED", "task_assigned", "🤖"} {
		if got := IconFor(unknown); got != DefaultIcon {
			t.Errorf("IconFor(%q) = %q, want %q", unknown, got, DefaultIcon)
		}
	}
}

func TestRelativeTime(t *testing.T) {
	now := time.Date(2025, 9, 10, 15, 30, 0, 0, time.UTC)

	tests := []struct {
		name string
		ago  time.Duration
		want string
	}{
		{"now", 0, "Just now"},
		{"59 seconds", 59 * time.Second, "Just now"},
		{"future timestamp", -2 * time.Minute, "Just now"},
		{"exactly one minute", time.Minute, "1m ago"},
		{"90 seconds", 90 * time.Second, "1m ago"},
		{"59.9 minutes truncates", 59*time.Minute + 54*time.Second, "59m ago"},
		{"one hour", time.Hour, "1h ago"},
		{"3661 seconds", 3661 * time.Second, "1h ago"},
		{"23h59m", 23*time.Hour + 59*time.Minute, "23h ago"},
		{"one day", 24 * time.Hour, "1d ago"},
		{"six days and change", 6*24*time.Hour + 23*time.Hour, "6d ago"},
		{"seven days", 7 * 24 * time.Hour, "Sep 3, 2025"},
		{"eight days", 8 * 24 * time.Hour, "Sep 2, 2025"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RelativeTime(now.Add(-tt.ago), now); got != tt.want {
				t.Errorf("RelativeTime(now-%v) = %q, want %q", tt.ago, got, tt.want)
			}
		})
	}
}

func TestPresenter_ToastClickOpensNotification(t *testing.T) {
	now := time.Date(2025, 9, 10, 15, 30, 0, 0, time.UTC)
	alerter := &recordingAlerter{}
	p := NewPresenter(alerter, PresenterOptions{ToastDuration: time.Second, Now: func() time.Time { return now }})

	var opened []ID
	p.OnOpen(func(id ID) { opened = append(opened, id) })

	n := Notification{ID: "7", Type: TypeTaskAssigned, Title: "New Task", Message: "Essay due", CreatedAt: Timestamp{now.Add(-2 * time.Minute)}}
	require.True(t, p.ShowTransientAlert(n))
	require.Len(t, alerter.toasts, 1)

	toast := alerter.toasts[0]
	assert.Equal(t, "📝", toast.Icon)
	assert.Equal(t, "New Task", toast.Title)
	assert.Equal(t, "2m ago", toast.When)
	assert.Equal(t, time.Second, toast.Duration)
	assert.Equal(t, LevelInfo, toast.Level)

	toast.OnClick()
	assert.Equal(t, []ID{"7"}, opened)
}

func TestPresenter_ThrottlesNotificationToastsOnly(t *testing.T) {
	alerter := &recordingAlerter{}
	p := NewPresenter(alerter, PresenterOptions{RatePerSecond: 0.001, Burst: 2})

	shown := 0
	for i := 0; i < 5; i++ {
		if p.ShowTransientAlert(Notification{ID: ID(string(rune('a' + i)))}) {
			shown++
		}
	}
	assert.Equal(t, 2, shown)

	p.ShowError("Could not mark as read", errors.New("503"))
	require.Len(t, alerter.toasts, 3)
	assert.Equal(t, LevelError, alerter.toasts[2].Level)
	assert.Nil(t, alerter.toasts[2].OnClick)
}

func TestPresenter_UnavailableBanner(t *testing.T) {
	alerter := &recordingAlerter{}
	p := NewPresenter(alerter, PresenterOptions{})

	p.ShowUnavailable()
	assert.Equal(t, UnavailableMessage, alerter.banners[BannerUnavailable])

	p.ClearUnavailable()
	assert.Empty(t, alerter.banners)
}

func TestPresenter_Describe(t *testing.T) {
	now := time.Date(2025, 9, 10, 15, 30, 0, 0, time.UTC)
	p := NewPresenter(&recordingAlerter{}, PresenterOptions{Now: func() time.Time { return now }})

	v := p.Describe(Notification{ID: "3", Type: "SOMETHING_NEW", Title: "t", CreatedAt: Timestamp{now.Add(-3 * time.Hour)}})
	assert.Equal(t, DefaultIcon, v.Icon)
	assert.Equal(t, "3h ago", v.When)
	assert.True(t, v.Unread)
}
