package notification

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"campusdesk.io/notify/internal/pkg/logger"
)

// DefaultIcon is shown for types the client does not know yet.
const DefaultIcon = "🔔"

var icons = map[Type]string{
	TypeTaskAssigned:       "📝",
	TypeSubmissionReceived: "📥",
	TypeSubmissionGraded:   "✅",
	TypeAttendanceMarked:   "📋",
	TypeFeedbackReceived:   "💬",
	TypeResourceAdded:      "📚",
	TypeLiveClassScheduled: "🎥",
	TypeDeadlineReminder:   "⏰",
	TypeGeneral:            "📢",
}

// IconFor returns the glyph for t, or DefaultIcon for unknown types.
func IconFor(t Type) string {
	if icon, ok := icons[t]; ok {
		return icon
	}
	return DefaultIcon
}

// AbsoluteDateLayout renders timestamps older than a week.
const AbsoluteDateLayout = "Jan 2, 2006"

// RelativeTime renders createdAt relative to now. Every step truncates:
// 59m59s is "59m ago", not "1h ago". Timestamps in the future (clock skew)
// read as "Just now".
func RelativeTime(createdAt, now time.Time) string {
	d := now.Sub(createdAt)
	switch {
	case d < time.Minute:
		return "Just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d/time.Minute))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d/time.Hour))
	case d < 7*24*time.Hour:
		return fmt.Sprintf("%dd ago", int(d/(24*time.Hour)))
	default:
		return createdAt.In(now.Location()).Format(AbsoluteDateLayout)
	}
}

// Level classifies a toast.
type Level int

const (
	LevelInfo Level = iota
	LevelError
)

// Toast is a short-lived, dismissible alert. OnClick may be nil.
type Toast struct {
	NotificationID ID
	Level          Level
	Icon           string
	Title          string
	Body           string
	When           string
	Duration       time.Duration
	OnClick        func()
}

// BannerUnavailable keys the persistent push-unavailable banner.
const BannerUnavailable = "push-unavailable"

// UnavailableMessage is the text of the persistent push-unavailable banner.
const UnavailableMessage = "Real-time notifications unavailable; refresh to retry."

// Banner is a persistent alert that stays until cleared by key.
type Banner struct {
	Key     string
	Message string
}

// Alerter is the UI surface alerts are drawn on.
type Alerter interface {
	ShowToast(t Toast)
	ShowBanner(b Banner)
	ClearBanner(key string)
}

// View is the display form of a notification.
type View struct {
	ID      ID
	Icon    string
	Title   string
	Message string
	When    string
	Unread  bool
}

// PresenterOptions tunes toast behaviour.
type PresenterOptions struct {
	ToastDuration time.Duration
	// RatePerSecond and Burst throttle notification toasts. Error toasts are
	// never throttled. Zero RatePerSecond disables throttling.
	RatePerSecond float64
	Burst         int
	// Now overrides the clock; nil means time.Now.
	Now func() time.Time
}

// Presenter maps notifications to display attributes and raises alerts.
// It holds no notification state.
type Presenter struct {
	alerter  Alerter
	limiter  *rate.Limiter
	duration time.Duration
	now      func() time.Time

	mu     sync.RWMutex
	onOpen func(id ID)
}

// NewPresenter creates a Presenter drawing on alerter.
func NewPresenter(alerter Alerter, opts PresenterOptions) *Presenter {
	p := &Presenter{
		alerter:  alerter,
		duration: opts.ToastDuration,
		now:      opts.Now,
	}
	if p.duration <= 0 {
		p.duration = 5 * time.Second
	}
	if p.now == nil {
		p.now = time.Now
	}
	if opts.RatePerSecond > 0 {
		burst := opts.Burst
		if burst < 1 {
			burst = 1
		}
		p.limiter = rate.NewLimiter(rate.Limit(opts.RatePerSecond), burst)
	}
	return p
}

// OnOpen sets the action run when a notification toast is clicked,
// normally marking that notification read.
func (p *Presenter) OnOpen(fn func(id ID)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onOpen = fn
}

// Describe returns the display attributes of n.
func (p *Presenter) Describe(n Notification) View {
	return View{
		ID:      n.ID,
		Icon:    IconFor(n.Type),
		Title:   n.Title,
		Message: n.Message,
		When:    RelativeTime(n.CreatedAt.Time, p.now()),
		Unread:  !n.Read,
	}
}

// ShowTransientAlert raises a clickable toast for n. It reports false when
// the toast was dropped by the rate limiter.
func (p *Presenter) ShowTransientAlert(n Notification) bool {
	if p.limiter != nil && !p.limiter.Allow() {
		logger.Debug("toast throttled", zap.String("notification_id", string(n.ID)))
		return false
	}

	id := n.ID
	v := p.Describe(n)
	p.alerter.ShowToast(Toast{
		NotificationID: id,
		Level:          LevelInfo,
		Icon:           v.Icon,
		Title:          v.Title,
		Body:           v.Message,
		When:           v.When,
		Duration:       p.duration,
		OnClick: func() {
			p.mu.RLock()
			open := p.onOpen
			p.mu.RUnlock()
			if open != nil {
				open(id)
			}
		},
	})
	return true
}

// ShowError raises an error toast for a failed user action.
func (p *Presenter) ShowError(title string, err error) {
	p.alerter.ShowToast(Toast{
		Level:    LevelError,
		Icon:     "⚠️",
		Title:    title,
		Body:     err.Error(),
		Duration: p.duration,
	})
}

// ShowUnavailable raises the persistent push-unavailable banner.
func (p *Presenter) ShowUnavailable() {
	p.alerter.ShowBanner(Banner{Key: BannerUnavailable, Message: UnavailableMessage})
}

// ClearUnavailable removes the push-unavailable banner.
func (p *Presenter) ClearUnavailable() {
	p.alerter.ClearBanner(BannerUnavailable)
}
