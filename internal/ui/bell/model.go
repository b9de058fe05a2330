// Package bell is the terminal notification bell: the recent list with an
// unread badge, the connection state, transient toasts and the persistent
// unavailable banner.
package bell

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"campusdesk.io/notify/internal/notification"
	"campusdesk.io/notify/internal/push"
)

// Actions are the user operations the bell can trigger.
type Actions interface {
	MarkRead(id notification.ID)
	MarkAllRead()
	Delete(id notification.ID)
	Refresh(ctx context.Context) error
}

// Describer renders a notification for display.
type Describer interface {
	Describe(n notification.Notification) notification.View
}

const (
	clockInterval  = 30 * time.Second
	refreshTimeout = 30 * time.Second
	maxToasts      = 3
)

type expireMsg struct{ seq int }

type clockMsg struct{}

type refreshedMsg struct{ err error }

type toastEntry struct {
	seq   int
	toast notification.Toast
}

// Model is the bell's Bubble Tea model.
type Model struct {
	feed     *Feed
	actions  Actions
	describe Describer
	keys     KeyMap
	help     help.Model
	title    string

	items    []notification.Notification
	unread   int
	state    push.State
	attempts int
	toasts   []toastEntry
	nextSeq  int
	banner   *notification.Banner
	cursor   int
	showHelp bool
	width    int
}

// New creates the bell model. initial and state seed the first frame
// before any event arrives.
func New(feed *Feed, actions Actions, describe Describer, title string, initial notification.Snapshot, state push.State) Model {
	return Model{
		feed:     feed,
		actions:  actions,
		describe: describe,
		keys:     DefaultKeyMap(),
		help:     help.New(),
		title:    title,
		items:    initial.Items,
		unread:   initial.Unread,
		state:    state,
		width:    80,
	}
}

// Init starts listening for client events.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.feed.Wait(), clockTick())
}

func clockTick() tea.Cmd {
	return tea.Tick(clockInterval, func(time.Time) tea.Msg { return clockMsg{} })
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.help.Width = msg.Width
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case snapshotMsg:
		m.items = msg.snapshot.Items
		m.unread = msg.snapshot.Unread
		m.clampCursor()
		return m, m.feed.Wait()

	case stateMsg:
		m.state = msg.change.To
		m.attempts = msg.change.Attempts
		return m, m.feed.Wait()

	case toastMsg:
		cmd := m.addToast(msg.toast)
		return m, tea.Batch(m.feed.Wait(), cmd)

	case bannerMsg:
		b := msg.banner
		m.banner = &b
		return m, m.feed.Wait()

	case clearBannerMsg:
		if m.banner != nil && m.banner.Key == msg.key {
			m.banner = nil
		}
		return m, m.feed.Wait()

	case feedClosedMsg:
		return m, nil

	case expireMsg:
		for i, t := range m.toasts {
			if t.seq == msg.seq {
				m.toasts = append(m.toasts[:i:i], m.toasts[i+1:]...)
				break
			}
		}
		return m, nil

	case refreshedMsg:
		if msg.err != nil {
			return m, m.addToast(notification.Toast{
				Level:    notification.LevelError,
				Icon:     "⚠️",
				Title:    "Refresh incomplete",
				Body:     msg.err.Error(),
				Duration: 5 * time.Second,
			})
		}
		return m, nil

	case clockMsg:
		return m, clockTick()
	}
	return m, nil
}

func (m *Model) addToast(t notification.Toast) tea.Cmd {
	m.nextSeq++
	seq := m.nextSeq
	m.toasts = append(m.toasts, toastEntry{seq: seq, toast: t})
	if len(m.toasts) > maxToasts {
		m.toasts = m.toasts[len(m.toasts)-maxToasts:]
	}
	d := t.Duration
	if d <= 0 {
		d = 5 * time.Second
	}
	return tea.Tick(d, func(time.Time) tea.Msg { return expireMsg{seq: seq} })
}

func (m *Model) clampCursor() {
	if m.cursor >= len(m.items) {
		m.cursor = len(m.items) - 1
	}
	if m.cursor < 0 {
		m.cursor = 0
	}
}

func (m Model) selected() (notification.Notification, bool) {
	if m.cursor < 0 || m.cursor >= len(m.items) {
		return notification.Notification{}, false
	}
	return m.items[m.cursor], true
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		m.feed.Close()
		return m, tea.Quit

	case key.Matches(msg, m.keys.Help):
		m.showHelp = !m.showHelp
		m.help.ShowAll = m.showHelp

	case key.Matches(msg, m.keys.Up):
		if m.cursor > 0 {
			m.cursor--
		}

	case key.Matches(msg, m.keys.Down):
		if m.cursor < len(m.items)-1 {
			m.cursor++
		}

	case key.Matches(msg, m.keys.MarkRead):
		if n, ok := m.selected(); ok && !n.Read {
			m.actions.MarkRead(n.ID)
		}

	case key.Matches(msg, m.keys.MarkAllRead):
		m.actions.MarkAllRead()

	case key.Matches(msg, m.keys.Delete):
		if n, ok := m.selected(); ok {
			m.actions.Delete(n.ID)
		}

	case key.Matches(msg, m.keys.OpenToast):
		m.openLatestToast()

	case key.Matches(msg, m.keys.Refresh):
		actions := m.actions
		return m, func() tea.Msg {
			ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
			defer cancel()
			return refreshedMsg{err: actions.Refresh(ctx)}
		}
	}
	return m, nil
}

// openLatestToast clicks the newest clickable toast and dismisses it.
func (m *Model) openLatestToast() {
	for i := len(m.toasts) - 1; i >= 0; i-- {
		t := m.toasts[i].toast
		if t.OnClick == nil {
			continue
		}
		m.toasts = append(m.toasts[:i:i], m.toasts[i+1:]...)
		t.OnClick()
		return
	}
}

// View renders the bell.
func (m Model) View() string {
	var b strings.Builder

	header := headerStyle.Render("🔔 " + m.title)
	if m.unread > 0 {
		header = lipgloss.JoinHorizontal(lipgloss.Center, header, " ", badgeStyle.Render(badge(m.unread)))
	}
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Center, header, "  ", m.stateLine()))
	b.WriteString("\n\n")

	if m.banner != nil {
		b.WriteString(bannerStyle.Render(m.banner.Message))
		b.WriteString("\n\n")
	}

	if len(m.items) == 0 {
		b.WriteString(dimmedStyle.Render("  No notifications"))
		b.WriteString("\n")
	}
	for i, n := range m.items {
		b.WriteString(m.renderItem(i, m.describe.Describe(n)))
		b.WriteString("\n")
	}

	for _, t := range m.toasts {
		b.WriteString("\n")
		b.WriteString(renderToast(t.toast))
	}

	b.WriteString("\n")
	b.WriteString(helpStyle.Render(m.help.View(m.keys)))
	return b.String()
}

func badge(unread int) string {
	if unread > 99 {
		return "99+"
	}
	return fmt.Sprintf("%d", unread)
}

func (m Model) stateLine() string {
	label := strings.ToLower(string(m.state))
	if m.state == push.StateReconnecting && m.attempts > 0 {
		label = fmt.Sprintf("%s (attempt %d)", label, m.attempts)
	}
	style := stateStyle(m.state == push.StateConnected, m.state == push.StateFailed)
	return style.Render("● " + label)
}

func (m Model) renderItem(i int, v notification.View) string {
	mark := " "
	if v.Unread {
		mark = unreadMarkStyle.Render("•")
	}
	line := fmt.Sprintf("%s %s %s  %s", mark, v.Icon, v.Title, dimmedStyle.Render(v.When))
	if v.Message != "" {
		line += "\n    " + dimmedStyle.Render(v.Message)
	}
	if i == m.cursor {
		return selectedItemStyle.Render(line)
	}
	return itemStyle.Render(line)
}

func renderToast(t notification.Toast) string {
	text := fmt.Sprintf("%s %s", t.Icon, t.Title)
	if t.Body != "" {
		text += "\n" + t.Body
	}
	if t.Level == notification.LevelError {
		return errorToastStyle.Render(text)
	}
	if t.OnClick != nil {
		text += "\n" + dimmedStyle.Render("o to open")
	}
	return toastStyle.Render(text)
}
