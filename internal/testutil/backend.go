// Package testutil provides an in-process Campus Desk backend for tests:
// the notification REST API and a STOMP-over-WebSocket broker, both behind
// JWT bearer authentication.
package testutil

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"campusdesk.io/notify/internal/config"
	"campusdesk.io/notify/internal/notification"
)

const (
	apiPath           = "/api/notifications"
	wsPath            = "/ws"
	recentLimit       = 10
	broadcastDest     = "/topic/notifications"
	privateDestFormat = "/user/%s/queue/notifications"
)

// Backend is a fake notification backend served over httptest.
type Backend struct {
	server     *httptest.Server
	signingKey []byte

	mu    sync.Mutex
	inbox map[string][]notification.Notification // per user, newest first
	calls map[string]int

	failMutations atomic.Bool
	rejectDials   atomic.Bool
	dials         atomic.Int32

	broker *broker
}

// NewBackend starts a Backend and stops it when the test ends.
func NewBackend(t testing.TB) *Backend {
	t.Helper()
	gin.SetMode(gin.TestMode)

	b := &Backend{
		signingKey: []byte("test-signing-key-" + uuid.NewString()),
		inbox:      make(map[string][]notification.Notification),
		calls:      make(map[string]int),
		broker:     newBroker(),
	}
	b.server = httptest.NewServer(b.router())
	t.Cleanup(b.Close)
	return b
}

func (b *Backend) router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET(wsPath, b.serveWS)

	api := r.Group(apiPath, b.countCalls(), b.jwtAuth())
	api.GET("/recent", b.recent)
	api.GET("/unread-count", b.unreadCount)
	for _, method := range []string{http.MethodPut, http.MethodPost} {
		api.Handle(method, "/read-all", b.markAllRead)
		api.Handle(method, "/:id/read", b.markRead)
	}
	api.DELETE("/:id", b.delete)
	return r
}

// Close drops broker connections and stops the server.
func (b *Backend) Close() {
	b.broker.dropAll()
	b.server.Close()
}

// URL is the server base URL.
func (b *Backend) URL() string { return b.server.URL }

// WSURL is the push endpoint.
func (b *Backend) WSURL() string {
	return "ws" + strings.TrimPrefix(b.server.URL, "http") + wsPath
}

// APIConfig returns client settings pointing at b.
func (b *Backend) APIConfig() config.APIConfig {
	return config.APIConfig{
		BaseURL:        b.server.URL,
		Path:           apiPath,
		Timeout:        5 * time.Second,
		MaxRetries:     1,
		MutationMethod: http.MethodPut,
	}
}

// Seed stores items for userID, newest first.
func (b *Backend) Seed(userID string, items ...notification.Notification) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.inbox[userID] = append(b.inbox[userID], items...)
	sortNewestFirst(b.inbox[userID])
}

// Inbox returns a copy of the stored notifications of userID.
func (b *Backend) Inbox(userID string) []notification.Notification {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.inbox[userID])
}

// Calls returns how often a route was hit, keyed "METHOD /route/:param".
func (b *Backend) Calls(key string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[key]
}

// FailMutations makes mark-read, mark-all-read and delete answer 503.
func (b *Backend) FailMutations(fail bool) { b.failMutations.Store(fail) }

// RejectDials makes the push endpoint refuse WebSocket upgrades.
func (b *Backend) RejectDials(reject bool) { b.rejectDials.Store(reject) }

// SilentConnect makes the push endpoint accept the WebSocket upgrade but
// never answer the STOMP CONNECT frame.
func (b *Backend) SilentConnect(silent bool) { b.broker.silentConnect.Store(silent) }

// AdvertiseHeartbeat makes the broker promise server heart-beats every d on
// later connections, which it then never sends. Zero declines heart-beating.
func (b *Backend) AdvertiseHeartbeat(d time.Duration) { b.broker.setHeartbeat(d) }

// Dials returns the number of push upgrade attempts so far.
func (b *Backend) Dials() int { return int(b.dials.Load()) }

// PushToUser stores n for userID and delivers it on the user's private queue.
func (b *Backend) PushToUser(userID string, n notification.Notification) int {
	b.Seed(userID, n)
	return b.broker.publish(fmt.Sprintf(privateDestFormat, userID), n)
}

// Broadcast delivers n on the broadcast topic without storing it.
func (b *Backend) Broadcast(n notification.Notification) int {
	return b.broker.publish(broadcastDest, n)
}

// Subscribers returns how many live subscriptions target dest.
func (b *Backend) Subscribers(dest string) int {
	return b.broker.subscribers(dest)
}

// PrivateDestination returns the private queue of userID.
func PrivateDestination(userID string) string {
	return fmt.Sprintf(privateDestFormat, userID)
}

// DropConnections closes every push connection as a network failure would.
func (b *Backend) DropConnections() {
	b.broker.dropAll()
}

func (b *Backend) countCalls() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.Request.Method + " " + c.FullPath()
		b.mu.Lock()
		b.calls[key]++
		b.mu.Unlock()
		c.Next()
	}
}

func (b *Backend) recent(c *gin.Context) {
	userID := c.GetString(ctxUserID)
	b.mu.Lock()
	items := slices.Clone(b.inbox[userID])
	b.mu.Unlock()

	if len(items) > recentLimit {
		items = items[:recentLimit]
	}
	if items == nil {
		items = []notification.Notification{}
	}
	c.JSON(http.StatusOK, items)
}

func (b *Backend) unreadCount(c *gin.Context) {
	userID := c.GetString(ctxUserID)
	b.mu.Lock()
	count := 0
	for _, n := range b.inbox[userID] {
		if !n.Read {
			count++
		}
	}
	b.mu.Unlock()
	c.JSON(http.StatusOK, count)
}

func (b *Backend) markRead(c *gin.Context) {
	if b.rejectMutation(c) {
		return
	}
	userID, id := c.GetString(ctxUserID), notification.ID(c.Param("id"))

	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.inbox[userID] {
		if b.inbox[userID][i].ID == id {
			b.inbox[userID][i].Read = true
			c.Status(http.StatusNoContent)
			return
		}
	}
	c.JSON(http.StatusNotFound, gin.H{"code": "NOTIFICATION_NOT_FOUND"})
}

func (b *Backend) markAllRead(c *gin.Context) {
	if b.rejectMutation(c) {
		return
	}
	userID := c.GetString(ctxUserID)

	b.mu.Lock()
	for i := range b.inbox[userID] {
		b.inbox[userID][i].Read = true
	}
	b.mu.Unlock()
	c.Status(http.StatusNoContent)
}

func (b *Backend) delete(c *gin.Context) {
	if b.rejectMutation(c) {
		return
	}
	userID, id := c.GetString(ctxUserID), notification.ID(c.Param("id"))

	b.mu.Lock()
	defer b.mu.Unlock()
	items := b.inbox[userID]
	for i := range items {
		if items[i].ID == id {
			b.inbox[userID] = slices.Delete(items, i, i+1)
			c.Status(http.StatusNoContent)
			return
		}
	}
	c.JSON(http.StatusNotFound, gin.H{"code": "NOTIFICATION_NOT_FOUND"})
}

func (b *Backend) rejectMutation(c *gin.Context) bool {
	if !b.failMutations.Load() {
		return false
	}
	c.JSON(http.StatusServiceUnavailable, gin.H{"code": "SERVICE_UNAVAILABLE"})
	return true
}

func sortNewestFirst(items []notification.Notification) {
	slices.SortStableFunc(items, func(a, b notification.Notification) int {
		return b.CreatedAt.Compare(a.CreatedAt.Time)
	})
}
