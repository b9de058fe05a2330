package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-stomp/stomp/v3/frame"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"campusdesk.io/notify/internal/notification"
	"campusdesk.io/notify/internal/push"
)

var upgrader = websocket.Upgrader{
	Subprotocols: []string{"v12.stomp", "v11.stomp"},
	CheckOrigin:  func(*http.Request) bool { return true },
}

// broker is a minimal STOMP 1.2 broker: it answers CONNECT, tracks
// subscriptions, acknowledges receipts and fans MESSAGE frames out.
// It never sends heart-beats. By default it declines heart-beating; when
// heartbeat is set it promises server heart-beats at that interval and
// then stays silent.
type broker struct {
	mu    sync.Mutex
	conns map[*brokerConn]struct{}

	silentConnect atomic.Bool
	heartbeat     atomic.Int64 // milliseconds
}

type brokerConn struct {
	rwc *push.WSConn
	wmu sync.Mutex
	w   *frame.Writer

	mu   sync.Mutex
	subs map[string]string // subscription id → destination
}

func newBroker() *broker {
	return &broker{conns: make(map[*brokerConn]struct{})}
}

func (b *Backend) serveWS(c *gin.Context) {
	b.dials.Add(1)
	if b.rejectDials.Load() {
		c.AbortWithStatus(http.StatusServiceUnavailable)
		return
	}
	if _, err := b.verify(c.GetHeader("Authorization")); err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": "UNAUTHORIZED", "message": err.Error()})
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	b.broker.serve(push.NewWSConn(ws))
}

func (br *broker) serve(rwc *push.WSConn) {
	conn := &brokerConn{rwc: rwc, w: frame.NewWriter(rwc), subs: make(map[string]string)}
	defer rwc.Close()

	r := frame.NewReader(rwc)
	f, err := r.Read()
	if err != nil || f == nil || (f.Command != frame.CONNECT && f.Command != frame.STOMP) {
		return
	}
	br.mu.Lock()
	br.conns[conn] = struct{}{}
	br.mu.Unlock()
	defer func() {
		br.mu.Lock()
		delete(br.conns, conn)
		br.mu.Unlock()
	}()

	if br.silentConnect.Load() {
		// Hold the socket open without answering until the client gives up.
		for {
			if _, err := r.Read(); err != nil {
				return
			}
		}
	}
	if err := conn.write(frame.New(frame.CONNECTED,
		"version", "1.2",
		"heart-beat", fmt.Sprintf("%d,0", br.heartbeat.Load()),
		"server", "campusdesk-test/1.0",
	)); err != nil {
		return
	}

	for {
		f, err := r.Read()
		if err != nil {
			return
		}
		if f == nil {
			continue // heart-beat
		}

		switch f.Command {
		case frame.SUBSCRIBE:
			conn.mu.Lock()
			conn.subs[f.Header.Get("id")] = f.Header.Get("destination")
			conn.mu.Unlock()
		case frame.UNSUBSCRIBE:
			conn.mu.Lock()
			delete(conn.subs, f.Header.Get("id"))
			conn.mu.Unlock()
		}

		if receipt := f.Header.Get("receipt"); receipt != "" {
			if err := conn.write(frame.New(frame.RECEIPT, "receipt-id", receipt)); err != nil {
				return
			}
		}
		if f.Command == frame.DISCONNECT {
			return
		}
	}
}

func (c *brokerConn) write(f *frame.Frame) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.w.Write(f)
}

// publish sends n to every subscription on dest and returns the number of
// frames written.
func (br *broker) publish(dest string, n notification.Notification) int {
	body, err := json.Marshal(n)
	if err != nil {
		return 0
	}

	br.mu.Lock()
	conns := make([]*brokerConn, 0, len(br.conns))
	for c := range br.conns {
		conns = append(conns, c)
	}
	br.mu.Unlock()

	sent := 0
	for _, c := range conns {
		c.mu.Lock()
		var ids []string
		for id, d := range c.subs {
			if d == dest {
				ids = append(ids, id)
			}
		}
		c.mu.Unlock()

		for _, id := range ids {
			f := frame.New(frame.MESSAGE,
				"subscription", id,
				"destination", dest,
				"message-id", uuid.NewString(),
				"content-type", "application/json",
			)
			f.Body = body
			if c.write(f) == nil {
				sent++
			}
		}
	}
	return sent
}

func (br *broker) subscribers(dest string) int {
	br.mu.Lock()
	defer br.mu.Unlock()
	count := 0
	for c := range br.conns {
		c.mu.Lock()
		for _, d := range c.subs {
			if d == dest {
				count++
			}
		}
		c.mu.Unlock()
	}
	return count
}

func (br *broker) setHeartbeat(d time.Duration) {
	br.heartbeat.Store(d.Milliseconds())
}

func (br *broker) dropAll() {
	br.mu.Lock()
	conns := make([]*brokerConn, 0, len(br.conns))
	for c := range br.conns {
		conns = append(conns, c)
	}
	br.mu.Unlock()

	for _, c := range conns {
		_ = c.rwc.Close()
	}
}
