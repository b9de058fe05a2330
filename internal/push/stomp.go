package push

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/go-stomp/stomp/v3"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"campusdesk.io/notify/internal/config"
	apperrors "campusdesk.io/notify/internal/pkg/errors"
	"campusdesk.io/notify/internal/pkg/logger"
)

// stompSubprotocols are offered on the WebSocket upgrade.
var stompSubprotocols = []string{"v12.stomp", "v11.stomp", "v10.stomp"}

// DefaultHandshakeTimeout applies when the config leaves it unset.
const DefaultHandshakeTimeout = 10 * time.Second

// StompDialer opens STOMP 1.2 sessions over a raw WebSocket. The bearer
// token is sent on the upgrade request and in the CONNECT frame.
type StompDialer struct {
	url       string
	host      string
	heartbeat time.Duration
	grace     time.Duration
	handshake time.Duration
	ws        *websocket.Dialer

	mu    sync.RWMutex
	token string
}

var _ Dialer = (*StompDialer)(nil)

// NewStompDialer creates a dialer for cfg.URL.
func NewStompDialer(cfg config.PushConfig) *StompDialer {
	host := ""
	if u, err := url.Parse(cfg.URL); err == nil {
		host = u.Hostname()
	}
	handshake := cfg.HandshakeTimeout
	if handshake <= 0 {
		handshake = DefaultHandshakeTimeout
	}
	return &StompDialer{
		url:       cfg.URL,
		host:      host,
		heartbeat: cfg.Heartbeat,
		grace:     cfg.HeartbeatGrace,
		handshake: handshake,
		ws: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshake,
			Subprotocols:     stompSubprotocols,
		},
	}
}

// SetToken sets the bearer token used by later dials.
func (d *StompDialer) SetToken(token string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.token = token
}

func (d *StompDialer) bearer() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.token
}

// Dial upgrades to a WebSocket and completes the STOMP handshake. It
// returns after the broker's CONNECTED frame, so the session can accept
// subscriptions right away. The whole exchange is bounded by the handshake
// timeout; a broker that never answers CONNECT fails the dial.
func (d *StompDialer) Dial(ctx context.Context) (Session, error) {
	hctx, cancel := context.WithTimeout(ctx, d.handshake)
	defer cancel()

	token := d.bearer()
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	ws, resp, err := d.ws.DialContext(hctx, d.url, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		appErr := apperrors.Wrap(err, apperrors.CodePushUnavailable, "push endpoint unreachable", http.StatusServiceUnavailable)
		if resp != nil {
			appErr.HTTPStatus = resp.StatusCode
			appErr.WithParams(map[string]interface{}{"status": resp.StatusCode})
		}
		return nil, appErr
	}

	rwc := NewWSConn(ws)
	stop := context.AfterFunc(hctx, func() { _ = rwc.Close() })

	opts := []func(*stomp.Conn) error{
		stomp.ConnOpt.HeartBeat(d.heartbeat, d.heartbeat),
		stomp.ConnOpt.Logger(stompLogger{}),
	}
	if d.grace > 0 {
		opts = append(opts, stomp.ConnOpt.HeartBeatError(d.grace))
	}
	if d.host != "" {
		opts = append(opts, stomp.ConnOpt.Host(d.host))
	}
	if token != "" {
		opts = append(opts, stomp.ConnOpt.Header("Authorization", "Bearer "+token))
	}

	conn, err := stomp.Connect(rwc, opts...)
	if !stop() {
		if conn != nil {
			_ = conn.MustDisconnect()
		}
		_ = rwc.Close()
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, apperrors.Wrap(hctx.Err(), apperrors.CodePushUnavailable, "STOMP handshake timed out", http.StatusGatewayTimeout).
			WithParams(map[string]interface{}{"timeout": d.handshake.String()})
	}
	if err != nil {
		_ = rwc.Close()
		return nil, apperrors.Wrap(err, apperrors.CodePushUnavailable, "STOMP handshake failed", http.StatusServiceUnavailable)
	}

	logger.Debug("STOMP session established",
		zap.String("url", d.url),
		zap.String("server", conn.Server()),
		zap.String("version", string(conn.Version())),
	)
	return &stompSession{conn: conn, ws: rwc}, nil
}

type stompSession struct {
	conn *stomp.Conn
	ws   *WSConn
}

func (s *stompSession) Subscribe(destination string) (Subscription, error) {
	sub, err := s.conn.Subscribe(destination, stomp.AckAuto,
		stomp.SubscribeOpt.Header("id", "sub-"+uuid.NewString()))
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeSubscribeFailed, "subscribe failed", http.StatusServiceUnavailable).
			WithParams(map[string]interface{}{"destination": destination})
	}
	return &stompSubscription{session: s, sub: sub}, nil
}

func (s *stompSession) Done() <-chan struct{} { return s.ws.Done() }

func (s *stompSession) Err() error { return s.ws.Err() }

func (s *stompSession) Close() error {
	err := s.conn.MustDisconnect()
	if cerr := s.ws.Close(); err == nil {
		err = cerr
	}
	return err
}

// lost tears the transport down after a protocol-level failure such as an
// ERROR frame or a missed heart-beat.
func (s *stompSession) lost(err error) {
	s.ws.fail(err)
}

type stompSubscription struct {
	session *stompSession
	sub     *stomp.Subscription
}

func (s *stompSubscription) Destination() string { return s.sub.Destination() }

func (s *stompSubscription) Receive() (Message, error) {
	select {
	case msg, ok := <-s.sub.C:
		if !ok {
			return Message{}, ErrSubscriptionClosed
		}
		if msg.Err != nil {
			s.session.lost(msg.Err)
			return Message{}, msg.Err
		}
		return Message{Destination: msg.Destination, Body: msg.Body}, nil
	case <-s.session.Done():
		return Message{}, ErrSubscriptionClosed
	}
}

func (s *stompSubscription) Unsubscribe() error {
	if err := s.sub.Unsubscribe(); err != nil {
		return fmt.Errorf("unsubscribe %s: %w", s.sub.Destination(), err)
	}
	return nil
}

// stompLogger routes the STOMP library's logging into zap so nothing is
// written to the terminal directly.
type stompLogger struct{}

func (stompLogger) Debugf(format string, value ...interface{})   { logger.S().Debugf(format, value...) }
func (stompLogger) Infof(format string, value ...interface{})    { logger.S().Debugf(format, value...) }
func (stompLogger) Warningf(format string, value ...interface{}) { logger.S().Warnf(format, value...) }
func (stompLogger) Errorf(format string, value ...interface{})   { logger.S().Errorf(format, value...) }
func (stompLogger) Debug(message string)                         { logger.S().Debug(message) }
func (stompLogger) Info(message string)                          { logger.S().Debug(message) }
func (stompLogger) Warning(message string)                       { logger.S().Warn(message) }
func (stompLogger) Error(message string)                         { logger.S().Error(message) }
