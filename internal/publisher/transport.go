package publisher

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"bus_tracker/internal/events"
)

// ErrNotConnected is returned by Send while no socket is open.
var ErrNotConnected = errors.New("websocket not connected")

const (
	writeWait        = 10 * time.Second
	defaultRetryMin  = time.Second
	defaultRetryMax  = 30 * time.Second
	handshakeTimeout = 10 * time.Second
)

// ConnListener is told about connectivity changes. *Publisher implements it.
type ConnListener interface {
	Disconnected()
	Reconnected(ctx context.Context) error
}

// WSTransport is a reconnecting websocket client for the tracking endpoint.
type WSTransport struct {
	url      string
	header   http.Header
	dialer   *websocket.Dialer
	retryMin time.Duration
	retryMax time.Duration
	onEvent  func(events.Outbound)

	mu   sync.Mutex
	conn *websocket.Conn
}

type TransportOption func(*WSTransport)

// WithRetry sets the reconnect backoff bounds.
func WithRetry(lo, hi time.Duration) TransportOption {
	return func(t *WSTransport) {
		t.retryMin, t.retryMax = lo, hi
	}
}

// WithHeader sets request headers for the handshake, e.g. Origin.
func WithHeader(h http.Header) TransportOption {
	return func(t *WSTransport) { t.header = h }
}

// OnEvent registers a callback for server events received on the socket.
func OnEvent(fn func(events.Outbound)) TransportOption {
	return func(t *WSTransport) { t.onEvent = fn }
}

func NewWSTransport(url string, opts ...TransportOption) *WSTransport {
	t := &WSTransport{
		url:      url,
		dialer:   &websocket.Dialer{Proxy: http.ProxyFromEnvironment, HandshakeTimeout: handshakeTimeout},
		retryMin: defaultRetryMin,
		retryMax: defaultRetryMax,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Send writes one event. A failed write closes the socket so that Run notices
// and reconnects.
func (t *WSTransport) Send(ctx context.Context, ev events.Inbound) error {
	frame, err := events.Marshal(ev)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return ErrNotConnected
	}

	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	t.conn.SetWriteDeadline(deadline)
	if err := t.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		t.conn.Close()
		t.conn = nil
		return err
	}
	return nil
}

// Run dials, reports the connection to l, reads until the socket fails and
// then retries with exponential backoff. It returns when ctx is done.
func (t *WSTransport) Run(ctx context.Context, l ConnListener) error {
	wait := t.retryMin
	for {
		ws, _, err := t.dialer.DialContext(ctx, t.url, t.header)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logrus.WithError(err).WithField("retry_in", wait.String()).Warn("Dial failed.")
			if !sleep(ctx, wait) {
				return ctx.Err()
			}
			wait = min(wait*2, t.retryMax)
			continue
		}
		wait = t.retryMin
		logrus.WithField("url", t.url).Info("Connected to tracking server.")

		t.mu.Lock()
		t.conn = ws
		t.mu.Unlock()

		done := make(chan struct{})
		go func() {
			defer close(done)
			t.readLoop(ws)
		}()

		if err := l.Reconnected(ctx); err != nil {
			logrus.WithError(err).Warn("Resume after connect failed.")
		}

		select {
		case <-ctx.Done():
			t.closeConn(ws)
			<-done
			return ctx.Err()
		case <-done:
		}

		t.closeConn(ws)
		l.Disconnected()
		if !sleep(ctx, wait) {
			return ctx.Err()
		}
	}
}

func (t *WSTransport) readLoop(ws *websocket.Conn) {
	for {
		kind, frame, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logrus.WithError(err).Warn("Websocket read failed.")
			}
			return
		}
		if kind != websocket.TextMessage || t.onEvent == nil {
			continue
		}
		ev, err := events.DecodeOutbound(frame)
		if err != nil {
			logrus.WithError(err).Debug("Ignoring server frame.")
			continue
		}
		t.onEvent(ev)
	}
}

// closeConn closes ws and clears it if it is still the current socket.
func (t *WSTransport) closeConn(ws *websocket.Conn) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ws.Close()
	if t.conn == ws {
		t.conn = nil
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
