package push

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/go-stomp/stomp/v3"
	"github.com/rs/zerolog"

	"github.com/nhle/bank-notifications/internal/model"
)

// stompSubprotocols are offered during the WebSocket handshake, newest first.
var stompSubprotocols = []string{"v12.stomp", "v11.stomp", "v10.stomp"}

// StompDialer connects to a STOMP broker over WebSocket, the way the
// banking backend's message broker endpoint expects.
type StompDialer struct {
	// URL is the ws:// or wss:// endpoint, e.g. ws://localhost:8080/ws/websocket.
	URL string

	// Token is sent as a Bearer token on the WebSocket handshake and as a
	// STOMP CONNECT header.
	Token string

	// HTTPClient is used for the handshake when set.
	HTTPClient *http.Client

	// Log receives go-stomp's own diagnostics. The zero value discards them.
	Log zerolog.Logger
}

var _ Dialer = (*StompDialer)(nil)

// Dial opens the WebSocket, then performs the STOMP CONNECT with the
// policy's heartbeats.
func (d *StompDialer) Dial(ctx context.Context, userID model.UserID, policy Policy) (Conn, error) {
	u, err := url.Parse(d.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing push url %q: %w", d.URL, err)
	}

	header := http.Header{}
	if d.Token != "" {
		header.Set("Authorization", "Bearer "+d.Token)
	}

	dialCtx, cancelDial := context.WithTimeout(ctx, dialTimeout(policy))
	defer cancelDial()

	ws, _, err := websocket.Dial(dialCtx, u.String(), &websocket.DialOptions{
		HTTPClient:   d.HTTPClient,
		HTTPHeader:   header,
		Subprotocols: stompSubprotocols,
	})
	if err != nil {
		return nil, fmt.Errorf("websocket handshake with %s for user %d: %w", u.Host, userID, err)
	}

	// The net.Conn lives until Close; the dial context only bounds the
	// handshake.
	netCtx, cancelNet := context.WithCancel(context.Background())
	nc := websocket.NetConn(netCtx, ws, websocket.MessageText)

	opts := []func(*stomp.Conn) error{
		stomp.ConnOpt.Host(u.Hostname()),
		stomp.ConnOpt.HeartBeat(policy.HeartbeatOutgoing, policy.HeartbeatIncoming),
		stomp.ConnOpt.Logger(StompLogger(d.Log)),
	}
	if d.Token != "" {
		opts = append(opts, stomp.ConnOpt.Header("Authorization", "Bearer "+d.Token))
	}

	type result struct {
		conn *stomp.Conn
		err  error
	}
	connected := make(chan result, 1)
	go func() {
		c, err := stomp.Connect(nc, opts...)
		connected <- result{conn: c, err: err}
	}()

	select {
	case r := <-connected:
		if r.err != nil {
			cancelNet()
			nc.Close()
			return nil, fmt.Errorf("stomp connect: %w", r.err)
		}
		return &stompConn{conn: r.conn, nc: nc, cancel: cancelNet, closeTimeout: policy.CloseTimeout}, nil
	case <-dialCtx.Done():
		cancelNet()
		nc.Close()
		return nil, fmt.Errorf("stomp connect: %w", dialCtx.Err())
	}
}

func dialTimeout(p Policy) time.Duration {
	const floor = 10 * time.Second
	if p.HeartbeatIncoming*3 > floor {
		return p.HeartbeatIncoming * 3
	}
	return floor
}

type stompConn struct {
	conn         *stomp.Conn
	nc           net.Conn
	cancel       context.CancelFunc
	closeTimeout time.Duration
	closeOnce    sync.Once
	closeErr     error
}

func (c *stompConn) Subscribe(destination string) (Subscription, error) {
	sub, err := c.conn.Subscribe(destination, stomp.AckAuto)
	if err != nil {
		return nil, err
	}

	s := &stompSubscription{
		sub:  sub,
		out:  make(chan Message),
		stop: make(chan struct{}),
	}
	go s.pump()
	return s, nil
}

// Close sends DISCONNECT and waits for the receipt up to closeTimeout,
// then drops the socket.
func (c *stompConn) Close() error {
	c.closeOnce.Do(func() {
		done := make(chan error, 1)
		go func() { done <- c.conn.Disconnect() }()

		select {
		case c.closeErr = <-done:
		case <-time.After(c.closeTimeout):
			c.closeErr = c.conn.MustDisconnect()
		}

		c.cancel()
		c.nc.Close()
	})
	return c.closeErr
}

type stompSubscription struct {
	sub      *stomp.Subscription
	out      chan Message
	stop     chan struct{}
	stopOnce sync.Once
}

// pump copies frames from the STOMP subscription until it ends.
func (s *stompSubscription) pump() {
	defer close(s.out)
	stop := s.stop

	for {
		select {
		case <-stop:
			return
		case m, ok := <-s.sub.C:
			if !ok {
				return
			}
			var msg Message
			if m.Err != nil {
				msg.Err = m.Err
			} else {
				msg.Body = m.Body
			}
			select {
			case s.out <- msg:
			case <-stop:
				return
			}
			if msg.Err != nil {
				return
			}
		}
	}
}

func (s *stompSubscription) Messages() <-chan Message {
	return s.out
}

func (s *stompSubscription) Unsubscribe() error {
	s.stopOnce.Do(func() { close(s.stop) })
	if !s.sub.Active() {
		return nil
	}
	return s.sub.Unsubscribe()
}
