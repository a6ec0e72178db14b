package devserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/go-stomp/stomp/v3"
	"github.com/go-stomp/stomp/v3/server"
	"github.com/rs/zerolog"

	"github.com/nhle/bank-notifications/internal/model"
	"github.com/nhle/bank-notifications/internal/push"
)

// Hub is an in-process STOMP broker. WebSocket clients are attached to it
// as net.Conns, and the backend publishes to per-user topics through its
// own in-memory client connection.
type Hub struct {
	ln  *chanListener
	pub *stomp.Conn
	log zerolog.Logger

	closeOnce sync.Once
}

// NewHub starts the broker. heartBeat is the server's heart-beat
// preference; zero uses the broker default.
func NewHub(heartBeat time.Duration, log zerolog.Logger) (*Hub, error) {
	h := &Hub{
		ln:  newChanListener(),
		log: log,
	}

	srv := &server.Server{HeartBeat: heartBeat, Log: push.StompLogger(log)}
	go func() {
		if err := srv.Serve(h.ln); err != nil && !IsClosed(err) {
			h.log.Error().Err(err).Msg("stomp broker stopped")
		}
	}()

	client, serverSide := net.Pipe()
	if err := h.ln.deliver(serverSide); err != nil {
		return nil, err
	}
	pub, err := stomp.Connect(client,
		stomp.ConnOpt.HeartBeat(0, 0),
		stomp.ConnOpt.Logger(push.StompLogger(log)),
	)
	if err != nil {
		h.ln.Close()
		return nil, fmt.Errorf("connecting publisher: %w", err)
	}
	h.pub = pub
	return h, nil
}

// Attach hands a client connection to the broker. It returns once the
// broker has accepted it.
func (h *Hub) Attach(c net.Conn) error {
	return h.ln.deliver(c)
}

// Publish sends n to its owner's topic.
func (h *Hub) Publish(userID model.UserID, n model.Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encoding notification %d: %w", n.ID, err)
	}
	if err := h.pub.Send(push.Topic(userID), "application/json", body); err != nil {
		return fmt.Errorf("publishing notification %d: %w", n.ID, err)
	}
	h.log.Debug().Stringer("user_id", userID).Stringer("id", n.ID).Msg("notification pushed")
	return nil
}

// Close disconnects the publisher and stops accepting clients.
func (h *Hub) Close() error {
	var err error
	h.closeOnce.Do(func() {
		if h.pub != nil {
			_ = h.pub.MustDisconnect()
		}
		err = h.ln.Close()
	})
	return err
}

// chanListener is a net.Listener fed from WebSocket handlers.
type chanListener struct {
	conns  chan net.Conn
	closed chan struct{}
	once   sync.Once
}

var _ net.Listener = (*chanListener)(nil)

func newChanListener() *chanListener {
	return &chanListener{
		conns:  make(chan net.Conn),
		closed: make(chan struct{}),
	}
}

func (l *chanListener) deliver(c net.Conn) error {
	select {
	case l.conns <- c:
		return nil
	case <-l.closed:
		c.Close()
		return net.ErrClosed
	}
}

func (l *chanListener) Accept() (net.Conn, error) {
	select {
	case c := <-l.conns:
		return c, nil
	case <-l.closed:
		return nil, net.ErrClosed
	}
}

func (l *chanListener) Close() error {
	l.once.Do(func() { close(l.closed) })
	return nil
}

func (l *chanListener) Addr() net.Addr {
	return hubAddr{}
}

type hubAddr struct{}

func (hubAddr) Network() string { return "websocket" }
func (hubAddr) String() string  { return "hub" }

// IsClosed reports whether err came from a closed hub.
func IsClosed(err error) bool {
	return errors.Is(err, net.ErrClosed)
}
