package push

import (
	"fmt"
	"time"

	"github.com/nhle/bank-notifications/internal/model"
)

// State is the connection state of a Transport.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Policy decides how the Transport keeps its connection alive. Retries are
// unlimited and spaced by a fixed delay.
type Policy struct {
	// ReconnectDelay is the wait between a drop and the next attempt.
	ReconnectDelay time.Duration

	// HeartbeatIncoming is how often the server is expected to send a
	// heartbeat. A missed heartbeat is handled like a dropped connection.
	HeartbeatIncoming time.Duration

	// HeartbeatOutgoing is how often the client sends a heartbeat.
	HeartbeatOutgoing time.Duration

	// CloseTimeout bounds the graceful part of a teardown.
	CloseTimeout time.Duration
}

// DefaultPolicy mirrors the backend's reference web client.
func DefaultPolicy() Policy {
	return Policy{
		ReconnectDelay:    5 * time.Second,
		HeartbeatIncoming: 4 * time.Second,
		HeartbeatOutgoing: 4 * time.Second,
		CloseTimeout:      2 * time.Second,
	}
}

// PolicyFromConfig converts the push section of the app config.
func PolicyFromConfig(cfg model.PushConfig) Policy {
	p := Policy{
		ReconnectDelay:    cfg.ReconnectDelay,
		HeartbeatIncoming: cfg.HeartbeatIncoming,
		HeartbeatOutgoing: cfg.HeartbeatOutgoing,
		CloseTimeout:      cfg.CloseTimeout,
	}
	return p.withDefaults()
}

func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.ReconnectDelay <= 0 {
		p.ReconnectDelay = d.ReconnectDelay
	}
	if p.CloseTimeout <= 0 {
		p.CloseTimeout = d.CloseTimeout
	}
	return p
}

// Topic returns the destination carrying a user's notifications.
func Topic(userID model.UserID) string {
	return "/topic/notifications/" + userID.String()
}
