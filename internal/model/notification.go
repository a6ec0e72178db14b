package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// NotificationID identifies a notification. It is stable across the push
// channel and the REST API.
type NotificationID int64

func (id NotificationID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// UserID identifies the account whose notification space is being viewed.
type UserID int64

func (u UserID) String() string {
	return strconv.FormatInt(int64(u), 10)
}

// ParseUserID parses a decimal user identifier.
func ParseUserID(s string) (UserID, error) {
	v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing user id %q: %w", s, err)
	}
	if v <= 0 {
		return 0, fmt.Errorf("user id must be positive, got %d", v)
	}
	return UserID(v), nil
}

// NotificationType is the category of a notification.
type NotificationType string

const (
	NotificationTransaction NotificationType = "TRANSACTION"
	NotificationSecurity    NotificationType = "SECURITY"
	NotificationSystem      NotificationType = "SYSTEM"
	NotificationSummary     NotificationType = "SUMMARY"
	NotificationOther       NotificationType = "OTHER"
)

// NotificationTypes lists the known categories in display order.
var NotificationTypes = []NotificationType{
	NotificationTransaction,
	NotificationSecurity,
	NotificationSystem,
	NotificationSummary,
}

// ParseNotificationType maps a wire string onto a known category.
// Unknown or empty values map to NotificationOther.
func ParseNotificationType(s string) NotificationType {
	switch NotificationType(strings.ToUpper(strings.TrimSpace(s))) {
	case NotificationTransaction:
		return NotificationTransaction
	case NotificationSecurity:
		return NotificationSecurity
	case NotificationSystem:
		return NotificationSystem
	case NotificationSummary:
		return NotificationSummary
	default:
		return NotificationOther
	}
}

// Label returns a short human-readable label.
func (t NotificationType) Label() string {
	switch t {
	case NotificationTransaction:
		return "Transaction"
	case NotificationSecurity:
		return "Security"
	case NotificationSystem:
		return "System"
	case NotificationSummary:
		return "Summary"
	default:
		return "Other"
	}
}

// Severity orders notifications by urgency. It only affects presentation.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityCritical
)

// ParseSeverity maps a wire string onto a Severity. Unknown values are INFO.
func ParseSeverity(s string) Severity {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "WARNING":
		return SeverityWarning
	case "CRITICAL":
		return SeverityCritical
	default:
		return SeverityInfo
	}
}

func (s Severity) String() string {
	switch s {
	case SeverityWarning:
		return "WARNING"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "INFO"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Severity) UnmarshalText(text []byte) error {
	*s = ParseSeverity(string(text))
	return nil
}

// ReferenceType names the kind of entity a notification points at.
type ReferenceType string

const (
	ReferenceTransaction ReferenceType = "TRANSACTION"
	ReferenceLogin       ReferenceType = "LOGIN"
)

// LocalDateTimeLayout is the zone-less timestamp layout the banking
// backend emits.
const LocalDateTimeLayout = "2006-01-02T15:04:05.999999999"

// ErrInvalidNotification is returned when a decoded notification is missing
// required fields.
var ErrInvalidNotification = errors.New("invalid notification")

// Notification is a single event in a user's notification space.
type Notification struct {
	ID        NotificationID
	Message   string
	Type      NotificationType
	Severity  Severity
	Timestamp time.Time
	IsRead    bool

	// RawType holds the category string as sent by the server, so
	// unknown categories can still be displayed.
	RawType string

	ReferenceID    *int64
	ReferenceType  ReferenceType
	AdditionalData string
}

// TypeLabel returns the label to display for the notification category.
func (n Notification) TypeLabel() string {
	if n.Type == NotificationOther && n.RawType != "" {
		return n.RawType
	}
	return n.Type.Label()
}

// Validate reports whether n carries the fields every consumer relies on.
func (n Notification) Validate() error {
	if n.ID <= 0 {
		return fmt.Errorf("%w: missing id", ErrInvalidNotification)
	}
	if n.Timestamp.IsZero() {
		return fmt.Errorf("%w: notification %d has no timestamp", ErrInvalidNotification, n.ID)
	}
	return nil
}

// wireNotification is the JSON shape used by the REST API and push channel.
type wireNotification struct {
	ID               NotificationID `json:"id"`
	Message          string         `json:"message"`
	NotificationType string         `json:"notificationType"`
	Timestamp        string         `json:"timestamp"`
	IsRead           bool           `json:"isRead"`
	Severity         Severity       `json:"severity"`
	ReferenceID      *int64         `json:"referenceId,omitempty"`
	ReferenceType    string         `json:"referenceType,omitempty"`
	AdditionalData   string         `json:"additionalData,omitempty"`
}

// MarshalJSON encodes the notification the way the banking backend does.
func (n Notification) MarshalJSON() ([]byte, error) {
	rawType := n.RawType
	if rawType == "" {
		rawType = string(n.Type)
	}
	var ts string
	if !n.Timestamp.IsZero() {
		ts = n.Timestamp.In(time.Local).Format(LocalDateTimeLayout)
	}
	return json.Marshal(wireNotification{
		ID:               n.ID,
		Message:          n.Message,
		NotificationType: rawType,
		Timestamp:        ts,
		IsRead:           n.IsRead,
		Severity:         n.Severity,
		ReferenceID:      n.ReferenceID,
		ReferenceType:    string(n.ReferenceType),
		AdditionalData:   n.AdditionalData,
	})
}

// UnmarshalJSON decodes a notification, mapping unknown categories onto
// NotificationOther.
func (n *Notification) UnmarshalJSON(data []byte) error {
	var w wireNotification
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	ts, err := ParseTimestamp(w.Timestamp)
	if err != nil {
		return err
	}

	*n = Notification{
		ID:             w.ID,
		Message:        w.Message,
		Type:           ParseNotificationType(w.NotificationType),
		RawType:        w.NotificationType,
		Severity:       w.Severity,
		Timestamp:      ts,
		IsRead:         w.IsRead,
		ReferenceID:    w.ReferenceID,
		ReferenceType:  ReferenceType(strings.ToUpper(w.ReferenceType)),
		AdditionalData: w.AdditionalData,
	}
	return nil
}

// ParseTimestamp accepts RFC 3339 timestamps and the backend's zone-less
// local date-time. Zone-less values are interpreted in the local zone.
// An empty string yields the zero time.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation(LocalDateTimeLayout, s, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", s, err)
	}
	return t, nil
}

// DecodeNotification parses a single JSON notification and validates it.
func DecodeNotification(data []byte) (Notification, error) {
	var n Notification
	if err := json.Unmarshal(data, &n); err != nil {
		return Notification{}, fmt.Errorf("%w: %v", ErrInvalidNotification, err)
	}
	if err := n.Validate(); err != nil {
		return Notification{}, err
	}
	return n, nil
}
