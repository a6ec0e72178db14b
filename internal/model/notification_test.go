package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeNotificationBackendShape(t *testing.T) {
	payload := []byte(`{
		"id": 42,
		"message": "TRANSFER of $250.00 was completed",
		"notificationType": "TRANSACTION",
		"timestamp": "2024-05-01T12:34:56.123456",
		"isRead": false,
		"severity": "INFO",
		"referenceId": 9001,
		"referenceType": "TRANSACTION",
		"additionalData": "{\"amount\": 250.0}"
	}`)

	n, err := DecodeNotification(payload)
	require.NoError(t, err)

	assert.Equal(t, NotificationID(42), n.ID)
	assert.Equal(t, NotificationTransaction, n.Type)
	assert.Equal(t, SeverityInfo, n.Severity)
	assert.False(t, n.IsRead)
	require.NotNil(t, n.ReferenceID)
	assert.Equal(t, int64(9001), *n.ReferenceID)
	assert.Equal(t, ReferenceTransaction, n.ReferenceType)

	want := time.Date(2024, 5, 1, 12, 34, 56, 123456000, time.Local)
	assert.True(t, want.Equal(n.Timestamp), "got %s", n.Timestamp)
}

func TestDecodeNotificationUnknownCategoryFallsBack(t *testing.T) {
	n, err := DecodeNotification([]byte(
		`{"id":7,"message":"x","notificationType":"PROMOTION","timestamp":"2024-05-01T10:00:00Z","severity":"URGENT"}`,
	))
	require.NoError(t, err)

	assert.Equal(t, NotificationOther, n.Type)
	assert.Equal(t, "PROMOTION", n.TypeLabel())
	assert.Equal(t, SeverityInfo, n.Severity)
}

func TestDecodeNotificationRejectsMalformed(t *testing.T) {
	cases := map[string]string{
		"not json":      `{"id":`,
		"missing id":    `{"message":"x","timestamp":"2024-05-01T10:00:00Z"}`,
		"missing ts":    `{"id":3,"message":"x"}`,
		"bad timestamp": `{"id":3,"timestamp":"yesterday"}`,
		"id wrong type": `{"id":"abc","timestamp":"2024-05-01T10:00:00Z"}`,
		"array":         `[{"id":1}]`,
	}

	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeNotification([]byte(payload))
			assert.ErrorIs(t, err, ErrInvalidNotification)
		})
	}
}

func TestNotificationJSONRoundTripKeepsRawType(t *testing.T) {
	ref := int64(5)
	n := Notification{
		ID:            11,
		Message:       "New login",
		Type:          NotificationOther,
		RawType:       "LOGIN_ALERT",
		Severity:      SeverityCritical,
		Timestamp:     time.Date(2024, 6, 2, 8, 0, 0, 0, time.Local),
		ReferenceID:   &ref,
		ReferenceType: ReferenceLogin,
	}

	data, err := json.Marshal(n)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "LOGIN_ALERT", raw["notificationType"])
	assert.Equal(t, "CRITICAL", raw["severity"])
	assert.Equal(t, "2024-06-02T08:00:00", raw["timestamp"])

	var back Notification
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, n.ID, back.ID)
	assert.Equal(t, "LOGIN_ALERT", back.TypeLabel())
	assert.True(t, n.Timestamp.Equal(back.Timestamp))
}

func TestSeverityOrdering(t *testing.T) {
	assert.Less(t, SeverityInfo, SeverityWarning)
	assert.Less(t, SeverityWarning, SeverityCritical)
	assert.Equal(t, SeverityWarning, ParseSeverity("warning"))
}

func TestParseUserID(t *testing.T) {
	uid, err := ParseUserID(" 17 ")
	require.NoError(t, err)
	assert.Equal(t, UserID(17), uid)

	_, err = ParseUserID("0")
	assert.Error(t, err)

	_, err = ParseUserID("alice")
	assert.Error(t, err)
}
