package model

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
)

// Preferences controls which notifications the backend delivers and over
// which channels. The client reads and writes it without interpreting it;
// the delivery rules below are applied by the backend.
type Preferences struct {
	ID int64 `json:"id,omitempty"`

	EnableRealTimeNotifications bool `json:"enableRealTimeNotifications"`

	EnableEmailNotifications  bool    `json:"enableEmailNotifications"`
	EmailForTransactions      bool    `json:"emailForTransactions"`
	EmailForSecurity          bool    `json:"emailForSecurity"`
	EmailForSystem            bool    `json:"emailForSystem"`
	EmailTransactionThreshold float64 `json:"emailTransactionThreshold"`

	EnableSmsNotifications  bool    `json:"enableSmsNotifications"`
	SmsForTransactions      bool    `json:"smsForTransactions"`
	SmsForSecurity          bool    `json:"smsForSecurity"`
	SmsForSystem            bool    `json:"smsForSystem"`
	SmsTransactionThreshold float64 `json:"smsTransactionThreshold"`
}

// DefaultPreferences returns the preferences a new account starts with.
func DefaultPreferences() Preferences {
	return Preferences{
		EnableRealTimeNotifications: true,

		EnableEmailNotifications:  true,
		EmailForTransactions:      true,
		EmailForSecurity:          true,
		EmailForSystem:            false,
		EmailTransactionThreshold: 100,

		EnableSmsNotifications:  true,
		SmsForTransactions:      true,
		SmsForSecurity:          true,
		SmsForSystem:            false,
		SmsTransactionThreshold: 500,
	}
}

// Validate checks the numeric thresholds.
func (p Preferences) Validate() error {
	if p.EmailTransactionThreshold < 0 {
		return fmt.Errorf("email transaction threshold must not be negative")
	}
	if p.SmsTransactionThreshold < 0 {
		return fmt.Errorf("sms transaction threshold must not be negative")
	}
	return nil
}

// Channels describes where a notification is delivered.
type Channels struct {
	RealTime bool
	Email    bool
	SMS      bool
}

var amountPattern = regexp.MustCompile(`"?amount"?\s*[:=]\s*"?(-?[0-9]+(?:\.[0-9]+)?)`)

// TransactionAmount extracts an "amount" value from a notification's
// additional data. It reports false when none is present.
func TransactionAmount(additionalData string) (float64, bool) {
	if additionalData == "" {
		return 0, false
	}

	var doc map[string]json.RawMessage
	if json.Unmarshal([]byte(additionalData), &doc) == nil {
		if raw, ok := doc["amount"]; ok {
			var f float64
			if json.Unmarshal(raw, &f) == nil {
				return f, true
			}
			var s string
			if json.Unmarshal(raw, &s) == nil {
				if f, err := strconv.ParseFloat(s, 64); err == nil {
					return f, true
				}
			}
		}
	}

	m := amountPattern.FindStringSubmatch(additionalData)
	if m == nil {
		return 0, false
	}
	f, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// Channels decides which channels deliver n under these preferences.
// Transaction notifications without a parseable amount are always emailed.
func (p Preferences) Channels(n Notification) Channels {
	ch := Channels{RealTime: p.EnableRealTimeNotifications}

	amount, hasAmount := TransactionAmount(n.AdditionalData)

	if p.EnableEmailNotifications {
		switch n.Type {
		case NotificationSecurity:
			ch.Email = p.EmailForSecurity
		case NotificationTransaction:
			ch.Email = p.EmailForTransactions &&
				(!hasAmount || amount >= p.EmailTransactionThreshold)
		case NotificationSystem:
			ch.Email = p.EmailForSystem
		}
	}

	if p.EnableSmsNotifications {
		switch {
		case n.Severity == SeverityCritical && p.SmsForSecurity:
			ch.SMS = true
		case n.Type == NotificationTransaction && p.SmsForTransactions:
			ch.SMS = !hasAmount || amount >= p.SmsTransactionThreshold
		case n.Type == NotificationSystem && p.SmsForSystem:
			ch.SMS = true
		}
	}

	return ch
}
