// Package reference turns a notification's related-entity fields into
// deep links and labels.
package reference

import (
	"fmt"
	"regexp"

	"github.com/nhle/bank-notifications/internal/model"
)

// Ref identifies the domain entity a notification points at.
type Ref struct {
	Type model.ReferenceType
	ID   int64
}

// Path returns the dashboard route for the entity.
func (r Ref) Path() string {
	switch r.Type {
	case model.ReferenceTransaction:
		return fmt.Sprintf("/transactions/%d", r.ID)
	case model.ReferenceLogin:
		return fmt.Sprintf("/security/logins/%d", r.ID)
	default:
		return ""
	}
}

// Label returns short display text, e.g. "Transaction #42".
func (r Ref) Label() string {
	switch r.Type {
	case model.ReferenceTransaction:
		return fmt.Sprintf("Transaction #%d", r.ID)
	case model.ReferenceLogin:
		return fmt.Sprintf("Login #%d", r.ID)
	default:
		return fmt.Sprintf("%s #%d", r.Type, r.ID)
	}
}

// For returns the reference carried by n. Both fields must be present.
func For(n model.Notification) (Ref, bool) {
	if n.ReferenceID == nil || n.ReferenceType == "" {
		return Ref{}, false
	}
	return Ref{Type: n.ReferenceType, ID: *n.ReferenceID}, true
}

// URL joins the reference path onto a dashboard base URL. It returns ""
// for references without a route.
func URL(baseURL string, r Ref) string {
	p := r.Path()
	if p == "" || baseURL == "" {
		return p
	}
	for len(baseURL) > 0 && baseURL[len(baseURL)-1] == '/' {
		baseURL = baseURL[:len(baseURL)-1]
	}
	return baseURL + p
}

// txnNumberPattern matches transaction reference numbers (e.g. TXN3F9A01BC).
var txnNumberPattern = regexp.MustCompile(`\bTXN[0-9A-F]{8}\b`)

// ExtractTransactionNumbers extracts transaction reference numbers quoted in
// message text. Returns a deduplicated list preserving the order of first
// occurrence.
func ExtractTransactionNumbers(text string) []string {
	matches := txnNumberPattern.FindAllString(text, -1)
	if len(matches) == 0 {
		return nil
	}

	seen := make(map[string]bool)
	var result []string
	for _, m := range matches {
		if seen[m] {
			continue
		}
		seen[m] = true
		result = append(result, m)
	}
	return result
}
