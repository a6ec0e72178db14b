package model

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNoIdentity is returned when no user identity can be determined.
var ErrNoIdentity = errors.New("no user identity: set server.user_id or use a token with a sub claim")

// Session carries the authenticated identity explicitly through the
// application. Components receive the user they act for from here and
// never assume a default account.
type Session struct {
	UserID UserID
	Token  string
}

// Valid reports whether the session identifies a user.
func (s Session) Valid() bool {
	return s.UserID > 0
}

// TokenSubject returns the "sub" claim of a bearer token without verifying
// its signature. Verification is the server's job; the client only needs
// to know which account the token speaks for.
func TokenSubject(token string) (string, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return "", fmt.Errorf("parsing token: %w", err)
	}
	sub, err := claims.GetSubject()
	if err != nil {
		return "", fmt.Errorf("reading sub claim: %w", err)
	}
	if sub == "" {
		return "", errors.New("token has no subject")
	}
	return sub, nil
}

// NewSession builds a session from a bearer token and a configured user.
// A token subject takes precedence over fallback; fallback is used for
// opaque (non-JWT) tokens or when no token is configured.
func NewSession(token string, fallback UserID) (Session, error) {
	s := Session{Token: token, UserID: fallback}

	if token != "" {
		if sub, err := TokenSubject(token); err == nil {
			uid, err := ParseUserID(sub)
			if err != nil {
				return Session{}, fmt.Errorf("token subject: %w", err)
			}
			s.UserID = uid
		}
	}

	if !s.Valid() {
		return Session{}, ErrNoIdentity
	}
	return s, nil
}
