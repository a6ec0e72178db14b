package devserver

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/nhle/bank-notifications/internal/model"
)

// ErrInvalidToken is returned for tokens that fail verification.
var ErrInvalidToken = errors.New("invalid token")

const ctxUserKey = "userID"

// Signer mints and verifies HS256 bearer tokens whose "sub" claim is the
// numeric user ID.
type Signer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewSigner creates a Signer. A zero ttl issues tokens without expiry.
func NewSigner(secret []byte, ttl time.Duration) *Signer {
	return &Signer{secret: secret, ttl: ttl, now: time.Now}
}

// Mint issues a token for userID.
func (s *Signer) Mint(userID model.UserID) (string, error) {
	now := s.now()
	claims := jwt.RegisteredClaims{
		Subject:  userID.String(),
		IssuedAt: jwt.NewNumericDate(now),
	}
	if s.ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(s.ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Verify validates tok and returns the user it was issued for.
func (s *Signer) Verify(tok string) (model.UserID, error) {
	claims := &jwt.RegisteredClaims{}
	t, err := jwt.ParseWithClaims(tok, claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now))
	if err != nil || !t.Valid {
		return 0, ErrInvalidToken
	}
	uid, err := model.ParseUserID(claims.Subject)
	if err != nil {
		return 0, ErrInvalidToken
	}
	return uid, nil
}

// BearerToken extracts the token from an Authorization header, falling back
// to the access_token query parameter used by browser WebSocket clients.
func BearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return r.URL.Query().Get("access_token")
}

// AuthMiddleware rejects requests without a valid bearer token and stores
// the token's user in the context.
func AuthMiddleware(s *Signer) gin.HandlerFunc {
	return func(c *gin.Context) {
		tok := BearerToken(c.Request)
		if tok == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			return
		}
		uid, err := s.Verify(tok)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			return
		}
		c.Set(ctxUserKey, uid)
		c.Next()
	}
}

func userFromCtx(c *gin.Context) (model.UserID, bool) {
	v, ok := c.Get(ctxUserKey)
	if !ok {
		return 0, false
	}
	uid, ok := v.(model.UserID)
	return uid, ok
}
