package session

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// CookieName is the browser session cookie.
const CookieName = "opsboard_session"

// cookieLifetime bounds the signed token's validity. Server-side idle
// expiry is stricter; this only caps how long a stolen cookie stays
// verifiable.
const cookieLifetime = 24 * time.Hour

// ErrBadCookie is returned when the session cookie is absent, malformed,
// or fails signature verification.
var ErrBadCookie = errors.New("invalid session cookie")

// CookieCodec signs session identities into tamper-evident cookies. The
// identity itself stays opaque; the HMAC signature ensures a forged or
// altered cookie never maps to a session.
type CookieCodec struct {
	secret []byte
}

// NewCookieCodec creates a codec with the given HMAC secret.
func NewCookieCodec(secret []byte) *CookieCodec {
	return &CookieCodec{secret: secret}
}

// Issue signs sessionID and sets the session cookie on the response.
func (c *CookieCodec) Issue(w http.ResponseWriter, sessionID string) error {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sid": sessionID,
		"iat": now.Unix(),
		"exp": now.Add(cookieLifetime).Unix(),
	})
	signed, err := token.SignedString(c.secret)
	if err != nil {
		return fmt.Errorf("signing session cookie: %w", err)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    signed,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// Decode extracts and verifies the session identity from the request
// cookie. Any failure is classified ErrBadCookie.
func (c *CookieCodec) Decode(r *http.Request) (string, error) {
	cookie, err := r.Cookie(CookieName)
	if err != nil {
		return "", ErrBadCookie
	}

	token, err := jwt.Parse(cookie.Value, func(*jwt.Token) (any, error) {
		return c.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return "", ErrBadCookie
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", ErrBadCookie
	}
	sid, ok := claims["sid"].(string)
	if !ok || sid == "" {
		return "", ErrBadCookie
	}
	return sid, nil
}

// Clear expires the session cookie on the response.
func (*CookieCodec) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		MaxAge:   -1,
	})
}
