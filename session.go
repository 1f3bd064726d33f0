package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/goliatone/go-router"
)

// PendingLogin is a login waiting for the emailed code to be entered
type PendingLogin struct {
	UserID   string
	CodeHash string
	// TokenID identifies this pending login for attempt throttling
	TokenID string
}

// SessionManager keeps login state in signed cookies
type SessionManager struct {
	cfg    Config
	tokens *TokenService
	now    func() time.Time
}

func NewSessionManager(cfg Config, tokens *TokenService) *SessionManager {
	return &SessionManager{
		cfg:    cfg.WithDefaults(),
		tokens: tokens,
		now:    time.Now,
	}
}

// Login writes the session cookie. When remember is false the cookie
// lives until the browser closes, the token still expires after
// SessionDuration.
func (s *SessionManager) Login(c router.Context, user *User, remember bool) error {
	duration := s.cfg.SessionDuration
	if remember {
		duration = s.cfg.RememberDuration
	}

	token, err := s.tokens.CreateToken(user.GetID(), PurposeSession, WithTokenTTL(duration))
	if err != nil {
		return err
	}

	var expires time.Time
	if remember {
		expires = s.now().Add(duration)
	}

	s.setCookie(c, s.cfg.SessionCookieName, token, expires)
	return nil
}

// Logout removes the session cookie
func (s *SessionManager) Logout(c router.Context) {
	s.cookieDel(c, s.cfg.SessionCookieName)
}

// CurrentUserID returns the user id stored in a valid session cookie
func (s *SessionManager) CurrentUserID(c router.Context) (string, bool) {
	raw := c.Cookies(s.cfg.SessionCookieName)
	if raw == "" {
		return "", false
	}

	claims, err := s.tokens.LoadToken(raw, PurposeSession)
	if err != nil {
		return "", false
	}

	return claims.UserID(), true
}

// SetPendingLogin remembers who is logging in and a keyed hash of the
// code that was emailed to them. The code itself never leaves the server.
func (s *SessionManager) SetPendingLogin(c router.Context, userID, code string) error {
	tokenID := randomTokenID()
	token, err := s.tokens.CreateToken(userID, PurposePendingLogin,
		WithTokenID(tokenID),
		WithTokenData(map[string]any{
			"code": s.HashCode(userID, code),
		}),
	)
	if err != nil {
		return err
	}

	s.setCookie(c, s.cfg.PendingLoginCookieName, token, s.now().Add(s.cfg.TokenMaxAge))
	return nil
}

// PendingLogin returns the pending login or ErrNoPendingLogin
func (s *SessionManager) PendingLogin(c router.Context) (*PendingLogin, error) {
	raw := c.Cookies(s.cfg.PendingLoginCookieName)
	if raw == "" {
		return nil, ErrNoPendingLogin
	}

	claims, err := s.tokens.LoadToken(raw, PurposePendingLogin)
	if err != nil {
		return nil, ErrNoPendingLogin
	}

	hash, _ := claims.Data["code"].(string)
	if hash == "" {
		return nil, ErrNoPendingLogin
	}

	return &PendingLogin{
		UserID:   claims.UserID(),
		CodeHash: hash,
		TokenID:  claims.ID,
	}, nil
}

// ClearPendingLogin removes the pending login cookie
func (s *SessionManager) ClearPendingLogin(c router.Context) {
	s.cookieDel(c, s.cfg.PendingLoginCookieName)
}

// HashCode keys the code with the signing key and the user id
func (s *SessionManager) HashCode(userID, code string) string {
	mac := hmac.New(sha256.New, []byte(s.cfg.SigningKey))
	mac.Write([]byte("login_code:" + userID + ":" + strings.TrimSpace(code)))
	return hex.EncodeToString(mac.Sum(nil))
}

// CheckCode compares code against the pending hash in constant time
func (s *SessionManager) CheckCode(pending *PendingLogin, code string) bool {
	if pending == nil || code == "" {
		return false
	}
	expected, err := hex.DecodeString(pending.CodeHash)
	if err != nil {
		return false
	}
	actual, _ := hex.DecodeString(s.HashCode(pending.UserID, code))
	return hmac.Equal(expected, actual)
}

func (s *SessionManager) setCookie(c router.Context, name, val string, expires time.Time) {
	c.Cookie(&router.Cookie{
		Name:     name,
		Value:    val,
		Path:     "/",
		Expires:  expires,
		HTTPOnly: true,
		Secure:   s.cfg.cookieSecure(),
		SameSite: "Lax",
	})
}

func (s *SessionManager) cookieDel(c router.Context, name string) {
	c.Cookie(&router.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		Expires:  s.now().Add(-time.Hour * (24 * 365)),
		HTTPOnly: true,
		Secure:   s.cfg.cookieSecure(),
		SameSite: "Lax",
	})
}

// ClientIP returns the peer address. Forwarded headers are only honored
// through the server's trusted proxy settings.
func ClientIP(c router.Context) string {
	return c.IP()
}
