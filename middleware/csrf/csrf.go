package csrf

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"html"
	"io"
	"slices"
	"strconv"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-router"
)

var (
	ErrTokenMissing = goerrors.New("CSRF token missing", goerrors.CategoryBadInput).
			WithCode(goerrors.CodeBadRequest).
			WithTextCode("CSRF_TOKEN_MISSING")
	ErrTokenMismatch = goerrors.New("CSRF token mismatch", goerrors.CategoryAuthz).
				WithCode(goerrors.CodeForbidden).
				WithTextCode("CSRF_TOKEN_MISMATCH")
	ErrTokenExpired = goerrors.New("CSRF token expired", goerrors.CategoryAuthz).
			WithCode(goerrors.CodeForbidden).
			WithTextCode("CSRF_TOKEN_EXPIRED")
)

const (
	DefaultContextKey         = "csrf_token"
	DefaultFormFieldName      = "_token"
	DefaultHeaderName         = "X-CSRF-Token"
	DefaultTemplateHelpersKey = "template_helpers"
	nonceLength               = 16
)

// Config for the CSRF middleware. Tokens are stateless: an HMAC over a
// timestamp, a nonce and the request binding (session cookie or client IP).
type Config struct {
	// SecureKey signs tokens, at least 32 bytes
	SecureKey []byte
	// SessionCookie binds tokens to the session cookie value when present
	SessionCookie      string
	Expiration         time.Duration
	ContextKey         string
	FormFieldName      string
	HeaderName         string
	TemplateHelpersKey string
	SafeMethods        []string
	Skip               func(router.Context) bool
	ErrorHandler       router.ErrorHandler
}

func (c Config) withDefaults() Config {
	if len(c.SecureKey) < 32 {
		panic(fmt.Errorf("csrf: secure key must be at least 32 bytes, got %d", len(c.SecureKey)))
	}
	if c.Expiration <= 0 {
		c.Expiration = 12 * time.Hour
	}
	if c.ContextKey == "" {
		c.ContextKey = DefaultContextKey
	}
	if c.FormFieldName == "" {
		c.FormFieldName = DefaultFormFieldName
	}
	if c.HeaderName == "" {
		c.HeaderName = DefaultHeaderName
	}
	if c.TemplateHelpersKey == "" {
		c.TemplateHelpersKey = DefaultTemplateHelpersKey
	}
	if c.SafeMethods == nil {
		c.SafeMethods = []string{"GET", "HEAD", "OPTIONS", "TRACE"}
	}
	if c.ErrorHandler == nil {
		c.ErrorHandler = defaultErrorHandler
	}
	return c
}

// New returns the middleware. Every request gets a fresh token in locals
// and in the template helpers, unsafe methods must echo a valid one.
func New(config Config) router.MiddlewareFunc {
	cfg := config.withDefaults()

	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(c router.Context) error {
			if cfg.Skip != nil && cfg.Skip(c) {
				return next(c)
			}

			binding := requestBinding(c, cfg.SessionCookie)

			token, err := issue(cfg.SecureKey, binding, time.Now())
			if err != nil {
				return cfg.ErrorHandler(c, err)
			}

			c.Locals(cfg.ContextKey, token)
			c.Locals(cfg.ContextKey+"_field", cfg.FormFieldName)
			c.Locals(cfg.ContextKey+"_header", cfg.HeaderName)
			c.LocalsMerge(cfg.TemplateHelpersKey, Helpers(token, cfg.FormFieldName))

			if slices.Contains(cfg.SafeMethods, strings.ToUpper(c.Method())) {
				return next(c)
			}

			received := c.FormValue(cfg.FormFieldName)
			if received == "" {
				received = c.Header(cfg.HeaderName)
			}
			if received == "" {
				return cfg.ErrorHandler(c, ErrTokenMissing)
			}

			if err := verify(cfg.SecureKey, received, binding, cfg.Expiration, time.Now()); err != nil {
				return cfg.ErrorHandler(c, err)
			}

			return next(c)
		}
	}
}

// Helpers are the template values for a token
func Helpers(token, field string) map[string]any {
	if field == "" {
		field = DefaultFormFieldName
	}
	escaped := html.EscapeString(token)
	return map[string]any{
		"csrf_token":       token,
		"csrf_field":       `<input type="hidden" name="` + field + `" value="` + escaped + `">`,
		"csrf_meta":        `<meta name="csrf-token" content="` + escaped + `">`,
		"csrf_header_name": DefaultHeaderName,
	}
}

// HelpersFromContext returns the helpers for the token stored by the middleware
func HelpersFromContext(c router.Context) map[string]any {
	token, _ := c.Locals(DefaultContextKey).(string)
	field, _ := c.Locals(DefaultContextKey + "_field").(string)
	return Helpers(token, field)
}

func requestBinding(c router.Context, sessionCookie string) string {
	if sessionCookie != "" {
		if v := c.Cookies(sessionCookie); v != "" {
			sum := sha256.Sum256([]byte(v))
			return "s:" + hex.EncodeToString(sum[:])
		}
	}
	return "ip:" + c.IP()
}

func issue(key []byte, binding string, now time.Time) (string, error) {
	nonce := make([]byte, nonceLength)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "csrf nonce")
	}

	payload := strconv.FormatInt(now.UTC().Unix(), 10) + ":" + hex.EncodeToString(nonce)
	sig := sign(key, payload, binding)

	return base64.RawURLEncoding.EncodeToString([]byte(payload + ":" + sig)), nil
}

func verify(key []byte, token, binding string, maxAge time.Duration, now time.Time) error {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return ErrTokenMismatch
	}

	parts := strings.Split(string(raw), ":")
	if len(parts) != 3 {
		return ErrTokenMismatch
	}

	payload := parts[0] + ":" + parts[1]
	if !hmac.Equal([]byte(parts[2]), []byte(sign(key, payload, binding))) {
		return ErrTokenMismatch
	}

	ts, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return ErrTokenMismatch
	}
	if now.After(time.Unix(ts, 0).Add(maxAge)) {
		return ErrTokenExpired
	}

	return nil
}

func sign(key []byte, payload, binding string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(payload + ":" + binding))
	return hex.EncodeToString(mac.Sum(nil))
}

func defaultErrorHandler(c router.Context, err error) error {
	status := router.StatusForbidden
	if err == ErrTokenMissing {
		status = router.StatusBadRequest
	}
	return c.Status(status).SendString(err.Error())
}
