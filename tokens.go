package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// TokenPurpose scopes a token to a single flow so a login link can never
// be replayed as a reset link or a session.
type TokenPurpose = string

const (
	PurposeSession       TokenPurpose = "session"
	PurposeLoginLink     TokenPurpose = "login_link"
	PurposeResetPassword TokenPurpose = "reset_password"
	PurposePendingLogin  TokenPurpose = "pending_login"
)

// TokenClaims are the claims carried by every token we issue
type TokenClaims struct {
	jwt.RegisteredClaims
	Purpose TokenPurpose   `json:"pur"`
	Data    map[string]any `json:"dat,omitempty"`
}

// UserID returns the token subject
func (c *TokenClaims) UserID() string {
	return c.Subject
}

type tokenOptions struct {
	id   string
	ttl  time.Duration
	data map[string]any
}

// TokenOption customizes a token at creation time
type TokenOption func(*tokenOptions)

// WithTokenID sets the jti claim
func WithTokenID(id string) TokenOption {
	return func(o *tokenOptions) {
		o.id = id
	}
}

// WithTokenTTL overrides the default max age
func WithTokenTTL(ttl time.Duration) TokenOption {
	return func(o *tokenOptions) {
		if ttl > 0 {
			o.ttl = ttl
		}
	}
}

// WithTokenData attaches extra private claims
func WithTokenData(data map[string]any) TokenOption {
	return func(o *tokenOptions) {
		o.data = data
	}
}

// TokenService signs and verifies HS256 tokens
type TokenService struct {
	signingKey []byte
	issuer     string
	maxAge     time.Duration
	now        func() time.Time
}

func NewTokenService(cfg Config) *TokenService {
	cfg = cfg.WithDefaults()
	return &TokenService{
		signingKey: []byte(cfg.SigningKey),
		issuer:     cfg.Issuer,
		maxAge:     cfg.TokenMaxAge,
		now:        time.Now,
	}
}

// CreateToken issues a token for userID scoped to purpose
func (s *TokenService) CreateToken(userID string, purpose TokenPurpose, opts ...TokenOption) (string, error) {
	if userID == "" {
		return "", goerrors.New("token subject is required", goerrors.CategoryBadInput)
	}

	o := &tokenOptions{ttl: s.maxAge}
	for _, opt := range opts {
		opt(o)
	}

	now := s.now()
	claims := TokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    s.issuer,
			ID:        o.id,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(o.ttl)),
		},
		Purpose: purpose,
		Data:    o.data,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.signingKey)
	if err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to sign token")
	}
	return signed, nil
}

// LoadToken verifies raw and checks it was issued for purpose
func (s *TokenService) LoadToken(raw string, purpose TokenPurpose) (*TokenClaims, error) {
	if raw == "" {
		return nil, ErrTokenInvalid
	}

	claims := &TokenClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.signingKey, nil
	},
		jwt.WithIssuer(s.issuer),
		jwt.WithTimeFunc(s.now),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryAuth, "token is invalid").
			WithCode(goerrors.CodeUnauthorized).
			WithTextCode(TextCodeTokenInvalid)
	}

	if claims.Purpose != purpose {
		return nil, goerrors.New("token purpose mismatch", goerrors.CategoryAuth).
			WithCode(goerrors.CodeUnauthorized).
			WithTextCode(TextCodeTokenInvalid).
			WithMetadata(map[string]any{
				"expected": purpose,
				"actual":   claims.Purpose,
			})
	}

	if claims.Subject == "" {
		return nil, ErrTokenInvalid
	}

	return claims, nil
}

func randomTokenID() string {
	return uuid.NewString()
}
