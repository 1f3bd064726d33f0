package auth

import (
	"context"
	"testing"
	"time"

	"github.com/goliatone/go-router"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const internalSigningKey = "internal-signing-key-0123456789abcdef"

func internalConfig() Config {
	return Config{SigningKey: internalSigningKey}.WithDefaults()
}

func TestTokenServiceExpiredToken(t *testing.T) {
	svc := NewTokenService(internalConfig())
	issued := time.Now().Add(-2 * time.Hour)
	svc.now = func() time.Time { return issued }

	token, err := svc.CreateToken("user-1", PurposeLoginLink)
	require.NoError(t, err)

	svc.now = time.Now
	_, err = svc.LoadToken(token, PurposeLoginLink)
	require.ErrorIs(t, err, ErrTokenExpired)
	assert.True(t, IsTokenExpiredError(err))
}

func TestSessionLoginCookie(t *testing.T) {
	cfg := internalConfig()
	sessions := NewSessionManager(cfg, NewTokenService(cfg))

	var written *router.Cookie
	ctx := router.NewMockContext()
	ctx.On("Cookie", mock.Anything).Return().Run(func(args mock.Arguments) {
		written = args.Get(0).(*router.Cookie)
	})

	user := &User{}
	user.ID[0] = 1
	require.NoError(t, sessions.Login(ctx, user, false))

	require.NotNil(t, written)
	assert.Equal(t, cfg.SessionCookieName, written.Name)
	assert.True(t, written.HTTPOnly)
	assert.True(t, written.Secure)
	assert.Equal(t, "Lax", written.SameSite)
	assert.True(t, written.Expires.IsZero(), "session cookie should end with the browser")

	ctx.CookiesM[cfg.SessionCookieName] = written.Value
	id, ok := sessions.CurrentUserID(ctx)
	require.True(t, ok)
	assert.Equal(t, user.GetID(), id)
}

func TestSessionRememberCookie(t *testing.T) {
	cfg := internalConfig()
	sessions := NewSessionManager(cfg, NewTokenService(cfg))

	var written *router.Cookie
	ctx := router.NewMockContext()
	ctx.On("Cookie", mock.Anything).Return().Run(func(args mock.Arguments) {
		written = args.Get(0).(*router.Cookie)
	})

	user := &User{}
	user.ID[0] = 2
	require.NoError(t, sessions.Login(ctx, user, true))

	require.NotNil(t, written)
	assert.WithinDuration(t, time.Now().Add(cfg.RememberDuration), written.Expires, time.Minute)
}

func TestSessionRejectsOtherTokens(t *testing.T) {
	cfg := internalConfig()
	tokens := NewTokenService(cfg)
	sessions := NewSessionManager(cfg, tokens)

	link, err := tokens.CreateToken("user-1", PurposeLoginLink)
	require.NoError(t, err)

	ctx := router.NewMockContext()
	ctx.CookiesM[cfg.SessionCookieName] = link

	_, ok := sessions.CurrentUserID(ctx)
	assert.False(t, ok)
}

func TestSessionLogoutExpiresCookie(t *testing.T) {
	cfg := internalConfig()
	sessions := NewSessionManager(cfg, NewTokenService(cfg))

	ctx := router.NewMockContext()
	ctx.On("Cookie", mock.MatchedBy(func(c *router.Cookie) bool {
		return c.Name == cfg.SessionCookieName && c.Value == "" && c.Expires.Before(time.Now())
	})).Return().Once()

	sessions.Logout(ctx)
	ctx.AssertExpectations(t)
}

func TestPendingLoginRoundTrip(t *testing.T) {
	cfg := internalConfig()
	sessions := NewSessionManager(cfg, NewTokenService(cfg))

	var written *router.Cookie
	ctx := router.NewMockContext()
	ctx.On("Cookie", mock.Anything).Return().Run(func(args mock.Arguments) {
		written = args.Get(0).(*router.Cookie)
	})

	require.NoError(t, sessions.SetPendingLogin(ctx, "user-1", "123456"))
	require.NotNil(t, written)
	assert.Equal(t, cfg.PendingLoginCookieName, written.Name)
	assert.NotContains(t, written.Value, "123456")

	ctx.CookiesM[cfg.PendingLoginCookieName] = written.Value
	pending, err := sessions.PendingLogin(ctx)
	require.NoError(t, err)
	assert.Equal(t, "user-1", pending.UserID)
	assert.NotEmpty(t, pending.TokenID)

	assert.True(t, sessions.CheckCode(pending, "123456"))
	assert.True(t, sessions.CheckCode(pending, " 123456 "))
	assert.False(t, sessions.CheckCode(pending, "654321"))
	assert.False(t, sessions.CheckCode(pending, ""))
	assert.False(t, sessions.CheckCode(nil, "123456"))
}

func TestPendingLoginMissing(t *testing.T) {
	cfg := internalConfig()
	sessions := NewSessionManager(cfg, NewTokenService(cfg))

	ctx := router.NewMockContext()
	_, err := sessions.PendingLogin(ctx)
	require.ErrorIs(t, err, ErrNoPendingLogin)

	ctx.CookiesM[cfg.PendingLoginCookieName] = "garbage"
	_, err = sessions.PendingLogin(ctx)
	require.ErrorIs(t, err, ErrNoPendingLogin)
}

func TestHashCodeIsBoundToUser(t *testing.T) {
	cfg := internalConfig()
	sessions := NewSessionManager(cfg, NewTokenService(cfg))

	assert.NotEqual(t, sessions.HashCode("user-1", "123456"), sessions.HashCode("user-2", "123456"))
	assert.Equal(t, sessions.HashCode("user-1", "123456"), sessions.HashCode("user-1", "123456 "))
}

func TestClientIPIgnoresForwardedHeaders(t *testing.T) {
	ctx := router.NewMockContext()
	ctx.HeadersM["X-Forwarded-For"] = "10.0.0.1, 10.0.0.2"
	ctx.HeadersM["X-Real-Ip"] = "10.0.0.3"
	ctx.On("IP").Return("192.168.1.9")

	assert.Equal(t, "192.168.1.9", ClientIP(ctx))
}

func TestSetCurrentUser(t *testing.T) {
	ctx := router.NewMockContext()
	ctx.On("Context").Return(context.Background())
	ctx.On("Locals", TemplateUserKey, mock.Anything).Return(nil)
	ctx.On("SetContext", mock.Anything).Return()

	user := &User{Username: "pepe"}
	setCurrentUser(ctx, user)

	ctx.AssertCalled(t, "Locals", TemplateUserKey, user)
	ctx.AssertCalled(t, "SetContext", mock.MatchedBy(func(c context.Context) bool {
		u, ok := FromContext(c)
		return ok && u == user
	}))
}
