package auth_test

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"

	"github.com/goliatone/go-auth-flows"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestGenerateLoginCode(t *testing.T) {
	digits := regexp.MustCompile(`^[0-9]+$`)

	code, err := auth.GenerateLoginCode(auth.LoginCodeLength)
	require.NoError(t, err)
	assert.Len(t, code, auth.LoginCodeLength)
	assert.Regexp(t, digits, code)

	code, err = auth.GenerateLoginCode(0)
	require.NoError(t, err)
	assert.Len(t, code, auth.LoginCodeLength)
}

func TestSendLoginLinkHandler(t *testing.T) {
	cfg := testConfig()
	tokens := auth.NewTokenService(cfg)
	mailer := &captureMailer{}
	sink := &MockActivitySink{}
	user := newUser("pepe@example.com", "")

	sink.On("Record", mock.Anything, mock.MatchedBy(func(evt auth.ActivityEvent) bool {
		return evt.EventType == auth.ActivityEventLoginLinkSent && evt.UserID == user.GetID()
	})).Return(nil).Once()

	var resp *auth.SendLoginLinkResponse
	err := auth.NewSendLoginLinkHandler(cfg, tokens, auth.DefaultLinks(cfg.BaseURL), mailer).
		WithActivitySink(sink).
		Execute(context.Background(), auth.SendLoginLinkMessage{
			User:       user,
			RemoteIP:   "10.0.0.1",
			OnResponse: func(r *auth.SendLoginLinkResponse) { resp = r },
		})
	require.NoError(t, err)
	require.NotNil(t, resp)

	sent := mailer.last(t)
	assert.Equal(t, "login_link", sent.Name)
	assert.Equal(t, user.Email, sent.To)
	assert.Equal(t, resp.Code, sent.Data["code"])
	assert.Equal(t, resp.Link, sent.Data["login_url"])

	prefix := "https://example.com/login/link?token="
	require.True(t, strings.HasPrefix(resp.Link, prefix))
	claims, err := tokens.LoadToken(strings.TrimPrefix(resp.Link, prefix), auth.PurposeLoginLink)
	require.NoError(t, err)
	assert.Equal(t, user.GetID(), claims.UserID())

	sink.AssertExpectations(t)
}

func TestSendLoginLinkHandlerErrors(t *testing.T) {
	cfg := testConfig()
	tokens := auth.NewTokenService(cfg)
	links := auth.DefaultLinks(cfg.BaseURL)

	t.Run("missing user", func(t *testing.T) {
		err := auth.NewSendLoginLinkHandler(cfg, tokens, links, &captureMailer{}).
			Execute(context.Background(), auth.SendLoginLinkMessage{})
		require.Error(t, err)
	})

	t.Run("missing mailer", func(t *testing.T) {
		err := auth.NewSendLoginLinkHandler(cfg, tokens, links, nil).
			Execute(context.Background(), auth.SendLoginLinkMessage{User: newUser("a@example.com", "")})
		require.Error(t, err)
	})

	t.Run("mailer failure", func(t *testing.T) {
		boom := errors.New("smtp down")
		err := auth.NewSendLoginLinkHandler(cfg, tokens, links, &captureMailer{err: boom}).
			Execute(context.Background(), auth.SendLoginLinkMessage{User: newUser("a@example.com", "")})
		require.ErrorIs(t, err, boom)
	})
}
