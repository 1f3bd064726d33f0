package auth_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/goliatone/go-auth-flows"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-featuregate/gate"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestInitializePasswordResetSendsLink(t *testing.T) {
	cfg := testConfig()
	tokens := auth.NewTokenService(cfg)
	repo := &MockRepositoryManager{}
	users := &MockUsers{}
	resets := &MockPasswordResets{}
	sink := &MockActivitySink{}
	mailer := &captureMailer{}

	user := newUser("pepe@example.com", "secret-pass1")

	repo.On("Users").Return(users)
	repo.On("PasswordResets").Return(resets)
	runTx(repo).Once()

	users.On("FindForLoginTx", mock.Anything, mock.Anything, auth.IdentifierEmail, "pepe@example.com").
		Return(user, nil).Once()
	resets.On("CreateTx", mock.Anything, mock.Anything, mock.MatchedBy(func(r *auth.PasswordReset) bool {
		return r.UserID != nil && *r.UserID == user.ID && r.Status == auth.ResetRequestedStatus
	}), mock.Anything).Return(func() *auth.PasswordReset {
		return &auth.PasswordReset{ID: uuid.New(), UserID: &user.ID, Status: auth.ResetRequestedStatus}
	}(), nil).Once()

	sink.On("Record", mock.Anything, mock.MatchedBy(func(evt auth.ActivityEvent) bool {
		return evt.EventType == auth.ActivityEventPasswordResetRequested && evt.UserID == user.GetID()
	})).Return(nil).Once()

	var resp *auth.InitializePasswordResetResponse
	err := auth.NewInitializePasswordResetHandler(repo, cfg, tokens, auth.DefaultLinks(cfg.BaseURL)).
		WithMailer(mailer).
		WithActivitySink(sink).
		Execute(context.Background(), auth.InitializePasswordResetMessage{
			Email:      "pepe@example.com",
			OnResponse: func(r *auth.InitializePasswordResetResponse) { resp = r },
		})
	require.NoError(t, err)
	require.NotNil(t, resp)
	require.NotNil(t, resp.Reset)
	assert.True(t, strings.HasPrefix(resp.Link, "https://example.com/reset-password/"))

	sent := mailer.last(t)
	assert.Equal(t, "reset_password", sent.Name)
	assert.Equal(t, user.Email, sent.To)
	assert.Equal(t, resp.Link, sent.Data["link"])
	assert.Equal(t, "1 hour", sent.Data["expires_in"])

	token := strings.TrimPrefix(resp.Link, "https://example.com/reset-password/")
	claims, err := tokens.LoadToken(token, auth.PurposeResetPassword)
	require.NoError(t, err)
	assert.Equal(t, resp.Reset.ID.String(), claims.ID)
	assert.Equal(t, user.GetID(), claims.UserID())

	users.AssertExpectations(t)
	resets.AssertExpectations(t)
	sink.AssertExpectations(t)
}

func TestInitializePasswordResetUnknownEmail(t *testing.T) {
	cfg := testConfig()
	repo := &MockRepositoryManager{}
	users := &MockUsers{}
	mailer := &captureMailer{}

	repo.On("Users").Return(users)
	runTx(repo).Once()
	users.On("FindForLoginTx", mock.Anything, mock.Anything, auth.IdentifierEmail, "ghost@example.com").
		Return(nil, repository.NewRecordNotFound()).Once()

	err := auth.NewInitializePasswordResetHandler(repo, cfg, auth.NewTokenService(cfg), auth.DefaultLinks(cfg.BaseURL)).
		WithMailer(mailer).
		WithLogger(testLogger{}).
		Execute(context.Background(), auth.InitializePasswordResetMessage{Email: "ghost@example.com"})
	require.NoError(t, err)
	assert.Empty(t, mailer.sent)
}

func TestInitializePasswordResetDeniedByFeatureGate(t *testing.T) {
	cfg := testConfig()
	repo := &MockRepositoryManager{}
	stubGate := &stubFeatureGate{
		enabled: map[string]bool{gate.FeatureUsersPasswordReset: false},
	}

	err := auth.NewInitializePasswordResetHandler(repo, cfg, auth.NewTokenService(cfg), auth.DefaultLinks(cfg.BaseURL)).
		WithFeatureGate(stubGate).
		Execute(context.Background(), auth.InitializePasswordResetMessage{Email: "a@example.com"})
	require.ErrorIs(t, err, auth.ErrPasswordResetDisabled)
	assert.Equal(t, []string{gate.FeatureUsersPasswordReset}, stubGate.calls)
}

type resetFixture struct {
	cfg    auth.Config
	tokens *auth.TokenService
	repo   *MockRepositoryManager
	users  *MockUsers
	resets *MockPasswordResets
	user   *auth.User
	reset  *auth.PasswordReset
	token  string
}

func newResetFixture(t *testing.T) *resetFixture {
	t.Helper()
	cfg := testConfig()
	tokens := auth.NewTokenService(cfg)
	user := newUser("pepe@example.com", "old-pass1")
	now := time.Now()

	reset := &auth.PasswordReset{
		ID:        uuid.New(),
		UserID:    &user.ID,
		Email:     user.Email,
		Status:    auth.ResetRequestedStatus,
		CreatedAt: &now,
	}

	token, err := tokens.CreateToken(user.GetID(), auth.PurposeResetPassword, auth.WithTokenID(reset.ID.String()))
	require.NoError(t, err)

	f := &resetFixture{
		cfg:    cfg,
		tokens: tokens,
		repo:   &MockRepositoryManager{},
		users:  &MockUsers{},
		resets: &MockPasswordResets{},
		user:   user,
		reset:  reset,
		token:  token,
	}
	f.repo.On("Users").Return(f.users).Maybe()
	f.repo.On("PasswordResets").Return(f.resets).Maybe()
	return f
}

func (f *resetFixture) handler() *auth.FinalizePasswordResetHandler {
	return auth.NewFinalizePasswordResetHandler(f.repo, f.cfg, f.tokens).WithLogger(testLogger{})
}

func TestFinalizePasswordResetHandlerEmitsActivity(t *testing.T) {
	f := newResetFixture(t)
	sink := &MockActivitySink{}

	runTx(f.repo).Once()
	f.resets.On("GetByIDTx", mock.Anything, mock.Anything, f.reset.ID.String(), mock.Anything).Return(f.reset, nil).Once()
	f.users.On("UpdatePasswordTx", mock.Anything, mock.Anything, f.user.ID, mock.MatchedBy(func(hash string) bool {
		return auth.ComparePasswordAndHash("new-pass12", hash) == nil
	})).Return(nil).Once()
	f.resets.On("UpdateTx", mock.Anything, mock.Anything, mock.MatchedBy(func(r *auth.PasswordReset) bool {
		return r.ID == f.reset.ID && r.Status == auth.ResetChangedStatus && r.ResetedAt != nil
	}), mock.Anything).Return(f.reset, nil).Once()
	f.users.On("GetByIdentifierTx", mock.Anything, mock.Anything, f.user.GetID(), mock.Anything).Return(f.user, nil).Once()

	sink.On("Record", mock.Anything, mock.MatchedBy(func(evt auth.ActivityEvent) bool {
		return evt.EventType == auth.ActivityEventPasswordResetSuccess &&
			evt.UserID == f.user.GetID()
	})).Return(nil).Once()

	var updated *auth.User
	err := f.handler().
		WithActivitySink(sink).
		Execute(context.Background(), auth.FinalizePasswordResetMessage{
			Token:           f.token,
			Password:        "new-pass12",
			PasswordConfirm: "new-pass12",
			OnResponse:      func(u *auth.User) { updated = u },
		})
	require.NoError(t, err)
	assert.Equal(t, f.user, updated)

	f.repo.AssertExpectations(t)
	f.users.AssertExpectations(t)
	f.resets.AssertExpectations(t)
	sink.AssertExpectations(t)
}

func TestFinalizePasswordResetRejectsUsedReset(t *testing.T) {
	f := newResetFixture(t)
	f.reset.Status = auth.ResetChangedStatus

	runTx(f.repo).Once()
	f.resets.On("GetByIDTx", mock.Anything, mock.Anything, f.reset.ID.String(), mock.Anything).Return(f.reset, nil).Once()

	err := f.handler().Execute(context.Background(), auth.FinalizePasswordResetMessage{
		Token:    f.token,
		Password: "new-pass12",
	})
	require.ErrorIs(t, err, auth.ErrTokenUsed)
	f.users.AssertNotCalled(t, "UpdatePasswordTx", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestFinalizePasswordResetLosesRaceToConcurrentFinalize(t *testing.T) {
	f := newResetFixture(t)

	runTx(f.repo).Once()
	f.resets.On("GetByIDTx", mock.Anything, mock.Anything, f.reset.ID.String(), mock.Anything).Return(f.reset, nil).Once()
	f.resets.On("UpdateTx", mock.Anything, mock.Anything, mock.Anything, mock.MatchedBy(func(criteria []repository.UpdateCriteria) bool {
		return len(criteria) == 2
	})).Return(nil, goerrors.NewNonRetryable("expected 1 row affected, got 0", repository.CategoryDatabaseExpectedCount)).Once()

	err := f.handler().Execute(context.Background(), auth.FinalizePasswordResetMessage{
		Token:    f.token,
		Password: "new-pass12",
	})
	require.ErrorIs(t, err, auth.ErrTokenUsed)
	f.users.AssertNotCalled(t, "UpdatePasswordTx", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	f.resets.AssertExpectations(t)
}

func TestFinalizePasswordResetRejectsExpiredReset(t *testing.T) {
	f := newResetFixture(t)
	created := time.Now().Add(-2 * time.Hour)
	f.reset.CreatedAt = &created

	runTx(f.repo).Once()
	f.resets.On("GetByIDTx", mock.Anything, mock.Anything, f.reset.ID.String(), mock.Anything).Return(f.reset, nil).Once()

	err := f.handler().Execute(context.Background(), auth.FinalizePasswordResetMessage{
		Token:    f.token,
		Password: "new-pass12",
	})
	require.ErrorIs(t, err, auth.ErrTokenExpired)
}

func TestFinalizePasswordResetRejectsForeignReset(t *testing.T) {
	f := newResetFixture(t)
	other := uuid.New()
	f.reset.UserID = &other

	runTx(f.repo).Once()
	f.resets.On("GetByIDTx", mock.Anything, mock.Anything, f.reset.ID.String(), mock.Anything).Return(f.reset, nil).Once()

	err := f.handler().Execute(context.Background(), auth.FinalizePasswordResetMessage{
		Token:    f.token,
		Password: "new-pass12",
	})
	require.ErrorIs(t, err, auth.ErrTokenInvalid)
}

func TestFinalizePasswordResetRejectsBadToken(t *testing.T) {
	f := newResetFixture(t)

	link, err := f.tokens.CreateToken(f.user.GetID(), auth.PurposeLoginLink, auth.WithTokenID(f.reset.ID.String()))
	require.NoError(t, err)

	err = f.handler().Execute(context.Background(), auth.FinalizePasswordResetMessage{
		Token:    link,
		Password: "new-pass12",
	})
	require.Error(t, err)
	f.repo.AssertNotCalled(t, "RunInTx", mock.Anything, mock.Anything, mock.Anything)
}

func TestFinalizePasswordResetValidatesPassword(t *testing.T) {
	f := newResetFixture(t)

	err := f.handler().Execute(context.Background(), auth.FinalizePasswordResetMessage{
		Token:           f.token,
		Password:        "new-pass12",
		PasswordConfirm: "different1",
	})
	require.Error(t, err)

	err = f.handler().Execute(context.Background(), auth.FinalizePasswordResetMessage{
		Token:    f.token,
		Password: "abc",
	})
	require.Error(t, err)
	f.repo.AssertNotCalled(t, "RunInTx", mock.Anything, mock.Anything, mock.Anything)
}

func TestFinalizePasswordResetFeatureGateOverride(t *testing.T) {
	f := newResetFixture(t)
	stubGate := &stubFeatureGate{
		enabled: map[string]bool{
			gate.FeatureUsersPasswordReset:         false,
			gate.FeatureUsersPasswordResetFinalize: false,
		},
	}

	err := f.handler().
		WithFeatureGate(stubGate).
		Execute(context.Background(), auth.FinalizePasswordResetMessage{
			Token:    f.token,
			Password: "new-pass12",
		})
	require.ErrorIs(t, err, auth.ErrPasswordResetDisabled)
	assert.NotEmpty(t, stubGate.calls)
}
