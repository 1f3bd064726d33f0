package auth_test

import (
	"context"
	"database/sql"
	"strings"
	"testing"
	"time"

	"github.com/goliatone/go-auth-flows"
	"github.com/goliatone/go-featuregate/gate"
	"github.com/goliatone/go-repository-bun"
	"github.com/goliatone/go-router"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
)

const testSigningKey = "test-signing-key-0123456789abcdef0123"

func testConfig() auth.Config {
	return auth.Config{
		SigningKey:     testSigningKey,
		BaseURL:        "https://example.com",
		AllowedMethods: []auth.Method{auth.MethodConnect, auth.MethodLogin, auth.MethodSignup},
	}.WithDefaults()
}

type testLogger struct{}

func (testLogger) Debug(string, ...any) {}
func (testLogger) Info(string, ...any)  {}
func (testLogger) Warn(string, ...any)  {}
func (testLogger) Error(string, ...any) {}

// MockRepositoryManager implements auth.RepositoryManager
type MockRepositoryManager struct {
	mock.Mock
}

func (m *MockRepositoryManager) Validate() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockRepositoryManager) MustValidate() {
	m.Called()
}

func (m *MockRepositoryManager) RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error {
	args := m.Called(ctx, opts, f)
	if err := args.Error(0); err != nil {
		return err
	}
	var tx bun.Tx
	return f(ctx, tx)
}

func (m *MockRepositoryManager) Users() auth.Users {
	args := m.Called()
	return args.Get(0).(auth.Users)
}

func (m *MockRepositoryManager) PasswordResets() repository.Repository[*auth.PasswordReset] {
	args := m.Called()
	return args.Get(0).(repository.Repository[*auth.PasswordReset])
}

// runTx lets RunInTx execute the callback with a zero transaction
func runTx(repo *MockRepositoryManager) *mock.Call {
	return repo.On("RunInTx", mock.Anything, (*sql.TxOptions)(nil), mock.Anything).Return(nil)
}

// MockUsers implements auth.Users. Methods not overridden panic.
type MockUsers struct {
	auth.Users
	mock.Mock
}

func userOrNil(args mock.Arguments) *auth.User {
	if u, ok := args.Get(0).(*auth.User); ok {
		return u
	}
	return nil
}

func (m *MockUsers) GetByID(ctx context.Context, id string, criteria ...repository.SelectCriteria) (*auth.User, error) {
	args := m.Called(ctx, id, criteria)
	return userOrNil(args), args.Error(1)
}

func (m *MockUsers) GetByIdentifierTx(ctx context.Context, tx bun.IDB, identifier string, criteria ...repository.SelectCriteria) (*auth.User, error) {
	args := m.Called(ctx, tx, identifier, criteria)
	return userOrNil(args), args.Error(1)
}

func (m *MockUsers) FindForLogin(ctx context.Context, field auth.LoginIdentifier, value string) (*auth.User, error) {
	args := m.Called(ctx, field, value)
	return userOrNil(args), args.Error(1)
}

func (m *MockUsers) FindForLoginTx(ctx context.Context, tx bun.IDB, field auth.LoginIdentifier, value string) (*auth.User, error) {
	args := m.Called(ctx, tx, field, value)
	return userOrNil(args), args.Error(1)
}

func (m *MockUsers) EmailExistsTx(ctx context.Context, tx bun.IDB, email string) (bool, error) {
	args := m.Called(ctx, tx, email)
	return args.Bool(0), args.Error(1)
}

func (m *MockUsers) RegisterTx(ctx context.Context, tx bun.IDB, user *auth.User) (*auth.User, error) {
	args := m.Called(ctx, tx, user)
	if fn, ok := args.Get(0).(func(*auth.User) *auth.User); ok {
		return fn(user), args.Error(1)
	}
	return userOrNil(args), args.Error(1)
}

// echoUser makes RegisterTx return the record it was given, with the id
// the database would assign
func echoUser(u *auth.User) *auth.User {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return u
}

func (m *MockUsers) TrackAttemptedLogin(ctx context.Context, user *auth.User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}

func (m *MockUsers) TrackSuccessfulLogin(ctx context.Context, user *auth.User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}

func (m *MockUsers) UpdatePasswordTx(ctx context.Context, tx bun.IDB, id uuid.UUID, passwordHash string) error {
	args := m.Called(ctx, tx, id, passwordHash)
	return args.Error(0)
}

// MockPasswordResets implements repository.Repository[*auth.PasswordReset]
type MockPasswordResets struct {
	repository.Repository[*auth.PasswordReset]
	mock.Mock
}

func resetOrNil(args mock.Arguments) *auth.PasswordReset {
	if r, ok := args.Get(0).(*auth.PasswordReset); ok {
		return r
	}
	return nil
}

func (m *MockPasswordResets) GetByID(ctx context.Context, id string, criteria ...repository.SelectCriteria) (*auth.PasswordReset, error) {
	args := m.Called(ctx, id, criteria)
	return resetOrNil(args), args.Error(1)
}

func (m *MockPasswordResets) GetByIDTx(ctx context.Context, tx bun.IDB, id string, criteria ...repository.SelectCriteria) (*auth.PasswordReset, error) {
	args := m.Called(ctx, tx, id, criteria)
	return resetOrNil(args), args.Error(1)
}

func (m *MockPasswordResets) CreateTx(ctx context.Context, tx bun.IDB, record *auth.PasswordReset, criteria ...repository.InsertCriteria) (*auth.PasswordReset, error) {
	args := m.Called(ctx, tx, record, criteria)
	return resetOrNil(args), args.Error(1)
}

func (m *MockPasswordResets) UpdateTx(ctx context.Context, tx bun.IDB, record *auth.PasswordReset, criteria ...repository.UpdateCriteria) (*auth.PasswordReset, error) {
	args := m.Called(ctx, tx, record, criteria)
	return resetOrNil(args), args.Error(1)
}

// MockMailer implements auth.Mailer
type MockMailer struct {
	mock.Mock
}

func (m *MockMailer) SendTemplate(ctx context.Context, name, to string, data map[string]any) error {
	args := m.Called(ctx, name, to, data)
	return args.Error(0)
}

// MockActivitySink implements auth.ActivitySink
type MockActivitySink struct {
	mock.Mock
}

func (m *MockActivitySink) Record(ctx context.Context, event auth.ActivityEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

type stubFeatureGate struct {
	enabled map[string]bool
	calls   []string
	err     error
}

func (s *stubFeatureGate) Enabled(ctx context.Context, key string, opts ...gate.ResolveOption) (bool, error) {
	s.calls = append(s.calls, key)
	if s.err != nil {
		return false, s.err
	}
	if s.enabled == nil {
		return true, nil
	}
	enabled, ok := s.enabled[key]
	if !ok {
		return true, nil
	}
	return enabled, nil
}

// captureMailer records every template sent
type captureMailer struct {
	sent []sentEmail
	err  error
}

type sentEmail struct {
	Name string
	To   string
	Data map[string]any
}

func (m *captureMailer) SendTemplate(_ context.Context, name, to string, data map[string]any) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sentEmail{Name: name, To: to, Data: data})
	return nil
}

func (m *captureMailer) last(t *testing.T) sentEmail {
	t.Helper()
	require.NotEmpty(t, m.sent, "expected an email to be sent")
	return m.sent[len(m.sent)-1]
}

// cookieJar collects cookies written through a mock context
type cookieJar map[string]*router.Cookie

func (j cookieJar) value(name string) string {
	if c, ok := j[name]; ok && c != nil {
		return c.Value
	}
	return ""
}

// newRequestContext returns a mock context answering the calls every
// flow makes: request context, client ip and cookie writes.
func newRequestContext(jar cookieJar) *router.MockContext {
	ctx := router.NewMockContext()
	ctx.On("Context").Return(context.Background()).Maybe()
	ctx.On("SetContext", mock.Anything).Return().Maybe()
	ctx.On("IP").Return("127.0.0.1").Maybe()
	ctx.On("Locals", mock.Anything, mock.Anything).Return(nil).Maybe()
	ctx.On("Cookie", mock.Anything).Return().Run(func(args mock.Arguments) {
		if jar == nil {
			return
		}
		if c, ok := args.Get(0).(*router.Cookie); ok {
			jar[c.Name] = c
			if c.Value != "" {
				ctx.CookiesM[c.Name] = c.Value
			} else {
				delete(ctx.CookiesM, c.Name)
			}
		}
	}).Maybe()
	return ctx
}

func newUser(email, password string) *auth.User {
	now := time.Now()
	user := &auth.User{
		ID:        uuid.New(),
		Role:      auth.RoleMember,
		FirstName: strings.Split(email, "@")[0],
		CreatedAt: &now,
	}
	user.Email = email
	if password != "" {
		if err := user.SetPassword(password); err != nil {
			panic(err)
		}
	}
	return user
}
