package auth

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-featuregate/gate"
	"github.com/goliatone/go-router"
)

// Links builds the absolute URLs placed in emails
type Links struct {
	BaseURL           string
	LoginLinkPath     string
	ResetPasswordPath string
}

// DefaultLinks uses the default route paths under baseURL
func DefaultLinks(baseURL string) Links {
	return Links{
		BaseURL:           baseURL,
		LoginLinkPath:     DefaultRoutes().LoginLink,
		ResetPasswordPath: DefaultRoutes().ResetPassword,
	}
}

func (l Links) LoginLinkURL(token string) string {
	return l.absolute(WithQuery(l.LoginLinkPath, "token", token))
}

// ResetPasswordURL fills the :token segment of the reset path
func (l Links) ResetPasswordURL(token string) string {
	path := l.ResetPasswordPath
	if strings.Contains(path, ":token") {
		path = strings.Replace(path, ":token", url.PathEscape(token), 1)
	} else {
		path = strings.TrimSuffix(path, "/") + "/" + url.PathEscape(token)
	}
	return l.absolute(path)
}

func (l Links) absolute(path string) string {
	return strings.TrimSuffix(l.BaseURL, "/") + path
}

// WithQuery sets key=val on path
func WithQuery(path, key, val string) string {
	u, err := url.Parse(path)
	if err != nil {
		return path
	}
	q := u.Query()
	q.Set(key, val)
	u.RawQuery = q.Encode()
	return u.String()
}

// Flows bundles the signup, login, logout, login link and password
// reset operations over a RepositoryManager.
type Flows struct {
	cfg      Config
	repo     RepositoryManager
	tokens   *TokenService
	sessions *SessionManager
	links    Links
	mailer   Mailer
	limiter  AttemptLimiter
	activity ActivitySink
	logger   Logger
	gate     gate.FeatureGate
}

func NewFlows(cfg Config, repo RepositoryManager, mailer Mailer) (*Flows, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	limiter, err := NewAttemptLimiter(cfg.MaxLoginCodeAttempts, cfg.TokenMaxAge)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create login code limiter")
	}

	tokens := NewTokenService(cfg)

	return &Flows{
		cfg:      cfg,
		repo:     repo,
		tokens:   tokens,
		sessions: NewSessionManager(cfg, tokens),
		links:    DefaultLinks(cfg.BaseURL),
		mailer:   mailer,
		limiter:  limiter,
		activity: noopActivitySink{},
		logger:   defLogger{},
	}, nil
}

func (f *Flows) WithLinks(links Links) *Flows {
	f.links = links
	return f
}

func (f *Flows) WithActivitySink(sink ActivitySink) *Flows {
	f.activity = normalizeActivitySink(sink)
	return f
}

func (f *Flows) WithLogger(logger Logger) *Flows {
	if logger != nil {
		f.logger = logger
	}
	return f
}

// WithFeatureGate gates signup and password reset
func (f *Flows) WithFeatureGate(fg gate.FeatureGate) *Flows {
	f.gate = fg
	return f
}

func (f *Flows) WithLimiter(limiter AttemptLimiter) *Flows {
	if limiter != nil {
		f.limiter = limiter
	}
	return f
}

func (f *Flows) Config() Config {
	return f.cfg
}

func (f *Flows) Tokens() *TokenService {
	return f.tokens
}

func (f *Flows) Sessions() *SessionManager {
	return f.sessions
}

func (f *Flows) Links() Links {
	return f.links
}

func (f *Flows) Repository() RepositoryManager {
	return f.repo
}

// Signup creates the account. It does not start a session.
func (f *Flows) Signup(ctx context.Context, msg SignupMessage) (*User, error) {
	var user *User
	msg.OnResponse = func(u *User) {
		user = u
	}

	err := NewSignupHandler(f.repo, f.cfg).
		WithMailer(f.mailer).
		WithActivitySink(f.activity).
		WithLogger(f.logger).
		WithFeatureGate(f.gate).
		Execute(ctx, msg)
	if err != nil {
		return nil, err
	}
	return user, nil
}

// FindUser looks a user up by the configured login field. A missing
// user is reported as nil without error.
func (f *Flows) FindUser(ctx context.Context, field LoginIdentifier, value string) (*User, error) {
	user, err := f.repo.Users().FindForLogin(ctx, field, value)
	if err != nil {
		if isRecordNotFound(err) {
			return nil, nil
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to look up user")
	}
	return user, nil
}

// LoadUser implements UserLoader. Unknown and deleted users load as nil.
func (f *Flows) LoadUser(ctx context.Context, userID string) (*User, error) {
	user, err := f.repo.Users().GetByID(ctx, userID)
	if err != nil {
		if isRecordNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return user, nil
}

// Login checks password for user and starts a session on success
func (f *Flows) Login(c router.Context, user *User, password string, remember bool, using Method) error {
	ctx := c.Context()
	ip := ClientIP(c)

	if user == nil {
		return ErrInvalidCredentials
	}

	f.forgetStaleAttempts(user)
	if f.inCooldown(user) {
		f.record(ctx, ActivityEventLoginFailure, user.GetID(), using, ip, map[string]any{"reason": "cooldown"})
		return ErrTooManyAttempts
	}

	if !user.VerifyPassword(password) {
		if err := f.repo.Users().TrackAttemptedLogin(ctx, user); err != nil {
			f.logger.Error("failed to track login attempt", "user", user.GetID(), "error", err)
		}
		f.record(ctx, ActivityEventLoginFailure, user.GetID(), using, ip, map[string]any{"reason": "password"})
		return ErrInvalidCredentials
	}

	return f.LoginUser(c, user, remember, using)
}

// forgetStaleAttempts drops failures older than LoginCooldown so the next
// failure starts a new count
func (f *Flows) forgetStaleAttempts(user *User) {
	if user.LoginAttemptAt != nil && !IsWithin(*user.LoginAttemptAt, f.cfg.LoginCooldown) {
		user.LoginAttempts = 0
	}
}

func (f *Flows) inCooldown(user *User) bool {
	if user.LoginAttempts < f.cfg.MaxLoginAttempts || user.LoginAttemptAt == nil {
		return false
	}
	return IsWithin(*user.LoginAttemptAt, f.cfg.LoginCooldown)
}

// LoginUser starts a session without checking a password
func (f *Flows) LoginUser(c router.Context, user *User, remember bool, using Method) error {
	ctx := c.Context()
	ip := ClientIP(c)

	user.MarkLogin(ip, using)
	if err := f.repo.Users().TrackSuccessfulLogin(ctx, user); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to record login")
	}

	if err := f.sessions.Login(c, user, remember); err != nil {
		return err
	}

	f.record(ctx, ActivityEventLoginSuccess, user.GetID(), using, ip, map[string]any{"remember": remember})
	return nil
}

// Logout ends the session of the current request
func (f *Flows) Logout(c router.Context) {
	var userID string
	if user, ok := CurrentUser(c); ok {
		userID = user.GetID()
	} else if id, ok := f.sessions.CurrentUserID(c); ok {
		userID = id
	}

	f.sessions.Logout(c)
	f.sessions.ClearPendingLogin(c)

	if userID != "" {
		f.record(c.Context(), ActivityEventLogout, userID, "", ClientIP(c), nil)
	}
}

// ValidatePassword applies the password policy
func (f *Flows) ValidatePassword(pwd string) error {
	if err := validation.Validate(pwd, validation.Required, validation.By(PasswordRule(f.cfg.PasswordMinLength))); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid password").
			WithMetadata(map[string]any{"fields": map[string]string{"password": err.Error()}})
	}
	return nil
}

// SendResetPasswordEmail emails a reset link when email belongs to an
// account. Unknown emails succeed silently.
func (f *Flows) SendResetPasswordEmail(ctx context.Context, email, remoteIP string) error {
	return NewInitializePasswordResetHandler(f.repo, f.cfg, f.tokens, f.links).
		WithMailer(f.mailer).
		WithActivitySink(f.activity).
		WithLogger(f.logger).
		WithFeatureGate(f.gate).
		Execute(ctx, InitializePasswordResetMessage{
			Email:    email,
			RemoteIP: remoteIP,
		})
}

// CheckResetToken returns the reset record behind token while it can
// still be used, or ErrNotFound.
func (f *Flows) CheckResetToken(ctx context.Context, token string) (*PasswordReset, error) {
	claims, err := f.tokens.LoadToken(token, PurposeResetPassword)
	if err != nil || claims.ID == "" {
		return nil, ErrNotFound
	}

	reset, err := f.repo.PasswordResets().GetByID(ctx, claims.ID)
	if err != nil {
		if isRecordNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "could not retrieve password reset request")
	}

	if ok, _ := reset.IsUsable(f.cfg.TokenMaxAge); !ok {
		return nil, ErrNotFound
	}
	return reset, nil
}

// ResetPassword sets a new password through a reset token and returns
// the user it belongs to.
func (f *Flows) ResetPassword(ctx context.Context, token, password, confirm, remoteIP string) (*User, error) {
	var user *User
	err := NewFinalizePasswordResetHandler(f.repo, f.cfg, f.tokens).
		WithActivitySink(f.activity).
		WithLogger(f.logger).
		WithFeatureGate(f.gate).
		Execute(ctx, FinalizePasswordResetMessage{
			Token:           token,
			Password:        password,
			PasswordConfirm: confirm,
			RemoteIP:        remoteIP,
			OnResponse: func(u *User) {
				user = u
			},
		})
	if err != nil {
		return nil, err
	}
	return user, nil
}

// SendLoginLink emails a login link and code to user and returns the code
func (f *Flows) SendLoginLink(ctx context.Context, user *User, remoteIP string) (string, error) {
	var code string
	err := NewSendLoginLinkHandler(f.cfg, f.tokens, f.links, f.mailer).
		WithActivitySink(f.activity).
		WithLogger(f.logger).
		Execute(ctx, SendLoginLinkMessage{
			User:     user,
			RemoteIP: remoteIP,
			OnResponse: func(resp *SendLoginLinkResponse) {
				code = resp.Code
			},
		})
	if err != nil {
		return "", err
	}
	return code, nil
}

// StartLoginLink sends the link and binds the code to this browser
func (f *Flows) StartLoginLink(c router.Context, user *User) error {
	code, err := f.SendLoginLink(c.Context(), user, ClientIP(c))
	if err != nil {
		return err
	}
	return f.sessions.SetPendingLogin(c, user.GetID(), code)
}

// LoginLinkURL returns a login URL for user without sending it
func (f *Flows) LoginLinkURL(user *User) (string, error) {
	token, err := f.CreateToken(user)
	if err != nil {
		return "", err
	}
	return f.links.LoginLinkURL(token), nil
}

// CreateToken issues a login link token for user
func (f *Flows) CreateToken(user *User) (string, error) {
	if user == nil {
		return "", goerrors.New("token requires a user", goerrors.CategoryBadInput)
	}
	return f.tokens.CreateToken(user.GetID(), PurposeLoginLink)
}

// UserFromToken resolves a login link token. Invalid, expired and
// unknown tokens return nil without error.
func (f *Flows) UserFromToken(ctx context.Context, token string) (*User, error) {
	claims, err := f.tokens.LoadToken(token, PurposeLoginLink)
	if err != nil {
		f.logger.Debug("rejected login token", "error", err)
		return nil, nil
	}
	return f.LoadUser(ctx, claims.UserID())
}

// UserFromTokenOrNotFound is UserFromToken returning ErrNotFound
func (f *Flows) UserFromTokenOrNotFound(ctx context.Context, token string) (*User, error) {
	user, err := f.UserFromToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrNotFound
	}
	return user, nil
}

// LoginWithLinkToken resolves a login link token or fails with ErrTokenInvalid
func (f *Flows) LoginWithLinkToken(ctx context.Context, token string) (*User, error) {
	user, err := f.UserFromToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrTokenInvalid
	}
	return user, nil
}

// VerifyLoginCode checks code against the pending login. Bad codes are
// counted per pending login and once the limit is reached every further
// attempt fails with ErrTooManyAttempts.
func (f *Flows) VerifyLoginCode(ctx context.Context, pending *PendingLogin, code string) (*User, error) {
	if pending == nil {
		return nil, ErrNoPendingLogin
	}

	key := "login_code:" + pending.TokenID
	if f.limiter.Exceeded(key) {
		return nil, ErrTooManyAttempts
	}

	if !f.sessions.CheckCode(pending, code) {
		if n := f.limiter.Fail(key); n >= f.cfg.MaxLoginCodeAttempts {
			return nil, ErrTooManyAttempts
		}
		return nil, ErrInvalidLoginCode
	}

	f.limiter.Reset(key)

	user, err := f.LoadUser(ctx, pending.UserID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrNoPendingLogin
	}
	return user, nil
}

func (f *Flows) record(ctx context.Context, kind ActivityEventType, userID string, using Method, ip string, meta map[string]any) {
	evt := ActivityEvent{
		EventType:  kind,
		UserID:     userID,
		Using:      using,
		RemoteIP:   ip,
		Metadata:   meta,
		OccurredAt: time.Now(),
	}
	if err := normalizeActivitySink(f.activity).Record(ctx, evt); err != nil {
		f.logger.Warn("activity sink error", "event", kind, "error", err)
	}
}

func humanDuration(d time.Duration) string {
	switch {
	case d >= 24*time.Hour && d%(24*time.Hour) == 0:
		return plural(int(d/(24*time.Hour)), "day")
	case d >= time.Hour && d%time.Hour == 0:
		return plural(int(d/time.Hour), "hour")
	case d >= time.Minute:
		return plural(int(d/time.Minute), "minute")
	}
	return d.String()
}

func plural(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
