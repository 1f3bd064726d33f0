package auth

import (
	"slices"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	goerrors "github.com/goliatone/go-errors"
)

// LoginIdentifier selects which form field the login page looks users up by
type LoginIdentifier = string

const (
	IdentifierEmail           LoginIdentifier = "email"
	IdentifierUsername        LoginIdentifier = "username"
	IdentifierUsernameOrEmail LoginIdentifier = "username_or_email"
)

const (
	DefaultForgotPasswordFlashMessage = "An email has been sent with instructions on how to reset your password"
	DefaultTokenMaxAge                = time.Hour
	DefaultSessionCookieName          = "auth_session"
	DefaultPendingLoginCookieName     = "auth_pending_login"
	DefaultIssuer                     = "go-auth-flows"
	DefaultPasswordMinLength          = 8
	DefaultMaxLoginAttempts           = 5
	DefaultMaxLoginCodeAttempts       = 5
)

// Config holds the plug-in settings. Zero values fall back to defaults.
type Config struct {
	SignupDefaultRedirectURL   string          `koanf:"signup_default_redirect_url" json:"signup_default_redirect_url"`
	ResetPasswordRedirectURL   string          `koanf:"reset_password_redirect_url" json:"reset_password_redirect_url"`
	LoginRedirectURL           string          `koanf:"login_redirect_url" json:"login_redirect_url"`
	LogoutRedirectURL          string          `koanf:"logout_redirect_url" json:"logout_redirect_url"`
	ForgotPasswordFlashMessage string          `koanf:"forgot_password_flash_message" json:"forgot_password_flash_message"`
	TokenMaxAge                time.Duration   `koanf:"token_max_age" json:"token_max_age"`
	AllowedMethods             []Method        `koanf:"allowed_methods" json:"allowed_methods"`
	SignupEmailTemplate        string          `koanf:"signup_email_template" json:"signup_email_template"`
	ResetPasswordEmailTemplate string          `koanf:"reset_password_email_template" json:"reset_password_email_template"`
	LoginLinkEmailTemplate     string          `koanf:"login_link_email_template" json:"login_link_email_template"`
	LoginIdentifier            LoginIdentifier `koanf:"login_identifier" json:"login_identifier"`
	// PasswordlessLogin makes the login page email a link instead of asking for a password
	PasswordlessLogin    bool          `koanf:"passwordless_login" json:"passwordless_login"`
	PasswordMinLength    int           `koanf:"password_min_length" json:"password_min_length"`
	MaxLoginAttempts     int           `koanf:"max_login_attempts" json:"max_login_attempts"`
	LoginCooldown        time.Duration `koanf:"login_cooldown" json:"login_cooldown"`
	MaxLoginCodeAttempts int           `koanf:"max_login_code_attempts" json:"max_login_code_attempts"`

	SigningKey             string        `koanf:"signing_key" json:"-"`
	Issuer                 string        `koanf:"issuer" json:"issuer"`
	BaseURL                string        `koanf:"base_url" json:"base_url"`
	SessionCookieName      string        `koanf:"session_cookie_name" json:"session_cookie_name"`
	PendingLoginCookieName string        `koanf:"pending_login_cookie_name" json:"pending_login_cookie_name"`
	SessionDuration        time.Duration `koanf:"session_duration" json:"session_duration"`
	RememberDuration       time.Duration `koanf:"remember_duration" json:"remember_duration"`
	InsecureCookies        bool          `koanf:"insecure_cookies" json:"insecure_cookies"`
	UseHashid              bool          `koanf:"use_hashid" json:"use_hashid"`
}

// DefaultConfig returns a config with every default applied
func DefaultConfig() Config {
	return Config{}.WithDefaults()
}

// WithDefaults returns a copy with zero values replaced by defaults
func (c Config) WithDefaults() Config {
	if c.SignupDefaultRedirectURL == "" {
		c.SignupDefaultRedirectURL = "/"
	}
	if c.ResetPasswordRedirectURL == "" {
		c.ResetPasswordRedirectURL = "/"
	}
	if c.LoginRedirectURL == "" {
		c.LoginRedirectURL = "/"
	}
	if c.LogoutRedirectURL == "" {
		c.LogoutRedirectURL = "/"
	}
	if c.ForgotPasswordFlashMessage == "" {
		c.ForgotPasswordFlashMessage = DefaultForgotPasswordFlashMessage
	}
	if c.TokenMaxAge <= 0 {
		c.TokenMaxAge = DefaultTokenMaxAge
	}
	if len(c.AllowedMethods) == 0 {
		c.AllowedMethods = []Method{MethodConnect}
	}
	if c.ResetPasswordEmailTemplate == "" {
		c.ResetPasswordEmailTemplate = "reset_password"
	}
	if c.LoginLinkEmailTemplate == "" {
		c.LoginLinkEmailTemplate = "login_link"
	}
	if c.LoginIdentifier == "" {
		c.LoginIdentifier = IdentifierEmail
	}
	if c.PasswordMinLength <= 0 {
		c.PasswordMinLength = DefaultPasswordMinLength
	}
	if c.MaxLoginAttempts <= 0 {
		c.MaxLoginAttempts = DefaultMaxLoginAttempts
	}
	if c.LoginCooldown <= 0 {
		c.LoginCooldown = 24 * time.Hour
	}
	if c.MaxLoginCodeAttempts <= 0 {
		c.MaxLoginCodeAttempts = DefaultMaxLoginCodeAttempts
	}
	if c.Issuer == "" {
		c.Issuer = DefaultIssuer
	}
	if c.SessionCookieName == "" {
		c.SessionCookieName = DefaultSessionCookieName
	}
	if c.PendingLoginCookieName == "" {
		c.PendingLoginCookieName = DefaultPendingLoginCookieName
	}
	if c.SessionDuration <= 0 {
		c.SessionDuration = 24 * time.Hour
	}
	if c.RememberDuration <= 0 {
		c.RememberDuration = 30 * 24 * time.Hour
	}
	return c
}

// Validate will run validation rules
func (c Config) Validate() error {
	err := validation.ValidateStruct(&c,
		validation.Field(&c.SigningKey, validation.Required, validation.Length(32, 0)),
		validation.Field(&c.AllowedMethods, validation.Each(validation.In(MethodConnect, MethodLogin, MethodSignup))),
		validation.Field(&c.LoginIdentifier, validation.In(IdentifierEmail, IdentifierUsername, IdentifierUsernameOrEmail)),
	)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid auth configuration").
			WithMetadata(map[string]any{"fields": FormatValidationErrorToMap(err)})
	}
	return nil
}

// IsMethodAllowed reports whether the entry point is enabled
func (c Config) IsMethodAllowed(m Method) bool {
	return slices.Contains(c.AllowedMethods, m)
}

func (c Config) cookieSecure() bool {
	return !c.InsecureCookies
}
