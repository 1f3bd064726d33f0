package auth

import (
	"errors"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	TextCodeInvalidCredentials = "INVALID_CREDENTIALS"
	TextCodeTokenExpired       = "TOKEN_EXPIRED"
	TextCodeTokenInvalid       = "TOKEN_INVALID"
	TextCodeTokenUsed          = "TOKEN_ALREADY_USED"
	TextCodeMethodNotAllowed   = "METHOD_NOT_ALLOWED"
	TextCodeEmailTaken         = "EMAIL_TAKEN"
	TextCodeTooManyAttempts    = "TOO_MANY_ATTEMPTS"
	TextCodeNoCurrentUser      = "NO_CURRENT_USER"
	TextCodeCaptchaFailed      = "CAPTCHA_FAILED"
	TextCodeInvalidLoginCode   = "INVALID_LOGIN_CODE"
	TextCodeNoPendingLogin     = "NO_PENDING_LOGIN"
	TextCodeFeatureDisabled    = "FEATURE_DISABLED"
)

var (
	// ErrNoEmptyString is returned when hashing an empty password
	ErrNoEmptyString = goerrors.New("password can not be empty", goerrors.CategoryValidation).
				WithTextCode("EMPTY_PASSWORD")

	// ErrMismatchedHashAndPassword is returned when a password does not match its hash
	ErrMismatchedHashAndPassword = goerrors.New("password does not match", goerrors.CategoryAuth).
					WithCode(goerrors.CodeUnauthorized).
					WithTextCode(TextCodeInvalidCredentials)

	// ErrInvalidCredentials hides which of identifier or password was wrong
	ErrInvalidCredentials = goerrors.New("invalid login credentials", goerrors.CategoryAuth).
				WithCode(goerrors.CodeUnauthorized).
				WithTextCode(TextCodeInvalidCredentials)

	ErrTooManyAttempts = goerrors.New("too many login attempts, try again later", goerrors.CategoryRateLimit).
				WithCode(goerrors.CodeForbidden).
				WithTextCode(TextCodeTooManyAttempts)

	ErrTokenExpired = goerrors.New("token is expired", goerrors.CategoryAuth).
			WithCode(goerrors.CodeUnauthorized).
			WithTextCode(TextCodeTokenExpired)

	ErrTokenInvalid = goerrors.New("token is invalid", goerrors.CategoryAuth).
			WithCode(goerrors.CodeUnauthorized).
			WithTextCode(TextCodeTokenInvalid)

	ErrTokenUsed = goerrors.New("token has already been used", goerrors.CategoryConflict).
			WithTextCode(TextCodeTokenUsed)

	// ErrNotFound maps to a 404 page
	ErrNotFound = goerrors.New("not found", goerrors.CategoryNotFound).
			WithCode(goerrors.CodeNotFound)

	// ErrMethodNotAllowed is returned when an auth entry point is disabled
	ErrMethodNotAllowed = goerrors.New("authentication method not allowed", goerrors.CategoryNotFound).
				WithCode(goerrors.CodeNotFound).
				WithTextCode(TextCodeMethodNotAllowed)

	ErrEmailTaken = goerrors.New("an account already exists for this email", goerrors.CategoryConflict).
			WithTextCode(TextCodeEmailTaken)

	ErrNoCurrentUser = goerrors.New("no user in context", goerrors.CategoryAuth).
				WithCode(goerrors.CodeUnauthorized).
				WithTextCode(TextCodeNoCurrentUser)

	ErrCaptchaFailed = goerrors.New("captcha validation failed", goerrors.CategoryValidation).
				WithTextCode(TextCodeCaptchaFailed)

	ErrInvalidLoginCode = goerrors.New("invalid login code", goerrors.CategoryAuth).
				WithCode(goerrors.CodeUnauthorized).
				WithTextCode(TextCodeInvalidLoginCode)

	ErrNoPendingLogin = goerrors.New("no pending login", goerrors.CategoryAuth).
				WithCode(goerrors.CodeUnauthorized).
				WithTextCode(TextCodeNoPendingLogin)

	ErrSignupDisabled = goerrors.New("signup is disabled", goerrors.CategoryAuthz).
				WithCode(goerrors.CodeForbidden).
				WithTextCode(TextCodeFeatureDisabled)

	ErrPasswordResetDisabled = goerrors.New("password reset is disabled", goerrors.CategoryAuthz).
					WithCode(goerrors.CodeForbidden).
					WithTextCode(TextCodeFeatureDisabled)
)

// IsTokenExpiredError will check for expired tokens
func IsTokenExpiredError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTokenExpired) {
		return true
	}
	return strings.Contains(err.Error(), "token is expired")
}

// IsNotFoundError reports errors that should render a 404
func IsNotFoundError(err error) bool {
	if err == nil {
		return false
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr.Category == goerrors.CategoryNotFound
	}
	return goerrors.IsNotFound(err)
}

func textCodeOf(err error) string {
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr.TextCode
	}
	return ""
}

// IsFeatureDisabled reports errors raised by a closed feature gate
func IsFeatureDisabled(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrSignupDisabled) || errors.Is(err, ErrPasswordResetDisabled) {
		return true
	}
	return textCodeOf(err) == TextCodeFeatureDisabled
}
