package auth

import (
	"net/url"
)

// Method is an authentication entry point
type Method = string

const (
	// MethodConnect is the combined login-or-signup page using login links
	MethodConnect Method = "connect"
	// MethodLogin is the classic login page
	MethodLogin Method = "login"
	// MethodSignup is the registration page
	MethodSignup Method = "signup"
	// MethodLoginLink is recorded as signup/login source for link based sessions
	MethodLoginLink Method = "login_link"
	// MethodResetPassword is recorded as login source after a password reset
	MethodResetPassword Method = "reset_password"
)

// GateDecision is the outcome of checking a page against the allowed methods
type GateDecision struct {
	Allowed  bool
	Redirect string
}

// MethodGate resolves what to do when a page for method is requested.
// Routes maps each method to its page path.
type MethodGate struct {
	cfg    Config
	routes map[Method]string
}

func NewMethodGate(cfg Config, routes map[Method]string) MethodGate {
	return MethodGate{cfg: cfg, routes: routes}
}

// Check returns Allowed when the method is enabled, a Redirect to the
// fallback page when one is enabled, or ErrMethodNotAllowed.
func (g MethodGate) Check(m Method, next string) (GateDecision, error) {
	if g.cfg.IsMethodAllowed(m) {
		return GateDecision{Allowed: true}, nil
	}

	fallback := fallbackMethod(m)
	if fallback != "" && g.cfg.IsMethodAllowed(fallback) {
		if path, ok := g.routes[fallback]; ok && path != "" {
			return GateDecision{Redirect: WithNext(path, next)}, nil
		}
	}

	return GateDecision{}, ErrMethodNotAllowed
}

func fallbackMethod(m Method) Method {
	switch m {
	case MethodConnect:
		return MethodLogin
	case MethodLogin, MethodSignup:
		return MethodConnect
	}
	return ""
}

// WithNext appends a next query value to path when next is set
func WithNext(path, next string) string {
	if next == "" {
		return path
	}

	u, err := url.Parse(path)
	if err != nil {
		return path
	}

	q := u.Query()
	q.Set("next", next)
	u.RawQuery = q.Encode()
	return u.String()
}
