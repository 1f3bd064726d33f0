package auth

import (
	"github.com/goliatone/go-router"
)

// LoadUser resolves the session cookie into the current user. Requests
// without a valid session, or whose user no longer exists, stay
// anonymous.
func LoadUser(f *Flows) router.MiddlewareFunc {
	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(c router.Context) error {
			userID, ok := f.Sessions().CurrentUserID(c)
			if !ok {
				return next(c)
			}

			user, err := f.LoadUser(c.Context(), userID)
			if err != nil {
				f.logger.Error("failed to load session user", "user", userID, "error", err)
				return next(c)
			}

			if user == nil {
				f.Sessions().Logout(c)
				return next(c)
			}

			setCurrentUser(c, user)
			return next(c)
		}
	}
}

// LoginRequired sends anonymous requests to the connect page, or to the
// login page when connect is disabled, keeping the original URL in next.
func LoginRequired(cfg Config, routes Routes) router.MiddlewareFunc {
	cfg = cfg.WithDefaults()
	target := routes.Connect
	if !cfg.IsMethodAllowed(MethodConnect) && cfg.IsMethodAllowed(MethodLogin) {
		target = routes.Login
	}

	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(c router.Context) error {
			if IsAuthenticated(c) {
				return next(c)
			}
			return c.Redirect(WithNext(target, c.OriginalURL()), router.StatusSeeOther)
		}
	}
}

// AnonymousOnly redirects authenticated requests to redirect
func AnonymousOnly(redirect string) router.MiddlewareFunc {
	if redirect == "" {
		redirect = "/"
	}
	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(c router.Context) error {
			if IsAuthenticated(c) {
				return c.Redirect(redirect, router.StatusSeeOther)
			}
			return next(c)
		}
	}
}
