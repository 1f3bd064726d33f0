// Package auth adds account pages to a go-router application: signup,
// login, logout, password reset and login links ("magic links").
//
// Entry points:
//   - connect asks only for an email. Known users get a login link and a
//     six digit code, unknown emails are signed up without a password.
//   - login checks a password, or sends a link when PasswordlessLogin is set.
//   - signup registers a user with a password.
//
// Config.AllowedMethods enables entry points. A disabled page redirects
// to the other entry point when that one is enabled and renders a 404
// otherwise.
//
// Sessions live in signed cookies issued by TokenService. LoadUser
// resolves the cookie into the current user for every request and
// LoginRequired protects pages.
//
// Wiring:
//
//	flows, err := auth.NewFlows(cfg, auth.NewRepositoryManager(db), mailer)
//	app.Use(auth.LoadUser(flows))
//	auth.RegisterAuthRoutes(app, flows)
//
// Host user models embed UserMixin to get the auth columns, and records
// owned by a user can be scoped with UserScoped.
package auth
