package auth

import (
	"errors"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
	"github.com/goliatone/go-router/flash"
)

// Routes are the paths of the auth pages
type Routes struct {
	Connect        string
	Login          string
	LoginLink      string
	Signup         string
	Logout         string
	ForgotPassword string
	ResetPassword  string
}

func DefaultRoutes() Routes {
	return Routes{
		Connect:        "/connect",
		Login:          "/login",
		LoginLink:      "/login/link",
		Signup:         "/signup",
		Logout:         "/logout",
		ForgotPassword: "/forgot-password",
		ResetPassword:  "/reset-password/:token",
	}
}

func (r Routes) methods() map[Method]string {
	return map[Method]string{
		MethodConnect: r.Connect,
		MethodLogin:   r.Login,
		MethodSignup:  r.Signup,
	}
}

// Views are the template names of the auth pages
type Views struct {
	Connect        string
	Login          string
	LoginLink      string
	Signup         string
	ForgotPassword string
	ResetPassword  string
	NotFound       string
	Error          string
}

func DefaultViews() Views {
	return Views{
		Connect:        "auth/connect",
		Login:          "auth/login",
		LoginLink:      "auth/login_link",
		Signup:         "auth/signup",
		ForgotPassword: "auth/forgot_password",
		ResetPassword:  "auth/reset_password",
		NotFound:       "errors/404",
		Error:          "errors/500",
	}
}

// RegisterAuthRoutes mounts the auth pages on app
func RegisterAuthRoutes[T any](app router.Router[T], flows *Flows, opts ...AuthControllerOption) *AuthController {
	controller := NewAuthController(flows, opts...)
	captcha := ValidateCaptchaWhenConfigured(controller.Captcha, controller.captchaFailed)
	routes := controller.Routes

	app.Get(routes.Connect, controller.ConnectShow).SetName("auth.connect")
	app.Post(routes.Connect, controller.ConnectPost, captcha).SetName("auth.connect.post")

	app.Get(routes.Login, controller.LoginShow).SetName("auth.login")
	app.Post(routes.Login, controller.LoginPost, captcha).SetName("auth.login.post")

	app.Get(routes.LoginLink, controller.LoginLinkShow).SetName("auth.login_link")
	app.Post(routes.LoginLink, controller.LoginLinkPost).SetName("auth.login_link.post")

	app.Get(routes.Signup, controller.SignupShow).SetName("auth.signup")
	app.Post(routes.Signup, controller.SignupPost, captcha).SetName("auth.signup.post")

	app.Get(routes.Logout, controller.Logout).SetName("auth.logout")

	app.Get(routes.ForgotPassword, controller.ForgotPasswordShow).SetName("auth.forgot_password")
	app.Post(routes.ForgotPassword, controller.ForgotPasswordPost).SetName("auth.forgot_password.post")

	app.Get(routes.ResetPassword, controller.ResetPasswordShow).SetName("auth.reset_password")
	app.Post(routes.ResetPassword, controller.ResetPasswordPost).SetName("auth.reset_password.post")

	return controller
}

type AuthController struct {
	Debug        bool
	Logger       Logger
	Routes       Routes
	Views        Views
	Captcha      CaptchaVerifier
	ErrorHandler router.ErrorHandler

	flows   *Flows
	methods MethodGate
}

type AuthControllerOption func(*AuthController) *AuthController

func WithControllerLogger(logger Logger) AuthControllerOption {
	return func(ac *AuthController) *AuthController {
		if logger != nil {
			ac.Logger = logger
		}
		return ac
	}
}

func WithRoutes(routes Routes) AuthControllerOption {
	return func(ac *AuthController) *AuthController {
		ac.Routes = routes
		return ac
	}
}

func WithViews(views Views) AuthControllerOption {
	return func(ac *AuthController) *AuthController {
		ac.Views = views
		return ac
	}
}

// WithCaptcha guards the connect, login and signup forms
func WithCaptcha(v CaptchaVerifier) AuthControllerOption {
	return func(ac *AuthController) *AuthController {
		ac.Captcha = v
		return ac
	}
}

func WithErrorHandler(handler router.ErrorHandler) AuthControllerOption {
	return func(ac *AuthController) *AuthController {
		if handler != nil {
			ac.ErrorHandler = handler
		}
		return ac
	}
}

func WithDebug(debug bool) AuthControllerOption {
	return func(ac *AuthController) *AuthController {
		ac.Debug = debug
		return ac
	}
}

func NewAuthController(flows *Flows, opts ...AuthControllerOption) *AuthController {
	if flows == nil {
		panic("Missing Flows in auth controller...")
	}

	c := &AuthController{
		Logger: defLogger{},
		Routes: DefaultRoutes(),
		Views:  DefaultViews(),
		flows:  flows,
	}
	c.ErrorHandler = c.defaultErrorHandler

	for _, opt := range opts {
		c = opt(c)
	}

	c.methods = NewMethodGate(flows.Config(), c.Routes.methods())

	return c
}

func (a *AuthController) cfg() Config {
	return a.flows.Config()
}

// gate serves, redirects or rejects a page. It reports true when the
// response was already written.
func (a *AuthController) gate(c router.Context, m Method) (bool, error) {
	decision, err := a.methods.Check(m, c.Query("next"))
	if err != nil {
		return true, a.ErrorHandler(c, err)
	}
	if !decision.Allowed {
		return true, c.Redirect(decision.Redirect, router.StatusSeeOther)
	}
	return false, nil
}

func (a *AuthController) render(c router.Context, view string, data router.ViewContext) error {
	return c.Render(view, MergeTemplateData(c, a.viewData(c, data)))
}

// renderErrors flashes a summary and renders the form again with field errors
func (a *AuthController) renderErrors(c router.Context, view string, data router.ViewContext, err error) error {
	data["errors"] = fieldErrors(err)
	return flash.WithError(c, router.ViewContext{
		"error_message":  publicMessage(err),
		"system_message": "Please correct the errors below",
	}).Render(view, MergeTemplateData(c, a.viewData(c, data)))
}

func (a *AuthController) viewData(c router.Context, data router.ViewContext) router.ViewContext {
	if data == nil {
		data = router.ViewContext{}
	}
	if _, ok := data["errors"]; !ok {
		data["errors"] = map[string]string{}
	}
	data[AuthMethodsKey] = a.cfg().AllowedMethods
	data["auth_routes"] = a.Routes
	data["next"] = c.Query("next")
	data["login_identifier"] = a.cfg().LoginIdentifier
	data["passwordless_login"] = a.cfg().PasswordlessLogin
	if a.Captcha != nil {
		data["captcha_field"] = a.Captcha.FieldName()
	}
	return data
}

func (a *AuthController) redirectNext(c router.Context, def string) error {
	target := SafeRedirect(c.Query("next"), def, hostOf(a.cfg().BaseURL))
	return c.Redirect(target, router.StatusSeeOther)
}

func (a *AuthController) debug(label string, payload any) {
	if a.Debug {
		a.Logger.Debug(label, "payload", print.MaybePrettyJSON(payload))
	}
}

func (a *AuthController) ConnectShow(c router.Context) error {
	if done, err := a.gate(c, MethodConnect); done {
		return err
	}
	return a.render(c, a.Views.Connect, router.ViewContext{
		"record": map[string]string{"email": ""},
	})
}

func (a *AuthController) ConnectPost(c router.Context) error {
	if done, err := a.gate(c, MethodConnect); done {
		return err
	}

	email := strings.TrimSpace(c.FormValue("email"))
	record := map[string]string{"email": email}

	if err := validation.Validate(email, validation.Required, is.EmailFormat); err != nil {
		return a.renderErrors(c, a.Views.Connect, router.ViewContext{"record": record},
			validationError("email", err))
	}

	user, err := a.flows.FindUser(c.Context(), IdentifierEmail, email)
	if err != nil {
		return a.ErrorHandler(c, err)
	}

	if user != nil {
		if err := a.flows.StartLoginLink(c, user); err != nil {
			a.Logger.Error("connect login link failed", "user", user.GetID(), "error", err)
			return a.ErrorHandler(c, err)
		}
		return c.Redirect(WithNext(a.Routes.LoginLink, c.Query("next")), router.StatusSeeOther)
	}

	user, err = a.flows.Signup(c.Context(), SignupMessage{
		Email:    email,
		RemoteIP: ClientIP(c),
		Using:    MethodConnect,
	})
	if err != nil {
		return a.renderErrors(c, a.Views.Connect, router.ViewContext{"record": record}, err)
	}

	if err := a.flows.LoginUser(c, user, false, MethodConnect); err != nil {
		return a.ErrorHandler(c, err)
	}

	return a.redirectNext(c, a.cfg().SignupDefaultRedirectURL)
}

// LoginRequest is the login form
type LoginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
	Remember   bool   `json:"remember"`
}

func (r LoginRequest) validate(passwordless bool) error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Identifier, validation.Required),
		validation.Field(&r.Password, validation.When(!passwordless, validation.Required)),
	)
}

func (a *AuthController) loginRequest(c router.Context) LoginRequest {
	field := a.cfg().LoginIdentifier
	return LoginRequest{
		Identifier: strings.TrimSpace(c.FormValue(field)),
		Password:   c.FormValue("password"),
		Remember:   c.FormValue("remember") == "1",
	}
}

func (a *AuthController) LoginShow(c router.Context) error {
	if done, err := a.gate(c, MethodLogin); done {
		return err
	}
	return a.render(c, a.Views.Login, router.ViewContext{
		"record": LoginRequest{},
	})
}

func (a *AuthController) LoginPost(c router.Context) error {
	if done, err := a.gate(c, MethodLogin); done {
		return err
	}

	cfg := a.cfg()
	payload := a.loginRequest(c)
	a.debug("login request", map[string]any{"identifier": payload.Identifier, "remember": payload.Remember})

	if err := payload.validate(cfg.PasswordlessLogin); err != nil {
		return a.renderErrors(c, a.Views.Login, router.ViewContext{"record": payload},
			remapIdentifierErrors(err, cfg.LoginIdentifier))
	}

	user, err := a.flows.FindUser(c.Context(), cfg.LoginIdentifier, payload.Identifier)
	if err != nil {
		return a.ErrorHandler(c, err)
	}

	if user == nil {
		return a.renderErrors(c, a.Views.Login, router.ViewContext{"record": payload}, ErrInvalidCredentials)
	}

	if cfg.PasswordlessLogin {
		if err := a.flows.StartLoginLink(c, user); err != nil {
			return a.ErrorHandler(c, err)
		}
		return c.Redirect(WithNext(a.Routes.LoginLink, c.Query("next")), router.StatusSeeOther)
	}

	if err := a.flows.Login(c, user, payload.Password, payload.Remember, MethodLogin); err != nil {
		return a.renderErrors(c, a.Views.Login, router.ViewContext{"record": payload}, err)
	}

	return a.redirectNext(c, cfg.LoginRedirectURL)
}

// LoginLinkShow logs in from an emailed link, or shows the code form
// for the login pending in this browser.
func (a *AuthController) LoginLinkShow(c router.Context) error {
	if token := c.Query("token"); token != "" {
		user, err := a.flows.LoginWithLinkToken(c.Context(), token)
		if err != nil {
			return a.ErrorHandler(c, ErrNotFound)
		}
		return a.completeLinkLogin(c, user)
	}

	if _, err := a.flows.Sessions().PendingLogin(c); err != nil {
		return c.Redirect(WithNext(a.Routes.Connect, c.Query("next")), router.StatusSeeOther)
	}

	return a.render(c, a.Views.LoginLink, router.ViewContext{})
}

func (a *AuthController) LoginLinkPost(c router.Context) error {
	pending, err := a.flows.Sessions().PendingLogin(c)
	if err != nil {
		return c.Redirect(WithNext(a.Routes.Connect, c.Query("next")), router.StatusSeeOther)
	}

	code := strings.TrimSpace(c.FormValue("code"))
	user, err := a.flows.VerifyLoginCode(c.Context(), pending, code)
	if err != nil {
		if errors.Is(err, ErrTooManyAttempts) {
			a.flows.Sessions().ClearPendingLogin(c)
		}
		return a.renderErrors(c, a.Views.LoginLink, router.ViewContext{}, validationError("code", err))
	}

	return a.completeLinkLogin(c, user)
}

func (a *AuthController) completeLinkLogin(c router.Context, user *User) error {
	a.flows.Sessions().ClearPendingLogin(c)
	if err := a.flows.LoginUser(c, user, false, MethodLoginLink); err != nil {
		return a.ErrorHandler(c, err)
	}
	return a.redirectNext(c, a.cfg().LoginRedirectURL)
}

func (a *AuthController) SignupShow(c router.Context) error {
	if done, err := a.gate(c, MethodSignup); done {
		return err
	}
	if err := requireSignupGate(c.Context(), a.flows.gate); err != nil {
		return a.ErrorHandler(c, err)
	}
	return a.render(c, a.Views.Signup, router.ViewContext{
		"record": SignupMessage{},
	})
}

func (a *AuthController) SignupPost(c router.Context) error {
	if done, err := a.gate(c, MethodSignup); done {
		return err
	}

	msg := SignupMessage{
		Email:           strings.TrimSpace(c.FormValue("email")),
		Password:        c.FormValue("password"),
		Username:        strings.TrimSpace(c.FormValue("username")),
		FirstName:       strings.TrimSpace(c.FormValue("first_name")),
		LastName:        strings.TrimSpace(c.FormValue("last_name")),
		RequirePassword: true,
		RemoteIP:        ClientIP(c),
		Using:           MethodSignup,
	}
	a.debug("signup request", map[string]any{"email": msg.Email, "username": msg.Username})

	user, err := a.flows.Signup(c.Context(), msg)
	if err != nil {
		if IsFeatureDisabled(err) {
			return a.ErrorHandler(c, err)
		}
		msg.Password = ""
		return a.renderErrors(c, a.Views.Signup, router.ViewContext{"record": msg}, err)
	}

	if err := a.flows.LoginUser(c, user, false, MethodSignup); err != nil {
		return a.ErrorHandler(c, err)
	}

	return a.redirectNext(c, a.cfg().SignupDefaultRedirectURL)
}

func (a *AuthController) Logout(c router.Context) error {
	a.flows.Logout(c)
	return c.Redirect(a.cfg().LogoutRedirectURL, router.StatusSeeOther)
}

func (a *AuthController) ForgotPasswordShow(c router.Context) error {
	if err := requirePasswordResetGate(c.Context(), a.flows.gate, false); err != nil {
		return a.ErrorHandler(c, err)
	}
	return a.render(c, a.Views.ForgotPassword, router.ViewContext{
		"record": map[string]string{"email": ""},
	})
}

func (a *AuthController) ForgotPasswordPost(c router.Context) error {
	email := strings.TrimSpace(c.FormValue("email"))
	record := map[string]string{"email": email}

	if err := validation.Validate(email, validation.Required, is.EmailFormat); err != nil {
		return a.renderErrors(c, a.Views.ForgotPassword, router.ViewContext{"record": record},
			validationError("email", err))
	}

	if err := a.flows.SendResetPasswordEmail(c.Context(), email, ClientIP(c)); err != nil {
		if IsFeatureDisabled(err) {
			return a.ErrorHandler(c, err)
		}
		a.Logger.Error("password reset email failed", "error", err)
		return a.renderErrors(c, a.Views.ForgotPassword, router.ViewContext{"record": record}, err)
	}

	return flash.WithSuccess(c, router.ViewContext{
		"system_message": a.cfg().ForgotPasswordFlashMessage,
	}).Redirect(a.Routes.ForgotPassword, router.StatusSeeOther)
}

func (a *AuthController) ResetPasswordShow(c router.Context) error {
	token := c.Param("token")
	if _, err := a.flows.CheckResetToken(c.Context(), token); err != nil {
		return a.ErrorHandler(c, err)
	}
	return a.render(c, a.Views.ResetPassword, router.ViewContext{
		"token": token,
	})
}

func (a *AuthController) ResetPasswordPost(c router.Context) error {
	token := c.Param("token")
	if _, err := a.flows.CheckResetToken(c.Context(), token); err != nil {
		return a.ErrorHandler(c, err)
	}

	user, err := a.flows.ResetPassword(c.Context(), token,
		c.FormValue("password"), c.FormValue("password_confirm"), ClientIP(c))
	if err != nil {
		if IsNotFoundError(err) || IsFeatureDisabled(err) {
			return a.ErrorHandler(c, err)
		}
		return a.renderErrors(c, a.Views.ResetPassword, router.ViewContext{"token": token}, err)
	}

	if err := a.flows.LoginUser(c, user, false, MethodResetPassword); err != nil {
		return a.ErrorHandler(c, err)
	}

	return c.Redirect(a.cfg().ResetPasswordRedirectURL, router.StatusSeeOther)
}

func (a *AuthController) captchaFailed(c router.Context, err error) error {
	return flash.WithError(c, router.ViewContext{
		"error_message":  publicMessage(err),
		"system_message": "Captcha validation failed",
	}).Redirect(c.OriginalURL(), router.StatusSeeOther)
}

func (a *AuthController) defaultErrorHandler(c router.Context, err error) error {
	if IsNotFoundError(err) {
		return c.Status(router.StatusNotFound).Render(a.Views.NotFound, router.ViewContext{
			"message": "Page not found",
		})
	}

	status := router.StatusInternalServerError
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) && richErr.Code >= 400 {
		status = richErr.Code
	}

	if status >= 500 {
		a.Logger.Error("auth page error", "error", err)
	}

	return c.Status(status).Render(a.Views.Error, router.ViewContext{
		"message": publicMessage(err),
	})
}

// fieldErrors reads field errors attached as "fields" metadata, falling
// back to a single form error.
func fieldErrors(err error) map[string]string {
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) && richErr.Metadata != nil {
		if fields, ok := richErr.Metadata["fields"].(map[string]string); ok && len(fields) > 0 {
			return fields
		}
	}
	if _, ok := err.(validation.Errors); ok {
		return FormatValidationErrorToMap(err)
	}
	return map[string]string{"form": publicMessage(err)}
}

func publicMessage(err error) string {
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) && richErr.Category != goerrors.CategoryInternal {
		return richErr.Message
	}
	return "Something went wrong, please try again"
}

func validationError(field string, err error) error {
	return goerrors.New(err.Error(), goerrors.CategoryValidation).
		WithMetadata(map[string]any{"fields": map[string]string{field: err.Error()}})
}

func remapIdentifierErrors(err error, field string) error {
	fields := FormatValidationErrorToMap(err)
	if msg, ok := fields["identifier"]; ok {
		delete(fields, "identifier")
		fields[field] = msg
	}
	return goerrors.New("invalid login form", goerrors.CategoryValidation).
		WithMetadata(map[string]any{"fields": fields})
}
