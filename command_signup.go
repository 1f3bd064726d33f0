package auth

import (
	"context"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-featuregate/gate"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/uptrace/bun"
)

type SignupMessage struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	// RequirePassword is set by the signup form. Connect and login link
	// signups create users without a password.
	RequirePassword bool   `json:"-"`
	RemoteIP        string `json:"-"`
	Using           Method `json:"-"`
	OnResponse      func(user *User)
}

func (e SignupMessage) Type() string { return "user.signup" }

func (e SignupMessage) validate(minLength int) error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.Email, validation.Required, is.EmailFormat),
		validation.Field(&e.Password,
			validation.When(e.RequirePassword, validation.Required),
			validation.When(e.Password != "", validation.By(PasswordRule(minLength))),
		),
		validation.Field(&e.Username, validation.Length(0, 64)),
	)
}

type SignupHandler struct {
	repo      RepositoryManager
	cfg       Config
	mailer    Mailer
	activity  ActivitySink
	logger    Logger
	gate      gate.FeatureGate
	useHashid bool
}

func NewSignupHandler(repo RepositoryManager, cfg Config) *SignupHandler {
	cfg = cfg.WithDefaults()
	return &SignupHandler{
		repo:      repo,
		cfg:       cfg,
		activity:  noopActivitySink{},
		logger:    defLogger{},
		useHashid: cfg.UseHashid,
	}
}

// WithMailer sets the mailer used for the welcome email
func (h *SignupHandler) WithMailer(mailer Mailer) *SignupHandler {
	h.mailer = mailer
	return h
}

func (h *SignupHandler) WithActivitySink(sink ActivitySink) *SignupHandler {
	h.activity = normalizeActivitySink(sink)
	return h
}

func (h *SignupHandler) WithLogger(logger Logger) *SignupHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

func (h *SignupHandler) WithFeatureGate(fg gate.FeatureGate) *SignupHandler {
	h.gate = fg
	return h
}

func (h *SignupHandler) Execute(ctx context.Context, event SignupMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during signup",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *SignupHandler) execute(ctx context.Context, event SignupMessage) error {
	if err := requireSignupGate(ctx, h.gate); err != nil {
		return err
	}

	event.Email = strings.TrimSpace(event.Email)
	event.Username = strings.TrimSpace(event.Username)

	if err := event.validate(h.cfg.PasswordMinLength); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid signup data").
			WithMetadata(map[string]any{"fields": FormatValidationErrorToMap(err)})
	}

	if event.Using == "" {
		event.Using = MethodSignup
	}

	user := &User{
		Username:  event.Username,
		FirstName: event.FirstName,
		LastName:  event.LastName,
	}
	user.Email = event.Email
	user.MarkSignup(event.RemoteIP, event.Using)

	if event.Password != "" {
		if err := user.SetPassword(event.Password); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to hash password")
		}
	}

	if h.useHashid {
		if id, err := hashid.NewUUID(strings.ToLower(event.Email)); err == nil {
			user.ID = id
		}
	}

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	err := h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		exists, err := h.repo.Users().EmailExistsTx(ctx, tx, event.Email)
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to check email")
		}
		if exists {
			return ErrEmailTaken
		}

		created, err := h.repo.Users().RegisterTx(ctx, tx, user)
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryConflict, "could not create user")
		}
		user = created
		return nil
	})

	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "signup transaction failed")
	}

	h.recordActivity(ctx, user, event)
	h.sendWelcome(ctx, user)

	if event.OnResponse != nil {
		event.OnResponse(user)
	}

	return nil
}

func (h *SignupHandler) sendWelcome(ctx context.Context, user *User) {
	if h.mailer == nil || h.cfg.SignupEmailTemplate == "" {
		return
	}

	if err := h.mailer.SendTemplate(ctx, h.cfg.SignupEmailTemplate, user.Email, map[string]any{
		"user": user,
	}); err != nil {
		h.logger.Warn("signup email failed", "user", user.GetID(), "error", err)
	}
}

func (h *SignupHandler) recordActivity(ctx context.Context, user *User, event SignupMessage) {
	evt := ActivityEvent{
		EventType:  ActivityEventSignup,
		UserID:     user.GetID(),
		Using:      event.Using,
		RemoteIP:   event.RemoteIP,
		OccurredAt: time.Now(),
	}

	if err := normalizeActivitySink(h.activity).Record(ctx, evt); err != nil {
		h.logger.Warn("activity sink error during signup", "error", err)
	}
}
