package auth

import (
	"context"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-featuregate/gate"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type InitializePasswordResetMessage struct {
	Email      string `json:"email" example:"pepe.rone@example.com" doc:"Account email."`
	RemoteIP   string `json:"-"`
	OnResponse func(resp *InitializePasswordResetResponse)
}

func (p InitializePasswordResetMessage) Type() string { return "user.password_reset" }

type InitializePasswordResetResponse struct {
	// Reset is nil when no account matched the email
	Reset *PasswordReset
	Link  string
}

type InitializePasswordResetHandler struct {
	repo     RepositoryManager
	cfg      Config
	tokens   *TokenService
	links    Links
	mailer   Mailer
	activity ActivitySink
	logger   Logger
	gate     gate.FeatureGate
}

func NewInitializePasswordResetHandler(repo RepositoryManager, cfg Config, tokens *TokenService, links Links) *InitializePasswordResetHandler {
	return &InitializePasswordResetHandler{
		repo:     repo,
		cfg:      cfg.WithDefaults(),
		tokens:   tokens,
		links:    links,
		activity: noopActivitySink{},
		logger:   defLogger{},
	}
}

func (h *InitializePasswordResetHandler) WithMailer(mailer Mailer) *InitializePasswordResetHandler {
	h.mailer = mailer
	return h
}

func (h *InitializePasswordResetHandler) WithActivitySink(sink ActivitySink) *InitializePasswordResetHandler {
	h.activity = normalizeActivitySink(sink)
	return h
}

func (h *InitializePasswordResetHandler) WithLogger(logger Logger) *InitializePasswordResetHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

func (h *InitializePasswordResetHandler) WithFeatureGate(fg gate.FeatureGate) *InitializePasswordResetHandler {
	h.gate = fg
	return h
}

func (h *InitializePasswordResetHandler) Execute(ctx context.Context, event InitializePasswordResetMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during password reset initialization",
		)
	default:
		return h.execute(ctx, event)
	}
}

// execute never reveals whether the email belongs to an account. Unknown
// emails complete without error and without sending anything.
func (h *InitializePasswordResetHandler) execute(ctx context.Context, event InitializePasswordResetMessage) error {
	if err := requirePasswordResetGate(ctx, h.gate, false); err != nil {
		return err
	}

	email := strings.TrimSpace(event.Email)
	if email == "" {
		return goerrors.New("email is required", goerrors.CategoryValidation).
			WithMetadata(map[string]any{"fields": map[string]string{"email": "cannot be blank"}})
	}

	var user *User
	resp := &InitializePasswordResetResponse{}

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	err := h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		found, err := h.repo.Users().FindForLoginTx(ctx, tx, IdentifierEmail, email)
		if err != nil {
			if isRecordNotFound(err) {
				return nil
			}
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to retrieve user for password reset")
		}
		user = found

		reset := &PasswordReset{
			ID:     uuid.New(),
			UserID: &found.ID,
			Email:  found.Email,
			Status: ResetRequestedStatus,
		}
		created, err := h.repo.PasswordResets().CreateTx(ctx, tx, reset)
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create password reset record")
		}
		resp.Reset = created
		return nil
	})

	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to initialize password reset")
	}

	if user == nil || resp.Reset == nil {
		h.logger.Debug("password reset requested for unknown email")
		if event.OnResponse != nil {
			event.OnResponse(resp)
		}
		return nil
	}

	token, err := h.tokens.CreateToken(user.GetID(), PurposeResetPassword, WithTokenID(resp.Reset.ID.String()))
	if err != nil {
		return err
	}
	resp.Link = h.links.ResetPasswordURL(token)

	if h.mailer != nil {
		if err := h.mailer.SendTemplate(ctx, h.cfg.ResetPasswordEmailTemplate, user.Email, map[string]any{
			"user":       user,
			"link":       resp.Link,
			"expires_in": humanDuration(h.cfg.TokenMaxAge),
		}); err != nil {
			return err
		}
	}

	h.recordActivity(ctx, user, resp.Reset, event.RemoteIP)

	if event.OnResponse != nil {
		event.OnResponse(resp)
	}

	return nil
}

func (h *InitializePasswordResetHandler) recordActivity(ctx context.Context, user *User, reset *PasswordReset, remoteIP string) {
	evt := ActivityEvent{
		EventType: ActivityEventPasswordResetRequested,
		UserID:    user.GetID(),
		RemoteIP:  remoteIP,
		Metadata: map[string]any{
			"password_reset_id": reset.ID.String(),
		},
		OccurredAt: time.Now(),
	}

	if err := normalizeActivitySink(h.activity).Record(ctx, evt); err != nil {
		h.logger.Warn("activity sink error during password reset request", "error", err)
	}
}
