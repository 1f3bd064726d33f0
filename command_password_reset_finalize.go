package auth

import (
	"context"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-featuregate/gate"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type FinalizePasswordResetMessage struct {
	Token           string `json:"token" doc:"Signed reset token from the emailed link"`
	Password        string `json:"password" example:"some_secret_word1" doc:"New password"`
	PasswordConfirm string `json:"password_confirm"`
	RemoteIP        string `json:"-"`
	OnResponse      func(user *User)
}

func (m FinalizePasswordResetMessage) Type() string { return "user.password_reset.finalize" }

func (m FinalizePasswordResetMessage) validate(minLength int) error {
	return validation.ValidateStruct(&m,
		validation.Field(&m.Password, validation.Required, validation.By(PasswordRule(minLength))),
		validation.Field(&m.PasswordConfirm,
			validation.When(m.PasswordConfirm != "", validation.By(ValidateStringEquals(m.Password))),
		),
	)
}

type FinalizePasswordResetHandler struct {
	repo     RepositoryManager
	cfg      Config
	tokens   *TokenService
	activity ActivitySink
	logger   Logger
	gate     gate.FeatureGate
}

func NewFinalizePasswordResetHandler(repo RepositoryManager, cfg Config, tokens *TokenService) *FinalizePasswordResetHandler {
	return &FinalizePasswordResetHandler{
		repo:     repo,
		cfg:      cfg.WithDefaults(),
		tokens:   tokens,
		activity: noopActivitySink{},
		logger:   defLogger{},
	}
}

// WithActivitySink sets the sink used to emit password reset events.
func (h *FinalizePasswordResetHandler) WithActivitySink(sink ActivitySink) *FinalizePasswordResetHandler {
	h.activity = normalizeActivitySink(sink)
	return h
}

// WithLogger overrides the logger used by the handler.
func (h *FinalizePasswordResetHandler) WithLogger(logger Logger) *FinalizePasswordResetHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

func (h *FinalizePasswordResetHandler) WithFeatureGate(fg gate.FeatureGate) *FinalizePasswordResetHandler {
	h.gate = fg
	return h
}

func (h *FinalizePasswordResetHandler) Execute(ctx context.Context, event FinalizePasswordResetMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during password reset finalization",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *FinalizePasswordResetHandler) execute(ctx context.Context, event FinalizePasswordResetMessage) error {
	if err := requirePasswordResetGate(ctx, h.gate, true); err != nil {
		return err
	}

	if err := event.validate(h.cfg.PasswordMinLength); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid new password provided").
			WithMetadata(map[string]any{"fields": FormatValidationErrorToMap(err)})
	}

	claims, err := h.tokens.LoadToken(event.Token, PurposeResetPassword)
	if err != nil {
		return err
	}
	if claims.ID == "" {
		return ErrTokenInvalid
	}

	passwordHash, err := HashPassword(event.Password)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid new password provided")
	}

	var user *User

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	err = h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		reset, err := h.repo.PasswordResets().GetByIDTx(ctx, tx, claims.ID)
		if err != nil {
			if isRecordNotFound(err) {
				return ErrTokenInvalid
			}
			return goerrors.Wrap(err, goerrors.CategoryInternal, "could not retrieve password reset request")
		}

		if reset.UserID == nil || reset.UserID.String() != claims.UserID() {
			return ErrTokenInvalid
		}

		if ok, code := reset.IsUsable(h.cfg.TokenMaxAge); !ok {
			switch code {
			case TextCodeTokenUsed:
				return ErrTokenUsed
			case TextCodeTokenExpired:
				return ErrTokenExpired
			default:
				return ErrTokenInvalid
			}
		}

		if err := consumePasswordReset(ctx, tx, h.repo.PasswordResets(), reset.ID); err != nil {
			return err
		}

		if err := h.repo.Users().UpdatePasswordTx(ctx, tx, *reset.UserID, passwordHash); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to update user password in database")
		}

		user, err = h.repo.Users().GetByIdentifierTx(ctx, tx, reset.UserID.String())
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load user after password reset")
		}

		return nil
	})

	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to finalize password reset")
	}

	h.recordActivity(ctx, user, claims.ID, event.RemoteIP)

	if event.OnResponse != nil {
		event.OnResponse(user)
	}

	return nil
}

// consumePasswordReset moves a requested reset to changed. Only the status
// columns are written and the row must still be requested, so when two
// finalizes race the loser sees zero affected rows.
func consumePasswordReset(ctx context.Context, tx bun.IDB, resets repository.Repository[*PasswordReset], id uuid.UUID) error {
	_, err := resets.UpdateTx(ctx, tx, MarkPasswordAsReseted(id),
		repository.UpdateColumns("status", "reseted_at", "updated_at"),
		repository.UpdateBy("status", "=", ResetRequestedStatus),
	)
	if err == nil {
		return nil
	}
	if isRecordNotFound(err) || goerrors.IsCategory(err, repository.CategoryDatabaseExpectedCount) {
		return ErrTokenUsed
	}
	return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to update password reset status")
}

func (h *FinalizePasswordResetHandler) recordActivity(ctx context.Context, user *User, resetID, remoteIP string) {
	evt := ActivityEvent{
		EventType: ActivityEventPasswordResetSuccess,
		UserID:    user.GetID(),
		Using:     MethodResetPassword,
		RemoteIP:  remoteIP,
		Metadata: map[string]any{
			"password_reset_id": resetID,
		},
		OccurredAt: time.Now(),
	}

	if err := normalizeActivitySink(h.activity).Record(ctx, evt); err != nil {
		h.logger.Warn("activity sink error during password reset", "error", err)
	}
}
