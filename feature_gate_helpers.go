package auth

import (
	"context"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-featuregate/gate"
	"github.com/goliatone/go-featuregate/gate/guard"
)

func mapGateError(err error) error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return err
	}

	return goerrors.Wrap(err, goerrors.CategoryAuthz, "feature gate check failed").
		WithCode(goerrors.CodeForbidden)
}

// requireSignupGate fails with ErrSignupDisabled when signups are turned off.
// A nil gate leaves signup open.
func requireSignupGate(ctx context.Context, fg gate.FeatureGate) error {
	if fg == nil {
		return nil
	}
	return guard.Require(ctx, fg, gate.FeatureUsersSignup,
		guard.WithDisabledError(ErrSignupDisabled),
		guard.WithErrorMapper(mapGateError),
	)
}

// requirePasswordResetGate checks the reset feature. Completing a reset
// that was already requested can be kept open through the finalize
// override while new requests are blocked.
func requirePasswordResetGate(ctx context.Context, fg gate.FeatureGate, finalize bool) error {
	if fg == nil {
		return nil
	}
	opts := []guard.Option{
		guard.WithDisabledError(ErrPasswordResetDisabled),
		guard.WithErrorMapper(mapGateError),
	}
	if finalize {
		opts = append(opts, guard.WithOverrides(gate.FeatureUsersPasswordResetFinalize))
	}
	return guard.Require(ctx, fg, gate.FeatureUsersPasswordReset, opts...)
}
