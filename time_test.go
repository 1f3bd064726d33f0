package auth_test

import (
	"testing"
	"time"

	"github.com/goliatone/go-auth-flows"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoginCooldownWindow(t *testing.T) {
	cooldown := auth.Config{}.WithDefaults().LoginCooldown

	tests := []struct {
		name     string
		lastFail time.Time
		locked   bool
	}{
		{"failed a minute ago", time.Now().Add(-time.Minute), true},
		{"failed an hour before the window closes", time.Now().Add(-cooldown + time.Hour), true},
		{"failed just after the window", time.Now().Add(-cooldown - time.Minute), false},
		{"failed days ago", time.Now().Add(-3 * cooldown), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.locked, auth.IsWithin(tt.lastFail, cooldown))
		})
	}
}

func TestResetLinkExpiry(t *testing.T) {
	maxAge := auth.Config{}.WithDefaults().TokenMaxAge

	tests := []struct {
		name    string
		age     time.Duration
		usable  bool
		outside bool
	}{
		{"just requested", time.Second, true, false},
		{"halfway", maxAge / 2, true, false},
		{"a minute late", maxAge + time.Minute, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			created := time.Now().Add(-tt.age)
			reset := &auth.PasswordReset{Status: auth.ResetRequestedStatus, CreatedAt: &created}

			ok, code := reset.IsUsable(maxAge)
			assert.Equal(t, tt.usable, ok)
			if !tt.usable {
				assert.Equal(t, auth.TextCodeTokenExpired, code)
			}

			outside, err := auth.IsOutsideThresholdPeriod(created, maxAge.String())
			require.NoError(t, err)
			assert.Equal(t, tt.outside, outside)
		})
	}
}

func TestThresholdPeriodRejectsBadExpression(t *testing.T) {
	_, err := auth.IsWithinThresholdPeriod(time.Now(), "a day")
	assert.Error(t, err)

	outside, err := auth.IsOutsideThresholdPeriod(time.Now(), "")
	assert.Error(t, err)
	assert.False(t, outside)
}
