package auth_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goliatone/go-auth-flows"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserMixinMarks(t *testing.T) {
	var m auth.UserMixin
	m.MarkSignup("10.0.0.1", auth.MethodSignup)
	require.NotNil(t, m.SignupAt)
	assert.Equal(t, "10.0.0.1", m.SignupFrom)
	assert.Equal(t, auth.MethodSignup, m.SignupUsing)

	m.MarkLogin("10.0.0.2", auth.MethodLoginLink)
	require.NotNil(t, m.LastLoginAt)
	assert.Equal(t, "10.0.0.2", m.LastLoginFrom)
	assert.Equal(t, auth.MethodLoginLink, m.LastLoginUsing)
}

func TestUserDisplayName(t *testing.T) {
	u := &auth.User{UserMixin: auth.UserMixin{Email: "a@example.com"}}
	assert.Equal(t, "a@example.com", u.DisplayName())

	u.Username = "ada"
	assert.Equal(t, "ada", u.DisplayName())

	u.FirstName = "Ada"
	assert.Equal(t, "Ada", u.DisplayName())

	u.LastName = "Lovelace"
	assert.Equal(t, "Ada Lovelace", u.DisplayName())

	var nilUser *auth.User
	assert.Equal(t, "", nilUser.DisplayName())
	assert.Equal(t, "", nilUser.GetID())
	assert.Equal(t, "", (&auth.User{}).GetID())
}

func TestUserAddMetadata(t *testing.T) {
	u := &auth.User{}
	u.AddMetadata("plan", "pro").AddMetadata("seats", 3)
	assert.Equal(t, map[string]any{"plan": "pro", "seats": 3}, u.Metadata)
}

func TestPasswordResetIsUsable(t *testing.T) {
	now := time.Now()
	old := now.Add(-2 * time.Hour)

	tests := []struct {
		name  string
		reset *auth.PasswordReset
		ok    bool
		code  string
	}{
		{"nil", nil, false, ""},
		{"fresh", &auth.PasswordReset{Status: auth.ResetRequestedStatus, CreatedAt: &now}, true, ""},
		{"already used", &auth.PasswordReset{Status: auth.ResetChangedStatus, CreatedAt: &now}, false, auth.TextCodeTokenUsed},
		{"expired", &auth.PasswordReset{Status: auth.ResetRequestedStatus, CreatedAt: &old}, false, auth.TextCodeTokenExpired},
		{"no timestamp", &auth.PasswordReset{Status: auth.ResetRequestedStatus}, false, auth.TextCodeTokenInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, code := tt.reset.IsUsable(time.Hour)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.code, code)
		})
	}
}

func TestMarkPasswordAsReseted(t *testing.T) {
	id := uuid.New()
	r := auth.MarkPasswordAsReseted(id)
	assert.Equal(t, id, r.ID)
	assert.Equal(t, auth.ResetChangedStatus, r.Status)
	assert.NotNil(t, r.ResetedAt)
}

func TestRoles(t *testing.T) {
	assert.True(t, auth.IsValidRole(auth.RoleMember))
	assert.False(t, auth.IsValidRole("superuser"))

	role, ok := auth.ParseRole("admin")
	assert.True(t, ok)
	assert.Equal(t, auth.RoleAdmin, role)

	assert.True(t, auth.RoleIsAtLeast(auth.RoleOwner, auth.RoleAdmin))
	assert.True(t, auth.RoleIsAtLeast(auth.RoleMember, auth.RoleMember))
	assert.False(t, auth.RoleIsAtLeast(auth.RoleGuest, auth.RoleMember))
	assert.False(t, auth.RoleIsAtLeast("superuser", auth.RoleGuest))
	assert.False(t, auth.RoleIsAtLeast(auth.RoleOwner, "superuser"))
}

func TestActivitySinks(t *testing.T) {
	var got []auth.ActivityEventType
	record := auth.ActivitySinkFunc(func(_ context.Context, evt auth.ActivityEvent) error {
		got = append(got, evt.EventType)
		return nil
	})
	boom := errors.New("sink down")
	failing := auth.ActivitySinkFunc(func(context.Context, auth.ActivityEvent) error {
		return boom
	})

	sinks := auth.ActivitySinks{failing, nil, record, auth.LoggerActivitySink(testLogger{})}
	err := sinks.Record(context.Background(), auth.ActivityEvent{EventType: auth.ActivityEventLogout})

	require.ErrorIs(t, err, boom)
	assert.Equal(t, []auth.ActivityEventType{auth.ActivityEventLogout}, got, "later sinks still run")

	var nilFunc auth.ActivitySinkFunc
	assert.NoError(t, nilFunc.Record(context.Background(), auth.ActivityEvent{}))
}
