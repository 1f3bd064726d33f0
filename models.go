package auth

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// UserMixin holds the columns and behaviour a host user model embeds to
// gain authentication support.
type UserMixin struct {
	Email          string     `bun:"email,notnull,unique" json:"email,omitempty"`
	Password       string     `bun:"password" json:"-"`
	SignupAt       *time.Time `bun:"signup_at,nullzero,default:current_timestamp" json:"signup_at,omitempty"`
	SignupFrom     string     `bun:"signup_from" json:"signup_from,omitempty"`
	SignupUsing    string     `bun:"signup_using" json:"signup_using,omitempty"`
	LastLoginAt    *time.Time `bun:"last_login_at,nullzero" json:"last_login_at,omitempty"`
	LastLoginFrom  string     `bun:"last_login_from" json:"last_login_from,omitempty"`
	LastLoginUsing string     `bun:"last_login_using" json:"last_login_using,omitempty"`
}

// SetPassword hashes and stores pwd
func (m *UserMixin) SetPassword(pwd string) error {
	hash, err := HashPassword(pwd)
	if err != nil {
		return err
	}
	m.Password = hash
	return nil
}

// VerifyPassword checks pwd against the stored hash. Users without a
// password (created through a login link) never verify.
func (m *UserMixin) VerifyPassword(pwd string) bool {
	if m.Password == "" || pwd == "" {
		return false
	}
	return ComparePasswordAndHash(pwd, m.Password) == nil
}

// HasPassword reports whether a password was ever set
func (m *UserMixin) HasPassword() bool {
	return m.Password != ""
}

func (m *UserMixin) MarkSignup(from string, using Method) {
	now := time.Now().UTC()
	m.SignupAt = &now
	m.SignupFrom = from
	m.SignupUsing = using
}

func (m *UserMixin) MarkLogin(from string, using Method) {
	now := time.Now().UTC()
	m.LastLoginAt = &now
	m.LastLoginFrom = from
	m.LastLoginUsing = using
}

// User is the user model
type User struct {
	bun.BaseModel `bun:"table:users,alias:usr"`
	UserMixin

	ID             uuid.UUID      `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	Role           UserRole       `bun:"user_role,notnull" json:"user_role,omitempty"`
	Username       string         `bun:"username,unique,nullzero" json:"username,omitempty"`
	FirstName      string         `bun:"first_name" json:"first_name,omitempty"`
	LastName       string         `bun:"last_name" json:"last_name,omitempty"`
	EmailValidated bool           `bun:"is_email_verified" json:"is_email_verified,omitempty"`
	LoginAttempts  int            `bun:"login_attempts" json:"login_attempts,omitempty"`
	LoginAttemptAt *time.Time     `bun:"login_attempt_at,nullzero" json:"login_attempt_at,omitempty"`
	Metadata       map[string]any `bun:"metadata,type:jsonb" json:"metadata,omitempty"`
	CreatedAt      *time.Time     `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt      *time.Time     `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
	DeletedAt      *time.Time     `bun:"deleted_at,soft_delete,nullzero" json:"deleted_at,omitempty"`
}

// GetID returns the string form used in session tokens
func (u *User) GetID() string {
	if u == nil || u.ID == uuid.Nil {
		return ""
	}
	return u.ID.String()
}

// DisplayName picks the friendliest available name
func (u *User) DisplayName() string {
	if u == nil {
		return ""
	}
	if name := strings.TrimSpace(u.FirstName + " " + u.LastName); name != "" {
		return name
	}
	if u.Username != "" {
		return u.Username
	}
	return u.Email
}

// AddMetadata will append information to a metadata attribute
func (u *User) AddMetadata(key string, val any) *User {
	if u.Metadata == nil {
		u.Metadata = make(map[string]any)
	}
	u.Metadata[key] = val
	return u
}

const (
	// ResetRequestedStatus is the requested status
	ResetRequestedStatus = "requested"
	// ResetExpiredStatus is the expired status
	ResetExpiredStatus = "expired"
	// ResetChangedStatus is the changed status
	ResetChangedStatus = "changed"
)

// PasswordReset tracks a reset link so it can be used once
type PasswordReset struct {
	bun.BaseModel `bun:"table:password_reset,alias:pwdr"`
	ID            uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	UserID        *uuid.UUID `bun:"user_id,notnull,type:uuid" json:"user_id,omitempty"`
	User          *User      `bun:"rel:belongs-to,join:user_id=id" json:"user,omitempty"`
	Status        string     `bun:"status,notnull" json:"status,omitempty"`
	Email         string     `bun:"email,notnull" json:"email,omitempty"`
	DeletedAt     *time.Time `bun:"deleted_at,soft_delete,nullzero" json:"deleted_at,omitempty"`
	ResetedAt     *time.Time `bun:"reseted_at,nullzero" json:"reseted_at,omitempty"`
	CreatedAt     *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt     *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

func (r *PasswordReset) GetUserID() uuid.UUID {
	if r == nil || r.UserID == nil {
		return uuid.Nil
	}
	return *r.UserID
}

func (r *PasswordReset) SetUserID(id uuid.UUID) {
	r.UserID = &id
}

// MarkPasswordAsReseted returns the partial record used to close a reset
func MarkPasswordAsReseted(id uuid.UUID) *PasswordReset {
	r := &PasswordReset{}
	r.ID = id
	r.Status = ResetChangedStatus
	n := time.Now()
	r.ResetedAt = &n
	r.UpdatedAt = &n
	return r
}

// IsUsable reports whether the reset can still change a password
func (r *PasswordReset) IsUsable(maxAge time.Duration) (bool, string) {
	if r == nil {
		return false, ""
	}
	if r.Status != ResetRequestedStatus {
		return false, TextCodeTokenUsed
	}
	if r.CreatedAt == nil {
		return false, TextCodeTokenInvalid
	}
	expired, err := IsOutsideThresholdPeriod(*r.CreatedAt, maxAge.String())
	if err != nil || expired {
		return false, TextCodeTokenExpired
	}
	return true, ""
}
