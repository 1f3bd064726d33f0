package auth

import (
	"context"
	"fmt"
	"strings"
)

// Logger takes a message followed by key value pairs
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// PasswordAuthenticator hashes and verifies passwords
type PasswordAuthenticator interface {
	HashPassword(password string) (string, error)
	ComparePasswordAndHash(password, hash string) error
}

// UserLoader resolves the user referenced by a session
type UserLoader interface {
	LoadUser(ctx context.Context, userID string) (*User, error)
}

// Sender delivers a rendered email message
type Sender interface {
	Send(ctx context.Context, msg *Message) error
}

// Mailer renders a named email template and delivers it
type Mailer interface {
	SendTemplate(ctx context.Context, name, to string, data map[string]any) error
}

type defLogger struct{}

func (d defLogger) Error(msg string, args ...any) {
	d.print("ERR", msg, args...)
}

func (d defLogger) Warn(msg string, args ...any) {
	d.print("WRN", msg, args...)
}

func (d defLogger) Info(msg string, args ...any) {
	d.print("INF", msg, args...)
}

func (d defLogger) Debug(msg string, args ...any) {
	d.print("DBG", msg, args...)
}

func (defLogger) print(level, msg string, args ...any) {
	var b strings.Builder
	b.WriteString("[" + level + "] AUTH " + msg)
	for i := 0; i+1 < len(args); i += 2 {
		fmt.Fprintf(&b, " %v=%v", args[i], args[i+1])
	}
	if len(args)%2 == 1 {
		fmt.Fprintf(&b, " %v", args[len(args)-1])
	}
	fmt.Println(b.String())
}
