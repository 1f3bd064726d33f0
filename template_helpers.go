package auth

import (
	"maps"

	"github.com/goliatone/go-auth-flows/middleware/csrf"
	"github.com/goliatone/go-router"
)

// AuthMethodsKey holds the allowed entry points in view data
const AuthMethodsKey = "auth_methods"

// TemplateHelpers returns filters and constants for the view engine.
//
// Register them with the django engine:
//
//	engine.AddFuncMap(auth.TemplateHelpers())
//
// In templates:
//
//	{% if is_authenticated %}
//	{% if has_role(current_user, "admin") %}
func TemplateHelpers() map[string]any {
	return map[string]any{
		"has_role":    hasRole,
		"is_at_least": isAtLeast,
		"display_name": func(user any) string {
			if u, ok := user.(*User); ok {
				return u.DisplayName()
			}
			return ""
		},
		"roles": map[string]string{
			"guest":  RoleGuest,
			"member": RoleMember,
			"admin":  RoleAdmin,
			"owner":  RoleOwner,
		},
	}
}

// MergeTemplateData adds the current user and the CSRF helpers of this
// request to data. Values already in data win.
func MergeTemplateData(c router.Context, data router.ViewContext) router.ViewContext {
	out := router.ViewContext{}

	user, ok := CurrentUser(c)
	if ok {
		out[TemplateUserKey] = user
	} else {
		out[TemplateUserKey] = nil
	}
	out["is_authenticated"] = ok

	if token, _ := c.Locals(csrf.DefaultContextKey).(string); token != "" {
		helpers := csrf.HelpersFromContext(c)
		c.LocalsMerge(csrf.DefaultTemplateHelpersKey, helpers)
		maps.Copy(out, helpers)
	}

	maps.Copy(out, data)
	return out
}

func hasRole(user any, role string) bool {
	switch u := user.(type) {
	case *User:
		return u != nil && u.Role == role
	case map[string]any:
		r, _ := u["user_role"].(string)
		return r == role
	}
	return false
}

func isAtLeast(user any, minRole string) bool {
	switch u := user.(type) {
	case *User:
		return u != nil && RoleIsAtLeast(u.Role, minRole)
	case map[string]any:
		r, _ := u["user_role"].(string)
		return RoleIsAtLeast(r, minRole)
	}
	return false
}
