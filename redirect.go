package auth

import (
	"net/url"
	"strings"
)

// IsSafeRedirectURL reports whether target stays on this site.
// Relative paths must start with a single slash. Absolute URLs must use
// http(s) and point to one of the allowed hosts.
func IsSafeRedirectURL(target string, allowedHosts ...string) bool {
	target = strings.TrimSpace(target)
	if target == "" {
		return false
	}

	if strings.ContainsAny(target, "\\\r\n\t") {
		return false
	}

	u, err := url.Parse(target)
	if err != nil {
		return false
	}

	if u.Scheme == "" && u.Host == "" {
		return strings.HasPrefix(target, "/") && !strings.HasPrefix(target, "//")
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}

	for _, host := range allowedHosts {
		if host != "" && strings.EqualFold(u.Host, host) {
			return true
		}
	}

	return false
}

// SafeRedirect returns next when it is safe, otherwise def
func SafeRedirect(next, def string, allowedHosts ...string) string {
	if next != "" && IsSafeRedirectURL(next, allowedHosts...) {
		return next
	}
	return def
}

func hostOf(rawURL string) string {
	if rawURL == "" {
		return ""
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Host
}
