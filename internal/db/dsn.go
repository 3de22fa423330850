package db

import (
	"net/url"
	"regexp"
	"strings"
)

var (
	kvPairRegex  = regexp.MustCompile(`(?i)\b(host|user|password|dbname|port|sslmode)=`)
	kvPasswordRe = regexp.MustCompile(`(?i)(password=)(\S+)`)
)

func isURLDSN(s string) bool {
	lower := strings.ToLower(s)
	return strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://")
}

// NormalizeDSN accepts a URL DSN (postgres://...) or a key=value list,
// strips quotes and extra whitespace and defaults sslmode to disable for
// key=value lists.
func NormalizeDSN(raw string) string {
	s := strings.Trim(strings.TrimSpace(raw), `"'`)
	if s == "" || isURLDSN(s) || !kvPairRegex.MatchString(s) {
		return s
	}
	cleaned := strings.Join(strings.Fields(s), " ")
	if !strings.Contains(strings.ToLower(cleaned), "sslmode=") {
		cleaned += " sslmode=disable"
	}
	return cleaned
}

// MaskDSN hides the password of either DSN form for logging.
func MaskDSN(dsn string) string {
	if !isURLDSN(dsn) {
		return kvPasswordRe.ReplaceAllString(dsn, `${1}***`)
	}
	u, err := url.Parse(dsn)
	if err != nil || u.User == nil {
		return dsn
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}
