package logger

import (
	"net/url"
	"regexp"
)

// sensitiveDataPatterns match secrets that may appear in free text
var sensitiveDataPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(bearer\s+)([A-Za-z0-9-._~+/]+=*)`),
	regexp.MustCompile(`(?i)((api|access|auth|token|secret|key|passw(or)?d)[0-9a-z\-_\.]*[\s:=]+)([^;,\s]{5,})`),
}

// dsnPasswordPattern matches the password part of a go-sql-driver style DSN (user:pass@tcp(...))
var dsnPasswordPattern = regexp.MustCompile(`^([^:@/]+):([^@]*)@`)

// RedactSensitiveData replaces secrets in a log message with "[REDACTED]"
func RedactSensitiveData(input string) string {
	if input == "" {
		return input
	}
	for _, pattern := range sensitiveDataPatterns {
		input = pattern.ReplaceAllString(input, "$1[REDACTED]")
	}
	return input
}

// RedactEndpoint hides the password of a broker URL or database DSN before it is logged.
func RedactEndpoint(endpoint string) string {
	if u, err := url.Parse(endpoint); err == nil && u.User != nil && u.Scheme != "" {
		if _, hasPassword := u.User.Password(); hasPassword {
			u.User = url.UserPassword(u.User.Username(), "REDACTED")
			return u.String()
		}
		return endpoint
	}
	return dsnPasswordPattern.ReplaceAllString(endpoint, "$1:[REDACTED]@")
}
