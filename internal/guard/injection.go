package guard

import (
	"fmt"
	"regexp"
	"strings"
)

const maxSampleLength = 100

var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)('.*(--|;|/\*|\*/|xp_|sp_|0x).*')`),
	regexp.MustCompile(`(?i)(\bUNION\b.*\bSELECT\b)`),
	regexp.MustCompile(`(?i)(\bSELECT\b.*\bFROM\b.*\bWHERE\b)`),
	regexp.MustCompile(`(?i)(\bINSERT\b.*\bINTO\b.*\bVALUES\b)`),
	regexp.MustCompile(`(?i)(\bUPDATE\b.*\bSET\b)`),
	regexp.MustCompile(`(?i)(\bDELETE\b.*\bFROM\b)`),
	regexp.MustCompile(`(?i)(\bDROP\b.*\bTABLE\b)`),
	regexp.MustCompile(`(?i)(\bEXEC\b|\bEXECUTE\b)`),
	regexp.MustCompile(`(?i)('\s*OR\s*'?1'?\s*=\s*'?1)`),
	regexp.MustCompile(`(?i)('\s*OR\s*.*\s*=\s*.*)`),
	regexp.MustCompile(`(?i)(CHAR\(|CHR\(|ASCII\()`),
	regexp.MustCompile(`(?i)(WAITFOR\s+DELAY)`),
	regexp.MustCompile(`(?i)(BENCHMARK\()`),
	regexp.MustCompile(`(?i)(SLEEP\()`),
}

var (
	alphanumericPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	emailPattern        = regexp.MustCompile(`^[A-Za-z0-9+_.-]+@[A-Za-z0-9.-]+$`)
)

// CheckInjection matches value against the SQL injection patterns. Blank
// input is accepted.
func CheckInjection(field, value string) *Violation {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	for _, p := range injectionPatterns {
		if p.MatchString(value) {
			return &Violation{
				Kind:   KindInjection,
				Field:  field,
				Sample: SanitizeSample(value),
				Reason: fmt.Sprintf("matched pattern %s", p.String()),
			}
		}
	}
	return nil
}

// ValidateAlphanumeric accepts letters, digits, underscore and hyphen only
func ValidateAlphanumeric(field, value string) *Violation {
	if value == "" || alphanumericPattern.MatchString(value) {
		return nil
	}
	return &Violation{
		Kind:   KindInjection,
		Field:  field,
		Sample: SanitizeSample(value),
		Reason: "non-alphanumeric input",
	}
}

// ValidateEmail rejects addresses outside a conservative character set
func ValidateEmail(email string) *Violation {
	if email == "" || emailPattern.MatchString(email) {
		return nil
	}
	return &Violation{
		Kind:   KindInjection,
		Field:  "email",
		Sample: SanitizeSample(email),
		Reason: "invalid email format",
	}
}

// SanitizeSample makes untrusted input safe to log: control whitespace
// becomes a space and the result is cut at 100 characters.
func SanitizeSample(value string) string {
	runes := []rune(value)
	truncated := len(runes) > maxSampleLength
	if truncated {
		runes = runes[:maxSampleLength]
	}
	s := strings.NewReplacer("\r", " ", "\n", " ", "\t", " ").Replace(string(runes))
	if truncated {
		s += "..."
	}
	return s
}
