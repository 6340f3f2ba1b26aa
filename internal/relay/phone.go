package relay

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	phonePattern      = regexp.MustCompile(`^(\+?251|0)?[97]\d{8}$`)
	validPhonePattern = regexp.MustCompile(`^0[79]\d{8}$`)
	phoneLikePattern  = regexp.MustCompile(`^\+?[\d\s\-().]+$`)
	emailPattern      = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
	nonDigits         = regexp.MustCompile(`\D`)
)

// IsPhoneNumber reports whether text is a local or +251 mobile number.
func IsPhoneNumber(text string) bool {
	return phonePattern.MatchString(strings.TrimSpace(text))
}

// IsEmail reports whether text looks like an email address.
func IsEmail(text string) bool {
	return emailPattern.MatchString(strings.TrimSpace(text))
}

// looksLikePhone accepts anything made of digits and phone punctuation with
// at least seven digits. Used to catch malformed numbers so they can be
// rejected explicitly instead of falling through to the generic prompt.
func looksLikePhone(text string) bool {
	text = strings.TrimSpace(text)
	if !phoneLikePattern.MatchString(text) {
		return false
	}
	return len(nonDigits.ReplaceAllString(text, "")) >= 7
}

// NormalizePhone strips non-digits, drops a leading 251 country prefix and
// makes sure the result starts with 0.
func NormalizePhone(phone string) string {
	digits := nonDigits.ReplaceAllString(phone, "")
	if digits == "" {
		return ""
	}
	digits = strings.TrimPrefix(digits, "251")
	if !strings.HasPrefix(digits, "0") {
		digits = "0" + digits
	}
	return digits
}

// ValidatePhone checks a normalized number.
func ValidatePhone(normalized string) error {
	if !validPhonePattern.MatchString(normalized) {
		return fmt.Errorf("%w: phone %q", ErrValidation, normalized)
	}
	return nil
}
