package validator

import (
	"errors"
	"net/mail"
	"regexp"
	"strings"
)

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9._-]{3,64}$`)

// NormalizeEmail trims and lower-cases an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Email checks that the address is a bare addr-spec with a dotted domain.
func Email(email string) error {
	if email == "" {
		return errors.New("email is required")
	}

	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return errors.New("invalid email format")
	}

	parts := strings.Split(email, "@")
	if len(parts) != 2 || parts[0] == "" {
		return errors.New("invalid email format")
	}

	domain := parts[1]
	if !strings.Contains(domain, ".") || strings.HasPrefix(domain, ".") || strings.HasSuffix(domain, ".") {
		return errors.New("invalid email domain")
	}

	return nil
}

func Username(username string) error {
	if !usernamePattern.MatchString(username) {
		return errors.New("username must be 3-64 characters of letters, digits, '.', '_' or '-'")
	}
	return nil
}

func Password(password string, minLength int) error {
	if len(password) < minLength {
		return errors.New("password is too short")
	}
	if len(password) > 72 {
		// bcrypt ignores anything past 72 bytes
		return errors.New("password is too long")
	}
	return nil
}
