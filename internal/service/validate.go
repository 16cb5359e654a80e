package service

import (
	"fmt"
	"net/mail"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/sakif/dust/internal/apperror"
	"github.com/sakif/dust/internal/auth"
)

// Validation constants.
const (
	MaxUsernameLength = 30
	MinPasswordBytes  = 6
	MaxPasswordBytes  = auth.MaxPasswordBytes
	MaxPlanetName     = 30
	MaxKeywords       = 32
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

func validateUsername(username string) error {
	if username == "" {
		return apperror.ValidationFailed("username", "username is required")
	}
	if utf8.RuneCountInString(username) > MaxUsernameLength {
		return apperror.ValidationFailed("username",
			fmt.Sprintf("username must be %d characters or less", MaxUsernameLength))
	}
	if !usernamePattern.MatchString(username) {
		return apperror.ValidationFailed("username", "username may only contain letters, digits, '_' and '-'")
	}
	return nil
}

// validateEmail accepts a bare address only ("a@b.c", not "A <a@b.c>").
func validateEmail(field, email string) error {
	if email == "" {
		return apperror.ValidationFailed(field, field+" is required")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || !strings.Contains(email[strings.LastIndex(email, "@")+1:], ".") {
		return apperror.ValidationFailed(field, field+" is not a valid email address")
	}
	return nil
}

func validatePassword(password string) error {
	if password == "" {
		return apperror.ValidationFailed("password", "password is required")
	}
	if len(password) < MinPasswordBytes || len(password) > MaxPasswordBytes {
		return apperror.ValidationFailed("password",
			fmt.Sprintf("password must be between %d and %d bytes", MinPasswordBytes, MaxPasswordBytes))
	}
	return nil
}

// validateHTTPURL requires an absolute http(s) URL with a host.
func validateHTTPURL(field, raw string) error {
	if raw == "" {
		return apperror.ValidationFailed(field, field+" is required")
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return apperror.ValidationFailed(field, field+" must be an absolute http(s) URL")
	}
	return nil
}

func validateLength(field, value string, maxRunes int) error {
	if value == "" {
		return apperror.ValidationFailed(field, field+" is required")
	}
	if utf8.RuneCountInString(value) > maxRunes {
		return apperror.ValidationFailed(field, fmt.Sprintf("%s must be %d characters or less", field, maxRunes))
	}
	return nil
}
