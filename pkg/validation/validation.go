package validation

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	MaxRoomNameLength = 100
	MaxUserLimit      = 99
	maxIDLength       = 64
)

// IDRegex matches platform identifiers (snowflakes and test ids).
var IDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ValidateID validates a platform user or channel identifier.
func ValidateID(id, fieldName string) error {
	if id == "" {
		return fmt.Errorf("%s is required", fieldName)
	}
	if len(id) > maxIDLength {
		return fmt.Errorf("%s is too long (max %d characters)", fieldName, maxIDLength)
	}
	if !IDRegex.MatchString(id) {
		return fmt.Errorf("invalid %s format", fieldName)
	}
	return nil
}

// ValidateRoomName checks a display name after trimming.
func ValidateRoomName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("room name is required")
	}
	if !utf8.ValidString(name) {
		return fmt.Errorf("room name contains invalid characters")
	}
	if utf8.RuneCountInString(name) > MaxRoomNameLength {
		return fmt.Errorf("room name is too long (max %d characters)", MaxRoomNameLength)
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return fmt.Errorf("room name contains control characters")
		}
	}
	return nil
}

// ValidateUserLimit accepts 0 (unlimited) through MaxUserLimit. Out-of-range values are rejected.
func ValidateUserLimit(limit int) error {
	if limit < 0 || limit > MaxUserLimit {
		return fmt.Errorf("user limit must be within [0, %d], got %d", MaxUserLimit, limit)
	}
	return nil
}

// ValidateURL validates an http(s) or ws(s) endpoint.
func ValidateURL(urlStr string) error {
	if urlStr == "" {
		return fmt.Errorf("URL is required")
	}
	u, err := url.Parse(urlStr)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" && u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("invalid URL scheme (must be http, https, ws, or wss)")
	}
	if u.Host == "" {
		return fmt.Errorf("URL must have a host")
	}
	return nil
}
