// Package domain contains entity without logic, just meta-data
package domain

import "errors"

const (
	MaxRoomIDLen      = 64
	MaxDisplayNameLen = 36
)

var (
	ErrRoomIDEmpty     = errors.New("room id empty")
	ErrRoomIDTooLong   = errors.New("room id too long")
	ErrDisplayNameLong = errors.New("display name too long")
)

// RoomID is an opaque, externally supplied broadcast identifier.
type RoomID string

// ValidRoomID checks the externally supplied id before it reaches the registry.
func ValidRoomID(raw string) (RoomID, error) {
	if raw == "" {
		return "", ErrRoomIDEmpty
	}
	if len(raw) > MaxRoomIDLen {
		return "", ErrRoomIDTooLong
	}
	return RoomID(raw), nil
}

// CleanDisplayName truncates rather than rejects: a join must not fail over a
// cosmetic field.
func CleanDisplayName(raw string) string {
	if raw == "" {
		return "Anonymous"
	}
	if len(raw) > MaxDisplayNameLen {
		return raw[:MaxDisplayNameLen]
	}
	return raw
}
