package util

import (
	"errors"
	"strings"
)

// ErrInvalidName is returned for names that cannot be used as a storage key segment.
var ErrInvalidName = errors.New("invalid name")

// SanitizeName removes path separators and rejects traversal patterns.
func SanitizeName(name string) (string, error) {
	if strings.Contains(name, "..") {
		return "", ErrInvalidName
	}
	s := strings.TrimSpace(name)
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, "\\", "_")
	if s == "" {
		return "", ErrInvalidName
	}
	return s, nil
}
