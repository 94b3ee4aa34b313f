// Package utils provides shared utility functions used across the application.
//
// Go Learning Note: "pkg/" Directory Convention
// Code under pkg/ is intended to be importable by external projects (unlike
// internal/ which is compiler-enforced private). This is a community convention,
// not a Go language feature.
package utils

import (
	"github.com/google/uuid"
)

// GenerateID returns a random (v4) UUID string. Request ids, token ids and
// the subjects minted by tokengen all come from here.
//
// Go Learning Note: "github.com/google/uuid"
// uuid.New() creates an RFC 4122 v4 UUID like
// "550e8400-e29b-41d4-a716-446655440000". Random UUIDs need no coordination
// between processes, which suits ids minted on many service instances.
func GenerateID() string {
	return uuid.New().String()
}

// ValidID reports whether s is a UUID in canonical 36-character form. It
// guards ids taken from untrusted headers before they reach the logs.
func ValidID(s string) bool {
	if len(s) != 36 {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil
}
