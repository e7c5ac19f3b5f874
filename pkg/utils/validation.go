package utils

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// MaxLockNameLength bounds lock names so they stay cheap to compare and to
// carry on the wire.
const MaxLockNameLength = 1024

// ValidateLockName checks that name can identify a resource.
// Names are opaque strings: any valid UTF-8 up to MaxLockNameLength bytes,
// except the empty string and names starting with '-', which are reserved.
func ValidateLockName(name string) error {
	if name == "" {
		return NewValidationError("name", "lock name cannot be empty", ErrInvalidLockName)
	}

	if len(name) > MaxLockNameLength {
		return NewValidationError("name",
			fmt.Sprintf("lock name exceeds %d bytes", MaxLockNameLength), ErrInvalidLockName)
	}

	if !utf8.ValidString(name) {
		return NewValidationError("name", "lock name must be valid UTF-8", ErrInvalidLockName)
	}

	if strings.HasPrefix(name, "-") {
		return NewValidationError("name", "lock names starting with '-' are reserved", ErrInvalidLockName)
	}

	return nil
}
