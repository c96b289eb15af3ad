package errors

import (
	"errors"
	"fmt"
)

// Common error types for the session client
var (
	// Session errors
	ErrNotAuthenticated  = errors.New("not authenticated")
	ErrSessionIncomplete = errors.New("session record incomplete")

	// Token errors
	ErrInvalidToken        = errors.New("invalid token")
	ErrNoRefreshToken      = errors.New("no refresh token")
	ErrRefreshFailed       = errors.New("token refresh failed")
	ErrInvalidRefreshToken = errors.New("invalid refresh token")

	// Permission errors
	ErrNoAccess          = errors.New("no access: subscription or entitlement required")
	ErrPermissionsFailed = errors.New("permissions unavailable")
	ErrCacheVersion      = errors.New("permissions cache version mismatch")

	// Storage errors
	ErrSealedData = errors.New("sealed data could not be opened")

	// Notification errors
	ErrChannelClosed = errors.New("notification channel closed")

	// General errors
	ErrUnsupported = errors.New("unsupported operation")
)

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
