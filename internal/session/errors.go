package session

import "errors"

var (
	ErrNoSession = errors.New("no active session for tenant")
	ErrNotReady  = errors.New("session is not ready")
)
