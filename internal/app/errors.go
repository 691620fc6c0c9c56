package app

import "errors"

var (
	// ErrInvalidRequest marks a setup request the caller must fix; the
	// wrapped message says which field.
	ErrInvalidRequest = errors.New("invalid setup request")

	// ErrEmptyRoster is returned when a request carries no roster and the
	// tenant has no stored roster to fall back on.
	ErrEmptyRoster = errors.New("no roster provided and none stored")
)
