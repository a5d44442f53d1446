package repository

import "errors"

var (
	// ErrVersionConflict is returned when a conditional update finds a newer version
	ErrVersionConflict = errors.New("record was modified concurrently")
	// ErrConditionFailed is returned when a guarded state change matched no row
	ErrConditionFailed = errors.New("record is not in the expected state")
)
