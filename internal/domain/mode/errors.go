package mode

import "errors"

var (
	// ErrInvalidMode indicates an unrecognized mode string.
	ErrInvalidMode = errors.New("invalid mode")
	// ErrInvalidDuration indicates a revert duration that the target mode cannot carry.
	ErrInvalidDuration = errors.New("invalid mode duration")
	// ErrInvalidRule indicates a malformed approval rule.
	ErrInvalidRule = errors.New("invalid approval rule")
)
