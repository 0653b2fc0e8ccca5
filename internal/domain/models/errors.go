package models

import "errors"

var (
	ErrInvalidEvent           = errors.New("invalid spin event")
	ErrInsufficientHistory    = errors.New("insufficient history")
	ErrWindowTooShort         = errors.New("window too short")
	ErrModelNotInitialized    = errors.New("model not initialized")
	ErrFeedDisconnected       = errors.New("feed disconnected")
	ErrNonFiniteUpdate        = errors.New("non-finite training update")
	ErrIncompatibleCheckpoint = errors.New("incompatible checkpoint")
	ErrInsufficientFunds      = errors.New("insufficient funds")
	ErrSessionStopped         = errors.New("session stopped")
)
