package kiosk

import "errors"

var (
	// ErrConfigNil indicates that a nil SessionConfig was provided.
	ErrConfigNil = errors.New("session config is nil")

	// ErrInvalidHost indicates that the device host is empty or malformed.
	ErrInvalidHost = errors.New("invalid host")

	// ErrInvalidPort indicates that the device port is out of range.
	ErrInvalidPort = errors.New("port is out of range [1, 65535]")

	// ErrInvalidOption indicates an option value that is out of range.
	ErrInvalidOption = errors.New("invalid option")
)

var (
	// ErrSessionOpened indicates that Open was called on an already opened session.
	ErrSessionOpened = errors.New("session already opened")

	// ErrSessionDestroyed indicates an operation on a destroyed session.
	ErrSessionDestroyed = errors.New("session destroyed")

	// ErrLineTooLong indicates an inbound line longer than the configured max line size.
	ErrLineTooLong = errors.New("inbound line too long")
)
