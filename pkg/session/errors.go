package session

import "errors"

// Sentinel errors for common session conditions.
var (
	// ErrNoChannel is returned when sending on a session without a channel.
	ErrNoChannel = errors.New("session: no channel")

	// ErrSessionClosed is returned when an operation is attempted on a
	// closed session.
	ErrSessionClosed = errors.New("session: session closed")

	// ErrMaxSessionsReached is returned by Create when the registry is full.
	ErrMaxSessionsReached = errors.New("session: max sessions reached")

	// ErrDuplicateSession is returned by CreateWithID when the ID is
	// already held by a live session.
	ErrDuplicateSession = errors.New("session: duplicate session id")
)
