package domain

import "errors"

// Sentinel errors for the engine. Failures are scoped to a single
// operation; none of them are fatal to the engine.
var (
	// ErrTransport covers loss of connectivity while a request is in flight.
	ErrTransport = errors.New("transport unavailable")
	// ErrTimeout is the locally synthesized terminal result of a request
	// whose acknowledgement never arrived.
	ErrTimeout = errors.New("request timed out")
	// ErrRejected means the server answered ok:false.
	ErrRejected = errors.New("request rejected")
	// ErrInvalidInput is raised before dispatch; no round trip happens.
	ErrInvalidInput = errors.New("invalid input")
	// ErrState means the operation targets an entity in the wrong
	// lifecycle state (e.g. editing a deleted message).
	ErrState = errors.New("invalid state for operation")
	// ErrNotFound means the referenced chat or message is unknown locally.
	ErrNotFound = errors.New("resource not found")
)
