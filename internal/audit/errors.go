package audit

import "errors"

var (
	// ErrWriteFailed wraps every failure to persist a record. The Recorder
	// logs these; they never reach the code that produced the message.
	ErrWriteFailed = errors.New("audit: write failed")

	// ErrInvalidDirection is returned for a direction other than outgoing or incoming.
	ErrInvalidDirection = errors.New("audit: invalid direction")
)
