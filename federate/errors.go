package federate

import "errors"

var (
	// ErrMissingName is raised when an endpoint starts without a name.
	ErrMissingName = errors.New("federate: endpoint is missing a name")

	// ErrMalformedPayload is raised when an inbound payload has no '='
	// delimiter.
	ErrMalformedPayload = errors.New("federate: malformed payload")

	// ErrNotStarted is returned when sending from an endpoint that is not
	// started.
	ErrNotStarted = errors.New("federate: endpoint not started")

	// ErrUnknownFederate is returned when a name lookup fails.
	ErrUnknownFederate = errors.New("federate: unknown endpoint")

	// ErrDuplicateName is raised when two endpoints register the same name.
	ErrDuplicateName = errors.New("federate: duplicate endpoint name")
)
