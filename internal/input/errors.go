package input

import "errors"

var (
	// ErrNoMatchingPlugin means no registered plugin name prefixes the
	// requested instance spec.
	ErrNoMatchingPlugin = errors.New("input: no matching plugin")

	// ErrNetworkConfig means the network part of an instance spec could
	// not be parsed.
	ErrNetworkConfig = errors.New("input: invalid network address")

	// ErrInvalidProperty means a recognized property carried a value
	// that does not parse.
	ErrInvalidProperty = errors.New("input: invalid property value")

	// ErrCollectorNotFound means no collector with the given id exists
	// on the instance, or no collector owns the dispatched descriptor.
	ErrCollectorNotFound = errors.New("input: collector not found")

	// ErrAlreadyRunning is returned when resuming a collector that was
	// never paused.
	ErrAlreadyRunning = errors.New("input: collector already running")

	// ErrEmptyTag rejects dynamic tag operations with an empty tag.
	ErrEmptyTag = errors.New("input: empty tag")
)
