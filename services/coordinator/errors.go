package coordinator

import "errors"

var (
	ErrCoordinatorUnavailable = errors.New("coordinator: heartbeat store unavailable")
	ErrUnknownExecutor        = errors.New("coordinator: executor not registered or already terminated")
)
