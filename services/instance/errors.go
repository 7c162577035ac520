package instance

import "errors"

var ErrInstanceDataUnavailable = errors.New("instance: billing data unavailable")
