package guest

import "errors"

// ErrNotFound is returned by Get when the address is not registered.
var ErrNotFound = errors.New("guest: not found")
