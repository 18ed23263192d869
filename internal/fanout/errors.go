package fanout

import "errors"

// ErrSinkClosed is returned by writes to a closed EventStream.
var ErrSinkClosed = errors.New("fanout: sink closed")
