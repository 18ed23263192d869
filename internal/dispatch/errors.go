package dispatch

import "errors"

// ErrInvalidTarget is returned by SendScore for an address that cannot
// receive a unicast score.
var ErrInvalidTarget = errors.New("dispatch: invalid score target")
