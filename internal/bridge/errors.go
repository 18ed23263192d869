package bridge

import "errors"

var (
	// ErrInvalidCommand is returned for a score command that is not valid
	// JSON or names an unparseable MAC.
	ErrInvalidCommand = errors.New("bridge: invalid score command")

	// ErrNoScorer is returned when a score command arrives and no Scorer is
	// configured.
	ErrNoScorer = errors.New("bridge: no scorer configured")
)
