package link

import "errors"

// Domain errors for the link package.
var (
	// ErrInvalidAddress is returned when a link-layer address string cannot
	// be parsed.
	ErrInvalidAddress = errors.New("link: invalid address")

	// ErrInvalidCommand is returned when a command identifier is not exactly
	// four bytes long.
	ErrInvalidCommand = errors.New("link: invalid command id")

	// ErrFrameTooShort is returned when a received frame does not carry the
	// full header.
	ErrFrameTooShort = errors.New("link: frame shorter than header")

	// ErrNotInitialized is returned when Send is called before Initialize.
	ErrNotInitialized = errors.New("link: transport not initialised")

	// ErrInstanceActive is returned by Initialize when another Transport
	// already owns the radio callbacks.
	ErrInstanceActive = errors.New("link: another transport instance is active")

	// ErrRadioStart is returned when the radio primitive refuses to start.
	// Callers treat it as unrecoverable.
	ErrRadioStart = errors.New("link: radio primitive failed to start")

	// ErrPeerRegistration is returned when the radio rejects a peer address.
	ErrPeerRegistration = errors.New("link: peer registration failed")

	// ErrSendTimeout is returned when the send-completion callback did not
	// fire within the caller's timeout.
	ErrSendTimeout = errors.New("link: send timed out")

	// ErrSendFailed is returned when the radio reports a failed transmission.
	ErrSendFailed = errors.New("link: send failed")

	// ErrClosed is returned when the transport has been closed.
	ErrClosed = errors.New("link: transport closed")
)
