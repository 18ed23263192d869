package link

// Callbacks are the two radio events the Transport listens to.
//
// Both are invoked from the radio's own context (an interrupt handler on
// hardware, a reader goroutine on hosted backends). Implementations must not
// block, allocate or take a mutex inside them.
type Callbacks struct {
	// Receive is called for every datagram the radio delivers.
	// data is only valid for the duration of the call.
	Receive func(src Address, data []byte)

	// SendComplete is called once per Transmit with the delivery status.
	SendComplete func(ok bool)
}

// Radio is the connectionless point-to-multipoint messaging primitive the
// Transport drives. Bring-up (channel, station mode) is the backend's
// business; Ready reports whether it has completed.
type Radio interface {
	// Ready reports whether the interface is up in a mode that supports
	// the messaging primitive.
	Ready() bool

	// Start registers the callbacks and starts the primitive.
	Start(cb Callbacks) error

	// LocalAddress returns this device's own link-layer address.
	LocalAddress() Address

	// AddPeer registers addr as a send target.
	AddPeer(addr Address) error

	// HasPeer reports whether addr is already registered.
	HasPeer(addr Address) bool

	// Transmit queues frame for delivery to dst. Completion is reported
	// asynchronously through Callbacks.SendComplete.
	Transmit(dst Address, frame []byte) error

	// Close stops the primitive and releases the device.
	Close() error
}
