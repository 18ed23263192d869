package link

import (
	"encoding/binary"
	"fmt"
)

// PayloadSize is the fixed payload region of a frame.
const PayloadSize = 16

// uint32Size is the number of payload bytes needed to decode a counter.
const uint32Size = 4

// Package is the application-level view of a frame.
//
// A Package is immutable once constructed: all fields are unexported and the
// routing flags are computed only by the constructors. It holds fixed-size
// arrays, so it is comparable with == and copying it never allocates.
//
// Invariant: IsBroadcast() implies IsForMe().
type Package struct {
	command     CommandID
	payload     [PayloadSize]byte
	payloadLen  uint8
	source      Address
	destination Address
	broadcast   bool
	forMe       bool
}

// NewPackage builds an outgoing package addressed to dst.
//
// Payload bytes beyond PayloadSize are silently truncated; this mirrors the
// fixed wire format and is not an error. The source is left zero and is
// filled by the receiver.
//
// Parameters:
//   - dst: Destination address (Broadcast or a unicast peer)
//   - cmd: Command identifier
//   - payload: Optional payload bytes (may be nil)
func NewPackage(dst Address, cmd CommandID, payload []byte) Package {
	return newPackage(Address{}, dst, Address{}, cmd, payload)
}

// NewReceivedPackage builds a package as seen by the device whose own address
// is self. It is what Decode produces and is useful for tests and for
// injecting synthetic traffic.
func NewReceivedPackage(src, dst, self Address, cmd CommandID, payload []byte) Package {
	return newPackage(src, dst, self, cmd, payload)
}

func newPackage(src, dst, self Address, cmd CommandID, payload []byte) Package {
	p := Package{
		command:     cmd,
		source:      src,
		destination: dst,
	}
	n := copy(p.payload[:], payload)
	p.payloadLen = uint8(n) //nolint:gosec // n <= PayloadSize
	p.broadcast = dst.IsBroadcast()
	p.forMe = p.broadcast || (!self.IsZero() && dst == self)
	return p
}

// Command returns the 4-byte command identifier.
func (p Package) Command() CommandID { return p.command }

// Payload returns a copy of the valid payload bytes.
func (p Package) Payload() []byte {
	out := make([]byte, p.payloadLen)
	copy(out, p.payload[:p.payloadLen])
	return out
}

// PayloadLen returns the number of valid payload bytes.
func (p Package) PayloadLen() int { return int(p.payloadLen) }

// Source returns the sender address. Zero for outgoing packages.
func (p Package) Source() Address { return p.source }

// Destination returns the destination address.
func (p Package) Destination() Address { return p.destination }

// IsBroadcast reports whether the destination is the broadcast address.
func (p Package) IsBroadcast() bool { return p.broadcast }

// IsForMe reports whether the package is broadcast or addressed to this
// device.
func (p Package) IsForMe() bool { return p.forMe }

// IsOnlyForMe reports whether the package is addressed to this device and
// not broadcast.
func (p Package) IsOnlyForMe() bool { return p.forMe && !p.broadcast }

// Uint32 decodes a little-endian 32-bit counter from the start of the
// payload.
//
// Returns false if fewer than four payload bytes were received.
func (p Package) Uint32() (uint32, bool) {
	if p.payloadLen < uint32Size {
		return 0, false
	}
	return binary.LittleEndian.Uint32(p.payload[:uint32Size]), true
}

// Int32Payload encodes v as the 4-byte little-endian payload used by score
// updates.
func Int32Payload(v int32) []byte {
	b := make([]byte, uint32Size)
	binary.LittleEndian.PutUint32(b, uint32(v)) //nolint:gosec // two's complement reinterpretation
	return b
}

// Uint32Payload encodes v as a 4-byte little-endian payload.
func Uint32Payload(v uint32) []byte {
	b := make([]byte, uint32Size)
	binary.LittleEndian.PutUint32(b, v)
	return b
}

// String returns a human-readable representation of the package.
func (p Package) String() string {
	return fmt.Sprintf("%s %s->%s len=%d broadcast=%t forMe=%t",
		p.command, p.source, p.destination, p.payloadLen, p.broadcast, p.forMe)
}
