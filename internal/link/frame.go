package link

import "fmt"

// Frame size constraints.
const (
	// HeaderSize is destination plus command: the minimum valid frame.
	HeaderSize = AddressSize + CommandSize

	// FrameSize is the fixed size of a transmitted frame.
	FrameSize = HeaderSize + PayloadSize

	commandOffset = AddressSize
	payloadOffset = HeaderSize
)

// Frame is the packed on-wire representation of a Package.
//
//	Byte 0-5:   destination address
//	Byte 6-9:   command (raw ASCII)
//	Byte 10-25: payload (zero padded)
type Frame [FrameSize]byte

// Encode converts a Package into its wire frame.
//
// The destination and the four command bytes are copied verbatim. The payload
// region is zero-filled and then receives the package's payload bytes.
// Packages never hold more than PayloadSize bytes, so truncation happened (if
// at all) when the package was constructed.
func Encode(p Package) Frame {
	var f Frame
	copy(f[:commandOffset], p.destination[:])
	copy(f[commandOffset:payloadOffset], p.command[:])
	copy(f[payloadOffset:], p.payload[:p.payloadLen])
	return f
}

// ParseFrame copies raw received bytes into a Frame.
//
// Frames longer than FrameSize are truncated to FrameSize; shorter frames
// leave the remaining payload bytes zero.
//
// Parameters:
//   - data: Raw bytes delivered by the radio
//
// Returns:
//   - Frame: Copied frame
//   - int: Usable received length (min(len(data), FrameSize))
//   - error: ErrFrameTooShort if data does not carry the full header
func ParseFrame(data []byte) (Frame, int, error) {
	var f Frame
	if len(data) < HeaderSize {
		return f, 0, fmt.Errorf("%w: %d bytes, need at least %d", ErrFrameTooShort, len(data), HeaderSize)
	}
	n := copy(f[:], data)
	return f, n, nil
}

// Decode reconstructs a Package from a frame.
//
// The payload length is receivedLen minus the header, clamped to
// [0, PayloadSize]. The broadcast and for-me flags are computed from the
// destination against Broadcast and self.
//
// Parameters:
//   - f: Frame as received
//   - receivedLen: Total number of bytes the radio delivered
//   - source: Sender address reported by the radio
//   - self: This device's own address
func Decode(f Frame, receivedLen int, source, self Address) Package {
	payloadLen := receivedLen - HeaderSize
	if payloadLen < 0 {
		payloadLen = 0
	}
	if payloadLen > PayloadSize {
		payloadLen = PayloadSize
	}

	var dst Address
	copy(dst[:], f[:commandOffset])
	var cmd CommandID
	copy(cmd[:], f[commandOffset:payloadOffset])

	return newPackage(source, dst, self, cmd, f[payloadOffset:payloadOffset+payloadLen])
}
