package link

import "fmt"

// CommandSize is the length of a command identifier on the wire.
const CommandSize = 4

// CommandID is a 4-character ASCII command identifier ("CDSC", "CBUT", ...).
// On the wire it occupies exactly four raw bytes with no terminator.
type CommandID [CommandSize]byte

// ParseCommandID converts a 4-character string into a CommandID.
//
// Returns:
//   - CommandID: Parsed identifier
//   - error: ErrInvalidCommand if s is not exactly four bytes
func ParseCommandID(s string) (CommandID, error) {
	if len(s) != CommandSize {
		return CommandID{}, fmt.Errorf("%w: %q (need %d bytes)", ErrInvalidCommand, s, CommandSize)
	}

	var c CommandID
	copy(c[:], s)
	return c, nil
}

// MustCommandID is like ParseCommandID but panics on error.
// Use it for static route tables.
func MustCommandID(s string) CommandID {
	c, err := ParseCommandID(s)
	if err != nil {
		panic(err)
	}
	return c
}

// String returns the identifier as text.
func (c CommandID) String() string {
	return string(c[:])
}
