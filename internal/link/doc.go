// Package link implements the ESP-NOW style datagram link used to talk to
// guest devices.
//
// It contains two layers:
//
//   - The frame codec (Address, CommandID, Frame, Package): pure conversion
//     between the fixed 26-byte wire frame and the application-level Package.
//   - The Transport: one-time radio initialisation, peer registration, a
//     synchronous acknowledged Send and an interrupt-safe ingress queue read
//     by Receive.
//
// # Wire Format
//
//	offset 0:  destination   6 bytes
//	offset 6:  command       4 bytes (raw ASCII, not terminated)
//	offset 10: payload      16 bytes (zero padded, silently truncated)
//
// A received frame must carry at least the 10 header bytes.
//
// # Single Instance
//
// Radio callbacks reach the Transport through a package-level trampoline that
// forwards to the one active instance registered by Initialize. The radio
// hardware supports a single messaging context, so a second Transport cannot
// be initialised while the first is open.
//
// # Usage
//
//	t := link.NewTransport(radio, link.Options{Logger: log})
//	if err := t.Initialize(); err != nil {
//	    return err // fatal: radio primitive refused to start
//	}
//	defer t.Close()
//
//	pkg := link.NewPackage(peer, link.MustCommandID("RDSC"), nil)
//	if err := t.Send(pkg, 100*time.Millisecond); errors.Is(err, link.ErrSendTimeout) {
//	    // caller decides whether to retry
//	}
package link
