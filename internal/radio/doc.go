// Package radio groups the link.Radio backends.
//
// Each subpackage adapts one physical or simulated medium to the
// connectionless primitive the link transport drives:
//
//   - serial: a USB radio dongle speaking a line protocol over a serial port
//   - udp: LAN broadcast datagrams, for running several hosts as peers
//   - sim: an in-memory medium for tests and local demos
//
// Backends deliver received datagrams and send completions from their own
// goroutine. That goroutine is the interrupt context of the transport: the
// callbacks it invokes never block.
package radio
