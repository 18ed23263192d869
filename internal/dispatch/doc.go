// Package dispatch routes received link packages to command handlers.
//
// The Router is the single consumer of the transport's ingress queue. Each
// package is matched against a static, ordered route table: the first entry
// whose 4-byte command id matches decides the outcome. Its address-class
// mask either accepts the package, and the handler runs, or rejects it.
// A rejected package is never offered to a later entry with the same
// command id.
//
// # Commands
//
//	CDSC  guest -> device  broadcast    discovery; registers the sender and
//	                                    replies RDSC unicast
//	RDSC  device -> guest  unicast      discovery acknowledgment
//	CBUT  guest -> device  only for me  4-byte little-endian button counter
//	RSCR  device -> guest  unicast      4-byte little-endian signed score
//
// Handlers run under the router mutex and are kept short: one registry
// upsert and at most one outgoing send.
package dispatch
