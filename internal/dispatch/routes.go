package dispatch

import (
	"strings"

	"github.com/nerrad567/guestlink-core/internal/link"
)

// Command identifiers.
var (
	CmdDiscovery    = link.MustCommandID("CDSC")
	CmdDiscoveryAck = link.MustCommandID("RDSC")
	CmdButton       = link.MustCommandID("CBUT")
	CmdScore        = link.MustCommandID("RSCR")
)

// OtherCommand is the metric label for command ids with no route.
const OtherCommand = "other"

// AddressClass is a bit mask of the address predicates a route accepts.
type AddressClass uint8

// Address classes. They may be OR-combined.
const (
	Broadcast AddressClass = 1 << iota // Destination is the broadcast address
	ForMe                              // Broadcast or unicast to this device
	OnlyForMe                          // Unicast to this device
)

// Accepts reports whether any predicate in the mask holds for pkg.
func (c AddressClass) Accepts(pkg link.Package) bool {
	return (c&Broadcast != 0 && pkg.IsBroadcast()) ||
		(c&ForMe != 0 && pkg.IsForMe()) ||
		(c&OnlyForMe != 0 && pkg.IsOnlyForMe())
}

// String returns the mask as a '|' separated list.
func (c AddressClass) String() string {
	var parts []string
	if c&Broadcast != 0 {
		parts = append(parts, "broadcast")
	}
	if c&ForMe != 0 {
		parts = append(parts, "for_me")
	}
	if c&OnlyForMe != 0 {
		parts = append(parts, "only_for_me")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

type handlerFunc func(r *Router, pkg link.Package)

// Route binds a command id and address class to a handler.
type Route struct {
	Command link.CommandID
	Class   AddressClass
	handle  handlerFunc
}

// Result is the outcome of dispatching one package.
type Result int

// Dispatch outcomes.
const (
	Handled  Result = iota // A route accepted the package and its handler ran
	Rejected               // The matching route's address class refused the package
	Unknown                // No route has this command id
)

// String returns the result name used in logs and metric labels.
func (r Result) String() string {
	switch r {
	case Handled:
		return "handled"
	case Rejected:
		return "rejected"
	case Unknown:
		return "unknown"
	default:
		return "invalid"
	}
}

// defaultRoutes is the static route table, matched in order.
func defaultRoutes() []Route {
	return []Route{
		{Command: CmdDiscovery, Class: Broadcast, handle: (*Router).handleDiscovery},
		{Command: CmdButton, Class: OnlyForMe, handle: (*Router).handleButton},
	}
}
