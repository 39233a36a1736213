package sockfd

import (
	"strconv"
	"strings"
)

// Flag is a set of independent facts recorded about a handle.
type Flag uint32

const (
	// FlagLastConnectFailed is set when the most recent connect attempt failed.
	FlagLastConnectFailed Flag = 1 << iota

	// FlagDualMode is set on AF_INET6 sockets accepting IPv4-mapped traffic.
	FlagDualMode

	// FlagExposed is set once the raw descriptor escaped to caller code, or the socket
	// carries configuration this package did not make.
	FlagExposed

	// FlagPreferInlineCompletions asks operation implementations to complete
	// readiness-driven work on the notifying goroutine.
	FlagPreferInlineCompletions

	// FlagIsSocket distinguishes sockets from other descriptors owned through a Handle.
	FlagIsSocket

	// FlagDisconnected is set after a forced disconnect.
	FlagDisconnected

	// FlagFastOpen is set when TCP Fast Open was enabled on the socket.
	FlagFastOpen
)

var flagNames = [...]string{
	"LastConnectFailed",
	"DualMode",
	"Exposed",
	"PreferInlineCompletions",
	"IsSocket",
	"Disconnected",
	"FastOpen",
}

func (f Flag) String() string {
	if f == 0 {
		return "0"
	}
	var names []string
	for i, name := range flagNames {
		if f&(1<<i) != 0 {
			names = append(names, name)
		}
	}
	if rest := f &^ (1<<len(flagNames) - 1); rest != 0 {
		names = append(names, "0x"+strconv.FormatUint(uint64(rest), 16))
	}
	return strings.Join(names, "|")
}
