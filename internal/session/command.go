package session

import "io"

// Identity is the username a command runs under. Transports that cannot
// report an authenticated username produce the Unknown identity; callers
// can distinguish that from a real (possibly empty-looking) name via Known.
type Identity struct {
	name  string
	known bool
}

// Unknown is the identity of a caller whose username the transport could
// not supply.
var Unknown = Identity{}

// KnownIdentity wraps an authenticated username.
func KnownIdentity(name string) Identity {
	return Identity{name: name, known: true}
}

// Name returns the username, or "" for an unknown identity.
func (i Identity) Name() string { return i.name }

// Known reports whether the transport supplied a username.
func (i Identity) Known() bool { return i.known }

func (i Identity) String() string {
	if !i.known {
		return "(unknown)"
	}
	return i.name
}

// Command is the single request a channel carries: the exec text, the
// identity claiming it, and the environment collected from env requests
// preceding the exec. Env is frozen before the handler runs.
type Command struct {
	Text string
	User Identity
	Env  map[string]string
}

// Handler services one command, writing response text to out. Output
// written before the handler returns is delivered before the channel
// closes. There is no way to report a process exit code; handlers that
// need one must encode it in the output text.
type Handler func(cmd Command, out io.Writer) error
