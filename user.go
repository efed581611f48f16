package ircd

// UID is a stable per-connection identifier, unique across the network,
// used as the indirection target for every cyclic channel<->user
// back-reference: channels and status-mode lists store UIDs, not
// pointers, and resolve through the Pool at use sites.
type UID string

// AccountRef is the sanitized view of an account row attached to a User;
// it intentionally never carries the password/encrypt fields (see
// Account.Sanitize).
type AccountRef struct {
	ID   int
	Name string
}

// User is the external contract the core consumes for a connected client.
// Girc's own User (state.go) is a tracked peer as seen by a client library;
// here the same shape instead describes a user as seen by the server. The
// core never constructs a User itself — it is handed one by the caller
// (transport/registration layer) and only ever queries or commands it
// through this interface.
type User interface {
	UID() UID
	Nick() string
	RealName() string
	ServerName() string
	IsLocal() bool
	IsMode(name ModeName) bool
	HasCap(name string) bool
	Account() *AccountRef
	AwayMessage() string

	// Numeric renders and sends a numeric reply (e.g. "001", "353") with
	// the given positional arguments, looked up by symbolic name in the
	// numeric table the transport layer owns.
	Numeric(name string, args ...string)
	// Send writes a single already-rendered protocol line to the user.
	Send(line string)
	// SendFrom writes a line as if originating "from" source (a user or
	// server), i.e. prefixes the line with source's mask/name.
	SendFrom(source Source, line string)
	// ServerNotice emits a local NOTICE from the server itself, tagged
	// with a short category (tag) for filtering/oper-notice routing.
	ServerNotice(tag, text string)
	// FireEvent lets the user object itself observe core lifecycle events
	// (e.g. so a connection wrapper can clean up local-only bookkeeping).
	FireEvent(name string, payload EventPayload)
}

// Source is a sum type: whatever originated a command is either a User
// or a Server. Consumers switch on IsServer rather than type-asserting.
type Source interface {
	SourceName() string
	IsServer() bool
	AsUser() (User, bool)
	AsServer() (Server, bool)
}

// userSource adapts a User to Source.
type userSource struct{ u User }

func (s userSource) SourceName() string           { return s.u.Nick() }
func (s userSource) IsServer() bool                { return false }
func (s userSource) AsUser() (User, bool)          { return s.u, true }
func (s userSource) AsServer() (Server, bool)      { return nil, false }

// UserSource wraps u as a Source.
func UserSource(u User) Source { return userSource{u} }

// serverSourceAdapter adapts a Server to Source.
type serverSourceAdapter struct{ s Server }

func (a serverSourceAdapter) SourceName() string      { return a.s.Name() }
func (a serverSourceAdapter) IsServer() bool           { return true }
func (a serverSourceAdapter) AsUser() (User, bool)     { return nil, false }
func (a serverSourceAdapter) AsServer() (Server, bool) { return a.s, true }

// ServerSource wraps s as a Source.
func ServerSource(s Server) Source { return serverSourceAdapter{s} }
