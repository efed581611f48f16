package ircd

import "sync"

// EventPayload carries whatever data a particular named event defines; each
// well-known event's payload type is documented next to the code that
// fires it (e.g. ChannelModeEvent, CanJoinEvent).
type EventPayload interface{}

// EventHandler observes or vetoes a fired event. Returning stop=true halts
// further handlers for that firing and tells the caller the event was
// vetoed ("stopped", in the source protocol's terms).
type EventHandler func(payload EventPayload) (stop bool)

// EventBus is a named-event registry, the systems-language rendering of
// the source's event-with-stoppers dispatch): an
// explicit listener slice per event name. Unlike girc's Caller/handler.go
// (which runs every handler in its own goroutine and waits on a
// sync.WaitGroup, because girc's events arrive from an independent reader
// goroutine), EventBus runs handlers synchronously, in registration order,
// on the caller's own goroutine — required by the single-threaded
// cooperative event loop in: a mode handler or channel operation
// must never yield control to another handler mid-mutation.
type EventBus struct {
	mu       sync.RWMutex
	handlers map[string][]EventHandler
}

// NewEventBus returns an empty, ready-to-use bus.
func NewEventBus() *EventBus {
	return &EventBus{handlers: make(map[string][]EventHandler)}
}

// On registers handler for the named event. Handlers run in the order they
// were registered.
func (b *EventBus) On(name string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[name] = append(b.handlers[name], handler)
}

// Fire runs every handler registered for name in order, stopping at the
// first one that vetoes. It reports whether any handler stopped the event.
func (b *EventBus) Fire(name string, payload EventPayload) (stopped bool) {
	b.mu.RLock()
	// Copy the slice header under the lock so a handler registering a new
	// listener mid-fire can't race the iteration below.
	hs := append([]EventHandler(nil), b.handlers[name]...)
	b.mu.RUnlock()

	for _, h := range hs {
		if h(payload) {
			return true
		}
	}
	return false
}

// Count returns the number of handlers registered for name, mostly useful
// in tests asserting a handler was (or wasn't) wired up.
func (b *EventBus) Count(name string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[name])
}

// Well-known event names fired by the core. Payload types are named after
// the event for discoverability.
const (
	EventChannelMode   = "channel_mode"
	EventCanJoin       = "can_join"
	EventJoinFailed    = "join_failed"
	EventChannelBurst  = "channel_burst"
	EventUserJoined    = "user_joined"
	EventCanDestroy    = "can_destroy"
	EventCanMessage    = "can_message"
	EventShowInNames   = "show_in_names"
	EventAccountRegister = "account_register"
	EventAccountLogin  = "account_login"
	EventAccountLogout = "account_logout"
	EventLoggedIn      = "logged_in"
	EventNewServer     = "new_server"
	EventConnectionDone = "connection_done"
	EventConnectFail   = "connect_fail"
	EventUserPart      = "user_part"
	EventUserKick      = "user_kick"
)

// ChannelModeEvent is the mutable record handed to a mode handler.
// Handlers may append to Params and mutate the Channel's
// lists directly (for list/status/key modes); returning false from the
// registered handler cancels this one mode (not the whole batch).
type ChannelModeEvent struct {
	Channel         *Channel
	Server          Server
	Source          Source
	Name            ModeName
	State           bool // true = setting, false = unsetting
	Param           string
	Params          []string
	Force           bool
	OverProtocol    bool
	HasBasicStatus  bool
	LookupUser      func(token string) (User, bool)

	// sendNoPrivs and hideNoPrivs let a handler (e.g. the ban-like
	// handler) request or suppress the ERR_CHANOPRIVSNEEDED notice
	// independent of its plain true/false return, 5.
	sendNoPrivs bool
	hideNoPrivs bool
}

// CanJoinEvent is fired before a local user is permitted to join a
// channel; any handler may veto.
type CanJoinEvent struct {
	Channel *Channel
	User    User
}

// JoinFailedEvent follows a vetoed CanJoinEvent.
type JoinFailedEvent struct {
	Channel *Channel
	User    User
}

// ChannelBurstEvent is fired instead of a join broadcast when a local user
// creates a brand new channel, so peers receive the initial state burst.
type ChannelBurstEvent struct {
	Channel *Channel
	User    User
}

// UserJoinedEvent is fired after do_join completes.
type UserJoinedEvent struct {
	Channel *Channel
	User    User
}

// CanDestroyEvent is fired when a channel's membership drops to zero; any
// handler may veto destruction (e.g. a registered-channel extension).
type CanDestroyEvent struct {
	Channel *Channel
}

// CanMessageEvent is fired for PRIVMSG/NOTICE before fan-out.
type CanMessageEvent struct {
	Channel *Channel
	Source  Source
	Command string
	Text    string
}

// UserPartEvent is fired (as an oper notice, not vetoable) after do_part
// removes a local or remote user from a channel, unless the part was
// quiet.
type UserPartEvent struct {
	Channel *Channel
	User    User
	Reason  string
}

// UserKickEvent is fired after user_get_kicked removes the kicked user,
// carrying both the kicker (Source, which may be a server) and the kickee.
type UserKickEvent struct {
	Channel *Channel
	Source  Source
	User    User
	Reason  string
}

// ShowInNamesEvent lets an extension hide a member from a NAMES reply.
type ShowInNamesEvent struct {
	Channel *Channel
	Member  User
	Querier User
}
