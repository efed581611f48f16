package ircd

import (
	"strings"
	"time"

	cmap "github.com/orcaman/concurrent-map"
)

// Pool is the process-wide registry of users, servers, and channels (spec
// §5, "shared state"). This plays the role girc's `state` struct plays for
// a single client connection (state.go: channels/users cmap.ConcurrentMap),
// generalized to a full server's view shared across every connection it
// services. All mutation is still serialized by the single-threaded event
// loop — the concurrent map buys safe iteration during fan-out, not a
// concurrency model of its own.
type Pool struct {
	users    cmap.ConcurrentMap // UID string -> User
	servers  cmap.ConcurrentMap // SID string -> Server
	channels cmap.ConcurrentMap // lowercased name -> *Channel

	Taxonomy *ModeTaxonomy
	Events   *EventBus
}

// NewPool creates an empty pool bound to a mode taxonomy and event bus.
func NewPool(taxonomy *ModeTaxonomy, bus *EventBus) *Pool {
	return &Pool{
		users:    cmap.New(),
		servers:  cmap.New(),
		channels: cmap.New(),
		Taxonomy: taxonomy,
		Events:   bus,
	}
}

func foldChannel(name string) string { return strings.ToLower(name) }

// AddUser registers u under its UID.
func (p *Pool) AddUser(u User) { p.users.Set(string(u.UID()), u) }

// RemoveUser deregisters a UID.
func (p *Pool) RemoveUser(uid UID) { p.users.Remove(string(uid)) }

// LookupUser resolves a UID to a User.
func (p *Pool) LookupUser(uid UID) (User, bool) {
	v, ok := p.users.Get(string(uid))
	if !ok {
		return nil, false
	}
	u, ok := v.(User)
	return u, ok
}

// LookupUserNick resolves a nickname (case-insensitively, RFC1459 folding
// is the caller's concern upstream) to a User by linear scan — acceptable
// here since nick lookup is not on any hot fan-out path, only on mode
// handler target resolution.
func (p *Pool) LookupUserNick(nick string) (User, bool) {
	var found User
	for item := range p.users.IterBuffered() {
		u, ok := item.Val.(User)
		if ok && strings.EqualFold(u.Nick(), nick) {
			found = u
			break
		}
	}
	return found, found != nil
}

// AddServer registers s under its SID.
func (p *Pool) AddServer(s Server) { p.servers.Set(s.SID(), s) }

// RemoveServer deregisters a SID.
func (p *Pool) RemoveServer(sid string) { p.servers.Remove(sid) }

// LookupServer resolves a SID to a Server.
func (p *Pool) LookupServer(sid string) (Server, bool) {
	v, ok := p.servers.Get(sid)
	if !ok {
		return nil, false
	}
	s, ok := v.(Server)
	return s, ok
}

// LookupServerName resolves by server name, case-insensitively.
func (p *Pool) LookupServerName(name string) (Server, bool) {
	var found Server
	for item := range p.servers.IterBuffered() {
		s, ok := item.Val.(Server)
		if ok && strings.EqualFold(s.Name(), name) {
			found = s
			break
		}
	}
	return found, found != nil
}

// GetOrCreateChannel returns the existing channel by name, or creates (and
// registers) a new one with the given creation TS, reporting whether it
// was newly created.
func (p *Pool) GetOrCreateChannel(name string, created time.Time) (ch *Channel, isNew bool) {
	key := foldChannel(name)
	if v, ok := p.channels.Get(key); ok {
		return v.(*Channel), false
	}
	c := NewChannel(name, created, p.Taxonomy, p, p.Events)
	p.channels.SetIfAbsent(key, c)
	v, _ := p.channels.Get(key)
	globalMetrics.channelsActive.Inc()
	return v.(*Channel), true
}

// LookupChannel resolves a channel by name.
func (p *Pool) LookupChannel(name string) (*Channel, bool) {
	v, ok := p.channels.Get(foldChannel(name))
	if !ok {
		return nil, false
	}
	return v.(*Channel), true
}

// RemoveChannel deregisters a channel, e.g. after DestroyMaybe succeeds.
func (p *Pool) RemoveChannel(name string) {
	p.channels.Remove(foldChannel(name))
	globalMetrics.channelsActive.Dec()
}

// Channels returns a snapshot of every tracked channel.
func (p *Pool) Channels() []*Channel {
	out := make([]*Channel, 0, p.channels.Count())
	for item := range p.channels.IterBuffered() {
		out = append(out, item.Val.(*Channel))
	}
	return out
}
