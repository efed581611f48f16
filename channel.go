package ircd

import (
	"sort"
	"sync"
	"time"
)

// listEntry is one element of a list-type or status-type mode's list, per
// the data model's "listed" mode-record shape: { value, metadata { setby,
// time } }. For status modes, Value is a UID.
type listEntry struct {
	Value string
	SetBy string
	Time  time.Time
}

// modeRecord is the channel-local state for a single mode name. Only the
// fields relevant to the mode's ModeType are meaningful: Param for
// parametric/key modes, List for list/status modes. Time records when the
// mode was last (re)asserted, used by the mode-string serializer for
// nothing but kept for parity with the data model's per-mode time (some
// s2s dialects TS-stamp individual list entries via it).
type modeRecord struct {
	time  time.Time
	param string
	list  []listEntry
}

// Channel is the in-memory representation of one channel: membership,
// modes, lists, and the creation-time TS used for burst reconciliation.
// This replaces girc's tracked Channel in state.go, which only mirrors a
// remote channel as seen by a client (Name/Topic/UserList/Modes) — our
// Channel is authoritative: it is the entity mode handlers and channel
// operations mutate directly, guarded by its own lock rather than a
// shared top-level state.RWMutex, since the Pool no longer needs to freeze
// the whole world to mutate one channel.
type Channel struct {
	mu sync.RWMutex

	name string
	time time.Time

	taxonomy *ModeTaxonomy
	modes    map[ModeName]*modeRecord

	members []UID
	memberIdx map[UID]int

	topicText  string
	topicSetBy string
	topicSetAt time.Time

	pool *Pool
	bus  *EventBus
}

// NewChannel constructs an empty channel with the given creation TS.
func NewChannel(name string, created time.Time, taxonomy *ModeTaxonomy, pool *Pool, bus *EventBus) *Channel {
	return &Channel{
		name:      name,
		time:      created,
		taxonomy:  taxonomy,
		modes:     make(map[ModeName]*modeRecord),
		memberIdx: make(map[UID]int),
		pool:      pool,
		bus:       bus,
	}
}

func (c *Channel) Name() string   { return c.name }
func (c *Channel) Time() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.time
}

// SetTime sets the channel TS directly. Per the data model invariant, time
// never decreases except through explicit TS reconciliation (take_lower_time
// in channelops.go) — callers outside that path must not call this to move
// time backwards.
func (c *Channel) SetTime(t time.Time) {
	c.mu.Lock()
	c.time = t
	c.mu.Unlock()
}

// record returns (creating if necessary) the modeRecord for name.
func (c *Channel) record(name ModeName) *modeRecord {
	r, ok := c.modes[name]
	if !ok {
		r = &modeRecord{}
		c.modes[name] = r
	}
	return r
}

// IsMode reports whether a normal/parametric mode is currently set. For
// list/status modes it reports whether the list is non-empty.
func (c *Channel) IsMode(name ModeName) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.modes[name]
	if !ok {
		return false
	}
	if typ, known := c.taxonomy.Type(name); known && (typ == ModeList || typ == ModeStatus) {
		return len(r.list) > 0
	}
	return true
}

// ModeParameter returns the stored parameter for a parametric/key mode, or
// "" if unset.
func (c *Channel) ModeParameter(name ModeName) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.modes[name]
	if !ok {
		return ""
	}
	return r.param
}

// SetMode marks name as set, with an optional parameter (types 0/1/2/5 use
// this; types 3/4 are mutated through AddToList/RemoveFromList instead).
func (c *Channel) SetMode(name ModeName, param string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r := c.record(name)
	r.time = time.Now()
	r.param = param
}

// UnsetMode clears name entirely (for types 0/1/2/5).
func (c *Channel) UnsetMode(name ModeName) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.modes, name)
}

// ListHas reports whether value is present verbatim in a list/status mode's
// list.
func (c *Channel) ListHas(name ModeName, value string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.modes[name]
	if !ok {
		return false
	}
	for _, e := range r.list {
		if e.Value == value {
			return true
		}
	}
	return false
}

// ListMatches pattern-matches subject (e.g. a user's n!u@h mask, or a
// user for the account matcher) against every entry's Value using match,
// the externally supplied wildcard/account matcher.
func (c *Channel) ListMatches(name ModeName, subject User, match func(subject User, token string) bool) bool {
	c.mu.RLock()
	entries := append([]listEntry(nil), c.modesListOrEmpty(name)...)
	c.mu.RUnlock()
	for _, e := range entries {
		if match(subject, e.Value) {
			return true
		}
	}
	return false
}

func (c *Channel) modesListOrEmpty(name ModeName) []listEntry {
	r, ok := c.modes[name]
	if !ok {
		return nil
	}
	return r.list
}

// ListElements returns a copy of name's list. If all is false and name is
// a status mode, only members still present on the channel are returned —
// the invariant (every status-list value is a current member) should make
// that filter a no-op, but callers that serialize untrusted intermediate
// state may still pass all=false defensively.
func (c *Channel) ListElements(name ModeName, all bool) []listEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.modes[name]
	if !ok {
		return nil
	}
	out := make([]listEntry, 0, len(r.list))
	for _, e := range r.list {
		if !all {
			if _, member := c.memberIdx[UID(e.Value)]; !member {
				if typ, known := c.taxonomy.Type(name); known && typ == ModeStatus {
					continue
				}
			}
		}
		out = append(out, e)
	}
	return out
}

// AddToList appends value to name's list with the given metadata, refusing
// duplicates (data model invariant: no duplicates within a list).
func (c *Channel) AddToList(name ModeName, value, setBy string, at time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	r := c.record(name)
	for _, e := range r.list {
		if e.Value == value {
			return false
		}
	}
	r.list = append(r.list, listEntry{Value: value, SetBy: setBy, Time: at})
	return true
}

// RemoveFromList removes the first entry matching value exactly.
func (c *Channel) RemoveFromList(name ModeName, value string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.modes[name]
	if !ok {
		return false
	}
	for i, e := range r.list {
		if e.Value == value {
			r.list = append(r.list[:i], r.list[i+1:]...)
			return true
		}
	}
	return false
}

// Add adds a user to the channel's membership, idempotently.
func (c *Channel) Add(uid UID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.memberIdx[uid]; ok {
		return
	}
	c.memberIdx[uid] = len(c.members)
	c.members = append(c.members, uid)
}

// Remove detaches a user from the channel, purging it from every status
// mode's list first (data model invariant: removing a user must purge it
// from every status list before detaching). It reports whether the
// channel is now empty.
func (c *Channel) Remove(uid UID) (empty bool) {
	c.mu.Lock()
	for name, r := range c.modes {
		typ, known := c.taxonomy.Type(name)
		if !known || typ != ModeStatus {
			continue
		}
		for i, e := range r.list {
			if e.Value == string(uid) {
				r.list = append(r.list[:i], r.list[i+1:]...)
				break
			}
		}
	}

	idx, ok := c.memberIdx[uid]
	if ok {
		c.members = append(c.members[:idx], c.members[idx+1:]...)
		delete(c.memberIdx, uid)
		for i := idx; i < len(c.members); i++ {
			c.memberIdx[c.members[i]] = i
		}
	}
	empty = len(c.members) == 0
	c.mu.Unlock()
	return empty
}

// HasUser reports current membership.
func (c *Channel) HasUser(uid UID) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.memberIdx[uid]
	return ok
}

// Members returns a snapshot of the member UID list in join order.
func (c *Channel) Members() []UID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]UID(nil), c.members...)
}

// Len returns the number of members.
func (c *Channel) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.members)
}

// UserIs reports whether uid holds exactly the named status (present in
// that status mode's list).
func (c *Channel) UserIs(uid UID, status ModeName) bool {
	return c.ListHas(status, string(uid))
}

// UserGetLevels returns every PrefixLevel uid currently holds, highest
// first.
func (c *Channel) UserGetLevels(uid UID) []PrefixLevel {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var levels []PrefixLevel
	for _, p := range c.taxonomy.Prefixes {
		r, ok := c.modes[p.Name]
		if !ok {
			continue
		}
		for _, e := range r.list {
			if e.Value == string(uid) {
				levels = append(levels, p)
				break
			}
		}
	}
	sort.Slice(levels, func(i, j int) bool { return levels[i].Level > levels[j].Level })
	return levels
}

// UserGetHighestLevel returns uid's highest PrefixLevel.Level, or
// LowestLevel (0) if uid is not a member or is a member holding no status.
// 0 compares below every real PrefixLevel.Level (all are >= 1); the result
// alone does not tell a non-member from a member without status.
func (c *Channel) UserGetHighestLevel(uid UID) int {
	if !c.HasUser(uid) {
		return LowestLevel
	}
	levels := c.UserGetLevels(uid)
	if len(levels) == 0 {
		return LowestLevel
	}
	return levels[0].Level
}

// UserHasBasicStatus reports whether uid's highest level is at least
// BasicStatusLevel (halfop-or-greater).
func (c *Channel) UserHasBasicStatus(uid UID) bool {
	return c.UserGetHighestLevel(uid) >= BasicStatusLevel
}

// Topic returns the current topic text, setter, and set time.
func (c *Channel) Topic() (text, setBy string, setAt time.Time) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.topicText, c.topicSetBy, c.topicSetAt
}

// SetTopic updates the topic. Clearing happens by passing an empty text.
func (c *Channel) SetTopic(text, setBy string, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.topicText = text
	c.topicSetBy = setBy
	c.topicSetAt = at
}

// HasTopic reports whether a topic is currently set.
func (c *Channel) HasTopic() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.topicText != ""
}

// DestroyMaybe fires can_destroy and, unless a handler vetoes, removes the
// channel from the pool. Call only after Remove() reports the channel is
// now empty.
func (c *Channel) DestroyMaybe() {
	if c.Len() != 0 {
		return
	}
	if c.bus.Fire(EventCanDestroy, CanDestroyEvent{Channel: c}) {
		return
	}
	c.pool.RemoveChannel(c.name)
}

// ModeNames returns every mode name currently carrying state, for
// serialization.
func (c *Channel) ModeNames() []ModeName {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]ModeName, 0, len(c.modes))
	for name := range c.modes {
		out = append(out, name)
	}
	return out
}
