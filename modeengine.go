package ircd

import (
	"fmt"
	"time"
)

// ModeHandler implements one mode's behavior within the pipeline: given
// the mutable event record, it applies (or refuses) the change and reports
// whether the change should proceed. This is the Go rendering of the
// source's per-mode "channel_mode" event handler.
type ModeHandler func(ev *ChannelModeEvent) (ok bool)

// ModeEngine ties the taxonomy, a channel's handlers, and the event bus
// together to implement handle_modes / handle_mode_string: deciding
// which deltas are allowed and applying them to the Channel. The wire
// fan-out on top of that (do_modes / do_mode_string: rendering the
// change list and broadcasting MODE/cmode) is ChannelOps.DoModes/
// DoModeString in channelops.go, since that is where the Pool and Relay
// collaborators this engine itself has no access to already live.
// Compare to girc's CModes.parse+apply (modes.go), which only maintains a
// client's local mirror of channel modes; ModeEngine is the authoritative
// side that decides whether a change is allowed at all.
type ModeEngine struct {
	server   Server
	handlers map[ModeName]ModeHandler
	metrics  *metrics
}

// NewModeEngine builds an engine bound to a Server's taxonomy.
func NewModeEngine(server Server) *ModeEngine {
	e := &ModeEngine{server: server, handlers: make(map[ModeName]ModeHandler), metrics: globalMetrics}
	e.registerBuiltins()
	return e
}

// Handle registers (or overrides) the handler for a mode name.
func (e *ModeEngine) Handle(name ModeName, h ModeHandler) { e.handlers[name] = h }

// HandleModes runs the pipeline in an already-parsed delta
// list and returns the resulting change list. source is the initiating
// User or Server; force bypasses privilege checks (as for a burst or
// server-originated change); overProtocol selects UID vs nick parameter
// resolution for status-mode targets.
func (e *ModeEngine) HandleModes(ch *Channel, source Source, deltas []ModeDelta, force, overProtocol bool, lookup func(string) (User, bool)) []ModeChange {
	var changes []ModeChange

	hasBasicStatus := force || source.IsServer()
	if !hasBasicStatus {
		if u, ok := source.AsUser(); ok {
			hasBasicStatus = ch.UserHasBasicStatus(u.UID())
		}
	}

	for _, d := range deltas {
		e.metrics.modeOps.Inc()

		typ, known := e.server.CModeType(d.Name)
		if !known {
			continue // unknown mode: skip with log, don't abort the batch
		}

		state := d.Sign.Set()
		takes := e.server.CModeTakesParameter(d.Name, state)
		// A parameterless list mode with its own handler still reaches that
		// handler: it is the view path (e.g. a bare "MODE #a b").
		_, hasHandler := e.handlers[d.Name]
		listView := typ == ModeList && hasHandler && d.Param == ""
		if takes == ParamMandatory && d.Param == "" && !listView {
			continue
		}

		ev := &ChannelModeEvent{
			Channel:        ch,
			Server:         e.server,
			Source:         source,
			Name:           d.Name,
			State:          state,
			Param:          d.Param,
			Force:          force,
			OverProtocol:   overProtocol,
			HasBasicStatus: hasBasicStatus,
			LookupUser:     lookup,
		}

		handler, ok := e.handlers[d.Name]
		var allowed bool
		if ok {
			allowed = handler(ev)
		} else {
			allowed = e.defaultHandler(typ, ev)
		}

		e.notifyPrivileges(ev, allowed)

		if !allowed {
			continue
		}

		switch typ {
		case ModeNormal:
			if state {
				ch.SetMode(d.Name, "")
			} else {
				ch.UnsetMode(d.Name)
			}
		case ModeParam, ModeParamSet, ModeKey:
			if state {
				ch.SetMode(d.Name, ev.Param)
			} else {
				ch.UnsetMode(d.Name)
			}
		case ModeList, ModeStatus:
			// the handler itself already mutated the list via
			// AddToList/RemoveFromList.
		}

		changes = append(changes, ModeChange{Name: d.Name, Set: state, Param: ev.Param})
		if state {
			ch.record(d.Name) // ensure a record exists for every mode just set
		}
	}

	return changes
}

// notifyPrivileges emits ERR_CHANOPRIVSNEEDED
// for a local user source iff send_no_privs was requested by the handler,
// or the handler refused and the source both lacks basic status and did
// not ask to hide the notice. A handler requests or suppresses the notice
// by setting the event's unexported sendNoPrivs/hideNoPrivs fields, in
// addition to its boolean return.
func (e *ModeEngine) notifyPrivileges(ev *ChannelModeEvent, allowed bool) {
	u, ok := ev.Source.AsUser()
	if !ok || !u.IsLocal() {
		return
	}
	sendNoPrivs := ev.sendNoPrivs
	hideNoPrivs := ev.hideNoPrivs
	if sendNoPrivs || (!allowed && !ev.HasBasicStatus && !hideNoPrivs) {
		u.Numeric("ERR_CHANOPRIVSNEEDED", ev.Channel.Name())
	}
}

// defaultHandler implements the built-in pipeline for modes that have no
// custom handler registered: privilege-gated set/unset for ordinary
// parametric modes.
func (e *ModeEngine) defaultHandler(typ ModeType, ev *ChannelModeEvent) bool {
	if ev.Force || ev.Source.IsServer() {
		return true
	}
	if !ev.HasBasicStatus {
		return false
	}
	return true
}

// registerBuiltins wires the shared status-mode and ban-like handlers for
// the conventional mode names. Callers with a different taxonomy can
// override any of these via Handle.
func (e *ModeEngine) registerBuiltins() {
	for _, p := range e.server.Prefixes() {
		name := p.Name
		level := p.Level
		e.Handle(name, e.statusHandler(level))
	}
	e.Handle("ban", e.banLikeHandler("ban", "RPL_BANLIST", "RPL_ENDOFBANLIST"))
	e.Handle("except", e.banLikeHandler("except", "RPL_EXCEPTLIST", "RPL_ENDOFEXCEPTLIST"))
}

// statusHandler is the shared status-mode handler:
// resolve the target, enforce the privilege rule, and mutate the list.
func (e *ModeEngine) statusHandler(level int) ModeHandler {
	return func(ev *ChannelModeEvent) bool {
		// The caller (HandleModeString/HandleModes via channelops.go)
		// supplies a LookupUser that already resolves by UID when
		// OverProtocol is set, or by nick otherwise.
		target, ok := ev.LookupUser(ev.Param)

		localSrc, isLocalUser := ev.Source.AsUser()
		notForced := !ev.Force && isLocalUser && localSrc.IsLocal()

		if !ok {
			if notForced {
				localSrc.Numeric("ERR_NOSUCHNICK", ev.Param)
			}
			return false
		}
		if !ev.Channel.HasUser(target.UID()) {
			if notForced {
				localSrc.Numeric("ERR_USERNOTINCHANNEL", ev.Param, ev.Channel.Name())
			}
			return false
		}

		if notForced {
			srcLevel := ev.Channel.UserGetHighestLevel(localSrc.UID())
			if !ev.Channel.UserHasBasicStatus(localSrc.UID()) {
				return false
			}
			if !(ev.State || srcLevel >= ev.Channel.UserGetHighestLevel(target.UID())) {
				return false
			}
			if srcLevel < level {
				return false
			}
		}

		ev.Param = string(target.UID())
		setBy := ev.Source.SourceName()
		if ev.State {
			ev.Channel.AddToList(ev.Name, string(target.UID()), setBy, time.Now())
		} else {
			ev.Channel.RemoveFromList(ev.Name, string(target.UID()))
		}
		return true
	}
}

// banLikeHandler is the shared ban/except handler:
// a view path when invoked with no parameter by a user, otherwise a
// privilege-gated add/remove.
func (e *ModeEngine) banLikeHandler(listNumeric, rplList, rplEnd string) ModeHandler {
	return func(ev *ChannelModeEvent) bool {
		if ev.Param == "" {
			if u, ok := ev.Source.AsUser(); ok {
				for _, entry := range ev.Channel.ListElements(ev.Name, true) {
					u.Numeric(rplList, ev.Channel.Name(), entry.Value, entry.SetBy, fmt.Sprintf("%d", entry.Time.Unix()))
				}
				u.Numeric(rplEnd, ev.Channel.Name())
			}
			return false // view path never produces a change-list entry
		}

		if !ev.Force && !ev.Channel.UserHasBasicStatusOfSource(ev.Source) {
			ev.sendNoPrivs = true
			return false
		}

		setBy := ev.Source.SourceName()
		if ev.State {
			return ev.Channel.AddToList(ev.Name, ev.Param, setBy, time.Now())
		}
		return ev.Channel.RemoveFromList(ev.Name, ev.Param)
	}
}

// UserHasBasicStatusOfSource is a convenience used by the ban-like handler
// so it only needs a Source, not a raw UID.
func (c *Channel) UserHasBasicStatusOfSource(src Source) bool {
	u, ok := src.AsUser()
	if !ok {
		return true // server sources are always privileged by this check
	}
	return c.UserHasBasicStatus(u.UID())
}

// HandleModeString is the convenience wrapper from: parse modes
// from a wire string via the Server collaborator, then HandleModes.
func (e *ModeEngine) HandleModeString(ch *Channel, source Source, flags string, params []string, force, overProtocol bool, lookup func(string) (User, bool)) []ModeChange {
	deltas := parseDeltas(e.server, flags, params)
	return e.HandleModes(ch, source, deltas, force, overProtocol, lookup)
}

// parseDeltas turns "+nt-l" plus positional params into a ModeDelta list,
// looking up each letter's type/param requirement via the Server, the
// generalized analogue of girc's CModes.parse (modes.go) which only knew
// about the four RFC mode classes.
func parseDeltas(srv Server, flags string, params []string) []ModeDelta {
	var out []ModeDelta
	set := true
	argIdx := 0
	for i := 0; i < len(flags); i++ {
		switch flags[i] {
		case '+':
			set = true
			continue
		case '-':
			set = false
			continue
		}
		name, ok := srv.NameForLetter(flags[i])
		if !ok {
			continue
		}
		d := ModeDelta{Name: name}
		if set {
			d.Sign = SignSet
		} else {
			d.Sign = SignUnset
		}
		takes := srv.CModeTakesParameter(name, set)
		if takes != ParamNone && argIdx < len(params) {
			d.Param = params[argIdx]
			argIdx++
		}
		out = append(out, d)
	}
	return out
}

