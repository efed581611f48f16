package ircd

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Relay is the external collaborator that forwards a rendered line to a
// peer server's connection. The core has no notion of a live socket of its own — it
// only knows which Server a remote user belongs to — so delivery is
// handed off here, the same separation girc draws between Client (state)
// and Conn (the actual net.Conn reader/writer in conn.go).
type Relay interface {
	Forward(srv Server, line string)
}

// ChannelOps bundles the collaborators channel operations need: the pool
// for membership/user resolution, the event bus for can_* vetoes and
// oper notices, the mode engine for automodes and TS resets, and a Relay
// for s2s fan-out.
type ChannelOps struct {
	Pool   *Pool
	Events *EventBus
	Engine *ModeEngine
	Relay  Relay
}

// NewChannelOps constructs a ChannelOps bound to the given collaborators.
func NewChannelOps(pool *Pool, events *EventBus, engine *ModeEngine, relay Relay) *ChannelOps {
	return &ChannelOps{Pool: pool, Events: events, Engine: engine, Relay: relay}
}

// capExtendedJoin/capAwayNotify/capSeeInvisible name the IRCv3 capability
// (or, for see_invisible, the oper-only user mode) tokens this package
// consults directly; everything else is opaque to the core.
const (
	capExtendedJoin  = "extended-join"
	capAwayNotify    = "away-notify"
	capSeeInvisible  = "see_invisible"
	capInvisible     = "invisible"
	capDeaf          = "deaf"
)

// doJoin adds the user (unless already
// present and allowAlready is false), broadcasts JOIN in the appropriate
// variant per observer capability, announces an away message to
// away-notify-capable observers, and for local users dispatch TOPIC and
// NAMES. Always fires user_joined on success.
func (co *ChannelOps) doJoin(ch *Channel, u User, allowAlready bool) {
	already := ch.HasUser(u.UID())
	if already && !allowAlready {
		return
	}
	if !already {
		ch.Add(u.UID())
		globalMetrics.joins.Inc()
	}

	src := UserSource(u)
	extended := fmt.Sprintf("JOIN %s %s :%s", ch.Name(), acctTokenOrStar(u), u.RealName())
	plain := fmt.Sprintf("JOIN %s", ch.Name())

	for _, member := range co.localMembers(ch) {
		if member.HasCap(capExtendedJoin) {
			member.SendFrom(src, extended)
		} else {
			member.SendFrom(src, plain)
		}
	}
	co.forwardRemote(ch, src, plain)

	if away := u.AwayMessage(); away != "" {
		awayLine := fmt.Sprintf("AWAY :%s", away)
		for _, member := range co.localMembers(ch) {
			if member.UID() == u.UID() {
				continue
			}
			if member.HasCap(capAwayNotify) {
				member.SendFrom(src, awayLine)
			}
		}
	}

	if u.IsLocal() {
		co.sendTopic(ch, u)
		co.names(ch, u, false)
	}

	co.Events.Fire(EventUserJoined, UserJoinedEvent{Channel: ch, User: u})
}

func acctTokenOrStar(u User) string {
	if acct := u.Account(); acct != nil {
		return acct.Name
	}
	return "*"
}

// attemptLocalJoin vets a local join via
// can_join, pre-adds and applies automodes plus a channel_burst when the
// channel is brand new, otherwise a plain broadcast join, then delegates
// to doJoin with allowAlready = new.
func (co *ChannelOps) attemptLocalJoin(ch *Channel, u User, isNew bool, automodes string, lookup func(string) (User, bool)) {
	if co.Events.Fire(EventCanJoin, CanJoinEvent{Channel: ch, User: u}) {
		co.Events.Fire(EventJoinFailed, JoinFailedEvent{Channel: ch, User: u})
		return
	}

	if isNew {
		ch.Add(u.UID())
		if fields := strings.Fields(automodes); len(fields) > 0 {
			params := fields[1:]
			for i, p := range params {
				if p == "+user" {
					params[i] = string(u.UID())
				}
			}
			co.Engine.HandleModeString(ch, UserSource(u), fields[0], params, true, false, lookup)
		}
		co.Events.Fire(EventChannelBurst, ChannelBurstEvent{Channel: ch, User: u})
	}

	co.doJoin(ch, u, isNew)
}

// doPart broadcasts PART, removes the user,
// and fires the user_part oper notice unless quiet.
func (co *ChannelOps) doPart(ch *Channel, u User, reason string, quiet bool) {
	src := UserSource(u)
	line := "PART " + ch.Name()
	if reason != "" {
		line += " :" + reason
	}
	co.broadcastIncludingSource(ch, src, line)

	empty := ch.Remove(u.UID())
	globalMetrics.parts.Inc()
	if !quiet {
		co.Events.Fire(EventUserPart, UserPartEvent{Channel: ch, User: u, Reason: reason})
	}
	if empty {
		ch.DestroyMaybe()
	}
}

// userGetKicked defaults the reason
// to the kicker's name, broadcasts KICK, removes the kicked user, and fires
// the user_kick oper notice whenever the kicker is a user.
func (co *ChannelOps) userGetKicked(ch *Channel, u User, source Source, reason string) {
	if reason == "" {
		reason = source.SourceName()
	}
	line := fmt.Sprintf("KICK %s %s :%s", ch.Name(), u.Nick(), reason)
	co.broadcastIncludingSource(ch, source, line)

	empty := ch.Remove(u.UID())
	globalMetrics.parts.Inc()
	if _, ok := source.AsUser(); ok {
		co.Events.Fire(EventUserKick, UserKickEvent{Channel: ch, Source: source, User: u, Reason: reason})
	}
	if empty {
		ch.DestroyMaybe()
	}
}

// names iterates membership, filters by
// show_in_names/invisibility, buckets prefix+nick tokens at 500 characters
// (the same accumulate-then-flush strategy girc's splitPRIVMSG uses for
// message bodies in split.go, applied here to a NAMES token list instead
// of a message body), and emit RPL_NAMREPLY per bucket.
func (co *ChannelOps) names(ch *Channel, querier User, noEndof bool) {
	const maxLen = 500
	const bucketChar = "="

	var tokens []string
	for _, uid := range ch.Members() {
		member, ok := co.Pool.LookupUser(uid)
		if !ok {
			continue
		}
		if co.Events.Fire(EventShowInNames, ShowInNamesEvent{Channel: ch, Member: member, Querier: querier}) {
			continue
		}
		if member.IsMode(capInvisible) && member != querier {
			shares := ch.HasUser(querier.UID())
			seeInvisible := querier.IsMode(capSeeInvisible)
			if !shares && !seeInvisible {
				continue
			}
		}

		prefix := ""
		if levels := ch.UserGetLevels(uid); len(levels) > 0 {
			prefix = string(levels[0].Symbol)
		}
		tokens = append(tokens, prefix+member.Nick())
	}

	var bucket strings.Builder
	flush := func() {
		if bucket.Len() == 0 {
			return
		}
		querier.Numeric("RPL_NAMREPLY", bucketChar, ch.Name(), bucket.String())
		bucket.Reset()
	}
	for _, tok := range tokens {
		if bucket.Len() > 0 && bucket.Len()+1+len(tok) > maxLen {
			flush()
		}
		if bucket.Len() > 0 {
			bucket.WriteByte(' ')
		}
		bucket.WriteString(tok)
	}
	flush()

	if !noEndof {
		querier.Numeric("RPL_ENDOFNAMES", ch.Name())
	}
}

// handlePrivmsgNotice vets the message via
// can_message plus the command-specific can_* event, fan out to local
// members (skipping the source and deaf members), forward once per
// distinct remote location skipping the direction the message arrived
// from, then fire the terminal PRIVMSG/NOTICE event.
func (co *ChannelOps) handlePrivmsgNotice(ch *Channel, source Source, command, text string) {
	commandSpecific := "can_" + strings.ToLower(command)
	payload := CanMessageEvent{Channel: ch, Source: source, Command: command, Text: text}
	if co.Events.Fire(EventCanMessage, payload) || co.Events.Fire(commandSpecific, payload) {
		return
	}

	line := fmt.Sprintf("%s %s :%s", command, ch.Name(), text)

	selfUID := UID("")
	if u, ok := source.AsUser(); ok {
		selfUID = u.UID()
	}
	for _, member := range co.localMembers(ch) {
		if member.UID() == selfUID {
			continue
		}
		if member.IsMode(capDeaf) {
			continue
		}
		member.SendFrom(source, line)
	}

	co.forwardRemote(ch, source, line)

	co.Events.Fire(command, payload)
}

// takeLowerTime adopts an incoming
// burst's earlier channel TS, clearing the topic and (unless
// ignoreModes) every non-status mode, and announcing the reset.
func (co *ChannelOps) takeLowerTime(ch *Channel, t time.Time, ignoreModes bool, lookup func(string) (User, bool)) time.Time {
	current := ch.Time()
	if !t.Before(current) {
		return current
	}
	ch.SetTime(t)

	if ch.HasTopic() {
		co.broadcastIncludingSource(ch, nilSource{}, "TOPIC "+ch.Name()+" :")
		ch.SetTopic("", "", time.Time{})
	}

	if !ignoreModes {
		userView, _ := co.modeStringAll(ch, true)
		inverted := invertLeadingSign(userView)
		co.broadcastIncludingSource(ch, nilSource{}, "MODE "+ch.Name()+" "+inverted)
		co.Engine.HandleModeString(ch, nilSource{}, inverted, nil, true, false, lookup)
	}

	notice := fmt.Sprintf("New channel time: %s", t.UTC().Format(time.RFC1123))
	for _, member := range co.localMembers(ch) {
		member.ServerNotice("tsreset", notice)
	}

	return t
}

// invertLeadingSign flips a rendered mode string's sign so "+nt" becomes
// "-nt"; take_lower_time uses this to unset everything it just cleared.
func invertLeadingSign(modeStr string) string {
	if modeStr == "" {
		return modeStr
	}
	b := []byte(modeStr)
	switch b[0] {
	case '+':
		b[0] = '-'
	case '-':
		b[0] = '+'
	}
	return string(b)
}

// nilServer/nilSource stand in for "the local server itself" when
// take_lower_time needs a Source but no particular peer initiated the
// reconciliation.
type nilServer struct{}

func (nilServer) Name() string                                            { return "*" }
func (nilServer) SID() string                                             { return "*" }
func (nilServer) CModeType(ModeName) (ModeType, bool)                     { return 0, false }
func (nilServer) CModeLetter(ModeName) (byte, bool)                       { return 0, false }
func (nilServer) CModeTakesParameter(ModeName, bool) ParamRequirement     { return ParamNone }
func (nilServer) NameForLetter(byte) (ModeName, bool)                     { return "", false }
func (nilServer) Prefixes() []PrefixLevel                                 { return nil }
func (nilServer) CModesFromString(string, []string, bool) []ModeDelta     { return nil }
func (nilServer) StringsFromCModes([]ModeChange, bool, func(string) (User, bool)) (string, string) {
	return "", ""
}

type nilSource struct{}

func (nilSource) SourceName() string      { return "*" }
func (nilSource) IsServer() bool          { return true }
func (nilSource) AsUser() (User, bool)    { return nil, false }
func (nilSource) AsServer() (Server, bool) { return nilServer{}, true }

func (co *ChannelOps) sendTopic(ch *Channel, u User) {
	text, setBy, setAt := ch.Topic()
	if text == "" {
		u.Numeric("RPL_NOTOPIC", ch.Name())
		return
	}
	u.Numeric("RPL_TOPIC", ch.Name(), text)
	u.Numeric("RPL_TOPICWHOTIME", ch.Name(), setBy, fmt.Sprintf("%d", setAt.Unix()))
}

// localMembers returns the channel's local members, resolved via the pool.
func (co *ChannelOps) localMembers(ch *Channel) []User {
	var out []User
	for _, uid := range ch.Members() {
		u, ok := co.Pool.LookupUser(uid)
		if ok && u.IsLocal() {
			out = append(out, u)
		}
	}
	return out
}

// broadcastIncludingSource sends line (prefixed with source) to every
// local member, including the source itself if it is a member.
func (co *ChannelOps) broadcastIncludingSource(ch *Channel, source Source, line string) {
	for _, member := range co.localMembers(ch) {
		member.SendFrom(source, line)
	}
	co.forwardRemote(ch, source, line)
}

// forwardRemote delivers line once per distinct remote location (server),
// skipping any location reachable back through the source (i.e. the
// server the message itself arrived from, which already has it).
func (co *ChannelOps) forwardRemote(ch *Channel, source Source, line string) {
	if co.Relay == nil {
		return
	}
	var fromSID string
	if srv, ok := source.AsServer(); ok {
		fromSID = srv.SID()
	} else if u, ok := source.AsUser(); ok && !u.IsLocal() {
		if from, ok := co.Pool.LookupServerName(u.ServerName()); ok {
			fromSID = from.SID()
		}
	}

	seen := make(map[string]bool)
	for _, uid := range ch.Members() {
		u, ok := co.Pool.LookupUser(uid)
		if !ok || u.IsLocal() {
			continue
		}
		srv, ok := co.Pool.LookupServerName(u.ServerName())
		if !ok || seen[srv.SID()] || srv.SID() == fromSID {
			continue
		}
		seen[srv.SID()] = true
		co.Relay.Forward(srv, line)
	}
}

// DoModes wraps HandleModes with wire fan-out: render the user- and
// server-facing strings via StringsFromCModes, send the local MODE line
// to every member, and (unless localOnly) relay a cmode line to peers.
// Returns the applied change list, as HandleModes does.
func (co *ChannelOps) DoModes(ch *Channel, source Source, deltas []ModeDelta, force, overProtocol, localOnly bool, lookup func(string) (User, bool)) []ModeChange {
	changes := co.Engine.HandleModes(ch, source, deltas, force, overProtocol, lookup)
	co.fanOutModes(ch, source, changes, localOnly)
	return changes
}

// DoModeString is the wire-string counterpart of DoModes: parse flags
// plus params via the Server collaborator, then DoModes.
func (co *ChannelOps) DoModeString(ch *Channel, source Source, flags string, params []string, force, overProtocol, localOnly bool, lookup func(string) (User, bool)) []ModeChange {
	changes := co.Engine.HandleModeString(ch, source, flags, params, force, overProtocol, lookup)
	co.fanOutModes(ch, source, changes, localOnly)
	return changes
}

// fanOutModes renders changes into the user/server views, sends "MODE
// <channel> <userView>" to local members, and unless localOnly relays
// "cmode SOURCE CHANNEL TS PERSPECTIVE SERVER_MODESTR" to peer servers.
func (co *ChannelOps) fanOutModes(ch *Channel, source Source, changes []ModeChange, localOnly bool) {
	if len(changes) == 0 {
		return
	}

	lookupByUID := func(s string) (User, bool) { return co.Pool.LookupUser(UID(s)) }
	userView, serverView := co.Engine.server.StringsFromCModes(changes, true, lookupByUID)
	if userView == "" {
		return
	}

	line := "MODE " + ch.Name() + " " + userView
	for _, member := range co.localMembers(ch) {
		member.SendFrom(source, line)
	}

	if localOnly || serverView == "" {
		return
	}

	sourceToken := source.SourceName()
	if u, ok := source.AsUser(); ok {
		sourceToken = string(u.UID())
	} else if srv, ok := source.AsServer(); ok {
		sourceToken = srv.SID()
	}

	cmodeLine := fmt.Sprintf("cmode %s %s %d %s %s", sourceToken, ch.Name(), ch.Time().Unix(), co.Engine.server.SID(), serverView)
	co.forwardRemote(ch, source, cmodeLine)
}

// modeString renders "+" plus the letters of
// every currently-set type 0/1/2 mode (and 5 when showing), followed by
// their parameters in order.
func (co *ChannelOps) modeString(ch *Channel, showKey bool) string {
	names := ch.ModeNames()
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })

	var letters strings.Builder
	var params []string
	letters.WriteByte('+')
	for _, name := range names {
		typ, ok := co.Engine.server.CModeType(name)
		if !ok {
			continue
		}
		switch typ {
		case ModeNormal, ModeParam, ModeParamSet:
			letter, ok := co.Engine.server.CModeLetter(name)
			if !ok {
				continue
			}
			letters.WriteByte(letter)
			if p := ch.ModeParameter(name); p != "" {
				params = append(params, p)
			}
		case ModeKey:
			if !showKey {
				continue
			}
			letter, ok := co.Engine.server.CModeLetter(name)
			if !ok {
				continue
			}
			letters.WriteByte(letter)
			if p := ch.ModeParameter(name); p != "" {
				params = append(params, p)
			}
		}
	}
	out := letters.String()
	if len(params) > 0 {
		out += " " + strings.Join(params, " ")
	}
	return out
}

// modeStringAll renders a (user-view,
// server-view) pair covering types 0/1/2/5 as in modeString plus one
// letter per list element (type 3, value in both views) and one letter
// per listed user (type 4, nick in the user view / UID in the server
// view). noStatus omits type 4 entirely.
func (co *ChannelOps) modeStringAll(ch *Channel, noStatus bool) (userView, serverView string) {
	names := ch.ModeNames()
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })

	var uLetters, sLetters strings.Builder
	var uParams, sParams []string
	uLetters.WriteByte('+')
	sLetters.WriteByte('+')

	for _, name := range names {
		typ, ok := co.Engine.server.CModeType(name)
		if !ok {
			continue
		}
		letter, ok := co.Engine.server.CModeLetter(name)
		if !ok {
			continue
		}
		switch typ {
		case ModeNormal, ModeParam, ModeParamSet, ModeKey:
			uLetters.WriteByte(letter)
			sLetters.WriteByte(letter)
			if p := ch.ModeParameter(name); p != "" {
				uParams = append(uParams, p)
				sParams = append(sParams, p)
			}
		case ModeList:
			for _, e := range ch.ListElements(name, true) {
				uLetters.WriteByte(letter)
				sLetters.WriteByte(letter)
				uParams = append(uParams, e.Value)
				sParams = append(sParams, e.Value)
			}
		case ModeStatus:
			if noStatus {
				continue
			}
			for _, e := range ch.ListElements(name, true) {
				uLetters.WriteByte(letter)
				sLetters.WriteByte(letter)
				uid := UID(e.Value)
				nick := e.Value
				if u, ok := co.Pool.LookupUser(uid); ok {
					nick = u.Nick()
				}
				uParams = append(uParams, nick)
				sParams = append(sParams, e.Value)
			}
		}
	}

	userView = uLetters.String()
	serverView = sLetters.String()
	if len(uParams) > 0 {
		userView += " " + strings.Join(uParams, " ")
	}
	if len(sParams) > 0 {
		serverView += " " + strings.Join(sParams, " ")
	}
	return userView, serverView
}

// modeStringStatus renders the same
// shape as modeStringAll but restricted to type 4 (status) modes only.
func (co *ChannelOps) modeStringStatus(ch *Channel) (userView, serverView string) {
	names := ch.ModeNames()
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })

	var uLetters, sLetters strings.Builder
	var uParams, sParams []string
	uLetters.WriteByte('+')
	sLetters.WriteByte('+')

	for _, name := range names {
		typ, ok := co.Engine.server.CModeType(name)
		if !ok || typ != ModeStatus {
			continue
		}
		letter, ok := co.Engine.server.CModeLetter(name)
		if !ok {
			continue
		}
		for _, e := range ch.ListElements(name, true) {
			uLetters.WriteByte(letter)
			sLetters.WriteByte(letter)
			uid := UID(e.Value)
			nick := e.Value
			if u, ok := co.Pool.LookupUser(uid); ok {
				nick = u.Nick()
			}
			uParams = append(uParams, nick)
			sParams = append(sParams, e.Value)
		}
	}

	userView = uLetters.String()
	serverView = sLetters.String()
	if len(uParams) > 0 {
		userView += " " + strings.Join(uParams, " ")
	}
	if len(sParams) > 0 {
		serverView += " " + strings.Join(sParams, " ")
	}
	return userView, serverView
}
