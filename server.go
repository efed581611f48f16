package ircd

import (
	"sort"
	"strings"
)

// Server is the external contract for a peer (or the local) server,
// carrying the mode tables the Mode Engine consults. This takes the place
// of girc's notion of IRCd info (client.go's Server{} struct, which only
// tracks network/version banner strings for a client's upstream) — here
// the Server is authoritative over mode typing instead of just reporting
// banner text.
type Server interface {
	Name() string
	SID() string

	CModeType(name ModeName) (ModeType, bool)
	CModeLetter(name ModeName) (byte, bool)
	CModeTakesParameter(name ModeName, state bool) ParamRequirement
	NameForLetter(letter byte) (ModeName, bool)
	Prefixes() []PrefixLevel

	// CModesFromString parses a mode string (flags plus positional
	// parameters) into a ModeDelta list ready for the Mode Engine.
	// overProtocol is true when parameters are UIDs (s2s) rather than
	// nicks (client).
	CModesFromString(flags string, params []string, overProtocol bool) []ModeDelta

	// StringsFromCModes renders a change list back into wire form, the
	// inverse of CModesFromString. It returns both the user-facing string
	// (nicks) and the server-facing string (UIDs); organize mirrors the
	// source's strings_from_cmodes "organize" flag (alphabetize,
	// positive changes first). A type-4 (status) change carries a UID in
	// Param; lookup resolves it to a nick for the user view, leaving the
	// server view on the raw UID. lookup may be nil, in which case status
	// changes fall back to the raw UID in both views.
	StringsFromCModes(changes []ModeChange, organize bool, lookup func(string) (User, bool)) (userView, serverView string)
}

// ModeDelta is one proposed mode change: a mode name with an optional
// leading '+'/'-' sign baked into Sign and, where relevant, a parameter.
type ModeDelta struct {
	Name  ModeName
	Sign  ModeSign
	Param string
}

// ModeSign is the requested state for one ModeDelta entry. SignUnspecified
// defaults to "set", matching 1 ("each name may be prefixed
// with +/- ... the engine defaults state to set").
type ModeSign int

const (
	SignUnspecified ModeSign = iota
	SignSet
	SignUnset
)

func (s ModeSign) Set() bool { return s != SignUnset }

// ModeChange is one applied (±name, param) entry in a change list, as
// produced by handle_modes and consumed by the serializer.
type ModeChange struct {
	Name  ModeName
	Set   bool
	Param string
}

// LocalServer is the default Server implementation, driven entirely by a
// ModeTaxonomy. A real deployment's s2s layer may supply its own Server
// (e.g. one whose StringsFromCModes renders UIDs straight from a TS6
// connection table); LocalServer is what the rest of this package and its
// tests use as "this server".
type LocalServer struct {
	name string
	sid  string
	tax  *ModeTaxonomy
}

// NewLocalServer constructs a LocalServer bound to taxonomy tax.
func NewLocalServer(name, sid string, tax *ModeTaxonomy) *LocalServer {
	return &LocalServer{name: name, sid: sid, tax: tax}
}

func (s *LocalServer) Name() string { return s.name }
func (s *LocalServer) SID() string  { return s.sid }

func (s *LocalServer) CModeType(name ModeName) (ModeType, bool) { return s.tax.Type(name) }
func (s *LocalServer) CModeLetter(name ModeName) (byte, bool)    { return s.tax.Letter(name) }
func (s *LocalServer) NameForLetter(letter byte) (ModeName, bool) {
	return s.tax.NameForLetter(letter)
}
func (s *LocalServer) Prefixes() []PrefixLevel { return s.tax.Prefixes }

func (s *LocalServer) CModeTakesParameter(name ModeName, state bool) ParamRequirement {
	typ, ok := s.tax.Type(name)
	if !ok {
		return ParamNone
	}
	return typ.TakesParameter(state)
}

func (s *LocalServer) CModesFromString(flags string, params []string, overProtocol bool) []ModeDelta {
	return parseDeltas(s, flags, params)
}

func (s *LocalServer) StringsFromCModes(changes []ModeChange, organize bool, lookup func(string) (User, bool)) (userView, serverView string) {
	ordered := append([]ModeChange(nil), changes...)
	if organize {
		sort.SliceStable(ordered, func(i, j int) bool {
			if ordered[i].Set != ordered[j].Set {
				return ordered[i].Set // positive changes first
			}
			return ordered[i].Name < ordered[j].Name
		})
	}

	var userFlags, serverFlags strings.Builder
	var userParams, serverParams []string
	var lastSet *bool

	flush := func(set bool) {
		if lastSet == nil || *lastSet != set {
			if set {
				userFlags.WriteByte('+')
				serverFlags.WriteByte('+')
			} else {
				userFlags.WriteByte('-')
				serverFlags.WriteByte('-')
			}
			lastSet = &set
		}
	}

	for _, c := range ordered {
		letter, ok := s.tax.Letter(c.Name)
		if !ok {
			continue
		}
		flush(c.Set)
		userFlags.WriteByte(letter)
		serverFlags.WriteByte(letter)
		if c.Param != "" {
			userParam := c.Param
			if typ, ok := s.tax.Type(c.Name); ok && typ == ModeStatus && lookup != nil {
				if u, ok := lookup(c.Param); ok {
					userParam = u.Nick()
				}
			}
			userParams = append(userParams, userParam)
			serverParams = append(serverParams, c.Param)
		}
	}

	userView = userFlags.String()
	serverView = serverFlags.String()
	if len(userParams) > 0 {
		userView += " " + strings.Join(userParams, " ")
	}
	if len(serverParams) > 0 {
		serverView += " " + strings.Join(serverParams, " ")
	}
	return userView, serverView
}
