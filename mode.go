package ircd

import "sort"

// ModeType classifies a channel mode according to how its parameter is
// handled on set/unset. This mirrors the four-type PREFIX/CHANMODES split
// that girc's CModes tracks (modesListArgs/modesArgs/modesSetArgs/
// modesNoArgs in modes.go), extended with the two extra types the source
// protocol needs: status (type 4, prefix-bearing) and key (type 5, hidden
// unless the requester is a member).
type ModeType int

const (
	// ModeNormal never takes a parameter, e.g. +m.
	ModeNormal ModeType = iota
	// ModeParam requires a parameter on both set and unset.
	ModeParam
	// ModeParamSet requires a parameter when set, takes none when unset,
	// e.g. +l.
	ModeParamSet
	// ModeList carries a list of values with metadata, unset by value,
	// e.g. +b.
	ModeList
	// ModeStatus is a ModeList whose values are members and which confers
	// privilege, e.g. +o.
	ModeStatus
	// ModeKey is mandatory on set, optionally consumed on unset, and is
	// visible only to channel members.
	ModeKey
)

func (t ModeType) String() string {
	switch t {
	case ModeNormal:
		return "normal"
	case ModeParam:
		return "parameter"
	case ModeParamSet:
		return "parameter-set"
	case ModeList:
		return "list"
	case ModeStatus:
		return "status"
	case ModeKey:
		return "key"
	default:
		return "unknown"
	}
}

// ParamRequirement is the result of cmode_takes_parameter: whether a mode
// requires, optionally accepts, or never takes a parameter for the state
// (set/unset) in question.
type ParamRequirement int

const (
	ParamNone ParamRequirement = iota
	ParamOptional
	ParamMandatory
)

// TakesParameter implements cmode_takes_parameter(name, state) for a given
// ModeType. state is true when the mode is being set, false when unset.
func (t ModeType) TakesParameter(state bool) ParamRequirement {
	switch t {
	case ModeNormal:
		return ParamNone
	case ModeParam:
		return ParamMandatory
	case ModeParamSet:
		if state {
			return ParamMandatory
		}
		return ParamNone
	case ModeList, ModeStatus:
		if state {
			return ParamMandatory
		}
		// Unset-by-value still needs the value; absence of a parameter on
		// a list mode is the "view" path handled by the ban-like handler,
		// not a real unset.
		return ParamOptional
	case ModeKey:
		if state {
			return ParamMandatory
		}
		return ParamOptional
	default:
		return ParamNone
	}
}

// ModeName is a symbolic mode name such as "ban" or "op", as opposed to its
// wire letter ('b', 'o') or display symbol ('+', '@').
type ModeName string

// PrefixLevel is one rung of the status-mode ladder: a numeric level paired
// with the wire letter, the display symbol, and the symbolic mode name.
// Levels are compared numerically; higher is more privileged.
type PrefixLevel struct {
	Level  int
	Letter byte
	Symbol byte
	Name   ModeName
}

// Standard status levels. BasicStatusLevel is the minimum level considered
// "basic status" (halfop-or-greater).
const (
	LevelVoice = iota + 1
	LevelHalfOp
	LevelOp
	LevelAdmin
	LevelOwner
)

const BasicStatusLevel = LevelHalfOp

// LowestLevel is returned by UserGetHighestLevel for a non-member; it
// compares below every real PrefixLevel.
const LowestLevel = 0

// DefaultPrefixes is the conventional ladder: owner, admin, op, halfop,
// voice, descending in authority. A Server implementation may offer its own
// ladder (e.g. without halfop/admin) via Prefixes().
var DefaultPrefixes = []PrefixLevel{
	{Level: LevelOwner, Letter: 'q', Symbol: '~', Name: "owner"},
	{Level: LevelAdmin, Letter: 'a', Symbol: '&', Name: "admin"},
	{Level: LevelOp, Letter: 'o', Symbol: '@', Name: "op"},
	{Level: LevelHalfOp, Letter: 'h', Symbol: '%', Name: "halfop"},
	{Level: LevelVoice, Letter: 'v', Symbol: '+', Name: "voice"},
}

// ModeTaxonomy is the static classification of every channel mode this
// server knows about, keyed by symbolic name. It is supplied by the Server
// external collaborator and consulted by the Mode Engine.
type ModeTaxonomy struct {
	Types    map[ModeName]ModeType
	Letters  map[ModeName]byte
	ByLetter map[byte]ModeName
	Prefixes []PrefixLevel
}

// NewModeTaxonomy builds a taxonomy from a name->(type,letter) table and a
// prefix ladder, indexing the reverse letter lookup the way girc's
// NewCModes precomputes its splits up front rather than on every parse.
func NewModeTaxonomy(types map[ModeName]ModeType, letters map[ModeName]byte, prefixes []PrefixLevel) *ModeTaxonomy {
	byLetter := make(map[byte]ModeName, len(letters))
	for name, letter := range letters {
		byLetter[letter] = name
	}
	sorted := append([]PrefixLevel(nil), prefixes...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Level > sorted[j].Level })
	return &ModeTaxonomy{Types: types, Letters: letters, ByLetter: byLetter, Prefixes: sorted}
}

// Type returns the ModeType for name, and ok=false if name is unknown to
// this taxonomy (the Mode Engine skips unknown modes 2).
func (t *ModeTaxonomy) Type(name ModeName) (ModeType, bool) {
	typ, ok := t.Types[name]
	return typ, ok
}

// Letter returns the wire letter for name.
func (t *ModeTaxonomy) Letter(name ModeName) (byte, bool) {
	l, ok := t.Letters[name]
	return l, ok
}

// NameForLetter is the reverse of Letter.
func (t *ModeTaxonomy) NameForLetter(letter byte) (ModeName, bool) {
	n, ok := t.ByLetter[letter]
	return n, ok
}

// LevelOf returns the PrefixLevel for a status mode name, ok=false if name
// is not on the prefix ladder.
func (t *ModeTaxonomy) LevelOf(name ModeName) (PrefixLevel, bool) {
	for _, p := range t.Prefixes {
		if p.Name == name {
			return p, true
		}
	}
	return PrefixLevel{}, false
}
