package ircd

import (
	"testing"
	"time"
)

func TestModeTypeTakesParameter(t *testing.T) {
	tests := []struct {
		name  string
		typ   ModeType
		state bool
		want  ParamRequirement
	}{
		{name: "normal never takes one", typ: ModeNormal, state: true, want: ParamNone},
		{name: "param mandatory on set", typ: ModeParam, state: true, want: ParamMandatory},
		{name: "param mandatory on unset too", typ: ModeParam, state: false, want: ParamMandatory},
		{name: "param-set mandatory on set", typ: ModeParamSet, state: true, want: ParamMandatory},
		{name: "param-set none on unset", typ: ModeParamSet, state: false, want: ParamNone},
		{name: "list mandatory on set", typ: ModeList, state: true, want: ParamMandatory},
		{name: "list optional on unset", typ: ModeList, state: false, want: ParamOptional},
		{name: "status mandatory on set", typ: ModeStatus, state: true, want: ParamMandatory},
		{name: "key mandatory on set", typ: ModeKey, state: true, want: ParamMandatory},
		{name: "key optional on unset", typ: ModeKey, state: false, want: ParamOptional},
	}
	for _, tt := range tests {
		if got := tt.typ.TakesParameter(tt.state); got != tt.want {
			t.Errorf("%s: TakesParameter(%v) = %v, want %v", tt.name, tt.state, got, tt.want)
		}
	}
}

func TestModeTaxonomyLetterRoundTrip(t *testing.T) {
	tax := standardTaxonomy()

	letter, ok := tax.Letter("ban")
	if !ok || letter != 'b' {
		t.Fatalf("Letter(ban) = %q, %v; want 'b', true", letter, ok)
	}

	name, ok := tax.NameForLetter('b')
	if !ok || name != "ban" {
		t.Fatalf("NameForLetter('b') = %q, %v; want ban, true", name, ok)
	}

	if _, ok := tax.NameForLetter('?'); ok {
		t.Fatalf("NameForLetter('?') should be unknown")
	}
}

func TestModeTaxonomyPrefixesSortedDescending(t *testing.T) {
	tax := NewModeTaxonomy(nil, nil, []PrefixLevel{
		{Level: LevelVoice, Letter: 'v', Name: "voice"},
		{Level: LevelOp, Letter: 'o', Name: "op"},
	})
	if len(tax.Prefixes) != 2 || tax.Prefixes[0].Name != "op" {
		t.Fatalf("expected op (higher level) first, got %+v", tax.Prefixes)
	}
}

func TestUserGetHighestLevelSentinel(t *testing.T) {
	// The highest level for a non-member should be the LowestLevel
	// sentinel, not a real level.
	pool, bus := newTestPool()
	ch := NewChannel("#sentinel", time.Now(), standardTaxonomy(), pool, bus)

	if got := ch.UserGetHighestLevel("nobody"); got != LowestLevel {
		t.Fatalf("UserGetHighestLevel(absent) = %d, want %d", got, LowestLevel)
	}
}
