package ircd

// fakeUser is a minimal in-memory User used across this package's tests,
// standing in for the transport layer's real connection type.
type fakeUser struct {
	uid      UID
	nick     string
	realName string
	server   string
	local    bool
	caps     map[string]bool
	modes    map[ModeName]bool
	account  *AccountRef
	away     string
	ident    string
	cloak    string

	sent     []string
	numerics []string
}

func (u *fakeUser) Host() string { return u.cloak }
func (u *fakeUser) IP() string   { return "127.0.0.1" }

func (u *fakeUser) UpdateUserInfo(nick, ident, cloak string) {
	if nick != "*" {
		u.nick = nick
	}
	if ident != "*" {
		u.ident = ident
	}
	if cloak != "*" {
		u.cloak = cloak
	}
}

func newFakeUser(uid UID, nick string) *fakeUser {
	return &fakeUser{
		uid:    uid,
		nick:   nick,
		server: "local.test",
		local:  true,
		caps:   make(map[string]bool),
		modes:  make(map[ModeName]bool),
	}
}

func (u *fakeUser) UID() UID          { return u.uid }
func (u *fakeUser) Nick() string      { return u.nick }
func (u *fakeUser) RealName() string  { return u.realName }
func (u *fakeUser) ServerName() string { return u.server }
func (u *fakeUser) IsLocal() bool     { return u.local }
func (u *fakeUser) IsMode(name ModeName) bool { return u.modes[name] }
func (u *fakeUser) HasCap(name string) bool   { return u.caps[name] }
func (u *fakeUser) Account() *AccountRef      { return u.account }
func (u *fakeUser) AwayMessage() string       { return u.away }

func (u *fakeUser) Numeric(name string, args ...string) {
	u.numerics = append(u.numerics, name)
}
func (u *fakeUser) Send(line string) { u.sent = append(u.sent, line) }
func (u *fakeUser) SendFrom(source Source, line string) {
	u.sent = append(u.sent, source.SourceName()+" "+line)
}
func (u *fakeUser) ServerNotice(tag, text string) { u.sent = append(u.sent, "NOTICE("+tag+") "+text) }
func (u *fakeUser) FireEvent(name string, payload EventPayload) {}

func (u *fakeUser) AttachAccount(row *Account) { u.account = row.Sanitize() }
func (u *fakeUser) DetachAccount() *Account {
	prev := u.account
	u.account = nil
	if prev == nil {
		return nil
	}
	return &Account{ID: prev.ID, Name: prev.Name}
}

// standardTaxonomy builds the conventional mode set used throughout this
// package's tests: ban/except as lists, key as type 5, limit as
// param-set, the five status levels, and a couple of plain toggles.
func standardTaxonomy() *ModeTaxonomy {
	types := map[ModeName]ModeType{
		"moderated": ModeNormal,
		"notopic":   ModeNormal,
		"limit":     ModeParamSet,
		"key":       ModeKey,
		"ban":       ModeList,
		"except":    ModeList,
		"owner":     ModeStatus,
		"admin":     ModeStatus,
		"op":        ModeStatus,
		"halfop":    ModeStatus,
		"voice":     ModeStatus,
		"registered": ModeParam,
	}
	letters := map[ModeName]byte{
		"moderated":  'm',
		"notopic":    't',
		"limit":      'l',
		"key":        'k',
		"ban":        'b',
		"except":     'e',
		"owner":      'q',
		"admin":      'a',
		"op":         'o',
		"halfop":     'h',
		"voice":      'v',
		"registered": 'r',
	}
	return NewModeTaxonomy(types, letters, DefaultPrefixes)
}

func newTestServer() *LocalServer {
	return NewLocalServer("local.test", "0AA", standardTaxonomy())
}

func newTestPool() (*Pool, *EventBus) {
	bus := NewEventBus()
	pool := NewPool(standardTaxonomy(), bus)
	return pool, bus
}
