package ircd

import (
	"fmt"
	"testing"
	"time"
)

func newChannelOpsForTest(pool *Pool) *ChannelOps {
	engine := NewModeEngine(newTestServer())
	return NewChannelOps(pool, pool.Events, engine, nil)
}

func TestDoJoinAddsMemberAndBroadcastsPlainJoin(t *testing.T) {
	ch, pool := newTestChannel("#test")
	co := newChannelOpsForTest(pool)

	alice := newFakeUser("001", "alice")
	bob := newFakeUser("002", "bob")
	pool.AddUser(alice)
	pool.AddUser(bob)
	ch.Add(bob.UID())

	var fired *UserJoinedEvent
	pool.Events.On(EventUserJoined, func(p EventPayload) bool {
		ev := p.(UserJoinedEvent)
		fired = &ev
		return false
	})

	co.doJoin(ch, alice, false)

	if !ch.HasUser(alice.UID()) {
		t.Fatalf("alice should now be a member")
	}
	if len(bob.sent) != 1 || bob.sent[0] != "alice JOIN #test" {
		t.Fatalf("bob (no extended-join) should see a plain JOIN, got %v", bob.sent)
	}
	if fired == nil || fired.User != alice {
		t.Fatalf("user_joined should have fired for alice")
	}
}

func TestDoJoinExtendedJoinCapSeesAccountAndRealName(t *testing.T) {
	ch, pool := newTestChannel("#test")
	co := newChannelOpsForTest(pool)

	alice := newFakeUser("001", "alice")
	alice.realName = "Alice Example"
	bob := newFakeUser("002", "bob")
	bob.caps[capExtendedJoin] = true
	pool.AddUser(alice)
	pool.AddUser(bob)
	ch.Add(bob.UID())

	co.doJoin(ch, alice, false)

	want := "alice JOIN #test * :Alice Example"
	if len(bob.sent) != 1 || bob.sent[0] != want {
		t.Fatalf("bob (extended-join) sent = %v, want [%q]", bob.sent, want)
	}
}

func TestDoJoinDoesNothingWhenAlreadyMemberAndNotAllowed(t *testing.T) {
	ch, pool := newTestChannel("#test")
	co := newChannelOpsForTest(pool)

	alice := newFakeUser("001", "alice")
	pool.AddUser(alice)
	ch.Add(alice.UID())

	fired := false
	pool.Events.On(EventUserJoined, func(EventPayload) bool { fired = true; return false })

	co.doJoin(ch, alice, false)

	if fired {
		t.Fatalf("doJoin with allowAlready=false on an existing member should be a no-op")
	}
}

func TestAttemptLocalJoinVetoSendsJoinFailed(t *testing.T) {
	ch, pool := newTestChannel("#test")
	co := newChannelOpsForTest(pool)
	alice := newFakeUser("001", "alice")
	pool.AddUser(alice)

	pool.Events.On(EventCanJoin, func(EventPayload) bool { return true })
	failed := false
	pool.Events.On(EventJoinFailed, func(EventPayload) bool { failed = true; return false })

	co.attemptLocalJoin(ch, alice, false, "", lookupFrom(pool))

	if !failed {
		t.Fatalf("a vetoed can_join should fire join_failed")
	}
	if ch.HasUser(alice.UID()) {
		t.Fatalf("a vetoed join should not add the member")
	}
}

func TestAttemptLocalJoinOnNewChannelAppliesAutomodesAndBursts(t *testing.T) {
	ch, pool := newTestChannel("#test")
	co := newChannelOpsForTest(pool)
	alice := newFakeUser("001", "alice")
	pool.AddUser(alice)

	burst := false
	pool.Events.On(EventChannelBurst, func(EventPayload) bool { burst = true; return false })

	co.attemptLocalJoin(ch, alice, true, "+mt", lookupFrom(pool))

	if !burst {
		t.Fatalf("creating a new channel should fire channel_burst")
	}
	if !ch.IsMode("notopic") || !ch.IsMode("moderated") {
		t.Fatalf("automodes +mt should have been applied")
	}
	if !ch.HasUser(alice.UID()) {
		t.Fatalf("alice should be a member after attempt_local_join")
	}
}

func TestDoPartBroadcastsAndRemovesMember(t *testing.T) {
	ch, pool := newTestChannel("#test")
	co := newChannelOpsForTest(pool)

	alice := newFakeUser("001", "alice")
	bob := newFakeUser("002", "bob")
	pool.AddUser(alice)
	pool.AddUser(bob)
	ch.Add(alice.UID())
	ch.Add(bob.UID())

	var fired *UserPartEvent
	pool.Events.On(EventUserPart, func(p EventPayload) bool {
		ev := p.(UserPartEvent)
		fired = &ev
		return false
	})

	co.doPart(ch, alice, "done here", false)

	if ch.HasUser(alice.UID()) {
		t.Fatalf("alice should have been removed")
	}
	want := "alice PART #test :done here"
	if len(bob.sent) != 1 || bob.sent[0] != want {
		t.Fatalf("bob should have seen the PART, got %v", bob.sent)
	}
	if fired == nil || fired.Reason != "done here" {
		t.Fatalf("user_part should have fired with the reason, got %v", fired)
	}
}

func TestDoPartQuietSuppressesEvent(t *testing.T) {
	ch, pool := newTestChannel("#test")
	co := newChannelOpsForTest(pool)
	alice := newFakeUser("001", "alice")
	pool.AddUser(alice)
	ch.Add(alice.UID())

	fired := false
	pool.Events.On(EventUserPart, func(EventPayload) bool { fired = true; return false })

	co.doPart(ch, alice, "", true)

	if fired {
		t.Fatalf("a quiet part should not fire user_part")
	}
}

func TestDoPartDestroysEmptyChannel(t *testing.T) {
	pool, _ := newTestPool()
	ch, _ := pool.GetOrCreateChannel("#test", time.Now())
	co := newChannelOpsForTest(pool)
	alice := newFakeUser("001", "alice")
	pool.AddUser(alice)
	ch.Add(alice.UID())

	co.doPart(ch, alice, "bye", false)

	if _, ok := pool.LookupChannel(ch.Name()); ok {
		t.Fatalf("an empty channel should have been destroyed")
	}
}

func TestUserGetKickedDefaultsReasonAndFiresEvent(t *testing.T) {
	ch, pool := newTestChannel("#test")
	co := newChannelOpsForTest(pool)

	op := newFakeUser("001", "op")
	target := newFakeUser("002", "target")
	pool.AddUser(op)
	pool.AddUser(target)
	ch.Add(op.UID())
	ch.Add(target.UID())
	ch.AddToList("op", string(op.UID()), "server", time.Now())

	var fired *UserKickEvent
	pool.Events.On(EventUserKick, func(p EventPayload) bool {
		ev := p.(UserKickEvent)
		fired = &ev
		return false
	})

	co.userGetKicked(ch, target, UserSource(op), "")

	if ch.HasUser(target.UID()) {
		t.Fatalf("target should have been removed")
	}
	want := "op KICK #test target :op"
	if len(op.sent) != 1 || op.sent[0] != want {
		t.Fatalf("op should see its own KICK with the default reason, got %v", op.sent)
	}
	if fired == nil || fired.Reason != "op" {
		t.Fatalf("user_kick should fire with the defaulted reason, got %v", fired)
	}
}

func TestNamesSendsOneBucketAndEndOfNames(t *testing.T) {
	ch, pool := newTestChannel("#test")
	co := newChannelOpsForTest(pool)

	querier := newFakeUser("001", "querier")
	op := newFakeUser("002", "op")
	invisibleStranger := newFakeUser("003", "ghost")
	invisibleStranger.modes[capInvisible] = true

	pool.AddUser(querier)
	pool.AddUser(op)
	pool.AddUser(invisibleStranger)
	ch.Add(querier.UID())
	ch.Add(op.UID())
	ch.Add(invisibleStranger.UID())
	ch.AddToList("op", string(op.UID()), "server", time.Now())

	co.names(ch, querier, false)

	var sawNamreply, sawEndof int
	for _, n := range querier.numerics {
		switch n {
		case "RPL_NAMREPLY":
			sawNamreply++
		case "RPL_ENDOFNAMES":
			sawEndof++
		}
	}
	if sawNamreply != 1 {
		t.Fatalf("expected exactly one RPL_NAMREPLY bucket, got %d", sawNamreply)
	}
	if sawEndof != 1 {
		t.Fatalf("expected exactly one RPL_ENDOFNAMES, got %d", sawEndof)
	}
}

func TestHandlePrivmsgNoticeSkipsSourceAndDeaf(t *testing.T) {
	ch, pool := newTestChannel("#test")
	co := newChannelOpsForTest(pool)

	alice := newFakeUser("001", "alice")
	bob := newFakeUser("002", "bob")
	deafDan := newFakeUser("003", "dan")
	deafDan.modes[capDeaf] = true

	pool.AddUser(alice)
	pool.AddUser(bob)
	pool.AddUser(deafDan)
	ch.Add(alice.UID())
	ch.Add(bob.UID())
	ch.Add(deafDan.UID())

	co.handlePrivmsgNotice(ch, UserSource(alice), "PRIVMSG", "hello")

	if len(alice.sent) != 0 {
		t.Fatalf("the source should not receive its own message back, got %v", alice.sent)
	}
	if len(deafDan.sent) != 0 {
		t.Fatalf("a deaf member should not receive the message, got %v", deafDan.sent)
	}
	want := "alice PRIVMSG #test :hello"
	if len(bob.sent) != 1 || bob.sent[0] != want {
		t.Fatalf("bob should have received the message, got %v", bob.sent)
	}
}

func TestHandlePrivmsgNoticeVetoedByCanMessage(t *testing.T) {
	ch, pool := newTestChannel("#test")
	co := newChannelOpsForTest(pool)
	alice := newFakeUser("001", "alice")
	bob := newFakeUser("002", "bob")
	pool.AddUser(alice)
	pool.AddUser(bob)
	ch.Add(alice.UID())
	ch.Add(bob.UID())

	pool.Events.On(EventCanMessage, func(EventPayload) bool { return true })

	co.handlePrivmsgNotice(ch, UserSource(alice), "PRIVMSG", "hello")

	if len(bob.sent) != 0 {
		t.Fatalf("a vetoed message should never reach members, got %v", bob.sent)
	}
}

func TestModeStringOmitsKeyUnlessShown(t *testing.T) {
	ch, pool := newTestChannel("#test")
	co := newChannelOpsForTest(pool)
	ch.SetMode("moderated", "")
	ch.SetMode("key", "sesame")

	hidden := co.modeString(ch, false)
	if hidden != "+m" {
		t.Fatalf("modeString(showKey=false) = %q, want %q", hidden, "+m")
	}

	shown := co.modeString(ch, true)
	if shown != "+km sesame" {
		t.Fatalf("modeString(showKey=true) = %q, want %q", shown, "+km sesame")
	}
}

func TestModeStringAllIncludesListsAndStatusByNick(t *testing.T) {
	ch, pool := newTestChannel("#test")
	co := newChannelOpsForTest(pool)

	alice := newFakeUser("001", "alice")
	pool.AddUser(alice)
	ch.Add(alice.UID())
	ch.AddToList("op", string(alice.UID()), "server", time.Now())
	ch.AddToList("ban", "*!*@evil.example", "alice", time.Now())

	userView, serverView := co.modeStringAll(ch, false)

	if userView != "+bo *!*@evil.example alice" {
		t.Fatalf("userView = %q", userView)
	}
	if serverView != "+bo *!*@evil.example "+string(alice.UID()) {
		t.Fatalf("serverView = %q", serverView)
	}
}

func TestModeStringAllNoStatusOmitsStatusModes(t *testing.T) {
	ch, pool := newTestChannel("#test")
	co := newChannelOpsForTest(pool)
	alice := newFakeUser("001", "alice")
	pool.AddUser(alice)
	ch.Add(alice.UID())
	ch.AddToList("op", string(alice.UID()), "server", time.Now())

	userView, _ := co.modeStringAll(ch, true)
	if userView != "+" {
		t.Fatalf("noStatus should omit type-4 modes entirely, got %q", userView)
	}
}

func TestModeStringStatusOnlyIncludesStatusModes(t *testing.T) {
	ch, pool := newTestChannel("#test")
	co := newChannelOpsForTest(pool)
	alice := newFakeUser("001", "alice")
	pool.AddUser(alice)
	ch.Add(alice.UID())
	ch.SetMode("moderated", "")
	ch.AddToList("op", string(alice.UID()), "server", time.Now())

	userView, serverView := co.modeStringStatus(ch)
	if userView != "+o alice" {
		t.Fatalf("modeStringStatus userView = %q, want %q", userView, "+o alice")
	}
	if serverView != "+o "+string(alice.UID()) {
		t.Fatalf("modeStringStatus serverView = %q", serverView)
	}
}

// fakeRelay records every line a ChannelOps handed it for a remote server.
type fakeRelay struct {
	forwarded []string
}

func (r *fakeRelay) Forward(srv Server, line string) {
	r.forwarded = append(r.forwarded, srv.SID()+": "+line)
}

func TestDoModeStringSendsModeLineAndBroadcastsCmode(t *testing.T) {
	ch, pool := newTestChannel("#test")
	relay := &fakeRelay{}
	engine := NewModeEngine(newTestServer())
	co := NewChannelOps(pool, pool.Events, engine, relay)

	alice := newFakeUser("001", "alice")
	bob := newFakeUser("002", "bob")
	pool.AddUser(alice)
	pool.AddUser(bob)
	ch.Add(alice.UID())
	ch.Add(bob.UID())

	remoteSrv := NewLocalServer("remote.test", "1AA", standardTaxonomy())
	pool.AddServer(remoteSrv)
	carol := newFakeUser("1AAAAAAAB", "carol")
	carol.local = false
	carol.server = "remote.test"
	pool.AddUser(carol)
	ch.Add(carol.UID())

	lookup := func(s string) (User, bool) { return pool.LookupUser(UID(s)) }
	changes := co.DoModeString(ch, UserSource(alice), "+o", []string{string(bob.UID())}, true, true, false, lookup)

	if len(changes) != 1 {
		t.Fatalf("expected one applied change, got %v", changes)
	}
	if len(alice.sent) != 1 || alice.sent[0] != "alice MODE #test +o bob" {
		t.Fatalf("alice should see the user-facing MODE line, got %v", alice.sent)
	}
	if len(bob.sent) != 1 || bob.sent[0] != "alice MODE #test +o bob" {
		t.Fatalf("bob should see the user-facing MODE line, got %v", bob.sent)
	}
	if len(relay.forwarded) != 1 {
		t.Fatalf("expected exactly one cmode line forwarded, got %v", relay.forwarded)
	}
	want := fmt.Sprintf("1AA: cmode %s #test %d 0AA +o %s", alice.UID(), ch.Time().Unix(), bob.UID())
	if relay.forwarded[0] != want {
		t.Fatalf("cmode line = %q, want %q", relay.forwarded[0], want)
	}
}

func TestDoModeStringLocalOnlySuppressesCmode(t *testing.T) {
	ch, pool := newTestChannel("#test")
	relay := &fakeRelay{}
	engine := NewModeEngine(newTestServer())
	co := NewChannelOps(pool, pool.Events, engine, relay)

	alice := newFakeUser("001", "alice")
	bob := newFakeUser("002", "bob")
	pool.AddUser(alice)
	pool.AddUser(bob)
	ch.Add(alice.UID())
	ch.Add(bob.UID())

	remoteSrv := NewLocalServer("remote.test", "1AA", standardTaxonomy())
	pool.AddServer(remoteSrv)
	carol := newFakeUser("1AAAAAAAB", "carol")
	carol.local = false
	carol.server = "remote.test"
	pool.AddUser(carol)
	ch.Add(carol.UID())

	lookup := func(s string) (User, bool) { return pool.LookupUser(UID(s)) }
	co.DoModeString(ch, UserSource(alice), "+o", []string{string(bob.UID())}, true, true, true, lookup)

	if len(relay.forwarded) != 0 {
		t.Fatalf("localOnly should suppress cmode relay, got %v", relay.forwarded)
	}
	if len(bob.sent) != 1 {
		t.Fatalf("local members should still see the MODE line regardless of localOnly, got %v", bob.sent)
	}
}
