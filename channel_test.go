package ircd

import (
	"testing"
	"time"
)

func newTestChannel(name string) (*Channel, *Pool) {
	pool, bus := newTestPool()
	return NewChannel(name, time.Now(), standardTaxonomy(), pool, bus), pool
}

func TestChannelAddRemoveMembership(t *testing.T) {
	ch, _ := newTestChannel("#test")
	alice := UID("alice")

	if ch.HasUser(alice) {
		t.Fatalf("alice should not be a member yet")
	}
	ch.Add(alice)
	if !ch.HasUser(alice) || ch.Len() != 1 {
		t.Fatalf("Add did not register membership")
	}

	empty := ch.Remove(alice)
	if !empty {
		t.Fatalf("channel should report empty after removing its only member")
	}
	if ch.HasUser(alice) {
		t.Fatalf("alice should no longer be a member")
	}
}

func TestChannelRemovePurgesStatusLists(t *testing.T) {
	// Data model invariant: removing a user must purge it from every
	// status list before detaching.
	ch, _ := newTestChannel("#test")
	bob := UID("bob")
	ch.Add(bob)
	ch.AddToList("op", string(bob), "alice", time.Now())

	if !ch.UserIs(bob, "op") {
		t.Fatalf("setup: bob should hold op")
	}

	ch.Remove(bob)

	if ch.ListHas("op", string(bob)) {
		t.Fatalf("op list should no longer contain a removed member")
	}
}

func TestChannelAddToListRejectsDuplicates(t *testing.T) {
	ch, _ := newTestChannel("#test")
	ok1 := ch.AddToList("ban", "*!*@evil.example", "alice", time.Now())
	ok2 := ch.AddToList("ban", "*!*@evil.example", "alice", time.Now())

	if !ok1 {
		t.Fatalf("first AddToList should succeed")
	}
	if ok2 {
		t.Fatalf("duplicate AddToList should be refused")
	}
	if len(ch.ListElements("ban", true)) != 1 {
		t.Fatalf("ban list should contain exactly one entry")
	}
}

func TestChannelUserGetHighestLevel(t *testing.T) {
	ch, _ := newTestChannel("#test")
	alice := UID("alice")
	ch.Add(alice)
	ch.AddToList("halfop", string(alice), "server", time.Now())
	ch.AddToList("op", string(alice), "server", time.Now())

	if got := ch.UserGetHighestLevel(alice); got != LevelOp {
		t.Fatalf("UserGetHighestLevel = %d, want %d (op beats halfop)", got, LevelOp)
	}
	if !ch.UserHasBasicStatus(alice) {
		t.Fatalf("op should satisfy basic status")
	}
}

func TestChannelDestroyMaybeVetoable(t *testing.T) {
	pool, _ := newTestPool()
	ch, _ := pool.GetOrCreateChannel("#test", time.Now())
	alice := UID("alice")
	ch.Add(alice)

	vetoed := false
	ch.bus.On(EventCanDestroy, func(EventPayload) bool {
		vetoed = true
		return true
	})

	ch.Remove(alice)
	ch.DestroyMaybe()

	if !vetoed {
		t.Fatalf("can_destroy handler was not invoked")
	}
	if _, ok := ch.pool.LookupChannel(ch.Name()); !ok {
		t.Fatalf("channel should still be registered after a vetoed destroy")
	}
}

func TestTakeLowerTimeIdempotentAboveCurrent(t *testing.T) {
	// Testable property: take_lower_time is idempotent for
	// t >= c.time.
	ch, pool := newTestChannel("#ts")
	engine := NewModeEngine(newTestServer())
	co := NewChannelOps(pool, pool.Events, engine, nil)

	ch.SetTime(time.Unix(1000, 0))
	result := co.takeLowerTime(ch, time.Unix(2000, 0), false, func(string) (User, bool) { return nil, false })

	if !result.Equal(time.Unix(1000, 0)) {
		t.Fatalf("take_lower_time with t >= current should leave time unchanged, got %v", result)
	}
}

func TestTakeLowerTimeAdoptsEarlierAndClearsModes(t *testing.T) {
	ch, pool := newTestChannel("#ts")
	engine := NewModeEngine(newTestServer())
	co := NewChannelOps(pool, pool.Events, engine, nil)

	ch.SetTime(time.Unix(1000, 0))
	ch.SetMode("moderated", "")
	ch.SetTopic("hello", "alice", time.Now())

	result := co.takeLowerTime(ch, time.Unix(500, 0), false, func(string) (User, bool) { return nil, false })

	if !result.Equal(time.Unix(500, 0)) {
		t.Fatalf("channel time should adopt the earlier TS, got %v", result)
	}
	if ch.IsMode("moderated") {
		t.Fatalf("non-status modes should be cleared on TS reconciliation")
	}
	if ch.HasTopic() {
		t.Fatalf("topic should be cleared on TS reconciliation")
	}
}
