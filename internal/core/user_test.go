package core

import (
	"sync"
	"sync/atomic"
	"testing"
)

func TestRegisterIsExclusive(t *testing.T) {
	users, _ := newTestRegistries()

	const contenders = 16
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := users.Register("alice", NewSession(1, "test"), false); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	if wins.Load() != 1 {
		t.Fatalf("concurrent register wins = %d, want exactly 1", wins.Load())
	}
	if users.Count() != 1 {
		t.Fatalf("count = %d, want 1", users.Count())
	}
}

func TestJoinLeaveKeepsRegistriesMirrored(t *testing.T) {
	users, channels := newTestRegistries()
	connect(t, users, "alice", false)

	assertMirrored := func(channel string, wantMember bool) {
		t.Helper()
		info, ok := users.Lookup("alice")
		if !ok {
			t.Fatal("alice missing")
		}
		inUser := false
		for _, ch := range info.Channels {
			if ch == channel {
				inUser = true
			}
		}
		inChannel := false
		if members, err := channels.ListMembers(channel); err == nil {
			for _, m := range members {
				if m == "alice" {
					inChannel = true
				}
			}
		}
		if inUser != inChannel {
			t.Fatalf("split state: user side %v, channel side %v", inUser, inChannel)
		}
		if inUser != wantMember {
			t.Fatalf("membership = %v, want %v", inUser, wantMember)
		}
	}

	if _, err := users.JoinChannel("alice", "#general"); err != nil {
		t.Fatalf("join: %v", err)
	}
	assertMirrored("#general", true)

	if err := users.LeaveChannel("alice", "#general"); err != nil {
		t.Fatalf("leave: %v", err)
	}
	assertMirrored("#general", false)

	if _, err := users.JoinChannel("alice", "#general"); err != nil {
		t.Fatalf("rejoin: %v", err)
	}
	assertMirrored("#general", true)
}

func TestRenameRelabelsMemberships(t *testing.T) {
	users, channels := newTestRegistries()
	connect(t, users, "alice", false)
	if _, err := users.JoinChannel("alice", "#general"); err != nil {
		t.Fatalf("join: %v", err)
	}
	if _, err := users.JoinChannel("alice", "#help"); err != nil {
		t.Fatalf("join: %v", err)
	}

	if err := users.Rename("alice", "alicia"); err != nil {
		t.Fatalf("rename: %v", err)
	}

	if _, ok := users.Lookup("alice"); ok {
		t.Fatal("old nickname still registered")
	}
	info, ok := users.Lookup("alicia")
	if !ok {
		t.Fatal("new nickname missing")
	}
	if len(info.Channels) != 2 {
		t.Fatalf("channels after rename = %v", info.Channels)
	}
	for _, ch := range []string{"#general", "#help"} {
		members, err := channels.ListMembers(ch)
		if err != nil {
			t.Fatalf("list %s: %v", ch, err)
		}
		if len(members) != 1 || members[0] != "alicia" {
			t.Fatalf("members of %s = %v, want [alicia]", ch, members)
		}
	}
}

func TestRenameToTakenNickname(t *testing.T) {
	users, _ := newTestRegistries()
	connect(t, users, "alice", false)
	connect(t, users, "bob", false)

	if err := users.Rename("alice", "bob"); err == nil {
		t.Fatal("rename to taken nickname succeeded")
	}
	if _, ok := users.Lookup("alice"); !ok {
		t.Fatal("alice lost her nickname on failed rename")
	}
}

func TestDeregisterDropsAllMemberships(t *testing.T) {
	users, channels := newTestRegistries()
	connect(t, users, "alice", false)
	if _, err := users.JoinChannel("alice", "#general"); err != nil {
		t.Fatalf("join: %v", err)
	}
	if _, err := users.JoinChannel("alice", "#help"); err != nil {
		t.Fatalf("join: %v", err)
	}

	left := users.Deregister("alice")
	if len(left) != 2 {
		t.Fatalf("deregister returned %v, want both channels", left)
	}
	for _, ch := range left {
		members, err := channels.ListMembers(ch)
		if err != nil {
			t.Fatalf("list %s: %v", ch, err)
		}
		if len(members) != 0 {
			t.Fatalf("members of %s after deregister = %v", ch, members)
		}
	}

	// Second deregister is a no-op, cleanup is idempotent.
	if left := users.Deregister("alice"); left != nil {
		t.Fatalf("second deregister returned %v", left)
	}
	if _, ok := users.Lookup("alice"); ok {
		t.Fatal("alice still registered")
	}
}

func TestValidNickname(t *testing.T) {
	valid := []string{"abc", "alice_2", "ABCDEF0123456789"}
	invalid := []string{"", "ab", "with space", "toolongnickname123", "bad-char", "#alice"}
	for _, s := range valid {
		if !ValidNickname(s) {
			t.Errorf("ValidNickname(%q) = false", s)
		}
	}
	for _, s := range invalid {
		if ValidNickname(s) {
			t.Errorf("ValidNickname(%q) = true", s)
		}
	}
}
