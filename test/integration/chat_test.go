package integration

import (
	"testing"
	"time"

	"github.com/Tyrowin/chatmk/test/testhelpers"
)

// TestGroupMessageAndRateLimit connects alice and bob, delivers a group
// message, then has bob exceed the default bucket of 5 at 1 per second.
func TestGroupMessageAndRateLimit(t *testing.T) {
	f := testhelpers.NewTestServer(t)
	f.Register(t, "alice")
	f.Register(t, "bob")

	alice := f.Connect(t, "alice")
	bob := f.Connect(t, "bob")
	testhelpers.ReadUntil(t, alice, "user_list")

	testhelpers.SendEvent(t, alice, map[string]any{"type": "message", "message": "hi"})

	got := testhelpers.ReadUntil(t, bob, "message")
	if got["sender"] != "alice" || got["message"] != "hi" || got["recipient"] != "GROUP" {
		t.Fatalf("Unexpected message on bob: %v", got)
	}
	if id, ok := got["id"].(float64); !ok || id <= 0 {
		t.Errorf("Expected a positive message id, got %v", got["id"])
	}

	for i := 0; i < 6; i++ {
		testhelpers.SendEvent(t, bob, map[string]any{"type": "message", "message": "spam"})
	}

	messages, warnings := 0, 0
	for messages+warnings < 6 {
		ev, err := testhelpers.ReadEvent(bob, 5*time.Second)
		if err != nil {
			t.Fatalf("Failed reading bob's frames: %v", err)
		}
		switch ev.Type() {
		case "message":
			messages++
		case "warning":
			warnings++
			if ev["message"] != "Slow down! Please wait 1 seconds before sending another message." {
				t.Errorf("Unexpected warning text: %v", ev["message"])
			}
			if messages != 5 {
				t.Errorf("Expected the warning after 5 messages, got it after %d", messages)
			}
		}
	}
	if messages != 5 || warnings != 1 {
		t.Errorf("Expected 5 messages and 1 warning, got %d and %d", messages, warnings)
	}
}

func TestDirectMessageReachesOnlyThePair(t *testing.T) {
	f := testhelpers.NewTestServer(t)
	for _, id := range []string{"alice", "bob", "carol"} {
		f.Register(t, id)
	}

	alice := f.Connect(t, "alice")
	bob := f.Connect(t, "bob")
	carol := f.Connect(t, "carol")

	testhelpers.SendEvent(t, alice, map[string]any{"type": "message", "message": "psst", "recipient": "bob"})

	if ev := testhelpers.ReadUntil(t, bob, "message"); ev["recipient"] != "bob" || ev["sender"] != "alice" {
		t.Errorf("Unexpected direct message on bob: %v", ev)
	}
	if ev := testhelpers.ReadUntil(t, alice, "message"); ev["message"] != "psst" {
		t.Errorf("Expected sender echo, got %v", ev)
	}
	testhelpers.ExpectSilence(t, carol, 300*time.Millisecond, "user_list")
}

func TestTypingHistoryAndReactions(t *testing.T) {
	f := testhelpers.NewTestServer(t)
	f.Register(t, "alice")
	f.Register(t, "bob")

	alice := f.Connect(t, "alice")
	bob := f.Connect(t, "bob")
	testhelpers.ReadUntil(t, alice, "user_list")

	testhelpers.SendEvent(t, alice, map[string]any{"type": "typing", "recipient": "bob"})
	typing := testhelpers.ReadUntil(t, bob, "user_typing")
	if typing["username"] != "alice" || typing["recipient"] != "alice" {
		t.Errorf("Unexpected typing event: %v", typing)
	}

	testhelpers.SendEvent(t, alice, map[string]any{"type": "message", "message": "react to me"})
	msg := testhelpers.ReadUntil(t, bob, "message")
	testhelpers.ReadUntil(t, alice, "message")

	testhelpers.SendEvent(t, bob, map[string]any{"type": "react", "message_id": msg["id"], "emoji": "👍"})
	update := testhelpers.ReadUntil(t, alice, "reaction_update")
	if update["action"] != "added" || update["username"] != "bob" {
		t.Errorf("Unexpected reaction update: %v", update)
	}

	testhelpers.SendEvent(t, bob, map[string]any{"type": "get_history"})
	history := testhelpers.ReadUntil(t, bob, "history")
	messages, _ := history["messages"].([]any)
	if len(messages) != 1 {
		t.Fatalf("Expected 1 history message, got %d", len(messages))
	}
	reactions, _ := messages[0].(map[string]any)["reactions"].([]any)
	if len(reactions) != 1 {
		t.Errorf("Expected 1 reaction in history, got %v", reactions)
	}

	testhelpers.SendEvent(t, alice, map[string]any{"type": "delete", "message_id": msg["id"]})
	testhelpers.ReadUntil(t, bob, "message_deleted")

	testhelpers.SendEvent(t, bob, map[string]any{"type": "get_history"})
	history = testhelpers.ReadUntil(t, bob, "history")
	if messages, _ := history["messages"].([]any); len(messages) != 0 {
		t.Errorf("Expected deleted message to be hidden, got %v", messages)
	}
}

func TestDisconnectBroadcastsPresence(t *testing.T) {
	f := testhelpers.NewTestServer(t)
	f.Register(t, "alice")
	f.Register(t, "bob")

	alice := f.Connect(t, "alice")
	bob := f.Connect(t, "bob")
	testhelpers.ReadUntil(t, alice, "user_list")

	if err := bob.Close(); err != nil {
		t.Fatalf("Failed to close bob: %v", err)
	}

	list := testhelpers.ReadUntil(t, alice, "user_list")
	users, _ := list["users"].([]any)
	if len(users) != 1 || users[0] != "alice" {
		t.Errorf("Expected only alice online, got %v", users)
	}
}

func TestReconnectReplacesSession(t *testing.T) {
	f := testhelpers.NewTestServer(t)
	f.Register(t, "alice")

	first := f.Connect(t, "alice")
	second := f.Connect(t, "alice")

	if code := testhelpers.ExpectClose(t, first); code != 4001 {
		t.Errorf("Expected close code 4001, got %d", code)
	}

	testhelpers.SendEvent(t, second, map[string]any{"type": "message", "message": "still here"})
	if ev := testhelpers.ReadUntil(t, second, "message"); ev["message"] != "still here" {
		t.Errorf("Unexpected frame on replacement session: %v", ev)
	}
	if n := f.Server.Hub().Len(); n != 1 {
		t.Errorf("Expected 1 registered session, got %d", n)
	}
}
