package realtime

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/boardstream-dev/boardstream/pkg/protocol"
)

func TestPresence_JoinLeaveRefcount(t *testing.T) {
	sink := &eventSink{}
	p := NewPresence(sink.publish, time.Second, nil, testLogger())
	ch := protocol.ProjectChannel("p1")
	user := protocol.UserSummary{ID: "user-1", Username: "ada"}

	// Three tabs, one join event.
	p.Join(ch, user)
	p.Join(ch, user)
	p.Join(ch, user)

	if got := p.Count(ch, user.ID); got != 3 {
		t.Fatalf("Count = %d, want 3", got)
	}
	if types := sink.types(); len(types) != 1 || types[0] != protocol.EventUserJoined {
		t.Fatalf("events after joins = %v, want one user_joined", types)
	}

	p.Leave(ch, user)
	p.Leave(ch, user)
	if types := sink.types(); len(types) != 1 {
		t.Fatalf("leave above zero emitted %v", types)
	}

	p.Leave(ch, user)
	types := sink.types()
	if len(types) != 2 || types[1] != protocol.EventUserLeft {
		t.Fatalf("events after final leave = %v", types)
	}
	if got := p.Count(ch, user.ID); got != 0 {
		t.Fatalf("Count = %d, want 0", got)
	}
}

func TestPresence_LeaveWithoutJoinIsNoOp(t *testing.T) {
	sink := &eventSink{}
	p := NewPresence(sink.publish, time.Second, nil, testLogger())

	p.Leave(protocol.ProjectChannel("p1"), protocol.UserSummary{ID: "user-1"})

	if len(sink.all()) != 0 {
		t.Fatal("unmatched leave must emit nothing")
	}
}

func TestPresence_ChannelsAreIndependent(t *testing.T) {
	sink := &eventSink{}
	p := NewPresence(sink.publish, time.Second, nil, testLogger())
	user := protocol.UserSummary{ID: "user-1"}

	p.Join(protocol.ProjectChannel("p1"), user)
	p.Join(protocol.TaskChannel("t1"), user)

	types := sink.types()
	if len(types) != 2 {
		t.Fatalf("events = %v, want a join per channel", types)
	}
	p.Leave(protocol.ProjectChannel("p1"), user)
	if got := p.Count(protocol.TaskChannel("t1"), user.ID); got != 1 {
		t.Fatalf("task channel count = %d, want 1", got)
	}
}

func TestPresence_Users(t *testing.T) {
	sink := &eventSink{}
	p := NewPresence(sink.publish, time.Second, nil, testLogger())
	ch := protocol.ProjectChannel("p1")

	p.Join(ch, protocol.UserSummary{ID: "user-1", Username: "ada"})
	p.Join(ch, protocol.UserSummary{ID: "user-2", Username: "lin"})

	users := p.Users(ch)
	if len(users) != 2 {
		t.Fatalf("Users = %v", users)
	}
}

func TestPresence_ConcurrentTabsRefcountExact(t *testing.T) {
	sink := &eventSink{}
	p := NewPresence(sink.publish, time.Second, nil, testLogger())
	ch := protocol.ProjectChannel("p1")
	user := protocol.UserSummary{ID: "user-1"}

	const tabs = 20
	var wg sync.WaitGroup
	for i := 0; i < tabs; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Join(ch, user)
		}()
	}
	wg.Wait()

	if got := p.Count(ch, user.ID); got != tabs {
		t.Fatalf("Count = %d, want %d", got, tabs)
	}
	if joins := len(sink.all()); joins != 1 {
		t.Fatalf("join events = %d, want exactly 1", joins)
	}

	for i := 0; i < tabs; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Leave(ch, user)
		}()
	}
	wg.Wait()

	types := sink.types()
	if len(types) != 2 || types[1] != protocol.EventUserLeft {
		t.Fatalf("events = %v, want one join then one leave", types)
	}
}

func TestPresence_TypingLifecycle(t *testing.T) {
	sink := &eventSink{}
	p := NewPresence(sink.publish, time.Second, nil, testLogger())
	ch := protocol.TaskChannel("t1")
	user := protocol.UserSummary{ID: "user-1"}

	p.Typing(ch, user, "t1")
	p.Typing(ch, user, "t1") // refresh, no duplicate
	p.StopTyping(ch, user, "t1")

	types := sink.types()
	want := []protocol.EventType{protocol.EventUserTyping, protocol.EventUserStoppedTyping}
	if len(types) != len(want) {
		t.Fatalf("events = %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("events = %v, want %v", types, want)
		}
	}

	// A stop without a live indicator is silent.
	p.StopTyping(ch, user, "t1")
	if len(sink.all()) != 2 {
		t.Fatal("redundant stop emitted an event")
	}
}

func TestPresence_TypingAutoExpiry(t *testing.T) {
	sink := &eventSink{}
	p := NewPresence(sink.publish, 30*time.Millisecond, nil, testLogger())
	ch := protocol.TaskChannel("t1")
	user := protocol.UserSummary{ID: "user-1"}

	p.Typing(ch, user, "t1")

	deadline := time.Now().Add(2 * time.Second)
	for {
		types := sink.types()
		if len(types) == 2 && types[1] == protocol.EventUserStoppedTyping {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("typing never auto-expired, events = %v", types)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestPresence_TypingRefreshDelaysExpiry(t *testing.T) {
	sink := &eventSink{}
	p := NewPresence(sink.publish, 60*time.Millisecond, nil, testLogger())
	ch := protocol.TaskChannel("t1")
	user := protocol.UserSummary{ID: "user-1"}

	p.Typing(ch, user, "t1")
	for i := 0; i < 4; i++ {
		time.Sleep(30 * time.Millisecond)
		p.Typing(ch, user, "t1")
	}
	// Four refreshes across 120ms of a 60ms window: still only the
	// initial typing event.
	if types := sink.types(); len(types) != 1 {
		t.Fatalf("events = %v, want only the initial user_typing", types)
	}
}

func TestPresence_StaleExpiryHonorsRefreshedDeadline(t *testing.T) {
	sink := &eventSink{}
	p := NewPresence(sink.publish, time.Hour, nil, testLogger())
	ch := protocol.TaskChannel("t1")
	user := protocol.UserSummary{ID: "user-1"}
	key := typingKey{channel: ch, userID: user.ID, taskID: "t1"}

	p.Typing(ch, user, "t1")

	// A timer that fired concurrently with a refresh reaches the
	// callback with the deadline already moved into the future. The
	// callback must leave the indicator alive.
	p.expireTyping(key)

	if types := sink.types(); len(types) != 1 || types[0] != protocol.EventUserTyping {
		t.Fatalf("events after stale expiry = %v, want only user_typing", types)
	}
	p.mu.Lock()
	_, alive := p.typing[key]
	p.mu.Unlock()
	if !alive {
		t.Fatal("stale expiry killed a refreshed indicator")
	}

	// Once the deadline has genuinely passed, the callback expires it.
	p.mu.Lock()
	p.typing[key].deadline = time.Now().Add(-time.Millisecond)
	p.mu.Unlock()
	p.expireTyping(key)

	types := sink.types()
	if len(types) != 2 || types[1] != protocol.EventUserStoppedTyping {
		t.Fatalf("events after due expiry = %v", types)
	}
	p.mu.Lock()
	_, alive = p.typing[key]
	p.mu.Unlock()
	if alive {
		t.Fatal("due expiry left the indicator behind")
	}
}

func TestPresence_DisconnectCancelsTyping(t *testing.T) {
	sink := &eventSink{}
	p := NewPresence(sink.publish, time.Minute, nil, testLogger())
	ch := protocol.TaskChannel("t1")
	user := protocol.UserSummary{ID: "user-1"}

	p.Join(ch, user)
	p.Typing(ch, user, "t1")
	p.Leave(ch, user)

	types := sink.types()
	want := []protocol.EventType{
		protocol.EventUserJoined,
		protocol.EventUserTyping,
		protocol.EventUserStoppedTyping,
		protocol.EventUserLeft,
	}
	if len(types) != len(want) {
		t.Fatalf("events = %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("events = %v, want %v (stopped_typing must precede user_left)", types, want)
		}
	}
}

func TestPresence_TypingPerTask(t *testing.T) {
	sink := &eventSink{}
	p := NewPresence(sink.publish, time.Minute, nil, testLogger())
	user := protocol.UserSummary{ID: "user-1"}

	p.Typing(protocol.TaskChannel("t1"), user, "t1")
	p.Typing(protocol.TaskChannel("t2"), user, "t2")
	p.StopTyping(protocol.TaskChannel("t1"), user, "t1")

	var stopped []string
	for _, e := range sink.all() {
		if e.Type == protocol.EventUserStoppedTyping {
			data := e.Payload.(protocol.TypingData)
			stopped = append(stopped, data.TaskID)
		}
	}
	if len(stopped) != 1 || stopped[0] != "t1" {
		t.Fatalf("stopped tasks = %v, want [t1]", stopped)
	}
}

func TestPresence_ManyUsersJoin(t *testing.T) {
	sink := &eventSink{}
	p := NewPresence(sink.publish, time.Second, nil, testLogger())
	ch := protocol.ProjectChannel("p1")

	for i := 0; i < 10; i++ {
		p.Join(ch, protocol.UserSummary{ID: fmt.Sprintf("user-%d", i)})
	}
	if got := len(p.Users(ch)); got != 10 {
		t.Fatalf("Users = %d, want 10", got)
	}
	if got := len(sink.all()); got != 10 {
		t.Fatalf("join events = %d, want 10", got)
	}
}
