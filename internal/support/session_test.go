package support

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"
)

type sentPayload struct {
	dest string
	body []byte
}

// fakeTransport records sends and lets tests deliver inbound frames.
type fakeTransport struct {
	mu           sync.Mutex
	connected    bool
	handlers     map[string]func(json.RawMessage)
	sends        []sentPayload
	unsubscribed []string
	sendErr      error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		connected: true,
		handlers:  make(map[string]func(json.RawMessage)),
	}
}

func (f *fakeTransport) Subscribe(topic string, handler func(body json.RawMessage)) (func() error, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[topic] = handler
	return func() error {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.handlers, topic)
		f.unsubscribed = append(f.unsubscribed, topic)
		return nil
	}, nil
}

func (f *fakeTransport) Send(destination string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	f.sends = append(f.sends, sentPayload{dest: destination, body: body})
	return nil
}

func (f *fakeTransport) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeTransport) setConnected(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = v
}

func (f *fakeTransport) deliver(t *testing.T, topic, body string) {
	t.Helper()
	f.mu.Lock()
	handler, ok := f.handlers[topic]
	f.mu.Unlock()
	if !ok {
		t.Fatalf("no handler subscribed on %s", topic)
	}
	handler(json.RawMessage(body))
}

func (f *fakeTransport) subscribedTo(topic string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.handlers[topic]
	return ok
}

func (f *fakeTransport) sentTo(dest string) []sentPayload {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []sentPayload
	for _, s := range f.sends {
		if s.dest == dest {
			out = append(out, s)
		}
	}
	return out
}

func (f *fakeTransport) sendCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sends)
}

func newTestManager(t *testing.T, ft *fakeTransport, mutate func(*ManagerConfig)) (*Manager, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	cfg := ManagerConfig{
		Transport: ft,
		Store:     NewSnapshotStore(t.TempDir()),
		Now:       clock.Now,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	m, err := NewManager(cfg)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	t.Cleanup(m.Close)
	return m, clock
}

func startTestManager(t *testing.T, ft *fakeTransport, mutate func(*ManagerConfig)) (*Manager, *fakeClock) {
	t.Helper()
	m, clock := newTestManager(t, ft, mutate)
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	return m, clock
}

const handoffR1 = `{"event":"HANDOFF_REQUESTED","roomId":"r1","userName":"Ada","userNickname":"ada"}`

func TestManager_HandoffUpsertIsIdempotent(t *testing.T) {
	ft := newFakeTransport()
	m, clock := startTestManager(t, ft, nil)

	ft.deliver(t, QueueTopic, handoffR1)
	clock.Advance(6 * time.Second)
	ft.deliver(t, QueueTopic, `{"event":"HANDOFF_REQUESTED","roomId":"r1","userName":"Ada Lovelace","userNickname":"ada"}`)

	items := m.QueueItems()
	if len(items) != 1 {
		t.Fatalf("queue has %d items, want 1", len(items))
	}
	if items[0].UserName != "Ada Lovelace" {
		t.Errorf("display name not refreshed in place: %+v", items[0])
	}
}

func TestManager_DuplicateQueueEventDropped(t *testing.T) {
	ft := newFakeTransport()
	m, clock := startTestManager(t, ft, nil)

	ft.deliver(t, QueueTopic, handoffR1)
	clock.Advance(4999 * time.Millisecond)
	ft.deliver(t, QueueTopic, handoffR1)
	if m.Lines() != nil && len(m.Lines()) != 0 {
		t.Errorf("queue events must not touch the transcript: %+v", m.Lines())
	}
	if got := m.QueueItems(); len(got) != 1 {
		t.Errorf("queue has %d items, want 1", len(got))
	}
}

func TestManager_AcceptMovesRequestToActiveRoom(t *testing.T) {
	ft := newFakeTransport()
	m, _ := startTestManager(t, ft, nil)

	ft.deliver(t, QueueTopic, handoffR1)
	if err := m.Accept("r1"); err != nil {
		t.Fatalf("Accept failed: %v", err)
	}

	if m.ActiveRoom() != "r1" {
		t.Errorf("ActiveRoom = %q, want r1", m.ActiveRoom())
	}
	if !m.UserConnected() {
		t.Error("user should be assumed connected after accept")
	}
	if len(m.QueueItems()) != 0 {
		t.Error("accepted request should leave the queue")
	}
	if got := m.AcceptedRooms(); len(got) != 1 || got[0] != "r1" {
		t.Errorf("AcceptedRooms = %v, want [r1]", got)
	}
	if !ft.subscribedTo(RoomTopic("r1")) {
		t.Error("room topic should be subscribed")
	}

	accepts := ft.sentTo("/app/support.handoff.accept")
	if len(accepts) != 1 {
		t.Fatalf("accept signal sent %d times, want 1", len(accepts))
	}
	var sig map[string]string
	if err := json.Unmarshal(accepts[0].body, &sig); err != nil || sig["roomId"] != "r1" {
		t.Errorf("accept payload = %s", accepts[0].body)
	}

	lines := m.Lines()
	if len(lines) != 1 || lines[0].Role != RoleSystem {
		t.Errorf("expected one system line after accept, got %+v", lines)
	}
}

func TestManager_AcceptUnknownRoom(t *testing.T) {
	ft := newFakeTransport()
	m, _ := startTestManager(t, ft, nil)

	if err := m.Accept("nope"); !errors.Is(err, ErrUnknownRoom) {
		t.Errorf("Accept = %v, want ErrUnknownRoom", err)
	}
	if ft.sendCount() != 0 {
		t.Error("no signal should be sent for an unknown room")
	}
}

func TestManager_AcceptRequiresConnectedTransport(t *testing.T) {
	ft := newFakeTransport()
	m, _ := startTestManager(t, ft, nil)
	ft.deliver(t, QueueTopic, handoffR1)

	ft.setConnected(false)
	if err := m.Accept("r1"); !errors.Is(err, ErrTransportNotConnected) {
		t.Errorf("Accept = %v, want ErrTransportNotConnected", err)
	}
	if ft.sendCount() != 0 {
		t.Error("no transport call should be issued while disconnected")
	}
	if len(m.QueueItems()) != 1 {
		t.Error("queue must be unchanged")
	}
}

func TestManager_AcceptedRoomImmuneToReRequest(t *testing.T) {
	ft := newFakeTransport()
	m, clock := startTestManager(t, ft, nil)

	ft.deliver(t, QueueTopic, handoffR1)
	if err := m.Accept("r1"); err != nil {
		t.Fatal(err)
	}

	clock.Advance(6 * time.Second)
	ft.deliver(t, QueueTopic, handoffR1)
	if len(m.QueueItems()) != 0 {
		t.Error("re-request for an accepted room must not re-queue it")
	}
}

func TestManager_UserDisconnectedClearsActiveRoom(t *testing.T) {
	ft := newFakeTransport()
	m, clock := startTestManager(t, ft, nil)

	ft.deliver(t, QueueTopic, handoffR1)
	if err := m.Accept("r1"); err != nil {
		t.Fatal(err)
	}
	clock.Advance(6 * time.Second)
	ft.deliver(t, QueueTopic, `{"event":"USER_DISCONNECTED","roomId":"r1"}`)

	if m.UserConnected() {
		t.Error("user flag should clear")
	}
	if m.ActiveRoom() != "" {
		t.Error("active room should clear")
	}
	if len(m.AcceptedRooms()) != 0 {
		t.Error("room should leave the accepted set")
	}
	if len(m.QueueItems()) != 0 {
		t.Error("room should leave the queue")
	}
}

func TestManager_RoomUserDisconnectedAppendsNotice(t *testing.T) {
	ft := newFakeTransport()
	m, _ := startTestManager(t, ft, nil)

	ft.deliver(t, QueueTopic, handoffR1)
	if err := m.Accept("r1"); err != nil {
		t.Fatal(err)
	}
	ft.deliver(t, RoomTopic("r1"), `{"type":"USER_DISCONNECTED"}`)

	if m.UserConnected() || m.ActiveRoom() != "" {
		t.Error("room-level disconnect should idle the session")
	}
	lines := m.Lines()
	last := lines[len(lines)-1]
	if last.Role != RoleSystem || last.Text != "User disconnected." {
		t.Errorf("expected default departure notice, got %+v", last)
	}
}

func TestManager_SystemPhraseDetectsDeparture(t *testing.T) {
	ft := newFakeTransport()
	m, _ := startTestManager(t, ft, nil)

	ft.deliver(t, QueueTopic, handoffR1)
	if err := m.Accept("r1"); err != nil {
		t.Fatal(err)
	}
	ft.deliver(t, RoomTopic("r1"), `{"role":"SYSTEM","text":"The user has left the chat"}`)

	if m.UserConnected() {
		t.Error("disconnect phrase should clear the user flag")
	}
	lines := m.Lines()
	last := lines[len(lines)-1]
	if last.Role != RoleSystem || last.Text != "The user has left the chat" {
		t.Errorf("notice text should be appended verbatim, got %+v", last)
	}
}

func TestManager_HandoffAcceptedNotice(t *testing.T) {
	ft := newFakeTransport()
	m, _ := startTestManager(t, ft, nil)

	ft.deliver(t, QueueTopic, handoffR1)
	if err := m.Accept("r1"); err != nil {
		t.Fatal(err)
	}
	ft.deliver(t, RoomTopic("r1"), `{"type":"HANDOFF_ACCEPTED","userName":"Ada","userNickname":"ada"}`)

	if !m.UserConnected() {
		t.Error("hand-off confirmation should mark the user connected")
	}
	lines := m.Lines()
	if lines[len(lines)-1].Text != "Connected with Ada (ada)." {
		t.Errorf("unexpected confirmation line: %+v", lines[len(lines)-1])
	}
}

func TestManager_ChatRendering(t *testing.T) {
	ft := newFakeTransport()
	m, clock := startTestManager(t, ft, nil)

	ft.deliver(t, QueueTopic, handoffR1)
	if err := m.Accept("r1"); err != nil {
		t.Fatal(err)
	}
	ft.deliver(t, RoomTopic("r1"), `{"type":"TEXT","role":"USER","text":"hello"}`)
	clock.Advance(time.Second)
	ft.deliver(t, RoomTopic("r1"), `{"type":"TEXT","role":"ADMIN","text":"hi, how can I help?"}`)
	clock.Advance(time.Second)
	ft.deliver(t, RoomTopic("r1"), `{"type":"TEXT","role":"MODERATOR","content":"flagged"}`)
	clock.Advance(time.Second)
	ft.deliver(t, RoomTopic("r1"), `{"type":"TEXT","text":"whoami"}`)

	lines := m.Lines()[1:] // skip the accept system line
	wantRoles := []Role{RoleUser, RoleAgent, Role("MODERATOR"), RoleUnknown}
	if len(lines) != len(wantRoles) {
		t.Fatalf("got %d chat lines, want %d: %+v", len(lines), len(wantRoles), lines)
	}
	for i, want := range wantRoles {
		if lines[i].Role != want {
			t.Errorf("line %d role = %q, want %q", i, lines[i].Role, want)
		}
	}
}

func TestManager_DuplicateRoomMessageDropped(t *testing.T) {
	ft := newFakeTransport()
	m, clock := startTestManager(t, ft, nil)

	ft.deliver(t, QueueTopic, handoffR1)
	if err := m.Accept("r1"); err != nil {
		t.Fatal(err)
	}
	before := len(m.Lines())

	msg := `{"type":"TEXT","role":"USER","text":"hello"}`
	ft.deliver(t, RoomTopic("r1"), msg)
	clock.Advance(4999 * time.Millisecond)
	ft.deliver(t, RoomTopic("r1"), msg)
	if got := len(m.Lines()) - before; got != 1 {
		t.Fatalf("redelivery inside the window appended %d lines, want 1", got)
	}

	clock.Advance(2 * time.Millisecond)
	ft.deliver(t, RoomTopic("r1"), msg)
	if got := len(m.Lines()) - before; got != 2 {
		t.Errorf("delivery past the window appended %d lines, want 2", got)
	}
}

func TestManager_MalformedRoomMessageKeptRaw(t *testing.T) {
	ft := newFakeTransport()
	m, _ := startTestManager(t, ft, nil)

	ft.deliver(t, QueueTopic, handoffR1)
	if err := m.Accept("r1"); err != nil {
		t.Fatal(err)
	}
	ft.deliver(t, RoomTopic("r1"), `{broken json`)

	lines := m.Lines()
	last := lines[len(lines)-1]
	if last.Role != RoleRaw || last.Text != "{broken json" {
		t.Errorf("malformed payload should be kept verbatim as raw, got %+v", last)
	}
}

func TestManager_SendTextHappyPathNoLocalEcho(t *testing.T) {
	ft := newFakeTransport()
	m, _ := startTestManager(t, ft, nil)

	ft.deliver(t, QueueTopic, handoffR1)
	if err := m.Accept("r1"); err != nil {
		t.Fatal(err)
	}
	before := len(m.Lines())

	if err := m.SendText("  hello there  "); err != nil {
		t.Fatalf("SendText failed: %v", err)
	}

	sends := ft.sentTo("/app/support.send/r1")
	if len(sends) != 1 {
		t.Fatalf("chat sent %d times, want 1", len(sends))
	}
	var payload map[string]string
	if err := json.Unmarshal(sends[0].body, &payload); err != nil {
		t.Fatal(err)
	}
	if payload["type"] != "TEXT" || payload["role"] != "ADMIN" || payload["text"] != "hello there" {
		t.Errorf("unexpected chat payload: %s", sends[0].body)
	}
	if len(m.Lines()) != before {
		t.Error("SendText must not echo locally")
	}
}

func TestManager_SendTextPreconditions(t *testing.T) {
	tests := []struct {
		name    string
		prepare func(t *testing.T, m *Manager, ft *fakeTransport)
		text    string
		wantErr error
	}{
		{
			name:    "no active room",
			prepare: func(t *testing.T, m *Manager, ft *fakeTransport) {},
			text:    "hello",
			wantErr: ErrNoActiveRoom,
		},
		{
			name: "empty after trim",
			prepare: func(t *testing.T, m *Manager, ft *fakeTransport) {
				ft.deliver(t, QueueTopic, handoffR1)
				if err := m.Accept("r1"); err != nil {
					t.Fatal(err)
				}
			},
			text:    "   ",
			wantErr: ErrEmptyMessage,
		},
		{
			name: "user offline",
			prepare: func(t *testing.T, m *Manager, ft *fakeTransport) {
				ft.deliver(t, QueueTopic, handoffR1)
				if err := m.Accept("r1"); err != nil {
					t.Fatal(err)
				}
				m.setUserConnected(false)
			},
			text:    "hello",
			wantErr: ErrUserOffline,
		},
		{
			name: "transport disconnected",
			prepare: func(t *testing.T, m *Manager, ft *fakeTransport) {
				ft.deliver(t, QueueTopic, handoffR1)
				if err := m.Accept("r1"); err != nil {
					t.Fatal(err)
				}
				ft.setConnected(false)
			},
			text:    "hello",
			wantErr: ErrTransportNotConnected,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ft := newFakeTransport()
			m, _ := startTestManager(t, ft, nil)
			tt.prepare(t, m, ft)

			sendsBefore := len(ft.sentTo("/app/support.send/r1"))
			linesBefore := len(m.Lines())

			if err := m.SendText(tt.text); !errors.Is(err, tt.wantErr) {
				t.Errorf("SendText = %v, want %v", err, tt.wantErr)
			}
			if got := len(ft.sentTo("/app/support.send/r1")); got != sendsBefore {
				t.Error("failed precondition must not issue a transport call")
			}
			if got := len(m.Lines()); got != linesBefore {
				t.Error("failed precondition must not change the transcript")
			}
		})
	}
}

func TestManager_SendTextRateLimited(t *testing.T) {
	ft := newFakeTransport()
	m, _ := startTestManager(t, ft, func(cfg *ManagerConfig) {
		cfg.SendPerSecond = 1
		cfg.SendBurst = 2
	})

	ft.deliver(t, QueueTopic, handoffR1)
	if err := m.Accept("r1"); err != nil {
		t.Fatal(err)
	}

	if err := m.SendText("one"); err != nil {
		t.Fatal(err)
	}
	if err := m.SendText("two"); err != nil {
		t.Fatal(err)
	}
	if err := m.SendText("three"); !errors.Is(err, ErrRateLimited) {
		t.Errorf("SendText = %v, want ErrRateLimited", err)
	}
	if got := len(ft.sentTo("/app/support.send/r1")); got != 2 {
		t.Errorf("%d chat sends reached the transport, want 2", got)
	}
}

func TestManager_DisconnectRoom(t *testing.T) {
	ft := newFakeTransport()
	m, _ := startTestManager(t, ft, nil)

	ft.deliver(t, QueueTopic, handoffR1)
	if err := m.Accept("r1"); err != nil {
		t.Fatal(err)
	}
	if err := m.DisconnectRoom(); err != nil {
		t.Fatalf("DisconnectRoom failed: %v", err)
	}

	if m.ActiveRoom() != "" || m.UserConnected() {
		t.Error("session should be idle after disconnect")
	}
	if len(m.AcceptedRooms()) != 0 {
		t.Error("room should leave the accepted set")
	}
	sigs := ft.sentTo("/app/support.agent.disconnect")
	if len(sigs) != 1 {
		t.Fatalf("disconnect signal sent %d times, want 1", len(sigs))
	}
	var sig map[string]string
	if err := json.Unmarshal(sigs[0].body, &sig); err != nil || sig["roomId"] != "r1" {
		t.Errorf("disconnect payload = %s", sigs[0].body)
	}
	if err := m.DisconnectRoom(); !errors.Is(err, ErrNoActiveRoom) {
		t.Errorf("second DisconnectRoom = %v, want ErrNoActiveRoom", err)
	}
}

func TestManager_PendingSeedSkipsAccepted(t *testing.T) {
	calls := 0
	pending := func(ctx context.Context) ([]PendingRequest, error) {
		calls++
		return []PendingRequest{
			{RoomID: "r1", Nickname: "ada"},
			{RoomID: "r2", Nickname: "grace"},
		}, nil
	}

	dir := t.TempDir()
	store := NewSnapshotStore(dir)
	if err := store.Save(Snapshot{AcceptedRooms: []string{"r1"}}); err != nil {
		t.Fatal(err)
	}

	ft := newFakeTransport()
	m, _ := startTestManager(t, ft, func(cfg *ManagerConfig) {
		cfg.Store = NewSnapshotStore(dir)
		cfg.Pending = pending
	})

	items := m.QueueItems()
	if len(items) != 1 || items[0].RoomID != "r2" {
		t.Errorf("pending seed should skip accepted rooms: %+v", items)
	}
	if calls != 1 {
		t.Errorf("pending fetched %d times, want 1", calls)
	}
}

func TestManager_ReloadRecovery(t *testing.T) {
	dir := t.TempDir()

	ft1 := newFakeTransport()
	clock := newFakeClock()
	m1, err := NewManager(ManagerConfig{
		Transport: ft1,
		Store:     NewSnapshotStore(dir),
		Now:       clock.Now,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := m1.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	ft1.deliver(t, QueueTopic, handoffR1)
	if err := m1.Accept("r1"); err != nil {
		t.Fatal(err)
	}
	ft1.deliver(t, RoomTopic("r1"), `{"type":"TEXT","role":"USER","text":"hello"}`)
	m1.Close()

	ft2 := newFakeTransport()
	m2, err := NewManager(ManagerConfig{
		Transport: ft2,
		Store:     NewSnapshotStore(dir),
		Now:       clock.Now,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer m2.Close()
	if err := m2.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	if m2.ActiveRoom() != "r1" {
		t.Errorf("ActiveRoom = %q after reload, want r1", m2.ActiveRoom())
	}
	if !m2.UserConnected() {
		t.Error("user flag should survive the reload")
	}
	if !ft2.subscribedTo(RoomTopic("r1")) {
		t.Error("restored room should be re-subscribed")
	}
	lines := m2.Lines()
	last := lines[len(lines)-1]
	if last.Role != RoleSystem || last.Text != "Connection restored." {
		t.Errorf("expected restoration notice, got %+v", last)
	}
	if lines[len(lines)-2].Text != "hello" {
		t.Errorf("prior transcript lost: %+v", lines)
	}

	// The restored room must be live: an inbound chat lands in the transcript.
	ft2.deliver(t, RoomTopic("r1"), `{"type":"TEXT","role":"USER","text":"still there?"}`)
	lines = m2.Lines()
	if lines[len(lines)-1].Text != "still there?" {
		t.Error("restored subscription is not delivering")
	}
}

func TestManager_ClearTranscriptPersists(t *testing.T) {
	dir := t.TempDir()
	ft := newFakeTransport()
	m, _ := startTestManager(t, ft, func(cfg *ManagerConfig) {
		cfg.Store = NewSnapshotStore(dir)
	})

	ft.deliver(t, QueueTopic, handoffR1)
	if err := m.Accept("r1"); err != nil {
		t.Fatal(err)
	}
	m.ClearTranscript()

	if m.Lines() != nil && len(m.Lines()) != 0 {
		t.Error("transcript should be empty after clear")
	}
	snap, err := NewSnapshotStore(dir).Load()
	if err != nil {
		t.Fatal(err)
	}
	if len(snap.Transcript) != 0 {
		t.Error("clear should persist")
	}
	if snap.ActiveRoom != "r1" {
		t.Error("clear must not touch the room state")
	}
}

func TestManager_OnLineCallback(t *testing.T) {
	var got []Line
	ft := newFakeTransport()
	m, _ := startTestManager(t, ft, func(cfg *ManagerConfig) {
		cfg.OnLine = func(l Line) { got = append(got, l) }
	})

	ft.deliver(t, QueueTopic, handoffR1)
	if err := m.Accept("r1"); err != nil {
		t.Fatal(err)
	}
	ft.deliver(t, RoomTopic("r1"), `{"type":"TEXT","role":"USER","text":"hello"}`)

	if len(got) != 2 {
		t.Fatalf("callback fired %d times, want 2", len(got))
	}
	if got[1].Text != "hello" {
		t.Errorf("unexpected callback line: %+v", got[1])
	}
}

func TestManager_TriageDropsMatchingRequests(t *testing.T) {
	triage, err := NewTriage([]string{`userNickname.startsWith("bot-")`})
	if err != nil {
		t.Fatal(err)
	}
	ft := newFakeTransport()
	m, clock := startTestManager(t, ft, func(cfg *ManagerConfig) {
		cfg.Triage = triage
	})

	ft.deliver(t, QueueTopic, `{"event":"HANDOFF_REQUESTED","roomId":"b1","userName":"Bot","userNickname":"bot-7"}`)
	clock.Advance(6 * time.Second)
	ft.deliver(t, QueueTopic, handoffR1)

	items := m.QueueItems()
	if len(items) != 1 || items[0].RoomID != "r1" {
		t.Errorf("triage should drop only matching requests: %+v", items)
	}
}
