package support

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/jobdam/agentdesk/internal/broker"
	"github.com/jobdam/agentdesk/internal/logging"
)

// Transport is the broker surface the session manager depends on. It is
// satisfied by ConnTransport in production and by fakes in tests.
type Transport interface {
	// Subscribe registers a handler for a topic and returns a cancel
	// function that tears the subscription down.
	Subscribe(topic string, handler func(body json.RawMessage)) (cancel func() error, err error)
	// Send publishes a JSON payload to an application destination.
	Send(destination string, payload any) error
	// Connected reports whether the broker connection is live.
	Connected() bool
}

// ConnTransport adapts a broker connection to the Transport interface.
type ConnTransport struct {
	Conn *broker.Conn
}

func (t ConnTransport) Subscribe(topic string, handler func(body json.RawMessage)) (func() error, error) {
	sub, err := t.Conn.Subscribe(topic, handler)
	if err != nil {
		return nil, err
	}
	return sub.Unsubscribe, nil
}

func (t ConnTransport) Send(destination string, payload any) error {
	return t.Conn.Send(destination, payload)
}

func (t ConnTransport) Connected() bool {
	return t.Conn.State() == broker.StateConnected
}

// PendingRequest is one waiting hand-off request as reported by the admin
// REST endpoint.
type PendingRequest struct {
	RoomID   string `json:"sessionId"`
	Nickname string `json:"nickname"`
}

// PendingSource fetches the pending hand-off requests from the platform.
type PendingSource func(ctx context.Context) ([]PendingRequest, error)

// ManagerConfig configures a session Manager.
type ManagerConfig struct {
	Transport Transport
	Store     *SnapshotStore

	// Pending, when set, is fetched once on Start to seed the queue.
	Pending PendingSource
	// Triage, when set, filters hand-off requests before queueing.
	Triage *Triage

	// AgentRole is the role written on outbound chat and matched against
	// inbound chat to recognize the agent's own echoes. Default "ADMIN".
	AgentRole string
	// DisconnectPhrases are scanned (case-insensitively) in SYSTEM-role
	// free text to detect user departure notices.
	DisconnectPhrases []string

	// Dedup configures the inbound message deduplicator.
	Dedup DedupOptions
	// SendPerSecond and SendBurst bound outbound chat sends. Defaults 5/10.
	SendPerSecond float64
	SendBurst     int

	// OnLine, when set, is invoked for every appended transcript line,
	// outside the manager's lock.
	OnLine func(Line)

	// Now overrides the clock, for tests.
	Now func() time.Time
}

const defaultAgentRole = "ADMIN"

// DefaultDisconnectPhrases are the notice fragments that mark a user
// departure when no typed disconnect event is sent.
var DefaultDisconnectPhrases = []string{"disconnected", "connection closed", "left the chat"}

// Manager owns the full hand-off session: the pending queue, the active
// room, the transcript and the persisted snapshot. All mutation happens
// under one mutex; broker handlers, console input and the credential
// watcher all funnel through it.
type Manager struct {
	transport Transport
	store     *SnapshotStore
	pending   PendingSource
	triage    *Triage

	agentRole         string
	disconnectPhrases []string
	dedup             *Deduplicator
	limiter           *rate.Limiter
	onLine            func(Line)

	qlog *slog.Logger
	rlog *slog.Logger

	mu            sync.Mutex
	queue         *Queue
	transcript    *Transcript
	accepted      map[string]struct{}
	activeRoom    string
	userConnected bool
	queueCancel   func() error
	roomCancel    func() error
	pendingLoaded bool
	started       bool
}

// NewManager creates a Manager and restores the persisted snapshot, if any.
// Call Start to subscribe and begin processing.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Transport == nil {
		return nil, fmt.Errorf("support: transport is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("support: snapshot store is required")
	}
	if cfg.AgentRole == "" {
		cfg.AgentRole = defaultAgentRole
	}
	if cfg.DisconnectPhrases == nil {
		cfg.DisconnectPhrases = DefaultDisconnectPhrases
	}
	if cfg.SendPerSecond <= 0 {
		cfg.SendPerSecond = 5
	}
	if cfg.SendBurst <= 0 {
		cfg.SendBurst = 10
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	cfg.Dedup.Now = cfg.Now

	m := &Manager{
		transport:         cfg.Transport,
		store:             cfg.Store,
		pending:           cfg.Pending,
		triage:            cfg.Triage,
		agentRole:         cfg.AgentRole,
		disconnectPhrases: cfg.DisconnectPhrases,
		dedup:             NewDeduplicator(cfg.Dedup),
		limiter:           rate.NewLimiter(rate.Limit(cfg.SendPerSecond), cfg.SendBurst),
		onLine:            cfg.OnLine,
		qlog:              logging.Queue(),
		rlog:              logging.Room(),
		queue:             NewQueue(),
		transcript:        NewTranscript(cfg.Now),
		accepted:          make(map[string]struct{}),
	}

	snap, err := cfg.Store.Load()
	if err != nil {
		return nil, err
	}
	m.activeRoom = snap.ActiveRoom
	m.userConnected = snap.UserConnected
	for _, room := range snap.AcceptedRooms {
		m.accepted[room] = struct{}{}
	}
	m.transcript.Restore(snap.Transcript)

	return m, nil
}

// Start subscribes to the queue topic, seeds the queue from the pending
// endpoint (once per process) and, when a previous session left an active
// room behind, re-subscribes to it and notes the recovery in the transcript.
func (m *Manager) Start(ctx context.Context) error {
	if !m.transport.Connected() {
		return ErrTransportNotConnected
	}

	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return fmt.Errorf("support: manager already started")
	}
	m.started = true
	m.mu.Unlock()

	m.dedup.Start()

	cancel, err := m.transport.Subscribe(QueueTopic, m.handleQueueFrame)
	if err != nil {
		m.appendLine(RoleSystem, "Failed to subscribe to the support queue: "+err.Error())
		return fmt.Errorf("subscribe queue topic: %w", err)
	}
	m.mu.Lock()
	m.queueCancel = cancel
	active := m.activeRoom
	m.mu.Unlock()

	m.loadPending(ctx)

	if active != "" {
		if err := m.subscribeRoom(active); err != nil {
			m.appendLine(RoleSystem, "Failed to rejoin room "+active+": "+err.Error())
			return fmt.Errorf("rejoin room %s: %w", active, err)
		}
		m.rlog.Info("restored active room", "room_id", active)
		m.appendLine(RoleSystem, "Connection restored.")
	}
	return nil
}

// Close tears down the subscriptions and the dedup sweeper. The broker
// connection itself belongs to the caller.
func (m *Manager) Close() {
	m.mu.Lock()
	queueCancel := m.queueCancel
	roomCancel := m.roomCancel
	m.queueCancel = nil
	m.roomCancel = nil
	m.mu.Unlock()

	if roomCancel != nil {
		_ = roomCancel()
	}
	if queueCancel != nil {
		_ = queueCancel()
	}
	m.dedup.Close()
}

// loadPending seeds the queue from the REST endpoint. It runs at most once
// per process; a failed fetch is reported in the transcript and not retried.
func (m *Manager) loadPending(ctx context.Context) {
	m.mu.Lock()
	if m.pending == nil || m.pendingLoaded {
		m.mu.Unlock()
		return
	}
	m.pendingLoaded = true
	m.mu.Unlock()

	reqs, err := m.pending(ctx)
	if err != nil {
		m.qlog.Warn("pending fetch failed", "error", err)
		m.appendLine(RoleSystem, "Failed to load pending requests: "+err.Error())
		return
	}

	items := make([]QueueItem, 0, len(reqs))
	for _, r := range reqs {
		items = append(items, QueueItem{
			RoomID:       r.RoomID,
			UserName:     displayName(r.Nickname),
			UserNickname: r.Nickname,
		})
	}

	m.mu.Lock()
	added := m.queue.Merge(items, func(roomID string) bool {
		_, ok := m.accepted[roomID]
		return ok
	})
	m.mu.Unlock()
	m.qlog.Info("pending requests merged", "fetched", len(items), "added", added)
}

// handleQueueFrame processes one frame from the shared queue topic. It runs
// on the broker read loop.
func (m *Manager) handleQueueFrame(body json.RawMessage) {
	ev, err := parseQueueEvent(body)
	if err != nil {
		m.qlog.Warn("malformed queue event", "error", err, "body", string(body))
		return
	}
	if ev.RoomID == "" {
		m.qlog.Debug("queue event without roomId", "event", ev.Event)
		return
	}
	if m.dedup.Seen(ev.Fingerprint()) {
		m.qlog.Debug("duplicate queue event dropped", "event", ev.Event, "room_id", ev.RoomID)
		return
	}

	switch ev.Event {
	case queueEventHandoffRequested:
		m.onHandoffRequested(ev)
	case queueEventUserDisconnected:
		m.onUserDisconnected(ev.RoomID, "", false)
	default:
		m.qlog.Debug("unknown queue event", "event", ev.Event, "room_id", ev.RoomID)
	}
}

func (m *Manager) onHandoffRequested(ev QueueEvent) {
	if m.triage.ShouldIgnore(ev) {
		m.qlog.Info("hand-off request ignored by triage rule", "room_id", ev.RoomID)
		return
	}

	m.mu.Lock()
	if _, ok := m.accepted[ev.RoomID]; ok {
		m.mu.Unlock()
		m.qlog.Debug("hand-off request for already-accepted room ignored", "room_id", ev.RoomID)
		return
	}
	added := m.queue.Upsert(QueueItem{
		RoomID:       ev.RoomID,
		UserName:     displayName(ev.UserName),
		UserNickname: ev.UserNickname,
	})
	m.mu.Unlock()

	if added {
		m.qlog.Info("hand-off requested", "room_id", ev.RoomID, "user", ev.UserName)
	} else {
		m.qlog.Debug("hand-off request refreshed", "room_id", ev.RoomID)
	}
}

// onUserDisconnected applies a user departure: the room leaves the queue and
// the accepted set, and if it was the active room the session drops back to
// idle. message, when non-empty, is appended as the departure notice;
// withLine appends the default notice for the active room.
func (m *Manager) onUserDisconnected(roomID, message string, withLine bool) {
	m.mu.Lock()
	m.queue.Remove(roomID)
	delete(m.accepted, roomID)

	var cancel func() error
	var line *Line
	if m.activeRoom == roomID {
		m.userConnected = false
		m.activeRoom = ""
		cancel = m.roomCancel
		m.roomCancel = nil
		if withLine {
			if message == "" {
				message = "User disconnected."
			}
			l := m.transcript.Append(RoleSystem, message)
			line = &l
		}
	}
	m.persistLocked()
	m.mu.Unlock()

	if cancel != nil {
		_ = cancel()
	}
	if line != nil {
		m.emit(*line)
	}
	m.qlog.Info("user disconnected", "room_id", roomID)
}

// Accept claims a queued hand-off request: it signals the broker, moves the
// room from the queue to the accepted set, makes it the active room and
// subscribes to its topic. The user is assumed connected until the room
// says otherwise.
func (m *Manager) Accept(roomID string) error {
	if !m.transport.Connected() {
		m.qlog.Warn("accept while disconnected", "room_id", roomID)
		return ErrTransportNotConnected
	}

	m.mu.Lock()
	item, ok := m.queue.Get(roomID)
	m.mu.Unlock()
	if !ok {
		return ErrUnknownRoom
	}

	if err := m.transport.Send(handoffAcceptDest, acceptSignal{RoomID: roomID}); err != nil {
		m.appendLine(RoleSystem, "Failed to accept the request: "+err.Error())
		return fmt.Errorf("send accept signal: %w", err)
	}

	m.mu.Lock()
	m.accepted[roomID] = struct{}{}
	m.queue.Remove(roomID)
	m.activeRoom = roomID
	m.userConnected = true
	line := m.transcript.Append(RoleSystem,
		fmt.Sprintf("Connecting to %s (%s)...", item.UserName, displayName(item.UserNickname)))
	m.persistLocked()
	m.mu.Unlock()
	m.emit(line)

	if err := m.subscribeRoom(roomID); err != nil {
		m.appendLine(RoleSystem, "Failed to join room "+roomID+": "+err.Error())
		return fmt.Errorf("subscribe room %s: %w", roomID, err)
	}
	m.qlog.Info("hand-off accepted", "room_id", roomID, "user", item.UserName)
	return nil
}

// subscribeRoom attaches the room-topic handler, tearing down any previous
// room subscription first.
func (m *Manager) subscribeRoom(roomID string) error {
	m.mu.Lock()
	old := m.roomCancel
	m.roomCancel = nil
	m.mu.Unlock()
	if old != nil {
		_ = old()
	}

	cancel, err := m.transport.Subscribe(RoomTopic(roomID), func(body json.RawMessage) {
		m.handleRoomFrame(roomID, body)
	})
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.roomCancel = cancel
	m.mu.Unlock()
	return nil
}

// handleRoomFrame processes one frame from the active room topic. It runs
// on the broker read loop.
func (m *Manager) handleRoomFrame(roomID string, body json.RawMessage) {
	var msg RoomMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		m.rlog.Warn("malformed room message", "room_id", roomID, "error", err)
		m.appendLine(RoleRaw, string(body))
		return
	}
	if m.dedup.Seen(msg.Fingerprint(roomID)) {
		m.rlog.Debug("duplicate room message dropped", "room_id", roomID)
		return
	}

	switch msg.Classify() {
	case RoomEventSystemText:
		text := msg.BodyText()
		m.appendLine(RoleSystem, text)
		if containsAny(text, m.disconnectPhrases) {
			m.onUserDisconnected(roomID, "", false)
		}

	case RoomEventHandoffAccepted:
		name := displayName(msg.UserName)
		m.setUserConnected(true)
		m.appendLine(RoleSystem,
			fmt.Sprintf("Connected with %s (%s).", name, displayName(msg.UserNickname)))

	case RoomEventUserDisconnected:
		m.onUserDisconnected(roomID, msg.BodyText(), true)

	case RoomEventAgentDisconnected:
		// Echo of our own disconnect signal; local teardown already ran.
		m.setUserConnected(false)

	case RoomEventChat:
		m.appendChat(msg)

	case RoomEventEmpty:
		m.rlog.Debug("empty room message ignored", "room_id", roomID, "type", msg.Type)
	}
}

func (m *Manager) appendChat(msg RoomMessage) {
	var role Role
	switch {
	case msg.Role == "":
		role = RoleUnknown
	case strings.EqualFold(msg.Role, m.agentRole):
		role = RoleAgent
	case msg.Role == wireRoleUser:
		role = RoleUser
	default:
		role = Role(msg.Role)
	}
	m.appendLine(role, msg.BodyText())
}

// SendText sends a chat line to the active room. The line is not echoed
// locally; the broker broadcast delivers it back on the room topic.
func (m *Manager) SendText(text string) error {
	text = strings.TrimSpace(text)

	if !m.transport.Connected() {
		return ErrTransportNotConnected
	}
	m.mu.Lock()
	activeRoom := m.activeRoom
	userConnected := m.userConnected
	m.mu.Unlock()

	if activeRoom == "" {
		return ErrNoActiveRoom
	}
	if text == "" {
		return ErrEmptyMessage
	}
	if !userConnected {
		return ErrUserOffline
	}
	if !m.limiter.Allow() {
		m.rlog.Warn("send rate limit exceeded", "room_id", activeRoom)
		return ErrRateLimited
	}

	err := m.transport.Send(roomSendDest(activeRoom), chatMessage{
		Type: msgTypeText,
		Role: m.agentRole,
		Text: text,
	})
	if err != nil {
		m.appendLine(RoleSystem, "Failed to send the message: "+err.Error())
		return fmt.Errorf("send chat message: %w", err)
	}
	return nil
}

// DisconnectRoom leaves the active room: it signals the broker, removes the
// room from the queue and the accepted set, and drops back to idle.
func (m *Manager) DisconnectRoom() error {
	m.mu.Lock()
	roomID := m.activeRoom
	m.mu.Unlock()
	if roomID == "" {
		return ErrNoActiveRoom
	}
	if !m.transport.Connected() {
		return ErrTransportNotConnected
	}

	if err := m.transport.Send(agentDisconnectDest, disconnectSignal{RoomID: roomID}); err != nil {
		m.appendLine(RoleSystem, "Failed to signal disconnect: "+err.Error())
		return fmt.Errorf("send disconnect signal: %w", err)
	}

	m.mu.Lock()
	m.queue.Remove(roomID)
	delete(m.accepted, roomID)
	m.activeRoom = ""
	m.userConnected = false
	cancel := m.roomCancel
	m.roomCancel = nil
	line := m.transcript.Append(RoleSystem, "You left the session.")
	m.persistLocked()
	m.mu.Unlock()

	if cancel != nil {
		_ = cancel()
	}
	m.emit(line)
	m.rlog.Info("agent disconnected from room", "room_id", roomID)
	return nil
}

// ClearTranscript wipes the session log. The caller is responsible for any
// confirmation step.
func (m *Manager) ClearTranscript() {
	m.mu.Lock()
	m.transcript.Clear()
	m.persistLocked()
	m.mu.Unlock()
}

// setUserConnected flips the reachability flag and persists.
func (m *Manager) setUserConnected(connected bool) {
	m.mu.Lock()
	if m.userConnected != connected {
		m.userConnected = connected
		m.persistLocked()
	}
	m.mu.Unlock()
}

// appendLine appends a transcript line, persists and notifies the console.
func (m *Manager) appendLine(role Role, text string) {
	m.mu.Lock()
	line := m.transcript.Append(role, text)
	m.persistLocked()
	m.mu.Unlock()
	m.emit(line)
}

// persistLocked mirrors the session to disk. Callers hold m.mu. Failures
// are logged; the in-memory session stays authoritative.
func (m *Manager) persistLocked() {
	rooms := make([]string, 0, len(m.accepted))
	for room := range m.accepted {
		rooms = append(rooms, room)
	}
	sort.Strings(rooms)

	snap := Snapshot{
		ActiveRoom:    m.activeRoom,
		UserConnected: m.userConnected,
		AcceptedRooms: rooms,
		Transcript:    m.transcript.Lines(),
	}
	if err := m.store.Save(snap); err != nil {
		logging.Store().Error("snapshot save failed", "error", err)
	}
}

func (m *Manager) emit(line Line) {
	if m.onLine != nil {
		m.onLine(line)
	}
}

// ActiveRoom returns the currently joined room id, or "".
func (m *Manager) ActiveRoom() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeRoom
}

// UserConnected reports whether the user in the active room is reachable.
func (m *Manager) UserConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.userConnected
}

// QueueItems returns the pending hand-off requests in arrival order.
func (m *Manager) QueueItems() []QueueItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queue.Items()
}

// AcceptedRooms returns the accepted room ids, sorted.
func (m *Manager) AcceptedRooms() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	rooms := make([]string, 0, len(m.accepted))
	for room := range m.accepted {
		rooms = append(rooms, room)
	}
	sort.Strings(rooms)
	return rooms
}

// Lines returns a copy of the transcript.
func (m *Manager) Lines() []Line {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transcript.Lines()
}

// Connected reports the transport state.
func (m *Manager) Connected() bool {
	return m.transport.Connected()
}
