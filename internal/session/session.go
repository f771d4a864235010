// Package session ties the connection manager to the game state: inbound
// frames are normalized and reduced into a new state, recorded on the
// timeline and traced in the diagnostic log. User actions go out through the
// same connection and never touch game state locally.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"
	"github.com/lox/liarspoker/internal/client"
	"github.com/lox/liarspoker/internal/diag"
	"github.com/lox/liarspoker/internal/game"
	"github.com/lox/liarspoker/internal/protocol"
	"github.com/lox/liarspoker/internal/timeline"
)

// DefaultRoomCreateTimeout bounds how long a create_room may go unanswered.
const DefaultRoomCreateTimeout = 5 * time.Second

// subscriptionKey identifies the session's handlers on the transport, so a
// session rebuilt on the same manager replaces rather than adds handlers.
const subscriptionKey = "session"

var (
	ErrClosed           = errors.New("session closed")
	ErrRoomCreateActive = errors.New("room creation already in progress")
)

// Transport is the part of the connection manager a session needs.
type Transport interface {
	Send(event string, payload interface{}) error
	SubscribeKeyed(key, event string, handler client.Handler) (unsubscribe func())
}

// Notice is a transient message for the user, such as a rejected action.
type Notice struct {
	Message string
	At      time.Time
}

// Options configures a Session
type Options struct {
	Transport         Transport
	Clock             quartz.Clock
	Logger            *log.Logger
	Diag              *diag.Logger
	Timeline          *timeline.Log
	RoomCreateTimeout time.Duration
}

// Session is one client's view of the game server.
type Session struct {
	transport   Transport
	clock       quartz.Clock
	logger      *log.Logger
	diag        *diag.Logger
	timeline    *timeline.Log
	roomTimeout time.Duration

	state atomic.Pointer[game.State]

	mu           sync.Mutex
	rooms        []protocol.Room
	creatingRoom bool
	roomTimer    *quartz.Timer
	lastRoom     *protocol.RoomCreated
	unsubscribe  []func()
	closed       bool
	closeOnce    sync.Once

	changes     listeners[*game.State]
	notices     listeners[Notice]
	roomUpdates listeners[[]protocol.Room]
	roomCreated listeners[protocol.RoomCreated]
}

// New creates a session and subscribes it to every inbound event.
func New(opts Options) (*Session, error) {
	if opts.Transport == nil {
		return nil, errors.New("session needs a transport")
	}
	if opts.Clock == nil {
		opts.Clock = quartz.NewReal()
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.Diag == nil {
		opts.Diag = diag.New(diag.DefaultCapacity, opts.Clock)
	}
	if opts.Timeline == nil {
		opts.Timeline = timeline.New(timeline.DefaultRetention, opts.Clock)
	}
	if opts.RoomCreateTimeout <= 0 {
		opts.RoomCreateTimeout = DefaultRoomCreateTimeout
	}

	s := &Session{
		transport:   opts.Transport,
		clock:       opts.Clock,
		logger:      opts.Logger.WithPrefix("session"),
		diag:        opts.Diag,
		timeline:    opts.Timeline,
		roomTimeout: opts.RoomCreateTimeout,
	}
	s.state.Store(game.NewState())

	for _, event := range protocol.InboundEvents {
		s.unsubscribe = append(s.unsubscribe,
			s.transport.SubscribeKeyed(subscriptionKey, event, s.handleFrame))
	}
	return s, nil
}

// State returns the current game state. The value must not be modified.
func (s *Session) State() *game.State {
	return s.state.Load()
}

// Timeline returns the session's event timeline.
func (s *Session) Timeline() *timeline.Log {
	return s.timeline
}

// Diagnostics returns the session's diagnostic log.
func (s *Session) Diagnostics() *diag.Logger {
	return s.diag
}

// TimelineLines renders the timeline with the current player names.
func (s *Session) TimelineLines() []string {
	return s.timeline.Lines(timeline.NamesFrom(s.State()))
}

// Rooms returns the last room list received from the server.
func (s *Session) Rooms() []protocol.Room {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]protocol.Room(nil), s.rooms...)
}

// CreatingRoom reports whether a create_room request awaits an answer.
func (s *Session) CreatingRoom() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creatingRoom
}

// LastRoomCreated returns the most recent room_created acknowledgment.
func (s *Session) LastRoomCreated() (protocol.RoomCreated, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastRoom == nil {
		return protocol.RoomCreated{}, false
	}
	return *s.lastRoom, true
}

// OnChange registers fn to receive every new state.
func (s *Session) OnChange(fn func(*game.State)) (remove func()) { return s.changes.add(fn) }

// OnNotice registers fn for user facing notices.
func (s *Session) OnNotice(fn func(Notice)) (remove func()) { return s.notices.add(fn) }

// OnRooms registers fn for room list replacements.
func (s *Session) OnRooms(fn func([]protocol.Room)) (remove func()) { return s.roomUpdates.add(fn) }

// OnRoomCreated registers fn for room creation acknowledgments.
func (s *Session) OnRoomCreated(fn func(protocol.RoomCreated)) (remove func()) {
	return s.roomCreated.add(fn)
}

// Close unsubscribes from the transport, stops pending timers and drops
// all listeners. It is safe to call more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		unsubscribe := s.unsubscribe
		s.unsubscribe = nil
		s.stopRoomTimerLocked()
		s.creatingRoom = false
		s.mu.Unlock()

		for _, fn := range unsubscribe {
			fn()
		}
		s.changes.clear()
		s.notices.clear()
		s.roomUpdates.clear()
		s.roomCreated.clear()
		s.logger.Debug("Session closed")
	})
	return nil
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type inboundTrace struct {
	Event   string          `json:"event"`
	Kind    string          `json:"kind,omitempty"`
	Text    string          `json:"text,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Ignored bool            `json:"ignored,omitempty"`
}

type errorTrace struct {
	Event string `json:"event,omitempty"`
	Kind  string `json:"kind,omitempty"`
	Error string `json:"error"`
	Raw   string `json:"raw,omitempty"`
}

// handleFrame processes one inbound frame. Every frame leaves exactly one
// inbound_event or error entry in the diagnostic log, followed by a
// state_change entry when the game state moved.
func (s *Session) handleFrame(f protocol.Frame) {
	if s.isClosed() {
		return
	}

	env := protocol.EnvelopeFromFrame(f)
	switch f.Event {
	case protocol.EventError, protocol.EventRoomCreated, protocol.EventRoomsList,
		protocol.EventRoomsUpdate, protocol.EventMessage:
		s.handleAck(f, env)
		return
	}

	ev, err := game.Normalize(env)
	if err != nil {
		s.traceError(f.Event, "", err, f.Data)
		return
	}
	if ev == nil {
		s.logger.Debug("Ignoring unrecognized event", "event", f.Event)
		s.diag.Log(diag.KindInboundEvent, inboundTrace{Event: f.Event, Text: env.Text, Payload: validJSON(env.Payload), Ignored: true})
		return
	}

	prev := s.state.Load()
	actor := actorFor(prev, ev)
	next, err := game.Reduce(prev, ev)
	if err != nil {
		s.traceError(f.Event, string(ev.Kind()), err, f.Data)
		return
	}

	s.diag.Log(diag.KindInboundEvent, inboundTrace{Event: f.Event, Kind: string(ev.Kind()), Text: env.Text, Payload: validJSON(env.Payload)})
	if next == prev {
		return
	}

	s.state.Store(next)
	s.diag.Log(diag.KindStateChange, summarize(ev.Kind(), next))
	s.timeline.Append(ev, actor)
	s.changes.emit(next)
}

// actorFor attributes bets and checks to the player the server names, or
// failing that to the player whose turn it was before the event.
func actorFor(prev *game.State, ev game.Event) string {
	if id := game.Actor(ev); id != "" {
		return id
	}
	switch ev.(type) {
	case game.BetPlaced, game.Checked:
		if p, ok := prev.Snapshot.CurrentPlayer(); ok {
			return p.ID
		}
	}
	return ""
}

func (s *Session) handleAck(f protocol.Frame, env protocol.Envelope) {
	switch f.Event {
	case protocol.EventError:
		var msg protocol.ErrorMessage
		if err := decode(env.Payload, &msg); err != nil {
			s.traceError(f.Event, "", err, f.Data)
			s.clearInFlight()
			s.notify("The server rejected the request")
			return
		}
		s.diag.Log(diag.KindInboundEvent, inboundTrace{Event: f.Event, Payload: validJSON(env.Payload)})
		s.clearInFlight()
		message := msg.Message
		if message == "" {
			message = "The server rejected the request"
		}
		s.logger.Warn("Server error", "message", message)
		s.notify(message)

	case protocol.EventRoomCreated:
		var created protocol.RoomCreated
		if err := decode(env.Payload, &created); err != nil {
			s.traceError(f.Event, "", err, f.Data)
			return
		}
		s.diag.Log(diag.KindInboundEvent, inboundTrace{Event: f.Event, Payload: validJSON(env.Payload)})
		s.mu.Lock()
		s.creatingRoom = false
		s.stopRoomTimerLocked()
		s.lastRoom = &created
		s.mu.Unlock()
		s.logger.Info("Room created", "room_id", created.RoomID, "room_name", created.RoomName)
		s.roomCreated.emit(created)

	case protocol.EventRoomsList, protocol.EventRoomsUpdate:
		var list protocol.RoomsList
		if err := decode(env.Payload, &list); err != nil {
			s.traceError(f.Event, "", err, f.Data)
			return
		}
		s.diag.Log(diag.KindInboundEvent, inboundTrace{Event: f.Event, Payload: validJSON(env.Payload)})
		rooms := append([]protocol.Room{}, list.Rooms...)
		s.mu.Lock()
		s.rooms = rooms
		s.mu.Unlock()
		s.roomUpdates.emit(append([]protocol.Room(nil), rooms...))

	default:
		s.diag.Log(diag.KindInboundEvent, inboundTrace{Event: f.Event, Text: env.Text, Payload: validJSON(env.Payload)})
	}
}

func (s *Session) traceError(event, kind string, err error, raw json.RawMessage) {
	s.logger.Warn("Dropping event", "event", event, "error", err)
	s.diag.Log(diag.KindError, errorTrace{Event: event, Kind: kind, Error: err.Error(), Raw: string(raw)})
}

func (s *Session) notify(message string) {
	s.notices.emit(Notice{Message: message, At: s.clock.Now()})
}

func (s *Session) clearInFlight() {
	s.mu.Lock()
	s.creatingRoom = false
	s.stopRoomTimerLocked()
	s.mu.Unlock()
}

func (s *Session) stopRoomTimerLocked() {
	if s.roomTimer != nil {
		s.roomTimer.Stop()
		s.roomTimer = nil
	}
}

func decode(payload json.RawMessage, v interface{}) error {
	if len(payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}

func validJSON(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 || !json.Valid(raw) {
		return nil
	}
	return raw
}

type stateSummary struct {
	Event           string   `json:"event"`
	Players         []string `json:"players"`
	Turn            int      `json:"turn"`
	WaitingForReady bool     `json:"waiting_for_ready"`
	PlayersReady    []string `json:"players_ready,omitempty"`
	HandSize        int      `json:"hand_size"`
	DealInProgress  bool     `json:"deal_in_progress"`
	GameFinished    bool     `json:"game_finished"`
	LastBet         string   `json:"last_bet,omitempty"`
}

func summarize(kind game.EventKind, st *game.State) stateSummary {
	sum := stateSummary{
		Event:           string(kind),
		Players:         []string{},
		Turn:            st.Snapshot.CurrentTurnIndex,
		WaitingForReady: st.Gate.WaitingForReady,
		PlayersReady:    st.Gate.PlayersReady.IDs(),
		HandSize:        len(st.Hand),
		DealInProgress:  st.DealInProgress,
		GameFinished:    st.GameFinished,
		LastBet:         st.LastBet,
	}
	for _, p := range st.Players() {
		sum.Players = append(sum.Players, fmt.Sprintf("%s:%d", p.ID, p.HandCount))
	}
	return sum
}
