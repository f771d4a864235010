package session

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"
	"github.com/lox/liarspoker/internal/client"
	"github.com/lox/liarspoker/internal/diag"
	"github.com/lox/liarspoker/internal/game"
	"github.com/lox/liarspoker/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sentFrame struct {
	Event string
	Data  string
}

type fakeTransport struct {
	mu       sync.Mutex
	handlers map[string]client.Handler
	sent     []sentFrame
	sendErr  error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{handlers: make(map[string]client.Handler)}
}

func (f *fakeTransport) SubscribeKeyed(key, event string, h client.Handler) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[key+"/"+event] = h
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.handlers, key+"/"+event)
	}
}

func (f *fakeTransport) Send(event string, payload interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	frame := sentFrame{Event: event}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		frame.Data = string(data)
	}
	f.sent = append(f.sent, frame)
	return nil
}

func (f *fakeTransport) deliver(event, data string) {
	f.mu.Lock()
	h := f.handlers[subscriptionKey+"/"+event]
	f.mu.Unlock()
	if h != nil {
		h(protocol.Frame{Event: event, Data: json.RawMessage(data)})
	}
}

func (f *fakeTransport) gameUpdate(payload string) {
	f.deliver(protocol.EventGameUpdate, `{"text":"","json":`+payload+`}`)
}

func (f *fakeTransport) frames() []sentFrame {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentFrame(nil), f.sent...)
}

func (f *fakeTransport) subscriptions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.handlers)
}

func newTestSession(t *testing.T, clock quartz.Clock) (*Session, *fakeTransport) {
	t.Helper()
	tr := newFakeTransport()
	s, err := New(Options{
		Transport: tr,
		Clock:     clock,
		Logger:    log.NewWithOptions(io.Discard, log.Options{Level: log.ErrorLevel}),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, tr
}

func startGame(tr *fakeTransport) {
	tr.deliver(protocol.EventConnected, `{"sid":"P1"}`)
	tr.deliver(protocol.EventGameStart, `{"text":"Game on","json":{"players":[{"id":"P1","name":"Ann"},{"id":"P2","name":"Bob"},{"id":"P3","name":"Cat"}],"room_name":"den"}}`)
}

func kinds(entries []diag.Entry) []diag.Kind {
	out := make([]diag.Kind, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Kind)
	}
	return out
}

func TestNewRequiresTransport(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}

func TestSubscribesToEveryInboundEvent(t *testing.T) {
	s, tr := newTestSession(t, quartz.NewMock(t))
	assert.Equal(t, len(protocol.InboundEvents), tr.subscriptions())

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.Zero(t, tr.subscriptions())
}

func TestInboundFramesDriveState(t *testing.T) {
	s, tr := newTestSession(t, quartz.NewMock(t))

	var changes []*game.State
	s.OnChange(func(st *game.State) { changes = append(changes, st) })

	startGame(tr)
	st := s.State()
	require.Len(t, st.Players(), 3)
	assert.Equal(t, "P1", st.SelfID)
	assert.True(t, st.IsMyTurn())
	assert.Len(t, changes, 2)

	tr.gameUpdate(`{"action":"bet","player_sid":"P1","last_bet":"pair_K","player_turn_index":1,"players":[{"id":"P1"},{"id":"P2"},{"id":"P3"}]}`)
	// No player_sid: the check is attributed to P2, whose turn it was.
	tr.gameUpdate(`{"action":"check","player_turn_index":2,"players":[{"id":"P1"},{"id":"P2"},{"id":"P3"}]}`)
	tr.gameUpdate(`{"action":"deal_result","player_sid":"P1","result":"Ann was bluffing","players":[{"id":"P1","hand_count":2},{"id":"P2"},{"id":"P3"}]}`)
	tr.gameUpdate(`{"action":"new_deal","player_turn_index":0,"players":[{"id":"P1","hand_count":2},{"id":"P2"},{"id":"P3"}],"hand":[{"rank":"K","suit":"♠"},{"rank":"9","suit":"♥"}]}`)

	st = s.State()
	assert.Equal(t, "", st.LastBet)
	assert.Len(t, st.Hand, 2)
	assert.Equal(t, 2, st.Players()[0].HandCount)
	assert.Equal(t, "Ann", st.Players()[0].Name, "names carry over by id")
	assert.Same(t, st, changes[len(changes)-1])

	assert.Equal(t, []string{
		"Game started in den with You, Bob, Cat",
		"You bet pair of Kings",
		"Bob checks",
		"Ann was bluffing",
		"New deal, you hold 2 cards",
	}, s.TimelineLines())

	// connected and game_start have no bookkeeping of their own: every frame
	// is one inbound entry and one state change.
	entries := s.Diagnostics().Entries()
	require.Len(t, entries, 12)
	for i := 0; i < len(entries); i += 2 {
		assert.Equal(t, diag.KindInboundEvent, entries[i].Kind)
		assert.Equal(t, diag.KindStateChange, entries[i+1].Kind)
	}
}

// A malformed bet adds one diagnostic entry and nothing else.
func TestMalformedEventOnlyReachesDiagnostics(t *testing.T) {
	s, tr := newTestSession(t, quartz.NewMock(t))
	startGame(tr)

	before := s.State()
	count := s.Diagnostics().Count()
	records := s.Timeline().Len()
	notified := 0
	s.OnChange(func(*game.State) { notified++ })
	s.OnNotice(func(Notice) { notified++ })

	tr.gameUpdate(`{"action":"bet","player_sid":"P1","last_bet":"pair_K"}`)

	assert.Same(t, before, s.State())
	assert.Equal(t, count+1, s.Diagnostics().Count())
	assert.Equal(t, records, s.Timeline().Len())
	assert.Zero(t, notified)

	last := s.Diagnostics().Entries()[count]
	assert.Equal(t, diag.KindError, last.Kind)
	assert.Contains(t, string(last.Payload), "malformed bet event: missing players")
}

func TestUndecodablePayloadIsDropped(t *testing.T) {
	s, tr := newTestSession(t, quartz.NewMock(t))
	startGame(tr)
	before := s.State()
	count := s.Diagnostics().Count()

	tr.gameUpdate(`{"action":"bet","player_turn_index":"two"}`)

	assert.Same(t, before, s.State())
	assert.Equal(t, count+1, s.Diagnostics().Count())
	assert.Equal(t, diag.KindError, s.Diagnostics().Entries()[count].Kind)
}

func TestUnknownActionIsTolerated(t *testing.T) {
	s, tr := newTestSession(t, quartz.NewMock(t))
	startGame(tr)
	before := s.State()
	count := s.Diagnostics().Count()

	tr.gameUpdate(`{"action":"shuffle_animation","players":[]}`)
	tr.deliver("spectator_joined", `{}`)

	assert.Same(t, before, s.State())
	assert.Equal(t, count+1, s.Diagnostics().Count(), "only subscribed events reach the session")
	assert.Contains(t, string(s.Diagnostics().Entries()[count].Payload), `"ignored":true`)
}

func TestLateBetAfterGameEndIsRejected(t *testing.T) {
	s, tr := newTestSession(t, quartz.NewMock(t))
	startGame(tr)
	tr.deliver(protocol.EventGameEnd, `{"text":"Bob wins","json":{"result":"Bob wins"}}`)
	require.True(t, s.State().GameFinished)

	before := s.State()
	records := s.Timeline().Len()
	tr.gameUpdate(`{"action":"bet","player_sid":"P2","last_bet":"pair_A","players":[{"id":"P1"},{"id":"P2"},{"id":"P3"}]}`)

	assert.Same(t, before, s.State())
	assert.Equal(t, records, s.Timeline().Len())
	entries := s.Diagnostics().Entries()
	assert.Equal(t, diag.KindError, entries[len(entries)-1].Kind)
	assert.Contains(t, string(entries[len(entries)-1].Payload), game.ErrGameFinished.Error())
}

// A client reconnecting into a ready handshake it already joined must never
// publish a state with the ready control enabled.
func TestReconnectMidGateFirstStateIsWaiting(t *testing.T) {
	s, tr := newTestSession(t, quartz.NewMock(t))

	var controls []game.Control
	s.OnChange(func(st *game.State) {
		if st.Gate.WaitingForReady {
			controls = append(controls, game.NextDealControl(st))
		}
	})

	tr.deliver(protocol.EventConnected, `{"sid":"P1"}`)
	tr.gameUpdate(`{"action":"waiting_for_ready","players_ready":["P1"],"players":[{"id":"P1"},{"id":"P2"}]}`)

	require.Len(t, controls, 1)
	assert.True(t, controls[0].Visible)
	assert.False(t, controls[0].Enabled)
	assert.Equal(t, game.LabelWaiting, controls[0].Label)
}

func TestReadyDoesNotPredictGate(t *testing.T) {
	s, tr := newTestSession(t, quartz.NewMock(t))
	tr.deliver(protocol.EventConnected, `{"sid":"P1"}`)
	tr.gameUpdate(`{"action":"waiting_for_ready","players_ready":[],"players":[{"id":"P1"},{"id":"P2"}]}`)

	before := s.State()
	require.NoError(t, s.ReadyForNextDeal())
	require.NoError(t, s.ReadyForNextDeal())
	assert.Same(t, before, s.State())
	assert.True(t, game.NextDealControl(s.State()).Enabled)

	tr.gameUpdate(`{"action":"player_ready","player_sid":"P1","players_ready":["P1"]}`)
	assert.False(t, game.NextDealControl(s.State()).Enabled)
}

func TestActionsSendFramesAndTrace(t *testing.T) {
	s, tr := newTestSession(t, quartz.NewMock(t))

	require.NoError(t, s.ListRooms())
	require.NoError(t, s.Bet("two_pair_A_K"))
	require.NoError(t, s.Bet("check"))
	require.NoError(t, s.Check())
	require.NoError(t, s.Play())
	require.NoError(t, s.ReadyForNextDeal())
	assert.Error(t, s.Bet("  "))

	assert.Equal(t, []sentFrame{
		{Event: protocol.EventGetRooms},
		{Event: protocol.EventBet, Data: `{"bet":"two_pair_A_K"}`},
		{Event: protocol.EventBet, Data: `{"bet":"check"}`},
		{Event: protocol.EventBet, Data: `{"bet":"check"}`},
		{Event: protocol.EventPlay},
		{Event: protocol.EventReadyForNextDeal},
	}, tr.frames())

	entries := s.Diagnostics().Entries()
	require.Len(t, entries, 6)
	for _, e := range entries {
		assert.Equal(t, diag.KindUserAction, e.Kind)
	}
	assert.JSONEq(t, `{"action":"check","bet":"check"}`, string(entries[2].Payload))
}

func TestActionWhileDisconnected(t *testing.T) {
	s, tr := newTestSession(t, quartz.NewMock(t))
	tr.sendErr = client.ErrNotConnected

	err := s.Play()
	assert.ErrorIs(t, err, client.ErrNotConnected)

	err = s.CreateRoom("ann")
	assert.ErrorIs(t, err, client.ErrNotConnected)
	assert.False(t, s.CreatingRoom())
}

func TestRoomCreationTimeout(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	mClock := quartz.NewMock(t)
	s, tr := newTestSession(t, mClock)

	notices := make(chan Notice, 4)
	s.OnNotice(func(n Notice) { notices <- n })

	require.NoError(t, s.CreateRoom("ann"))
	assert.True(t, s.CreatingRoom())
	assert.ErrorIs(t, s.CreateRoom("ann"), ErrRoomCreateActive)
	assert.Equal(t, []sentFrame{{Event: protocol.EventCreateRoom, Data: `{"username":"ann"}`}}, tr.frames())

	mClock.Advance(DefaultRoomCreateTimeout).MustWait(ctx)

	select {
	case n := <-notices:
		assert.Contains(t, n.Message, "timed out")
	case <-ctx.Done():
		t.Fatal("no timeout notice")
	}
	assert.False(t, s.CreatingRoom())
	entries := s.Diagnostics().Entries()
	assert.Equal(t, diag.KindError, entries[len(entries)-1].Kind)
}

func TestRoomCreatedClearsInFlight(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	mClock := quartz.NewMock(t)
	s, tr := newTestSession(t, mClock)

	var created []protocol.RoomCreated
	s.OnRoomCreated(func(rc protocol.RoomCreated) { created = append(created, rc) })
	notices := 0
	s.OnNotice(func(Notice) { notices++ })

	require.NoError(t, s.CreateRoom("ann"))
	tr.deliver(protocol.EventRoomCreated, `{"roomId":"r1","roomName":"den"}`)

	assert.False(t, s.CreatingRoom())
	assert.Equal(t, []protocol.RoomCreated{{RoomID: "r1", RoomName: "den"}}, created)
	last, ok := s.LastRoomCreated()
	require.True(t, ok)
	assert.Equal(t, "den", last.RoomName)

	mClock.Advance(DefaultRoomCreateTimeout).MustWait(ctx)
	assert.Zero(t, notices, "stopped timer must not fire")
}

func TestErrorRaisesOneNotice(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	mClock := quartz.NewMock(t)
	s, tr := newTestSession(t, mClock)

	var notices []Notice
	s.OnNotice(func(n Notice) { notices = append(notices, n) })

	require.NoError(t, s.CreateRoom("ann"))
	before := s.State()
	tr.deliver(protocol.EventError, `{"message":"Room limit reached"}`)

	require.Len(t, notices, 1)
	assert.Equal(t, "Room limit reached", notices[0].Message)
	assert.False(t, s.CreatingRoom())
	assert.Same(t, before, s.State())

	mClock.Advance(DefaultRoomCreateTimeout).MustWait(ctx)
	assert.Len(t, notices, 1)

	tr.deliver(protocol.EventError, `{}`)
	require.Len(t, notices, 2)
	assert.Equal(t, "The server rejected the request", notices[1].Message)
}

func TestRoomsListReplacesCache(t *testing.T) {
	s, tr := newTestSession(t, quartz.NewMock(t))

	var updates [][]protocol.Room
	s.OnRooms(func(r []protocol.Room) { updates = append(updates, r) })

	tr.deliver(protocol.EventRoomsList, `{"rooms":[{"id":"r1","name":"den","player_count":2},{"id":"r2","name":"pit"}]}`)
	require.Len(t, s.Rooms(), 2)

	tr.deliver(protocol.EventRoomsUpdate, `{"rooms":[{"id":"r2","name":"pit","started":true}]}`)
	assert.Equal(t, []protocol.Room{{ID: "r2", Name: "pit", Started: true}}, s.Rooms())
	assert.Len(t, updates, 2)

	tr.deliver(protocol.EventRoomsUpdate, `{"rooms":[]}`)
	assert.Empty(t, s.Rooms())

	count := s.Diagnostics().Count()
	tr.deliver(protocol.EventRoomsUpdate, `{"rooms":"none"}`)
	assert.Equal(t, count+1, s.Diagnostics().Count())
	assert.Empty(t, s.Rooms())
}

func TestCloseStopsTimersAndListeners(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	mClock := quartz.NewMock(t)
	s, tr := newTestSession(t, mClock)

	notices := 0
	s.OnNotice(func(Notice) { notices++ })
	require.NoError(t, s.CreateRoom("ann"))

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	mClock.Advance(DefaultRoomCreateTimeout).MustWait(ctx)
	assert.Zero(t, notices)
	assert.False(t, s.CreatingRoom())
	assert.Zero(t, tr.subscriptions())
	assert.ErrorIs(t, s.Play(), ErrClosed)
	assert.ErrorIs(t, s.CreateRoom("ann"), ErrClosed)

	// A frame already in flight when the session closed is ignored.
	before := s.State()
	startGame(tr)
	assert.Same(t, before, s.State())
}

func TestDiagnosticKindsForAcks(t *testing.T) {
	s, tr := newTestSession(t, quartz.NewMock(t))
	tr.deliver(protocol.EventMessage, `{"text":"Welcome","json":null}`)
	tr.deliver(protocol.EventRoomCreated, `{"roomId":"r1","roomName":"den"}`)
	tr.deliver(protocol.EventRoomCreated, `[1,2]`)

	assert.Equal(t, []diag.Kind{diag.KindInboundEvent, diag.KindInboundEvent, diag.KindError},
		kinds(s.Diagnostics().Entries()))
}
