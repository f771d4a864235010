package game

import (
	"github.com/lox/liarspoker/internal/protocol"
)

// EventKind identifies a domain event
type EventKind string

// EventKind constants for the closed set of domain events the client reacts to
const (
	KindConnected        EventKind = "connected"
	KindGameStart        EventKind = "game_start"
	KindWaitingForReady  EventKind = "waiting_for_ready"
	KindPlayerReady      EventKind = "player_ready"
	KindNewDeal          EventKind = "new_deal"
	KindBet              EventKind = "bet"
	KindCheck            EventKind = "check"
	KindDealResult       EventKind = "deal_result"
	KindPlayerEliminated EventKind = "player_eliminated"
	KindGameEnd          EventKind = "game_end"
)

// String returns the string representation of the event kind
func (k EventKind) String() string {
	return string(k)
}

// Event is a normalized inbound server event.
type Event interface {
	Kind() EventKind
	// Message is the server's human readable line, possibly empty.
	Message() string
	event()
}

// Seat is a normalized player entry from a server payload. HandCount and
// Active are nil when the server omitted them.
type Seat struct {
	ID        string
	Name      string
	HandCount *int
	LastBet   string
	Active    *bool
}

type meta struct {
	Text string
}

func (m meta) Message() string { return m.Text }
func (meta) event()            {}

// Connected carries the session id assigned by the server.
type Connected struct {
	meta
	SID string
}

func (Connected) Kind() EventKind { return KindConnected }

// GameStarted starts a game. Players is nil when the roster was missing.
type GameStarted struct {
	meta
	Players  []Seat
	RoomName *string
}

func (GameStarted) Kind() EventKind { return KindGameStart }

// WaitingForReady opens the ready gate. PlayersReady may already contain
// players when the client joins a handshake in progress.
type WaitingForReady struct {
	meta
	PlayersReady []string
	Players      []Seat
}

func (WaitingForReady) Kind() EventKind { return KindWaitingForReady }

// PlayerReady carries the server's full set of ready players.
type PlayerReady struct {
	meta
	PlayerID     string
	PlayersReady []string
	Players      []Seat
}

func (PlayerReady) Kind() EventKind { return KindPlayerReady }

// NewDeal starts a deal and closes the ready gate.
type NewDeal struct {
	meta
	Hand           []protocol.Card
	Players        []Seat
	TurnIndex      *int
	DealInProgress *bool
	GameFinished   *bool
}

func (NewDeal) Kind() EventKind { return KindNewDeal }

// TurnUpdate is shared by bets and checks.
type TurnUpdate struct {
	meta
	PlayerID  string
	Players   []Seat
	TurnIndex *int
	LastBet   *string
}

// BetPlaced reports a bet by PlayerID.
type BetPlaced struct {
	TurnUpdate
}

func (BetPlaced) Kind() EventKind { return KindBet }

// Checked reports that PlayerID challenged the last bet.
type Checked struct {
	TurnUpdate
}

func (Checked) Kind() EventKind { return KindCheck }

// DealResult reports how a check was resolved. PlayerID is the player who
// lost the deal, when the server names one.
type DealResult struct {
	meta
	PlayerID  string
	Players   []Seat
	TurnIndex *int
	Result    *string
}

func (DealResult) Kind() EventKind { return KindDealResult }

// PlayerEliminated reports that PlayerID reached the maximum hand size.
type PlayerEliminated struct {
	meta
	PlayerID string
	Players  []Seat
}

func (PlayerEliminated) Kind() EventKind { return KindPlayerEliminated }

// GameEnded finishes the game.
type GameEnded struct {
	meta
	Result *string
}

func (GameEnded) Kind() EventKind { return KindGameEnd }

// Actor returns the player an event is about, if the server named one.
func Actor(ev Event) string {
	switch e := ev.(type) {
	case BetPlaced:
		return e.PlayerID
	case Checked:
		return e.PlayerID
	case PlayerReady:
		return e.PlayerID
	case DealResult:
		return e.PlayerID
	case PlayerEliminated:
		return e.PlayerID
	}
	return ""
}
