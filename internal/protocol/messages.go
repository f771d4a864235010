package protocol

import (
	"bytes"
	"encoding/json"
)

// Server -> Client events
const (
	EventConnected   = "connected"
	EventGameStart   = "game_start"
	EventGameUpdate  = "game_update"
	EventGameEnd     = "game_end"
	EventMessage     = "message"
	EventError       = "error"
	EventRoomCreated = "room_created"
	EventRoomsList   = "rooms_list"
	EventRoomsUpdate = "rooms_update"
)

// Client -> Server events
const (
	EventCreateRoom       = "create_room"
	EventGetRooms         = "get_rooms"
	EventBet              = "bet"
	EventPlay             = "play"
	EventReadyForNextDeal = "ready_for_next_deal"
)

// Nested game_update actions
const (
	ActionWaitingForReady  = "waiting_for_ready"
	ActionPlayerReady      = "player_ready"
	ActionNewDeal          = "new_deal"
	ActionBet              = "bet"
	ActionCheck            = "check"
	ActionDealResult       = "deal_result"
	ActionPlayerEliminated = "player_eliminated"
)

// CheckBet is the bet identifier sent to challenge the previous bet.
const CheckBet = "check"

// InboundEvents lists every server event the client listens for.
var InboundEvents = []string{
	EventConnected,
	EventGameStart,
	EventGameUpdate,
	EventGameEnd,
	EventMessage,
	EventError,
	EventRoomCreated,
	EventRoomsList,
	EventRoomsUpdate,
}

// Frame is the unit exchanged over the websocket in both directions.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Envelope is an inbound game message: a human readable line plus an
// optional structured payload.
type Envelope struct {
	Event   string
	Text    string
	Payload json.RawMessage
}

type envelopeData struct {
	Text string          `json:"text"`
	JSON json.RawMessage `json:"json"`
}

// EnvelopeFromFrame splits a frame into text and payload. Game events wrap
// their payload as {"text", "json"}; lifecycle and acknowledgment events
// carry the payload directly, in which case the whole data object is used.
func EnvelopeFromFrame(f Frame) Envelope {
	env := Envelope{Event: f.Event}
	data := bytes.TrimSpace(f.Data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return env
	}

	var wrapped envelopeData
	if err := json.Unmarshal(data, &wrapped); err == nil && (wrapped.JSON != nil || wrapped.Text != "") {
		env.Text = wrapped.Text
		if !bytes.Equal(bytes.TrimSpace(wrapped.JSON), []byte("null")) {
			env.Payload = wrapped.JSON
		}
		return env
	}

	env.Payload = json.RawMessage(data)
	return env
}

// Card ranks and suits used by the 24 card deck.
var (
	Ranks = []string{"9", "10", "J", "Q", "K", "A"}
	Suits = []string{"♠", "♣", "♦", "♥"}
)

// Card is a single playing card.
type Card struct {
	Rank string `json:"rank"`
	Suit string `json:"suit"`
}

func (c Card) String() string {
	return c.Rank + c.Suit
}

// IsRed reports whether the card is a diamond or a heart.
func (c Card) IsRed() bool {
	return c.Suit == "♦" || c.Suit == "♥"
}

// Player is a seat as sent by the server. The roster in game_start is a
// plain list of ids, so a bare JSON string decodes into a Player with only
// the ID set.
type Player struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	HandCount *int   `json:"hand_count,omitempty"`
	LastBet   string `json:"last_bet,omitempty"`
	IsActive  *bool  `json:"is_active,omitempty"`
}

type playerAlias Player

func (p *Player) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var id string
		if err := json.Unmarshal(b, &id); err != nil {
			return err
		}
		*p = Player{ID: id}
		return nil
	}
	var alias playerAlias
	if err := json.Unmarshal(b, &alias); err != nil {
		return err
	}
	*p = Player(alias)
	return nil
}

// Server -> Client payloads

// Connected acknowledges the connection and assigns the session id.
type Connected struct {
	SID string `json:"sid"`
}

// GameStart starts a game with the given roster.
type GameStart struct {
	Players  []Player `json:"players"`
	RoomName *string  `json:"room_name,omitempty"`
}

// GameUpdate is the generic state refresh, dispatched on Action. Pointer and
// slice fields are nil when absent from the payload.
type GameUpdate struct {
	Action          string   `json:"action"`
	Players         []Player `json:"players,omitempty"`
	PlayersReady    []string `json:"players_ready,omitempty"`
	PlayerSID       string   `json:"player_sid,omitempty"`
	Hand            []Card   `json:"hand,omitempty"`
	PlayerTurnIndex *int     `json:"player_turn_index,omitempty"`
	DealInProgress  *bool    `json:"deal_in_progress,omitempty"`
	GameFinished    *bool    `json:"game_finished,omitempty"`
	LastBet         *string  `json:"last_bet,omitempty"`
	Result          *string  `json:"result,omitempty"`
}

// GameEnd finishes the game.
type GameEnd struct {
	Result *string `json:"result,omitempty"`
}

// ErrorMessage is sent when the server rejects a client action.
type ErrorMessage struct {
	Message string `json:"message"`
}

// RoomCreated acknowledges create_room.
type RoomCreated struct {
	RoomID   string `json:"roomId"`
	RoomName string `json:"roomName"`
}

// Room is a lobby entry.
type Room struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	PlayerCount int    `json:"player_count,omitempty"`
	Started     bool   `json:"started,omitempty"`
}

// RoomsList carries the full room list for rooms_list and rooms_update.
type RoomsList struct {
	Rooms []Room `json:"rooms"`
}

// Client -> Server payloads

// CreateRoom asks the server to open a room hosted by Username.
type CreateRoom struct {
	Username string `json:"username"`
}

// Bet places a bet, or a check when Bet is CheckBet.
type Bet struct {
	Bet string `json:"bet"`
}
