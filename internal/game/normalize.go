package game

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lox/liarspoker/internal/protocol"
)

// ProtocolError is returned by Normalize when a payload cannot be decoded.
type ProtocolError struct {
	Event  string
	Action string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Action != "" {
		return fmt.Sprintf("decode %s/%s payload: %v", e.Event, e.Action, e.Err)
	}
	return fmt.Sprintf("decode %s payload: %v", e.Event, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// Normalize converts an inbound envelope into a domain event.
//
// Envelopes this client does not recognize, including game_update actions
// added to the server after this client was built, return nil, nil. Only
// payloads that are not valid JSON for their event produce an error. Missing
// fields are not checked here; Reduce decides which fields an event needs.
func Normalize(env protocol.Envelope) (Event, error) {
	m := meta{Text: env.Text}

	switch env.Event {
	case protocol.EventConnected:
		var p protocol.Connected
		if err := decode(env.Payload, &p); err != nil {
			return nil, &ProtocolError{Event: env.Event, Err: err}
		}
		return Connected{meta: m, SID: strings.TrimSpace(p.SID)}, nil

	case protocol.EventGameStart:
		var p protocol.GameStart
		if err := decode(env.Payload, &p); err != nil {
			return nil, &ProtocolError{Event: env.Event, Err: err}
		}
		return GameStarted{meta: m, Players: normalizeSeats(p.Players), RoomName: p.RoomName}, nil

	case protocol.EventGameUpdate:
		return normalizeUpdate(env, m)

	case protocol.EventGameEnd:
		var p protocol.GameEnd
		if err := decode(env.Payload, &p); err != nil {
			return nil, &ProtocolError{Event: env.Event, Err: err}
		}
		return GameEnded{meta: m, Result: p.Result}, nil
	}

	return nil, nil
}

func normalizeUpdate(env protocol.Envelope, m meta) (Event, error) {
	var p protocol.GameUpdate
	if err := decode(env.Payload, &p); err != nil {
		return nil, &ProtocolError{Event: env.Event, Action: peekAction(env.Payload), Err: err}
	}

	players := normalizeSeats(p.Players)
	switch p.Action {
	case protocol.ActionWaitingForReady:
		return WaitingForReady{meta: m, PlayersReady: copyStrings(p.PlayersReady), Players: players}, nil

	case protocol.ActionPlayerReady:
		return PlayerReady{meta: m, PlayerID: p.PlayerSID, PlayersReady: copyStrings(p.PlayersReady), Players: players}, nil

	case protocol.ActionNewDeal:
		return NewDeal{
			meta:           m,
			Hand:           copyCards(p.Hand),
			Players:        players,
			TurnIndex:      p.PlayerTurnIndex,
			DealInProgress: p.DealInProgress,
			GameFinished:   p.GameFinished,
		}, nil

	case protocol.ActionBet, protocol.ActionCheck:
		tu := TurnUpdate{
			meta:      m,
			PlayerID:  p.PlayerSID,
			Players:   players,
			TurnIndex: p.PlayerTurnIndex,
			LastBet:   p.LastBet,
		}
		if p.Action == protocol.ActionCheck {
			return Checked{TurnUpdate: tu}, nil
		}
		return BetPlaced{TurnUpdate: tu}, nil

	case protocol.ActionDealResult:
		return DealResult{meta: m, PlayerID: p.PlayerSID, Players: players, TurnIndex: p.PlayerTurnIndex, Result: p.Result}, nil

	case protocol.ActionPlayerEliminated:
		return PlayerEliminated{meta: m, PlayerID: p.PlayerSID, Players: players}, nil
	}

	return nil, nil
}

func decode(payload json.RawMessage, v interface{}) error {
	if len(bytes.TrimSpace(payload)) == 0 {
		return nil
	}
	return json.Unmarshal(payload, v)
}

// peekAction extracts the action of a payload whose other fields failed to
// decode, for error reporting.
func peekAction(payload json.RawMessage) string {
	var p struct {
		Action string `json:"action"`
	}
	_ = json.Unmarshal(payload, &p)
	return p.Action
}

// normalizeSeats keeps nil distinct from empty: nil means the list was absent.
func normalizeSeats(players []protocol.Player) []Seat {
	if players == nil {
		return nil
	}
	seats := make([]Seat, 0, len(players))
	for _, p := range players {
		seats = append(seats, Seat{
			ID:        strings.TrimSpace(p.ID),
			Name:      strings.TrimSpace(p.Name),
			HandCount: p.HandCount,
			LastBet:   p.LastBet,
			Active:    p.IsActive,
		})
	}
	return seats
}

func copyStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func copyCards(in []protocol.Card) []protocol.Card {
	if in == nil {
		return nil
	}
	out := make([]protocol.Card, len(in))
	copy(out, in)
	return out
}
