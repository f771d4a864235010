package game

import (
	"errors"
	"fmt"
)

// ErrGameFinished is returned for deal events that arrive after the game
// ended. The event is ignored.
var ErrGameFinished = errors.New("game already finished")

// MalformedEventError is returned when an event lacks a field its kind
// requires. The event is ignored.
type MalformedEventError struct {
	Kind  EventKind
	Field string
}

func (e *MalformedEventError) Error() string {
	return fmt.Sprintf("malformed %s event: missing %s", e.Kind, e.Field)
}

// Reduce folds ev into s and returns the next state. It performs no I/O and
// never modifies s. On error the returned state is s itself, unchanged.
func Reduce(s *State, ev Event) (*State, error) {
	if s == nil {
		s = NewState()
	}
	if ev == nil {
		return s, nil
	}
	if err := validate(s, ev); err != nil {
		return s, err
	}

	orig := s
	if s.Snapshot == nil {
		withSnapshot := *s
		withSnapshot.Snapshot = &Snapshot{}
		s = &withSnapshot
	}

	next := *s
	switch e := ev.(type) {
	case Connected:
		next.SelfID = e.SID
		next.Snapshot = rebuild(s.Snapshot, s.Snapshot.Players, next.SelfID, s.Snapshot.CurrentTurnIndex)

	case GameStarted:
		roomName := s.Snapshot.RoomName
		if e.RoomName != nil {
			roomName = *e.RoomName
		}
		next.Snapshot = &Snapshot{
			Players:          buildPlayers(e.Players, nil, s.SelfID, 0),
			RoomName:         roomName,
			CurrentTurnIndex: 0,
		}
		next.Gate = Gate{}
		next.Hand = nil
		next.DealInProgress = true
		next.GameFinished = false
		next.FirstSelectableBet = 0
		next.LastBet = ""
		next.Result = ""

	case WaitingForReady:
		next.Gate = Gate{WaitingForReady: true, PlayersReady: NewPlayerSet(e.PlayersReady...)}
		next.Snapshot = replacePlayers(s, e.Players, nil)

	case PlayerReady:
		next.Gate = Gate{WaitingForReady: true, PlayersReady: NewPlayerSet(e.PlayersReady...)}
		next.Snapshot = replacePlayers(s, e.Players, nil)

	case NewDeal:
		next.Gate = Gate{}
		next.Snapshot = replacePlayers(s, e.Players, e.TurnIndex)
		if e.Hand != nil {
			next.Hand = copyCards(e.Hand)
		}
		next.DealInProgress = true
		if e.DealInProgress != nil {
			next.DealInProgress = *e.DealInProgress
		}
		if e.GameFinished != nil {
			next.GameFinished = *e.GameFinished
		}
		next.FirstSelectableBet = 0
		next.LastBet = ""

	case BetPlaced:
		applyTurn(&next, s, e.TurnUpdate)

	case Checked:
		applyTurn(&next, s, e.TurnUpdate)

	case DealResult:
		next.Snapshot = replacePlayers(s, e.Players, e.TurnIndex)
		next.DealInProgress = false
		if e.Result != nil {
			next.Result = *e.Result
		}

	case PlayerEliminated:
		if e.Players != nil {
			next.Snapshot = replacePlayers(s, e.Players, nil)
			break
		}
		players := make([]Player, len(s.Snapshot.Players))
		copy(players, s.Snapshot.Players)
		for i := range players {
			if players[i].ID == e.PlayerID {
				players[i].IsActive = false
			}
		}
		next.Snapshot = rebuild(s.Snapshot, players, s.SelfID, s.Snapshot.CurrentTurnIndex)

	case GameEnded:
		next.GameFinished = true
		next.DealInProgress = false
		if e.Result != nil {
			next.Result = *e.Result
		}

	default:
		return orig, nil
	}

	return &next, nil
}

func validate(s *State, ev Event) error {
	switch e := ev.(type) {
	case Connected:
		if e.SID == "" {
			return &MalformedEventError{Kind: ev.Kind(), Field: "sid"}
		}
	case GameStarted:
		if e.Players == nil {
			return &MalformedEventError{Kind: ev.Kind(), Field: "players"}
		}
		return validateSeats(ev.Kind(), e.Players)
	case WaitingForReady:
		return validateSeats(ev.Kind(), e.Players)
	case PlayerReady:
		if e.PlayersReady == nil {
			return &MalformedEventError{Kind: ev.Kind(), Field: "players_ready"}
		}
		return validateSeats(ev.Kind(), e.Players)
	case NewDeal:
		if e.Players == nil {
			return &MalformedEventError{Kind: ev.Kind(), Field: "players"}
		}
		return validateSeats(ev.Kind(), e.Players)
	case BetPlaced:
		return validateTurn(s, ev.Kind(), e.TurnUpdate)
	case Checked:
		return validateTurn(s, ev.Kind(), e.TurnUpdate)
	case DealResult:
		if s.GameFinished {
			return ErrGameFinished
		}
		return validateSeats(ev.Kind(), e.Players)
	case PlayerEliminated:
		if s.GameFinished {
			return ErrGameFinished
		}
		if e.PlayerID == "" && e.Players == nil {
			return &MalformedEventError{Kind: ev.Kind(), Field: "player_sid"}
		}
		return validateSeats(ev.Kind(), e.Players)
	}
	return nil
}

func validateTurn(s *State, kind EventKind, tu TurnUpdate) error {
	if tu.Players == nil {
		return &MalformedEventError{Kind: kind, Field: "players"}
	}
	if s.GameFinished {
		return ErrGameFinished
	}
	return validateSeats(kind, tu.Players)
}

func validateSeats(kind EventKind, seats []Seat) error {
	for _, seat := range seats {
		if seat.ID == "" {
			return &MalformedEventError{Kind: kind, Field: "players[].id"}
		}
	}
	return nil
}

func applyTurn(next *State, s *State, tu TurnUpdate) {
	next.Snapshot = replacePlayers(s, tu.Players, tu.TurnIndex)
	if tu.LastBet != nil {
		next.LastBet = *tu.LastBet
	}
}

// replacePlayers builds a new snapshot with seats replacing the current
// players. A nil seats list keeps the current players; a nil turn keeps the
// current turn index.
func replacePlayers(s *State, seats []Seat, turn *int) *Snapshot {
	idx := s.Snapshot.CurrentTurnIndex
	if turn != nil {
		idx = *turn
	}
	if seats == nil {
		return rebuild(s.Snapshot, s.Snapshot.Players, s.SelfID, idx)
	}
	return &Snapshot{
		Players:          buildPlayers(seats, s.Snapshot.Players, s.SelfID, idx),
		RoomName:         s.Snapshot.RoomName,
		CurrentTurnIndex: idx,
	}
}

// buildPlayers turns seats into players. Values the server omitted are taken
// from the previous player with the same id, never from the same position.
func buildPlayers(seats []Seat, prev []Player, selfID string, turn int) []Player {
	known := make(map[string]Player, len(prev))
	for _, p := range prev {
		known[p.ID] = p
	}

	players := make([]Player, 0, len(seats))
	for i, seat := range seats {
		old, seen := known[seat.ID]

		p := Player{
			ID:        seat.ID,
			Name:      seat.Name,
			HandCount: StartingHandCount,
			LastBet:   seat.LastBet,
			IsActive:  true,
		}
		if seen {
			p.HandCount = old.HandCount
			p.IsActive = old.IsActive
			if p.Name == "" {
				p.Name = old.Name
			}
		}
		if p.Name == "" {
			p.Name = seat.ID
		}
		if seat.HandCount != nil && *seat.HandCount >= 0 {
			p.HandCount = *seat.HandCount
		}
		if seat.Active != nil {
			p.IsActive = *seat.Active
		}
		p.IsMe = selfID != "" && p.ID == selfID
		p.IsYourTurn = i == turn
		players = append(players, p)
	}
	return players
}

// rebuild copies players into a new snapshot, recomputing the derived flags.
func rebuild(prev *Snapshot, players []Player, selfID string, turn int) *Snapshot {
	out := make([]Player, len(players))
	for i, p := range players {
		p.IsMe = selfID != "" && p.ID == selfID
		p.IsYourTurn = i == turn
		out[i] = p
	}
	return &Snapshot{
		Players:          out,
		RoomName:         prev.RoomName,
		CurrentTurnIndex: turn,
	}
}
