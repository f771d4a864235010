package game

import (
	"github.com/lox/liarspoker/internal/protocol"
)

// StartingHandCount is the number of cards each player holds when a game
// starts and the server has not sent counts yet.
const StartingHandCount = 1

// Player is one seat in the current game
type Player struct {
	ID         string
	Name       string
	HandCount  int
	LastBet    string
	IsYourTurn bool
	IsMe       bool
	IsActive   bool
}

// Snapshot is the table as last reported by the server. A new Snapshot is
// built on every change; existing ones are never modified.
type Snapshot struct {
	Players          []Player
	RoomName         string
	CurrentTurnIndex int
}

// Player returns the player with the given id.
func (s *Snapshot) Player(id string) (Player, bool) {
	if s == nil {
		return Player{}, false
	}
	for _, p := range s.Players {
		if p.ID == id {
			return p, true
		}
	}
	return Player{}, false
}

// CurrentPlayer returns the player whose turn it is, if any.
func (s *Snapshot) CurrentPlayer() (Player, bool) {
	if s == nil {
		return Player{}, false
	}
	for _, p := range s.Players {
		if p.IsYourTurn {
			return p, true
		}
	}
	return Player{}, false
}

// ActiveCount returns the number of players not yet eliminated.
func (s *Snapshot) ActiveCount() int {
	if s == nil {
		return 0
	}
	n := 0
	for _, p := range s.Players {
		if p.IsActive {
			n++
		}
	}
	return n
}

// PlayerSet is an immutable set of player ids that remembers insertion order.
type PlayerSet struct {
	ids   []string
	index map[string]struct{}
}

// NewPlayerSet builds a set from ids, ignoring duplicates and empty ids.
func NewPlayerSet(ids ...string) PlayerSet {
	var s PlayerSet
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := s.index[id]; ok {
			continue
		}
		if s.index == nil {
			s.index = make(map[string]struct{}, len(ids))
		}
		s.index[id] = struct{}{}
		s.ids = append(s.ids, id)
	}
	return s
}

// Has reports membership by id.
func (s PlayerSet) Has(id string) bool {
	if id == "" {
		return false
	}
	_, ok := s.index[id]
	return ok
}

// Len returns the number of ids in the set.
func (s PlayerSet) Len() int {
	return len(s.ids)
}

// IDs returns a copy of the ids in insertion order.
func (s PlayerSet) IDs() []string {
	out := make([]string, len(s.ids))
	copy(out, s.ids)
	return out
}

// Gate is the ready-for-next-deal handshake state.
type Gate struct {
	WaitingForReady bool
	PlayersReady    PlayerSet
}

// State is the client's mirror of one game session. Treat it as read-only;
// Reduce returns a new value for every transition.
type State struct {
	// SelfID is the local session id, empty until the server assigns one.
	SelfID   string
	Snapshot *Snapshot
	Gate     Gate

	Hand           []protocol.Card
	DealInProgress bool
	GameFinished   bool

	// FirstSelectableBet is a UI hint: the index of the lowest bet the bet
	// picker should offer. Reset on every new deal.
	FirstSelectableBet int

	LastBet string
	Result  string
}

// NewState returns the state of a client that has not joined a game.
func NewState() *State {
	return &State{Snapshot: &Snapshot{}}
}

// Me returns the local player, if the session id is known and seated.
func (s *State) Me() (Player, bool) {
	if s == nil || s.SelfID == "" {
		return Player{}, false
	}
	return s.Snapshot.Player(s.SelfID)
}

// IsMyTurn reports whether the local player is the one to act.
func (s *State) IsMyTurn() bool {
	me, ok := s.Me()
	return ok && me.IsYourTurn
}

// Players returns the players of the current snapshot.
func (s *State) Players() []Player {
	if s == nil || s.Snapshot == nil {
		return nil
	}
	return s.Snapshot.Players
}
