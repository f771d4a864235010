// Package timeline records the human-meaningful events of a game (bets,
// checks, deals, eliminations) in arrival order for display.
package timeline

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/coder/quartz"
	"github.com/google/uuid"
	"github.com/lox/liarspoker/internal/bet"
	"github.com/lox/liarspoker/internal/game"
)

// DefaultRetention is the number of records kept when none is configured.
const DefaultRetention = 200

// Type is the kind of a timeline record
type Type string

const (
	TypeGameStart        Type = "game_start"
	TypeNewDeal          Type = "new_deal"
	TypeBet              Type = "bet"
	TypeCheck            Type = "check"
	TypeDealResult       Type = "deal_result"
	TypePlayerEliminated Type = "player_eliminated"
	TypeGameEnd          Type = "game_end"
)

// Details holds the type specific part of a record. Player names are never
// stored; only ids are, and names are resolved when rendering.
type Details struct {
	Bet       string   `json:"bet,omitempty"`
	Result    string   `json:"result,omitempty"`
	RoomName  string   `json:"room_name,omitempty"`
	PlayerIDs []string `json:"player_ids,omitempty"`
	HandSize  int      `json:"hand_size,omitempty"`
}

// Record is one timeline entry. Records are never modified after Append.
type Record struct {
	ID        uuid.UUID `json:"id"`
	Seq       uint64    `json:"seq"`
	Type      Type      `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	PlayerID  string    `json:"player_id,omitempty"`
	Details   Details   `json:"details"`
}

// Log is an append-only, bounded list of records. It is safe for
// concurrent use.
type Log struct {
	mu        sync.Mutex
	clock     quartz.Clock
	retention int
	records   []Record
	seq       uint64
}

// New creates a log that keeps the newest retention records. A
// non-positive retention uses DefaultRetention.
func New(retention int, clock quartz.Clock) *Log {
	if retention <= 0 {
		retention = DefaultRetention
	}
	if clock == nil {
		clock = quartz.NewReal()
	}
	return &Log{clock: clock, retention: retention}
}

// Append adds a record for ev and returns it. Ready gate and connection
// events are not narrative and produce no record; ok is false for them.
// actor is the player the event is attributed to, when the caller knows it
// better than the event does.
func (l *Log) Append(ev game.Event, actor string) (rec Record, ok bool) {
	if ev == nil {
		return Record{}, false
	}
	if actor == "" {
		actor = game.Actor(ev)
	}

	rec = Record{PlayerID: actor}
	switch e := ev.(type) {
	case game.GameStarted:
		rec.Type = TypeGameStart
		rec.PlayerID = ""
		for _, s := range e.Players {
			rec.Details.PlayerIDs = append(rec.Details.PlayerIDs, s.ID)
		}
		if e.RoomName != nil {
			rec.Details.RoomName = *e.RoomName
		}
	case game.NewDeal:
		rec.Type = TypeNewDeal
		rec.PlayerID = ""
		rec.Details.HandSize = len(e.Hand)
	case game.BetPlaced:
		rec.Type = TypeBet
		if e.LastBet != nil {
			rec.Details.Bet = *e.LastBet
		}
	case game.Checked:
		rec.Type = TypeCheck
	case game.DealResult:
		rec.Type = TypeDealResult
		if e.Result != nil {
			rec.Details.Result = *e.Result
		}
	case game.PlayerEliminated:
		rec.Type = TypePlayerEliminated
	case game.GameEnded:
		rec.Type = TypeGameEnd
		rec.PlayerID = ""
		if e.Result != nil {
			rec.Details.Result = *e.Result
		}
	default:
		return Record{}, false
	}

	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	rec.ID = id

	l.mu.Lock()
	defer l.mu.Unlock()

	l.seq++
	rec.Seq = l.seq
	rec.Timestamp = l.clock.Now()
	l.records = append(l.records, rec)
	if over := len(l.records) - l.retention; over > 0 {
		l.records = append([]Record(nil), l.records[over:]...)
	}
	return rec, true
}

// Records returns a copy of the retained records, oldest first.
func (l *Log) Records() []Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Record, len(l.records))
	copy(out, l.records)
	return out
}

// Len returns the number of retained records.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

// Clear drops all records. Sequence numbers keep increasing.
func (l *Log) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = nil
}

// Lines renders every retained record with the given names.
func (l *Log) Lines(names Names) []string {
	records := l.Records()
	lines := make([]string, 0, len(records))
	for _, r := range records {
		lines = append(lines, Render(r, names))
	}
	return lines
}

// Render turns a record into a display line, resolving player ids through
// names at call time.
func Render(r Record, names Names) string {
	if names == nil {
		names = NameFunc(func(id string) string { return id })
	}
	who := names.Name(r.PlayerID)

	switch r.Type {
	case TypeGameStart:
		players := make([]string, 0, len(r.Details.PlayerIDs))
		for _, id := range r.Details.PlayerIDs {
			players = append(players, names.Name(id))
		}
		line := "Game started"
		if r.Details.RoomName != "" {
			line += " in " + r.Details.RoomName
		}
		if len(players) > 0 {
			line += " with " + strings.Join(players, ", ")
		}
		return line
	case TypeNewDeal:
		if r.Details.HandSize > 0 {
			return fmt.Sprintf("New deal, you hold %d %s", r.Details.HandSize, plural(r.Details.HandSize, "card", "cards"))
		}
		return "New deal"
	case TypeBet:
		return fmt.Sprintf("%s %s %s", orSomeone(who), verb(who, "bets", "bet"), bet.Describe(r.Details.Bet))
	case TypeCheck:
		return fmt.Sprintf("%s %s", orSomeone(who), verb(who, "checks", "check"))
	case TypeDealResult:
		if r.Details.Result != "" {
			return r.Details.Result
		}
		if who != "" {
			return fmt.Sprintf("%s %s the deal", who, verb(who, "loses", "lose"))
		}
		return "Deal resolved"
	case TypePlayerEliminated:
		return fmt.Sprintf("%s %s eliminated", orSomeone(who), verb(who, "is", "are"))
	case TypeGameEnd:
		if r.Details.Result != "" {
			return "Game over: " + r.Details.Result
		}
		return "Game over"
	}
	return string(r.Type)
}

func orSomeone(name string) string {
	if name == "" {
		return "Someone"
	}
	return name
}

func verb(who, third, second string) string {
	if who == You {
		return second
	}
	return third
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
