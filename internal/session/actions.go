package session

import (
	"errors"
	"fmt"
	"strings"

	"github.com/lox/liarspoker/internal/diag"
	"github.com/lox/liarspoker/internal/protocol"
)

type actionTrace struct {
	Action   string `json:"action"`
	Username string `json:"username,omitempty"`
	Bet      string `json:"bet,omitempty"`
}

// CreateRoom asks the server to open a room hosted by username. The
// request stays in flight until room_created, an error, or the room
// creation timeout.
func (s *Session) CreateRoom(username string) error {
	username = strings.TrimSpace(username)
	if username == "" {
		return errors.New("username is required")
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.creatingRoom {
		s.mu.Unlock()
		return ErrRoomCreateActive
	}
	s.creatingRoom = true
	s.mu.Unlock()

	if err := s.send(actionTrace{Action: protocol.EventCreateRoom, Username: username},
		protocol.EventCreateRoom, protocol.CreateRoom{Username: username}); err != nil {
		s.clearInFlight()
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.creatingRoom && !s.closed {
		s.stopRoomTimerLocked()
		s.roomTimer = s.clock.AfterFunc(s.roomTimeout, s.roomCreateTimedOut, "session", "create_room")
	}
	return nil
}

func (s *Session) roomCreateTimedOut() {
	s.mu.Lock()
	if !s.creatingRoom || s.closed {
		s.mu.Unlock()
		return
	}
	s.creatingRoom = false
	s.roomTimer = nil
	s.mu.Unlock()

	s.logger.Warn("Room creation timed out", "timeout", s.roomTimeout)
	s.diag.Log(diag.KindError, errorTrace{Event: protocol.EventCreateRoom, Error: "timed out waiting for room_created"})
	s.notify("Room creation timed out, please try again")
}

// ListRooms requests the room list.
func (s *Session) ListRooms() error {
	return s.send(actionTrace{Action: protocol.EventGetRooms}, protocol.EventGetRooms, nil)
}

// Bet places a bet. The check identifier is sent as a check.
func (s *Session) Bet(id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return errors.New("bet is required")
	}
	if id == protocol.CheckBet {
		return s.Check()
	}
	return s.send(actionTrace{Action: protocol.EventBet, Bet: id}, protocol.EventBet, protocol.Bet{Bet: id})
}

// Check challenges the previous bet.
func (s *Session) Check() error {
	return s.send(actionTrace{Action: "check", Bet: protocol.CheckBet}, protocol.EventBet, protocol.Bet{Bet: protocol.CheckBet})
}

// Play asks the server to start the game in the current room.
func (s *Session) Play() error {
	return s.send(actionTrace{Action: protocol.EventPlay}, protocol.EventPlay, nil)
}

// ReadyForNextDeal tells the server this player is ready. The ready set is
// not changed locally; it only changes when the server echoes player_ready.
func (s *Session) ReadyForNextDeal() error {
	return s.send(actionTrace{Action: protocol.EventReadyForNextDeal}, protocol.EventReadyForNextDeal, nil)
}

func (s *Session) send(trace actionTrace, event string, payload interface{}) error {
	if s.isClosed() {
		return ErrClosed
	}

	s.diag.Log(diag.KindUserAction, trace)
	if err := s.transport.Send(event, payload); err != nil {
		s.logger.Debug("Action not sent", "action", trace.Action, "error", err)
		return fmt.Errorf("%s: %w", trace.Action, err)
	}
	return nil
}
