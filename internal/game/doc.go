// Package game mirrors the server's Liar's Poker game state on the client.
//
// The server is authoritative. The client never validates bets or turns; it
// turns inbound envelopes into typed events and folds them into an immutable
// State.
//
// # Basic Usage
//
//	ev, err := game.Normalize(env) // nil, nil for actions this client does not know
//	if err != nil || ev == nil {
//	    return
//	}
//	next, err := game.Reduce(state, ev)
//	if err != nil {
//	    // state is unchanged; record err for diagnostics
//	}
//
// Reduce never mutates its input. Every accepted event yields a new *State,
// so consumers can detect changes by pointer comparison.
//
// # Ready Gate
//
// Between deals the server asks every player to confirm they are ready. The
// gate opens on waiting_for_ready, tracks the server's authoritative set of
// ready players, and closes on new_deal. Use NextDealControl to derive what
// the "Next Deal" control should show.
package game
