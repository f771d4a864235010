package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/lox/liarspoker/internal/bet"
	"github.com/lox/liarspoker/internal/game"
	"github.com/lox/liarspoker/internal/protocol"
)

// styles colour the table when w is a terminal. The renderer falls back to
// plain text for pipes and files.
type styles struct {
	header  lipgloss.Style
	turn    lipgloss.Style
	red     lipgloss.Style
	out     lipgloss.Style
	actions lipgloss.Style
}

func newStyles(w io.Writer) styles {
	r := lipgloss.NewRenderer(w)
	return styles{
		header:  r.NewStyle().Foreground(lipgloss.Color("#7D56F4")),
		turn:    r.NewStyle().Foreground(lipgloss.Color("#FFD700")),
		red:     r.NewStyle().Foreground(lipgloss.Color("#FF6B6B")),
		out:     r.NewStyle().Foreground(lipgloss.Color("#626262")),
		actions: r.NewStyle().Foreground(lipgloss.Color("#96CEB4")),
	}
}

// printState writes a text view of the table.
func printState(w io.Writer, st *game.State) {
	if st == nil || len(st.Players()) == 0 {
		fmt.Fprintln(w, "No game in progress.")
		return
	}

	sty := newStyles(w)
	if st.Snapshot.RoomName != "" {
		fmt.Fprintln(w, sty.header.Render("Room "+st.Snapshot.RoomName))
	}
	for _, p := range st.Players() {
		marker := "  "
		if p.IsYourTurn {
			marker = sty.turn.Render(">") + " "
		}
		line := fmt.Sprintf("%s%s (%d %s)", marker, p.Name, p.HandCount, cards(p.HandCount))
		if p.LastBet != "" {
			line += ", last bet " + bet.Describe(p.LastBet)
		}
		if p.IsMe {
			line += " [you]"
		}
		if !p.IsActive {
			line += " " + sty.out.Render("[out]")
		}
		if st.Gate.WaitingForReady && st.Gate.IsReady(p.ID) {
			line += " [ready]"
		}
		fmt.Fprintln(w, line)
	}

	if len(st.Hand) > 0 {
		hand := make([]string, 0, len(st.Hand))
		for _, c := range st.Hand {
			if c.IsRed() {
				hand = append(hand, sty.red.Render(c.String()))
				continue
			}
			hand = append(hand, c.String())
		}
		fmt.Fprintf(w, "Your hand: %s\n", strings.Join(hand, " "))
	}
	if st.LastBet != "" {
		fmt.Fprintf(w, "Bet to beat: %s\n", bet.Describe(st.LastBet))
	}
	if st.Result != "" {
		fmt.Fprintf(w, "Result: %s\n", st.Result)
	}

	if c := game.NextDealControl(st); c.Visible {
		state := "press ready"
		if !c.Enabled {
			state = "waiting for the others"
		}
		fmt.Fprintf(w, "[%s] %s\n", c.Label, state)
	}
	if actions := availableCommands(st); len(actions) > 0 {
		fmt.Fprintf(w, "You can: %s\n", sty.actions.Render(strings.Join(actions, ", ")))
	}
}

func availableCommands(st *game.State) []string {
	a := game.AvailableActions(st)
	var out []string
	if a.Bet {
		out = append(out, "bet <id>")
	}
	if a.Check {
		out = append(out, "check")
	}
	if a.Ready {
		out = append(out, "ready")
	}
	return out
}

func printRooms(w io.Writer, rooms []protocol.Room) {
	if len(rooms) == 0 {
		fmt.Fprintln(w, "No open rooms.")
		return
	}
	sty := newStyles(w)
	for _, r := range rooms {
		status := sty.actions.Render("open")
		if r.Started {
			status = sty.out.Render("playing")
		}
		fmt.Fprintf(w, "%-12s %-20s %d %-7s %s\n", r.ID, r.Name, r.PlayerCount, players(r.PlayerCount), status)
	}
}

func cards(n int) string {
	if n == 1 {
		return "card"
	}
	return "cards"
}

func players(n int) string {
	if n == 1 {
		return "player"
	}
	return "players"
}
