package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/lox/liarspoker/internal/bet"
	"github.com/lox/liarspoker/internal/client"
	"github.com/lox/liarspoker/internal/game"
	"github.com/lox/liarspoker/internal/identity"
	"github.com/lox/liarspoker/internal/protocol"
	"github.com/lox/liarspoker/internal/session"
)

// PlayCmd connects and reads commands from stdin.
type PlayCmd struct {
	Create bool `help:"Create a room as soon as the connection is up"`
}

func (c *PlayCmd) Run(g *Globals) error {
	cfg, logger, err := g.load()
	if err != nil {
		return err
	}
	ctx, cancel := signalContext(logger)
	defer cancel()

	conn, err := dial(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer conn.close()

	prefs := identity.NewMemoryStore()
	username := identity.Username(cfg.Player.Name, conn.identity, prefs)
	if username != "" {
		prefs.Set(identity.KeyUsername, username)
	}

	r := newREPL(conn.session, os.Stdout, prefs)
	r.watch()
	conn.manager.OnStatus(func(s client.Status) {
		fmt.Fprintf(os.Stdout, "* connection %s\n", s)
	})

	fmt.Fprintln(os.Stdout, "Connected. Type help for commands.")
	if c.Create {
		r.execute("create " + username)
	}
	_ = conn.session.ListRooms()

	err = r.run(ctx, os.Stdin, conn.manager.Done())
	if path := cfg.Diagnostics.ExportPath; path != "" {
		if werr := exportDiagnostics(conn.session, path); werr != nil {
			logger.Error("Failed to export diagnostics", "path", path, "error", werr)
		} else {
			logger.Info("Diagnostics exported", "path", path)
		}
	}
	return err
}

// repl turns text commands into session actions and prints what happens.
type repl struct {
	session *session.Session
	out     io.Writer
	prefs   identity.Store
	printed int
}

func newREPL(s *session.Session, out io.Writer, prefs identity.Store) *repl {
	return &repl{session: s, out: out, prefs: prefs}
}

// watch prints new timeline lines, notices and room lists as they arrive.
func (r *repl) watch() {
	r.session.OnChange(func(*game.State) {
		lines := r.session.TimelineLines()
		if r.printed > len(lines) {
			r.printed = 0
		}
		for _, line := range lines[r.printed:] {
			fmt.Fprintf(r.out, "  %s\n", line)
		}
		r.printed = len(lines)
	})
	r.session.OnNotice(func(n session.Notice) {
		fmt.Fprintf(r.out, "! %s\n", n.Message)
	})
	r.session.OnRooms(func(rooms []protocol.Room) {
		printRooms(r.out, rooms)
	})
	r.session.OnRoomCreated(func(rc protocol.RoomCreated) {
		fmt.Fprintf(r.out, "Room %s created (%s). Type play to start.\n", rc.RoomName, rc.RoomID)
	})
}

// run reads commands until EOF, quit, ctx ending or the connection being
// given up.
func (r *repl) run(ctx context.Context, in io.Reader, gone <-chan struct{}) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-gone:
			return errors.New("lost connection to the server")
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := r.execute(line); quit {
				return nil
			}
		}
	}
}

// execute runs one command line and reports whether the user asked to quit.
func (r *repl) execute(line string) (quit bool) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	cmd, args := strings.ToLower(fields[0]), fields[1:]

	var err error
	switch cmd {
	case "quit", "exit":
		return true
	case "help":
		r.help()
	case "rooms":
		err = r.session.ListRooms()
	case "create":
		name := strings.Join(args, " ")
		if name == "" {
			if stored, ok := r.prefs.Get(identity.KeyUsername); ok {
				name = stored
			}
		}
		err = r.session.CreateRoom(name)
		if err == nil {
			r.prefs.Set(identity.KeyUsername, name)
		}
	case "play", "start":
		err = r.session.Play()
	case "bet":
		if len(args) != 1 {
			err = errors.New("usage: bet <id>, for example bet pair_K")
			break
		}
		if b := bet.Decode(args[0]); !b.Known && !bet.IsCheck(args[0]) {
			fmt.Fprintf(r.out, "Sending unrecognized bet %q\n", args[0])
		}
		err = r.session.Bet(args[0])
	case "check":
		err = r.session.Check()
	case "ready":
		err = r.session.ReadyForNextDeal()
	case "state":
		printState(r.out, r.session.State())
	case "timeline":
		for _, l := range r.session.TimelineLines() {
			fmt.Fprintf(r.out, "  %s\n", l)
		}
	case "diag":
		if len(args) == 1 {
			err = exportDiagnostics(r.session, args[0])
			if err == nil {
				fmt.Fprintf(r.out, "Diagnostics written to %s\n", args[0])
			}
			break
		}
		fmt.Fprint(r.out, r.session.Diagnostics().ExportText())
	default:
		err = fmt.Errorf("unknown command %q, type help", cmd)
	}

	if err != nil {
		fmt.Fprintf(r.out, "! %v\n", err)
	}
	return false
}

func (r *repl) help() {
	fmt.Fprint(r.out, `Commands:
  rooms            list rooms
  create [name]    create a room hosted by name
  play             start the game in your room
  bet <id>         place a bet, for example pair_K or full_house_A_K
  check            challenge the last bet
  ready            ready for the next deal
  state            show the table
  timeline         show everything that happened
  diag [file]      show or save the diagnostic log
  quit             leave
`)
}

func exportDiagnostics(s *session.Session, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := s.Diagnostics().WriteTo(f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
