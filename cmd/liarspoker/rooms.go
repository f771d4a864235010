package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"time"

	"github.com/lox/liarspoker/internal/bet"
	"github.com/lox/liarspoker/internal/protocol"
)

// RoomsCmd prints the room list once.
type RoomsCmd struct {
	Wait time.Duration `default:"5s" help:"How long to wait for the room list"`
}

func (c *RoomsCmd) Run(g *Globals) error {
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

	got := make(chan []protocol.Room, 1)
	conn.session.OnRooms(func(rooms []protocol.Room) {
		select {
		case got <- rooms:
		default:
		}
	})
	if err := conn.session.ListRooms(); err != nil {
		return err
	}

	timer := time.NewTimer(c.Wait)
	defer timer.Stop()

	select {
	case rooms := <-got:
		printRooms(os.Stdout, rooms)
		return nil
	case <-timer.C:
		return errors.New("timed out waiting for the room list")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// DecodeBetCmd describes bet identifiers without connecting.
type DecodeBetCmd struct {
	Bets []string `arg:"" name:"bet" help:"Bet identifiers, for example pair_K or flush_♠"`
}

func (c *DecodeBetCmd) Run(*Globals) error {
	describeBets(os.Stdout, c.Bets)
	return nil
}

func describeBets(w io.Writer, ids []string) {
	for _, id := range ids {
		b := bet.Decode(id)
		if !b.Known && !bet.IsCheck(id) {
			fmt.Fprintf(w, "%s: unrecognized\n", id)
			continue
		}
		fmt.Fprintf(w, "%s: %s\n", id, bet.Describe(id))
	}
}

// VersionCmd prints build information.
type VersionCmd struct{}

func (c *VersionCmd) Run(*Globals) error {
	fmt.Printf("liarspoker %s (%s, %s/%s)\n", version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
	return nil
}
