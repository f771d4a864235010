package main

import (
	"github.com/alecthomas/kong"
)

// version is set by ldflags during build
var version = "dev"

type CLI struct {
	Globals

	Version   kong.VersionFlag `short:"v" help:"Show version"`
	Play      PlayCmd          `cmd:"" default:"1" help:"Join the lobby and play interactively"`
	Rooms     RoomsCmd         `cmd:"" help:"List open rooms and exit"`
	DecodeBet DecodeBetCmd     `cmd:"" help:"Describe bet identifiers in plain words"`
	Info      VersionCmd       `cmd:"" name:"version" help:"Print version information"`
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("liarspoker"),
		kong.Description("Command line client for Liar's Poker"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
		kong.Vars{
			"version": version,
		},
	)
	err := ctx.Run(&cli.Globals)
	ctx.FatalIfErrorf(err)
}
