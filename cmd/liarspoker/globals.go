package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/lox/liarspoker/internal/client"
	"github.com/lox/liarspoker/internal/diag"
	"github.com/lox/liarspoker/internal/identity"
	"github.com/lox/liarspoker/internal/session"
	"github.com/lox/liarspoker/internal/timeline"
)

// Globals are flags shared by every command. Flags override environment
// variables, which override the config file.
type Globals struct {
	Config   string   `short:"c" default:"liarspoker.hcl" help:"Path to HCL configuration file"`
	EnvFile  []string `name:"env-file" default:".env" help:"Dotenv files to read LIARSPOKER_* variables from"`
	Server   string   `short:"s" help:"Server URL (overrides config)"`
	Player   string   `short:"p" help:"Player name (overrides config)"`
	Token    string   `help:"Account token (overrides config)"`
	LogLevel string   `short:"l" name:"log-level" help:"Log level (overrides config)"`
}

// load resolves the configuration and builds the logger.
func (g *Globals) load() (*client.Config, *log.Logger, error) {
	cfg, err := client.LoadConfig(g.Config)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.LoadEnv(g.EnvFile...); err != nil {
		return nil, nil, err
	}

	if g.Server != "" {
		cfg.Server.URL = g.Server
	}
	if g.Player != "" {
		cfg.Player.Name = g.Player
	}
	if g.Token != "" {
		cfg.Player.Token = g.Token
	}
	if g.LogLevel != "" {
		cfg.Diagnostics.LogLevel = g.LogLevel
	}

	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger := log.NewWithOptions(os.Stderr, log.Options{
		Level:           cfg.LogLevel(),
		ReportTimestamp: true,
		TimeFormat:      time.Kitchen,
	})
	return cfg, logger, nil
}

// connection is a connected manager with a session on top of it.
type connection struct {
	manager  *client.Manager
	session  *session.Session
	identity identity.Identity
}

// dial builds the manager and session for cfg and starts connecting. It
// returns once the connection is up, or with an error when the manager gives
// up or ctx ends first.
func dial(ctx context.Context, cfg *client.Config, logger *log.Logger) (*connection, error) {
	opts := cfg.ManagerOptions()
	opts.Logger = logger

	var id identity.Identity = identity.Guest{Username: cfg.Player.Name}
	if cfg.Player.Token != "" {
		tok, err := identity.ParseToken(cfg.Player.Token, nil)
		if err != nil {
			return nil, err
		}
		if !tok.IsValid() {
			logger.Warn("Account token has expired, continuing as guest")
		} else {
			opts.Header = tok.Header()
			id = tok
		}
	}

	manager := client.NewManager(opts)
	sess, err := session.New(session.Options{
		Transport:         manager,
		Logger:            logger,
		Diag:              diag.New(cfg.Diagnostics.BufferSize, nil),
		Timeline:          timeline.New(cfg.Diagnostics.TimelineRetention, nil),
		RoomCreateTimeout: cfg.RoomCreateTimeout(),
	})
	if err != nil {
		return nil, err
	}

	up := make(chan struct{}, 1)
	stop := manager.OnStatus(func(s client.Status) {
		if s == client.StatusConnected {
			select {
			case up <- struct{}{}:
			default:
			}
		}
	})
	defer stop()

	conn := &connection{manager: manager, session: sess, identity: id}
	if err := manager.Connect(ctx); err != nil {
		conn.close()
		return nil, err
	}

	select {
	case <-up:
		return conn, nil
	case <-manager.Done():
		conn.close()
		return nil, errors.New("could not reach the server")
	case <-ctx.Done():
		conn.close()
		return nil, ctx.Err()
	}
}

func (c *connection) close() {
	_ = c.session.Close()
	_ = c.manager.Close()
}

// signalContext returns a context cancelled on interrupt or SIGTERM.
func signalContext(logger *log.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("Received signal, shutting down", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigChan)
	}()

	return ctx, cancel
}
