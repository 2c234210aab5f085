// Salvo server — CLI entry point.
//
// Listens for framed-protocol connections over TCP (and optionally a
// WebSocket gateway), pairs players into Battleship games, and relays
// spectators. Ctrl+C drains: running games finish, new arrivals are refused.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/pterm/pterm"

	"github.com/salvo-net/salvo/internal/config"
	"github.com/salvo-net/salvo/internal/server"
	"github.com/salvo-net/salvo/internal/util"
)

var version = "dev"

func main() {
	// Root context — cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cfg := config.DefaultServer()

	// CLI flags.
	listen := flag.String("listen", cfg.ListenAddr, "TCP listen address")
	wsAddr := flag.String("ws", "", "WebSocket gateway listen address (empty to disable)")
	turnTimeout := flag.Duration("turnTimeout", cfg.TurnTimeout, "Per-turn time limit")
	placeTimeout := flag.Duration("placeTimeout", cfg.PlaceTimeout, "Fleet placement time limit")
	grace := flag.Duration("grace", cfg.ReconnectGrace, "Reconnection grace period for paused games")
	debugMode := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	if *debugMode {
		util.EnableDebug()
	}

	cfg.ListenAddr = *listen
	cfg.WSAddr = *wsAddr
	cfg.TurnTimeout = *turnTimeout
	cfg.PlaceTimeout = *placeTimeout
	cfg.ReconnectGrace = *grace

	if cfg.TurnTimeout < time.Second || cfg.PlaceTimeout < time.Second {
		util.LogError("turn and placement timeouts must be at least 1s")
		os.Exit(1)
	}

	pterm.Info.Println(fmt.Sprintf("Salvo server — v%s", version))
	pterm.Println()

	util.StartStatsReporter(ctx)

	if err := server.New(cfg).Run(ctx); err != nil {
		util.LogError("server exited: %v", err)
		os.Exit(1)
	}

	util.LogInfo("server shut down cleanly")
}
