// Salvo — terminal Battleship client.
//
// Connects to a salvo server, waits for an opponent (or attaches as a
// spectator with -watch), and plays from the keyboard. It can be launched
// interactively (no flags) or non-interactively via -server and -name.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/pterm/pterm"

	"github.com/salvo-net/salvo/internal/client"
	"github.com/salvo-net/salvo/internal/config"
	"github.com/salvo-net/salvo/internal/util"
)

var version = "dev"

func main() {
	// Root context — cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	// CLI flags.
	server := flag.String("server", "127.0.0.1:5001", "Server address (host:port)")
	name := flag.String("name", "", "Username (prompted for if omitted)")
	watch := flag.Bool("watch", false, "Spectate a running game instead of playing")
	debugMode := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	if *debugMode {
		util.EnableDebug()
	}

	pterm.Info.Println(fmt.Sprintf("Salvo — v%s", version))
	pterm.Println()

	cfg := config.Client{
		ServerAddr: *server,
		Username:   *name,
		Spectate:   *watch,
	}
	if cfg.Username == "" {
		cfg.Username = askUsername()
	}

	printHelp(cfg.Spectate)

	if err := client.Run(ctx, cfg); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
}

// askUsername prompts until a non-empty, space-free name is entered.
func askUsername() string {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText("Pick a username").
			Show()

		name := strings.TrimSpace(raw)
		if name != "" && !strings.ContainsAny(name, " \t") {
			pterm.Println()
			return name
		}

		util.LogWarning("username must be non-empty and contain no spaces")
		pterm.Println()
	}
}

// printHelp shows the command cheat sheet once at startup.
func printHelp(spectate bool) {
	if spectate {
		pterm.Info.Println("Spectating — board updates will stream here. Type 'quit' to leave.")
		pterm.Println()
		return
	}
	pterm.Info.Println("Commands:")
	pterm.Println("  PLACE <coord> <H|V> <ship>   e.g. PLACE B5 H Carrier")
	pterm.Println("  PLACE RANDOM                 place the remaining fleet randomly")
	pterm.Println("  <coord>                      fire, e.g. D7")
	pterm.Println("  /say <text>                  chat with your opponent")
	pterm.Println("  rematch                      queue up again after a game")
	pterm.Println("  quit                         disconnect")
	pterm.Println()
}
