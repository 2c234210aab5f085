// Package client implements the terminal client: it connects to a salvo
// server, identifies, prints everything the server sends, and forwards the
// user's commands. All game logic lives on the server; the client is a
// renderer and an input loop.
package client

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/pterm/pterm"

	"github.com/salvo-net/salvo/internal/config"
	"github.com/salvo-net/salvo/internal/link"
	"github.com/salvo-net/salvo/internal/protocol"
	"github.com/salvo-net/salvo/internal/util"
)

// Run connects, identifies, and drives the render/input loops until the
// connection dies or the user quits.
func Run(ctx context.Context, cfg config.Client) error {
	conn, err := net.Dial("tcp", cfg.ServerAddr)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", cfg.ServerAddr, err)
	}

	ch := link.New(ctx, conn, link.Options{})
	defer ch.Close()

	identity := cfg.Username
	if cfg.Spectate {
		identity += " watch"
	}
	if err := ch.Send(protocol.TypeIdentify, []byte(identity)); err != nil {
		return fmt.Errorf("identify failed: %w", err)
	}

	go renderLoop(ctx, ch)

	return inputLoop(ctx, ch)
}

// renderLoop prints server messages, styled by packet type.
func renderLoop(ctx context.Context, ch *link.Channel) {
	for {
		msg, err := ch.Receive(ctx)
		if err != nil {
			return
		}
		text := string(msg.Payload)

		switch msg.Type {
		case protocol.TypeBoardUpdate:
			pterm.Println()
			pterm.Println(text)
		case protocol.TypeResult:
			pterm.Success.Println(text)
		case protocol.TypeError:
			pterm.Warning.Println(text)
		case protocol.TypePauseNotice:
			fields := strings.Fields(text)
			if len(fields) == 2 {
				pterm.Warning.Printfln("%s disconnected — game paused, %ss to reconnect", fields[0], fields[1])
			} else {
				pterm.Warning.Println("Game paused.")
			}
		case protocol.TypeResumeNotice:
			pterm.Info.Printfln("%s reconnected — game resumes", text)
		case protocol.TypeGameOver:
			pterm.Println()
			pterm.Info.Printfln("GAME OVER: %s", text)
		case protocol.TypeChat:
			pterm.Println(pterm.Cyan(text))
		default:
			pterm.Println(text)
		}
	}
}

// inputLoop reads user commands from stdin and translates them to packets:
//
//	PLACE ...      → PLACE_SHIP
//	/say <text>    → CHAT
//	rematch        → REMATCH
//	quit           → closes the connection
//	anything else  → FIRE coordinate
func inputLoop(ctx context.Context, ch *link.Channel) error {
	scanner := bufio.NewScanner(os.Stdin)
	lines := make(chan string)
	go func() {
		defer close(lines)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}

			var err error
			upper := strings.ToUpper(line)
			switch {
			case upper == "QUIT":
				return nil
			case upper == "REMATCH":
				err = ch.Send(protocol.TypeRematch, nil)
			case strings.HasPrefix(upper, "PLACE"):
				err = ch.Send(protocol.TypePlaceShip, []byte(line))
			case strings.HasPrefix(line, "/say "):
				err = ch.Send(protocol.TypeChat, []byte(strings.TrimPrefix(line, "/say ")))
			default:
				err = ch.Send(protocol.TypeFire, []byte(line))
			}
			if err != nil {
				return fmt.Errorf("connection lost: %w", ch.Err())
			}

		case <-ch.Done():
			util.LogWarning("server connection closed: %v", ch.Err())
			return ch.Err()

		case <-ctx.Done():
			return nil
		}
	}
}
