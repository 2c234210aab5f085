// Package config holds the server and client configuration types.
package config

import "time"

// Server stores all tunables for the game server. Zero values are filled in
// by DefaultServer; cmd/salvo-server overrides them from CLI flags.
type Server struct {
	ListenAddr string // TCP listen address for the framed protocol
	WSAddr     string // WebSocket gateway listen address; empty disables it

	TurnTimeout    time.Duration // how long the turn owner may think
	PlaceTimeout   time.Duration // how long a player may spend on fleet placement
	ReconnectGrace time.Duration // how long a paused game waits for a returning player

	RetransmitInterval time.Duration // pending-ack scan interval
	RetransmitDeadline time.Duration // per-packet ack deadline before a resend
	MaxRetries         int           // resends before the link is declared lost
	GapTimeout         time.Duration // how long a sequence gap may stay open
}

// DefaultServer returns the stock server configuration.
func DefaultServer() Server {
	return Server{
		ListenAddr:         ":5001",
		WSAddr:             "",
		TurnTimeout:        30 * time.Second,
		PlaceTimeout:       60 * time.Second,
		ReconnectGrace:     60 * time.Second,
		RetransmitInterval: 200 * time.Millisecond,
		RetransmitDeadline: 500 * time.Millisecond,
		MaxRetries:         5,
		GapTimeout:         5 * time.Second,
	}
}

// Client stores the terminal client's parameters.
type Client struct {
	ServerAddr string // host:port of the game server
	Username   string
	Spectate   bool // join as a spectator instead of queueing for a match
}
