package util

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pterm/pterm"
)

// Stats is the process-wide traffic and match counter.
var Stats = &stats{}

type stats struct {
	PacketsSent    atomic.Int64 // frames written to connections
	PacketsRecv    atomic.Int64 // well-formed frames read from connections
	Retransmits    atomic.Int64 // frames resent after an ack deadline passed
	CorruptFrames  atomic.Int64 // frames dropped on checksum mismatch
	BytesSent      atomic.Int64
	BytesRecv      atomic.Int64
	GamesStarted   atomic.Int64
	GamesCompleted atomic.Int64 // includes forfeits
}

func (s *stats) AddSent(n int) {
	s.PacketsSent.Add(1)
	s.BytesSent.Add(int64(n))
}

func (s *stats) AddRecv(n int) {
	s.PacketsRecv.Add(1)
	s.BytesRecv.Add(int64(n))
}

func (s *stats) AddRetransmit()   { s.Retransmits.Add(1) }
func (s *stats) AddCorrupt()      { s.CorruptFrames.Add(1) }
func (s *stats) AddGameStarted()  { s.GamesStarted.Add(1) }
func (s *stats) AddGameFinished() { s.GamesCompleted.Add(1) }

// StartStatsReporter launches a goroutine that logs traffic and match
// statistics every 30 seconds. It stays quiet while nothing is happening
// and stops when ctx is cancelled.
func StartStatsReporter(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()

		var prevSent, prevRecv int64
		for {
			select {
			case <-ticker.C:
				sent := Stats.PacketsSent.Load()
				recv := Stats.PacketsRecv.Load()
				if sent == prevSent && recv == prevRecv {
					continue
				}
				pterm.DefaultLogger.Info(fmt.Sprintf(
					"pkts: %d out / %d in | retransmits: %d | corrupt: %d | games: %d started / %d finished",
					sent, recv,
					Stats.Retransmits.Load(),
					Stats.CorruptFrames.Load(),
					Stats.GamesStarted.Load(),
					Stats.GamesCompleted.Load(),
				))
				prevSent = sent
				prevRecv = recv

			case <-ctx.Done():
				return
			}
		}
	}()
}
