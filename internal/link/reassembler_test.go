package link

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/salvo-net/salvo/internal/protocol"
)

func mkPkt(seq uint32) *protocol.Packet {
	return &protocol.Packet{SeqNum: seq, Type: protocol.TypeChat}
}

func TestReassemblerInOrder(t *testing.T) {
	r := NewReassembler()

	for seq := uint32(1); seq <= 3; seq++ {
		out := r.Feed(mkPkt(seq))
		require.Len(t, out, 1)
		require.Equal(t, seq, out[0].SeqNum)
	}
	require.False(t, r.Pending())
	require.Equal(t, uint32(4), r.Expected())
}

func TestReassemblerOutOfOrder(t *testing.T) {
	r := NewReassembler()

	// 3 and 2 arrive before 1; nothing may be delivered early.
	require.Empty(t, r.Feed(mkPkt(3)))
	require.Empty(t, r.Feed(mkPkt(2)))
	require.True(t, r.Pending())

	// 1 closes the gap and releases the whole run at once.
	out := r.Feed(mkPkt(1))
	require.Len(t, out, 3)
	for i, pkt := range out {
		require.Equal(t, uint32(i+1), pkt.SeqNum)
	}
	require.False(t, r.Pending())
}

func TestReassemblerDuplicates(t *testing.T) {
	r := NewReassembler()

	out := r.Feed(mkPkt(1))
	require.Len(t, out, 1)

	// Stale duplicate of an already-delivered packet.
	require.Empty(t, r.Feed(mkPkt(1)))

	// Duplicate of a buffered future packet.
	require.Empty(t, r.Feed(mkPkt(3)))
	require.Empty(t, r.Feed(mkPkt(3)))

	out = r.Feed(mkPkt(2))
	require.Len(t, out, 2)
	require.Equal(t, uint32(2), out[0].SeqNum)
	require.Equal(t, uint32(3), out[1].SeqNum)
}

func TestSeqGenMonotonic(t *testing.T) {
	s := NewSeqGen()
	prev := uint32(0)
	for i := 0; i < 100; i++ {
		next := s.Next()
		require.Greater(t, next, prev)
		prev = next
	}
}
