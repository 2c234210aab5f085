package link

import (
	"container/heap"

	"github.com/salvo-net/salvo/internal/protocol"
)

// Reassembler reorders out-of-order data packets on a single channel.
// It is goroutine-local (used only inside the channel's read goroutine)
// and needs no locking.
type Reassembler struct {
	expectedSeq uint32
	buffer      packetHeap
}

// NewReassembler creates a reassembler expecting sequence numbers starting at 1.
func NewReassembler() *Reassembler {
	return &Reassembler{expectedSeq: 1}
}

// Feed processes an incoming data packet and returns all packets that can now
// be delivered in sequence order. A duplicate (seq below the expected value)
// or an already-buffered future packet yields nil.
func (r *Reassembler) Feed(pkt *protocol.Packet) []*protocol.Packet {
	if pkt.SeqNum < r.expectedSeq {
		return nil
	}

	if pkt.SeqNum > r.expectedSeq {
		// Future packet — buffer it unless the same seq is already waiting.
		for _, b := range r.buffer {
			if b.SeqNum == pkt.SeqNum {
				return nil
			}
		}
		heap.Push(&r.buffer, pkt)
		return nil
	}

	// pkt.SeqNum == r.expectedSeq — deliver it and drain any consecutive
	// buffered packets.
	result := []*protocol.Packet{pkt}
	r.expectedSeq++

	for r.buffer.Len() > 0 && r.buffer[0].SeqNum <= r.expectedSeq {
		next := heap.Pop(&r.buffer).(*protocol.Packet)
		if next.SeqNum < r.expectedSeq {
			continue // duplicate that was buffered before its twin arrived
		}
		result = append(result, next)
		r.expectedSeq++
	}

	return result
}

// Expected returns the next sequence number the reassembler will deliver.
// Everything below it has already been handed to the consumer.
func (r *Reassembler) Expected() uint32 {
	return r.expectedSeq
}

// Pending reports whether any future packets are buffered, i.e. whether a
// sequence gap is currently open.
func (r *Reassembler) Pending() bool {
	return r.buffer.Len() > 0
}

// ---------------------------------------------------------------------------
// packetHeap implements a min-heap sorted by SeqNum.
// ---------------------------------------------------------------------------

type packetHeap []*protocol.Packet

func (h packetHeap) Len() int            { return len(h) }
func (h packetHeap) Less(i, j int) bool  { return h[i].SeqNum < h[j].SeqNum }
func (h packetHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *packetHeap) Push(x interface{}) { *h = append(*h, x.(*protocol.Packet)) }

func (h *packetHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil // avoid memory leak
	*h = old[:n-1]
	return item
}
