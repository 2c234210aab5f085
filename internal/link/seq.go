package link

import "sync/atomic"

// SeqGen is the per-channel atomic sequence number generator for outbound
// data packets. It is shared between the caller's goroutine and the
// retransmission goroutine, so all operations are atomic.
type SeqGen struct {
	val atomic.Uint32
}

// NewSeqGen creates a new sequence generator starting at 0.
// The first call to Next() returns 1.
func NewSeqGen() *SeqGen {
	return &SeqGen{}
}

// Next returns the next sequence number (monotonically increasing from 1).
func (s *SeqGen) Next() uint32 {
	return s.val.Add(1)
}
