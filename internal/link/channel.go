// Package link implements the reliable delivery channel of the Salvo
// protocol: at-least-once transmission with bounded retries, at-most-once
// in-order delivery to the consumer, and duplicate suppression, layered over
// one ordered byte stream.
package link

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/salvo-net/salvo/internal/protocol"
	"github.com/salvo-net/salvo/internal/util"
)

// Tuning constants.
const (
	outboxBufferSize = 64 // outgoing frame channel capacity
	inboxBufferSize  = 64 // delivered message channel capacity
)

// Options tunes the channel's retransmission behaviour. The zero value is
// replaced by the defaults below.
type Options struct {
	RetransmitInterval time.Duration // pending-set scan interval
	RetransmitDeadline time.Duration // per-packet ack deadline before a resend
	MaxRetries         int           // resends before the link is declared lost
	GapTimeout         time.Duration // how long a sequence gap may stay open
}

func (o *Options) fillDefaults() {
	if o.RetransmitInterval <= 0 {
		o.RetransmitInterval = 200 * time.Millisecond
	}
	if o.RetransmitDeadline <= 0 {
		o.RetransmitDeadline = 500 * time.Millisecond
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = 5
	}
	if o.GapTimeout <= 0 {
		o.GapTimeout = 5 * time.Second
	}
}

// Message is one in-order payload delivered to the consumer.
type Message struct {
	Type    uint8
	Payload []byte
}

// pendingPacket is an unacknowledged data packet awaiting retransmission.
type pendingPacket struct {
	frame    []byte // encoded once, resent verbatim
	deadline time.Time
	tries    int
}

// Channel wraps one ordered byte stream with the reliable delivery protocol.
//
// Three goroutines run per channel: a writer serializing all frame writes,
// a reader decoding frames and acknowledging data packets, and a
// retransmission loop scanning the pending set. All of them exit when the
// channel context is cancelled; fail() records the first error.
type Channel struct {
	conn io.ReadWriteCloser
	opts Options

	seq    *SeqGen
	outbox chan []byte
	inbox  chan Message

	mu      sync.Mutex
	pending map[uint32]*pendingPacket
	gapOpen time.Time // zero when no sequence gap is open

	ctx      context.Context
	cancel   context.CancelFunc
	failOnce sync.Once
	err      error
}

// New creates a Channel over conn and starts its goroutines. The channel is
// alive until the stream errors, the retry budget runs out, a desync is
// detected, or Close is called.
func New(parentCtx context.Context, conn io.ReadWriteCloser, opts Options) *Channel {
	opts.fillDefaults()
	ctx, cancel := context.WithCancel(parentCtx)

	c := &Channel{
		conn:    conn,
		opts:    opts,
		seq:     NewSeqGen(),
		outbox:  make(chan []byte, outboxBufferSize),
		inbox:   make(chan Message, inboxBufferSize),
		pending: make(map[uint32]*pendingPacket),
		ctx:     ctx,
		cancel:  cancel,
	}

	go c.writeLoop()
	go c.readLoop()
	go c.retransmitLoop()

	return c
}

// ---------------------------------------------------------------------------
// Public API
// ---------------------------------------------------------------------------

// Send assigns the next sequence number to a data packet, queues it for
// transmission and registers it for retransmission until acknowledged.
// It returns immediately; acknowledgement is protocol-internal.
func (c *Channel) Send(pktType uint8, payload []byte) error {
	if c.ctx.Err() != nil {
		return ErrChannelClosed
	}

	pkt := &protocol.Packet{
		SeqNum:  c.seq.Next(),
		Type:    pktType,
		Payload: payload,
	}
	frame := protocol.Encode(pkt)

	c.mu.Lock()
	c.pending[pkt.SeqNum] = &pendingPacket{
		frame:    frame,
		deadline: time.Now().Add(c.opts.RetransmitDeadline),
	}
	c.mu.Unlock()

	return c.enqueue(frame)
}

// Inbox returns the channel of in-order, exactly-once messages.
// It is never closed; consumers should select on Done() as well.
func (c *Channel) Inbox() <-chan Message {
	return c.inbox
}

// Receive blocks until the next in-order message arrives or the channel dies.
func (c *Channel) Receive(ctx context.Context) (Message, error) {
	select {
	case msg := <-c.inbox:
		return msg, nil
	case <-c.ctx.Done():
		return Message{}, c.Err()
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

// Done returns a channel that is closed when the Channel has shut down.
func (c *Channel) Done() <-chan struct{} {
	return c.ctx.Done()
}

// Err returns the error that shut the channel down: ErrLinkLost, ErrDesync,
// a transport error, or ErrChannelClosed after a local Close.
func (c *Channel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	if c.ctx.Err() != nil {
		return ErrChannelClosed
	}
	return nil
}

// Flush waits until every sent packet has been acknowledged, up to the
// timeout. Callers use it before tearing a connection down on a final
// message, so the peer sees the message first.
func (c *Channel) Flush(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		c.mu.Lock()
		remaining := len(c.pending)
		c.mu.Unlock()
		if remaining == 0 {
			return true
		}
		select {
		case <-c.ctx.Done():
			return false
		case <-time.After(10 * time.Millisecond):
		}
	}
	return false
}

// Close shuts the channel down locally. Pending packets are abandoned.
func (c *Channel) Close() error {
	c.fail(ErrChannelClosed)
	return nil
}

// ---------------------------------------------------------------------------
// Writer
// ---------------------------------------------------------------------------

// enqueue hands a frame to the writer goroutine. It blocks if the outbox is
// full and returns ErrChannelClosed when the channel is already down.
func (c *Channel) enqueue(frame []byte) error {
	select {
	case c.outbox <- frame:
		return nil
	case <-c.ctx.Done():
		return ErrChannelClosed
	}
}

// writeLoop is the single-writer goroutine: all frames, first transmissions
// and retransmissions alike, go through here so writes never interleave.
func (c *Channel) writeLoop() {
	for {
		select {
		case frame := <-c.outbox:
			if _, err := c.conn.Write(frame); err != nil {
				c.fail(err)
				return
			}
			util.Stats.AddSent(len(frame))

		case <-c.ctx.Done():
			return
		}
	}
}

// ---------------------------------------------------------------------------
// Reader
// ---------------------------------------------------------------------------

// readLoop decodes frames off the stream. Corrupt frames are dropped
// silently (the peer's retransmission recovers them); a bad magic number is
// fatal. Data packets are acknowledged immediately — duplicates included, to
// unblock a peer that missed the first ack — and delivered in order through
// the reassembler exactly once.
func (c *Channel) readLoop() {
	reasm := NewReassembler()

	for {
		pkt, err := protocol.ReadFrame(c.conn)
		if err != nil {
			if err == protocol.ErrCorrupt {
				util.Stats.AddCorrupt()
				continue
			}
			c.fail(err)
			return
		}
		util.Stats.AddRecv(protocol.HeaderSize + len(pkt.Payload))

		if pkt.Type == protocol.TypeAck {
			c.mu.Lock()
			delete(c.pending, pkt.SeqNum)
			c.mu.Unlock()
			continue
		}

		c.sendAck(pkt.SeqNum)

		delivered := reasm.Feed(pkt)
		c.trackGap(reasm)

		for _, d := range delivered {
			select {
			case c.inbox <- Message{Type: d.Type, Payload: d.Payload}:
			case <-c.ctx.Done():
				return
			}
		}
	}
}

// sendAck queues an acknowledgement. ACKs echo the acked sequence in their
// header and are never registered in the pending set, so they are neither
// retransmitted nor acknowledged themselves.
func (c *Channel) sendAck(seq uint32) {
	frame := protocol.Encode(&protocol.Packet{
		SeqNum: seq,
		Type:   protocol.TypeAck,
	})
	// Best effort: if the channel is going down the ack does not matter.
	_ = c.enqueue(frame)
}

// trackGap records when a sequence gap opens so the retransmission loop can
// enforce the gap timeout.
func (c *Channel) trackGap(reasm *Reassembler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if reasm.Pending() {
		if c.gapOpen.IsZero() {
			c.gapOpen = time.Now()
		}
	} else {
		c.gapOpen = time.Time{}
	}
}

// ---------------------------------------------------------------------------
// Retransmission
// ---------------------------------------------------------------------------

// retransmitLoop scans the pending set on a fixed interval. Packets past
// their deadline are resent up to MaxRetries times; one packet over budget
// kills the whole channel. It also enforces the gap timeout.
func (c *Channel) retransmitLoop() {
	ticker := time.NewTicker(c.opts.RetransmitInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			now := time.Now()

			c.mu.Lock()
			if !c.gapOpen.IsZero() && now.Sub(c.gapOpen) > c.opts.GapTimeout {
				c.mu.Unlock()
				c.fail(ErrDesync)
				return
			}

			var resend [][]byte
			lost := false
			for _, p := range c.pending {
				if now.Before(p.deadline) {
					continue
				}
				if p.tries >= c.opts.MaxRetries {
					lost = true
					break
				}
				p.tries++
				p.deadline = now.Add(c.opts.RetransmitDeadline)
				resend = append(resend, p.frame)
			}
			c.mu.Unlock()

			if lost {
				c.fail(ErrLinkLost)
				return
			}
			for _, frame := range resend {
				util.Stats.AddRetransmit()
				if err := c.enqueue(frame); err != nil {
					return
				}
			}

		case <-c.ctx.Done():
			return
		}
	}
}

// ---------------------------------------------------------------------------
// Shutdown
// ---------------------------------------------------------------------------

// fail records the first shutdown cause, cancels the channel context and
// closes the underlying stream so the reader unblocks.
func (c *Channel) fail(err error) {
	c.failOnce.Do(func() {
		c.mu.Lock()
		c.err = err
		c.mu.Unlock()
		c.cancel()
		c.conn.Close()
	})
}
