package server

import (
	"context"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/salvo-net/salvo/internal/config"
	"github.com/salvo-net/salvo/internal/link"
	"github.com/salvo-net/salvo/internal/protocol"
)

// TestWSGatewayHandshake connects through the WebSocket gateway and runs the
// IDENTIFY handshake over the same framed protocol TCP clients use.
func TestWSGatewayHandshake(t *testing.T) {
	cfg := config.DefaultServer()
	cfg.ListenAddr = "127.0.0.1:0"
	cfg.WSAddr = "127.0.0.1:0"
	cfg.RetransmitInterval = 20 * time.Millisecond
	cfg.RetransmitDeadline = 50 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	o := New(cfg)
	go func() { _ = o.Run(ctx) }()
	require.Eventually(t, func() bool { return o.WSAddr() != nil },
		2*time.Second, 10*time.Millisecond)

	wsConn, _, err := websocket.DefaultDialer.Dial("ws://"+o.WSAddr().String()+"/ws", nil)
	require.NoError(t, err)

	ch := link.New(ctx, &wsStream{conn: wsConn}, link.Options{
		RetransmitInterval: 20 * time.Millisecond,
		RetransmitDeadline: 50 * time.Millisecond,
	})
	t.Cleanup(func() { ch.Close() })

	require.NoError(t, ch.Send(protocol.TypeIdentify, []byte("wendy")))

	recvCtx, cancelRecv := context.WithTimeout(ctx, 3*time.Second)
	defer cancelRecv()
	for {
		msg, err := ch.Receive(recvCtx)
		require.NoError(t, err)
		if msg.Type == protocol.TypeInfo {
			require.Contains(t, string(msg.Payload), "Welcome, wendy")
			return
		}
	}
}
