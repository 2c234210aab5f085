package server

import (
	"fmt"
	"net"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/salvo-net/salvo/internal/util"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// startWSGateway serves the framed protocol over WebSocket at /ws. Each
// binary message stream is adapted into an io.ReadWriteCloser and handled
// exactly like a TCP connection, so WebSocket clients and spectators go
// through the same IDENTIFY handshake and reliable channel.
func (o *Orchestrator) startWSGateway(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to start WS gateway on %s: %w", addr, err)
	}

	o.mu.Lock()
	o.wsAddr = listener.Addr()
	o.mu.Unlock()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		util.LogDebug("new websocket connection from %s", conn.RemoteAddr())
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			o.HandleStream(&wsStream{conn: conn})
		}()
	})

	go func() {
		<-o.ctx.Done()
		listener.Close()
	}()
	go func() {
		_ = http.Serve(listener, mux)
	}()

	util.LogInfo("websocket gateway listening on %s", addr)
	return nil
}

// wsStream adapts a WebSocket connection to the ordered byte stream the
// reliable channel expects. Message boundaries are ignored: frames are
// delimited by the protocol header, not by WebSocket messages.
type wsStream struct {
	conn *websocket.Conn
	rest []byte // unread remainder of the current message
}

func (s *wsStream) Read(p []byte) (int, error) {
	for len(s.rest) == 0 {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			return 0, err
		}
		if msgType != websocket.BinaryMessage {
			continue
		}
		s.rest = data
	}
	n := copy(p, s.rest)
	s.rest = s.rest[n:]
	return n, nil
}

func (s *wsStream) Write(p []byte) (int, error) {
	if err := s.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (s *wsStream) Close() error {
	return s.conn.Close()
}
