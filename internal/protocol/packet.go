// Package protocol defines the packet format and types for the Salvo wire protocol.
package protocol

// MagicNumber identifies the protocol ("BSHP" in hex). A frame whose first
// four bytes do not match is foreign traffic and the connection is beyond
// recovery — framing on a byte stream cannot be resynchronized.
const MagicNumber uint32 = 0x42534850

// Packet type constants.
const (
	TypeIdentify       uint8 = 0x01 // Username handshake, first packet on every connection
	TypeAck            uint8 = 0x02 // Acknowledgement, header seq echoes the acked seq
	TypePlaceShip      uint8 = 0x03 // "PLACE <coord> <H|V> <ship>" or "PLACE RANDOM"
	TypeFire           uint8 = 0x04 // Coordinate to fire at, e.g. "B5"
	TypeResult         uint8 = 0x05 // Shot outcome: HIT / MISS / SUNK <ship> / WIN
	TypeBoardUpdate    uint8 = 0x06 // Rendered board text
	TypePauseNotice    uint8 = 0x07 // "<username> <seconds>" — game paused awaiting reconnect
	TypeResumeNotice   uint8 = 0x08 // "<username>" — player reconnected
	TypeGameOver       uint8 = 0x09 // "<winner> <reason>"
	TypeSpectateNotice uint8 = 0x0a // Human-readable notice to spectators
	TypeError          uint8 = 0x0b // Human-readable rejection
	TypeChat           uint8 = 0x0c // Free text, relayed within a game
	TypeRematch        uint8 = 0x0d // Player wants back into the matchmaking queue
	TypeInfo           uint8 = 0x0e // Server prose (prompts, turn announcements)
)

// HeaderSize is the fixed header size:
// Magic(4) + SeqNum(4) + Type(1) + Length(4) + Checksum(4).
const HeaderSize = 17

// MaxPayloadSize bounds the payload length field so a corrupt length that
// slipped past the magic check cannot make the reader allocate gigabytes.
const MaxPayloadSize = 64 * 1024

// Packet represents one frame of the Salvo protocol.
type Packet struct {
	SeqNum  uint32 // Per-connection sequence number; for ACKs, the acked seq
	Type    uint8  // One of the Type* constants
	Payload []byte
}

// IsControl reports whether the packet type bypasses the sequencing and
// acknowledgement machinery. Control packets never consume a data sequence
// number, so the data stream stays contiguous for the receiver.
func (p *Packet) IsControl() bool {
	return p.Type == TypeAck
}

// TypeName returns a human-readable name for a packet type, for logging.
func TypeName(t uint8) string {
	switch t {
	case TypeIdentify:
		return "IDENTIFY"
	case TypeAck:
		return "ACK"
	case TypePlaceShip:
		return "PLACE_SHIP"
	case TypeFire:
		return "FIRE"
	case TypeResult:
		return "RESULT"
	case TypeBoardUpdate:
		return "BOARD_UPDATE"
	case TypePauseNotice:
		return "PAUSE_NOTICE"
	case TypeResumeNotice:
		return "RESUME_NOTICE"
	case TypeGameOver:
		return "GAME_OVER"
	case TypeSpectateNotice:
		return "SPECTATE_NOTICE"
	case TypeError:
		return "ERROR"
	case TypeChat:
		return "CHAT"
	case TypeRematch:
		return "REMATCH"
	case TypeInfo:
		return "INFO"
	default:
		return "UNKNOWN"
	}
}
