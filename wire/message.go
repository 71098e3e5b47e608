package wire

import (
	"encoding/binary"
	"io"

	"github.com/ghosthamlet/boost-torrent/core"
)

// MessageID identifies the type of a peer wire message.
type MessageID uint8

// Message types, per BEP 3.
const (
	MsgChoke MessageID = iota
	MsgUnchoke
	MsgInterested
	MsgNotInterested
	MsgHave
	MsgBitfield
	MsgRequest
	MsgPiece
	MsgCancel
)

func (id MessageID) String() string {
	switch id {
	case MsgChoke:
		return "choke"
	case MsgUnchoke:
		return "unchoke"
	case MsgInterested:
		return "interested"
	case MsgNotInterested:
		return "not_interested"
	case MsgHave:
		return "have"
	case MsgBitfield:
		return "bitfield"
	case MsgRequest:
		return "request"
	case MsgPiece:
		return "piece"
	case MsgCancel:
		return "cancel"
	default:
		return "unknown"
	}
}

// Message is a single length-prefixed wire message. A nil Message
// (ID unset, no payload and zero length on the wire) represents a
// keep-alive.
type Message struct {
	ID      MessageID
	Payload []byte
}

// Serialize encodes m as <length prefix><message ID><payload>.
func (m *Message) Serialize() []byte {
	if m == nil {
		return make([]byte, 4) // keep-alive: length prefix of 0.
	}
	length := uint32(len(m.Payload) + 1)
	buf := make([]byte, 4+length)
	binary.BigEndian.PutUint32(buf[0:4], length)
	buf[4] = byte(m.ID)
	copy(buf[5:], m.Payload)
	return buf
}

// Write serializes m and writes it to w.
func Write(w io.Writer, m *Message) error {
	if _, err := w.Write(m.Serialize()); err != nil {
		return core.Wrap(core.BitTorrentTCPSend, err)
	}
	return nil
}

// Read reads one message from r, blocking until a full message (or
// keep-alive) arrives. Returns a nil Message and nil error on a
// keep-alive. Uses io.ReadFull throughout so a peer closing mid-message
// surfaces io.ErrUnexpectedEOF instead of a truncated message.
func Read(r io.Reader) (*Message, error) {
	lengthBuf := make([]byte, 4)
	if _, err := io.ReadFull(r, lengthBuf); err != nil {
		return nil, core.Wrap(core.BitTorrentTCPRecv, err)
	}
	length := binary.BigEndian.Uint32(lengthBuf)
	if length == 0 {
		return nil, nil // keep-alive
	}

	messageBuf := make([]byte, length)
	if _, err := io.ReadFull(r, messageBuf); err != nil {
		return nil, core.Wrap(core.BitTorrentTCPRecv, err)
	}

	return &Message{
		ID:      MessageID(messageBuf[0]),
		Payload: messageBuf[1:],
	}, nil
}

// NewHave builds a "have" message announcing completion of the piece at index.
func NewHave(index int) *Message {
	payload := make([]byte, 4)
	binary.BigEndian.PutUint32(payload, uint32(index))
	return &Message{ID: MsgHave, Payload: payload}
}

// ParseHave extracts the piece index from a "have" message.
func ParseHave(m *Message) (int, error) {
	if m.ID != MsgHave {
		return 0, core.Errorf(core.UnexpectedMessageType, "expected have (%s), got %s", MsgHave, m.ID)
	}
	if len(m.Payload) != 4 {
		return 0, core.Errorf(core.BitTorrentProtocol, "have payload must be 4 bytes, got %d", len(m.Payload))
	}
	return int(binary.BigEndian.Uint32(m.Payload)), nil
}

// NewBitfield builds a "bitfield" message carrying the raw bitfield bytes.
func NewBitfield(bitfield []byte) *Message {
	return &Message{ID: MsgBitfield, Payload: bitfield}
}

// NewRequest builds a "request" message for a block of a piece.
func NewRequest(index, begin, length int) *Message {
	payload := make([]byte, 12)
	binary.BigEndian.PutUint32(payload[0:4], uint32(index))
	binary.BigEndian.PutUint32(payload[4:8], uint32(begin))
	binary.BigEndian.PutUint32(payload[8:12], uint32(length))
	return &Message{ID: MsgRequest, Payload: payload}
}

// RequestFields holds the fields of a parsed request or cancel message.
type RequestFields struct {
	Index, Begin, Length int
}

// ParseRequest extracts the index/begin/length fields from a "request" message.
func ParseRequest(m *Message) (RequestFields, error) {
	return parseIndexBeginLength(m, MsgRequest)
}

// NewCancel builds a "cancel" message for a previously requested block.
func NewCancel(index, begin, length int) *Message {
	payload := make([]byte, 12)
	binary.BigEndian.PutUint32(payload[0:4], uint32(index))
	binary.BigEndian.PutUint32(payload[4:8], uint32(begin))
	binary.BigEndian.PutUint32(payload[8:12], uint32(length))
	return &Message{ID: MsgCancel, Payload: payload}
}

// ParseCancel extracts the index/begin/length fields from a "cancel" message.
func ParseCancel(m *Message) (RequestFields, error) {
	return parseIndexBeginLength(m, MsgCancel)
}

func parseIndexBeginLength(m *Message, want MessageID) (RequestFields, error) {
	var f RequestFields
	if m.ID != want {
		return f, core.Errorf(core.UnexpectedMessageType, "expected %s, got %s", want, m.ID)
	}
	if len(m.Payload) != 12 {
		return f, core.Errorf(core.BitTorrentProtocol, "%s payload must be 12 bytes, got %d", want, len(m.Payload))
	}
	f.Index = int(binary.BigEndian.Uint32(m.Payload[0:4]))
	f.Begin = int(binary.BigEndian.Uint32(m.Payload[4:8]))
	f.Length = int(binary.BigEndian.Uint32(m.Payload[8:12]))
	return f, nil
}

// NewPiece builds a "piece" message carrying a downloaded block.
func NewPiece(index, begin int, block []byte) *Message {
	payload := make([]byte, 8+len(block))
	binary.BigEndian.PutUint32(payload[0:4], uint32(index))
	binary.BigEndian.PutUint32(payload[4:8], uint32(begin))
	copy(payload[8:], block)
	return &Message{ID: MsgPiece, Payload: payload}
}

// PieceFields holds the fields of a parsed "piece" message.
type PieceFields struct {
	Index, Begin int
	Block        []byte
}

// ParsePiece extracts the index/begin/block fields from a "piece" message.
func ParsePiece(m *Message) (PieceFields, error) {
	var f PieceFields
	if m.ID != MsgPiece {
		return f, core.Errorf(core.UnexpectedMessageType, "expected piece (%s), got %s", MsgPiece, m.ID)
	}
	if len(m.Payload) < 8 {
		return f, core.Errorf(core.BitTorrentProtocol, "piece payload must be at least 8 bytes, got %d", len(m.Payload))
	}
	f.Index = int(binary.BigEndian.Uint32(m.Payload[0:4]))
	f.Begin = int(binary.BigEndian.Uint32(m.Payload[4:8]))
	f.Block = m.Payload[8:]
	return f, nil
}
