package peerwire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// MessageID identifies the kind of a peer wire message (§4.4).
type MessageID uint8

// Message ids.
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
	MsgExtended MessageID = 20
)

// Message is a single length-prefixed peer wire message. A zero-length
// message body means keep-alive and is never returned by ReadMessage.
type Message struct {
	ID      MessageID
	Payload []byte
}

// Serialize returns the wire representation: a 4-byte big-endian length
// (id + payload), the id byte, then the payload.
func (m *Message) Serialize() []byte {
	length := uint32(len(m.Payload) + 1)
	buf := make([]byte, 4+length)
	binary.BigEndian.PutUint32(buf, length)
	buf[4] = byte(m.ID)
	copy(buf[5:], m.Payload)
	return buf
}

// ReadMessage reads the next non-keepalive message from r.
func ReadMessage(r io.Reader) (*Message, error) {
	lenBuf := make([]byte, 4)
	for {
		if _, err := io.ReadFull(r, lenBuf); err != nil {
			return nil, fmt.Errorf("peerwire: read message length: %w", err)
		}
		length := binary.BigEndian.Uint32(lenBuf)
		if length == 0 {
			continue // keep-alive
		}
		body := make([]byte, length)
		if _, err := io.ReadFull(r, body); err != nil {
			return nil, fmt.Errorf("peerwire: read message body: %w", err)
		}
		return &Message{ID: MessageID(body[0]), Payload: body[1:]}, nil
	}
}

// Interested returns a serialized interested message.
func Interested() []byte { return (&Message{ID: MsgInterested}).Serialize() }

// Unchoke returns a serialized unchoke message.
func Unchoke() []byte { return (&Message{ID: MsgUnchoke}).Serialize() }

// Have returns a serialized have message for the given piece index.
func Have(index int) []byte {
	payload := make([]byte, 4)
	binary.BigEndian.PutUint32(payload, uint32(index))
	return (&Message{ID: MsgHave, Payload: payload}).Serialize()
}

// Request returns a serialized block request message (§4.5).
func Request(index, begin, length int) []byte {
	payload := make([]byte, 12)
	binary.BigEndian.PutUint32(payload[0:4], uint32(index))
	binary.BigEndian.PutUint32(payload[4:8], uint32(begin))
	binary.BigEndian.PutUint32(payload[8:12], uint32(length))
	return (&Message{ID: MsgRequest, Payload: payload}).Serialize()
}

// PieceBlock is the parsed payload of a piece message: the piece index,
// the byte offset within the piece, and the block data.
type PieceBlock struct {
	Index int
	Begin int
	Data  []byte
}

// ParsePiece parses the payload of a piece message.
func ParsePiece(payload []byte) (*PieceBlock, error) {
	if len(payload) < 8 {
		return nil, fmt.Errorf("peerwire: piece payload too short: %d bytes", len(payload))
	}
	return &PieceBlock{
		Index: int(binary.BigEndian.Uint32(payload[0:4])),
		Begin: int(binary.BigEndian.Uint32(payload[4:8])),
		Data:  payload[8:],
	}, nil
}
