// Package peerwire implements the BitTorrent peer wire protocol (§4.4):
// the handshake, the length-prefixed message framing, the bitfield, and
// the BEP 10 extension protocol used for ut_metadata exchange.
package peerwire

import (
	"bytes"
	"fmt"
	"io"
)

// Protocol is the pstr field sent in every handshake.
const Protocol = "BitTorrent protocol"

// HandshakeSize is the total length of a handshake message: 1 + pstr +
// 8 reserved bytes + 20-byte info-hash + 20-byte peer-id.
const HandshakeSize = 1 + len(Protocol) + 8 + 20 + 20

// Extension bits within the 8 reserved handshake bytes.
const (
	ExtensionBitExtended = 0x10 // reserved[5] bit 4 - BEP 10
)

// BuildHandshake serialises a handshake message for the given info-hash
// and peer-id, advertising BEP 10 extension support (§4.4).
func BuildHandshake(infoHash, peerID [20]byte) []byte {
	buf := make([]byte, HandshakeSize)
	buf[0] = byte(len(Protocol))
	copy(buf[1:], Protocol)
	reserved := buf[1+len(Protocol) : 1+len(Protocol)+8]
	reserved[5] = ExtensionBitExtended
	copy(buf[1+len(Protocol)+8:], infoHash[:])
	copy(buf[1+len(Protocol)+8+20:], peerID[:])
	return buf
}

// ReceivedHandshake is a handshake read back from a peer.
type ReceivedHandshake struct {
	InfoHash         [20]byte
	PeerID           [20]byte
	SupportsExtended bool
}

// ReadHandshake reads and validates a peer's handshake response, checking
// that it uses the same protocol string and info-hash we sent (§4.4).
func ReadHandshake(r io.Reader, wantInfoHash [20]byte) (*ReceivedHandshake, error) {
	buf := make([]byte, HandshakeSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("peerwire: read handshake: %w", err)
	}

	pstrLen := int(buf[0])
	if pstrLen != len(Protocol) || string(buf[1:1+pstrLen]) != Protocol {
		return nil, fmt.Errorf("peerwire: unexpected protocol string %q", buf[1:1+min(pstrLen, len(buf)-1)])
	}

	reserved := buf[1+pstrLen : 1+pstrLen+8]
	var infoHash, peerID [20]byte
	copy(infoHash[:], buf[1+pstrLen+8:1+pstrLen+8+20])
	copy(peerID[:], buf[1+pstrLen+8+20:])

	if !bytes.Equal(infoHash[:], wantInfoHash[:]) {
		return nil, fmt.Errorf("peerwire: info-hash mismatch")
	}

	return &ReceivedHandshake{
		InfoHash:         infoHash,
		PeerID:           peerID,
		SupportsExtended: reserved[5]&ExtensionBitExtended != 0,
	}, nil
}
