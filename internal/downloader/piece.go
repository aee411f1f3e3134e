// Package downloader drives the block-pipelined download of individual
// pieces over an already-handshaken peer connection, and orchestrates a
// full download by fanning work out across all known peers (§4.5, §4.6).
package downloader

import (
	"crypto/sha1"
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/tancredi/bitpeer/internal/peerwire"
)

// BlockSize is the size of a single requested block, 16 KiB (§4.5).
const BlockSize = 1 << 14

// MaxPipelinedRequests bounds how many block requests may be in flight
// to a single peer at once (§4.5).
const MaxPipelinedRequests = 5

// pieceDeadline bounds how long we wait on a single piece before giving
// up on the peer serving it.
const pieceDeadline = 30 * time.Second

// ErrPieceHashMismatch is returned when a downloaded piece's SHA1 does
// not match its expected hash (§4.5, §7).
var ErrPieceHashMismatch = errors.New("downloader: piece hash mismatch")

// PieceRequest describes one piece to fetch: its index, expected length
// and expected SHA1 hash.
type PieceRequest struct {
	Index  int
	Length int
	Hash   [20]byte
}

// DownloadPiece pipelines block requests to peer for the described piece,
// reassembling blocks by offset as they arrive out of order, and verifies
// the result's SHA1 before returning it.
func DownloadPiece(pc *peerwire.PeerConnection, req PieceRequest) ([]byte, error) {
	pc.Conn.SetDeadline(time.Now().Add(pieceDeadline))
	defer pc.Conn.SetDeadline(time.Time{})

	buf := make([]byte, req.Length)
	received := 0
	nextOffset := 0
	inFlight := 0

	for received < req.Length {
		for !pc.Choked && inFlight < MaxPipelinedRequests && nextOffset < req.Length {
			length := BlockSize
			if nextOffset+length > req.Length {
				length = req.Length - nextOffset
			}
			if _, err := pc.Conn.Write(peerwire.Request(req.Index, nextOffset, length)); err != nil {
				return nil, errors.Wrap(err, "downloader: send request")
			}
			nextOffset += length
			inFlight++
		}

		msg, err := peerwire.ReadMessage(pc.Conn)
		if err != nil {
			return nil, errors.Wrap(err, "downloader: read message")
		}

		switch msg.ID {
		case peerwire.MsgChoke:
			pc.Choked = true
		case peerwire.MsgUnchoke:
			pc.Choked = false
		case peerwire.MsgHave:
			if len(msg.Payload) == 4 {
				pc.Bitfield.Set(int(beUint32(msg.Payload)))
			}
		case peerwire.MsgPiece:
			block, err := peerwire.ParsePiece(msg.Payload)
			if err != nil {
				return nil, err
			}
			if block.Index != req.Index {
				continue
			}
			if block.Begin+len(block.Data) > req.Length {
				return nil, fmt.Errorf("downloader: block extends past piece bound (%d > %d)",
					block.Begin+len(block.Data), req.Length)
			}
			received += copy(buf[block.Begin:], block.Data)
			inFlight--
		default:
			// ignore bitfield/interested/etc while downloading
		}
	}

	if got := sha1.Sum(buf); got != req.Hash {
		return nil, errors.Wrapf(ErrPieceHashMismatch, "piece %d: got %x want %x", req.Index, got, req.Hash)
	}
	return buf, nil
}

func beUint32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}
