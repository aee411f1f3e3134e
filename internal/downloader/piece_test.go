package downloader

import (
	"crypto/sha1"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tancredi/bitpeer/internal/peerwire"
)

func TestDownloadPieceReassemblesOutOfOrderBlocks(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	data := make([]byte, BlockSize+100)
	for i := range data {
		data[i] = byte(i)
	}
	hash := sha1.Sum(data)

	pc := &peerwire.PeerConnection{Conn: client, Choked: false}

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- serveFakePeer(server, data, 3)
	}()

	got, err := DownloadPiece(pc, PieceRequest{Index: 3, Length: len(data), Hash: hash})
	require.NoError(t, err)
	assert.Equal(t, data, got)

	select {
	case err := <-serverDone:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("fake peer did not finish")
	}
}

func TestDownloadPieceRejectsBadHash(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	data := []byte("some short piece data")
	var wrongHash [20]byte

	pc := &peerwire.PeerConnection{Conn: client, Choked: false}
	go serveFakePeer(server, data, 0)

	_, err := DownloadPiece(pc, PieceRequest{Index: 0, Length: len(data), Hash: wrongHash})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPieceHashMismatch)
}

// serveFakePeer answers every request for pieceIndex with the
// corresponding block of data, replying to requests in the reverse of
// the order they were received so DownloadPiece must reassemble
// out-of-order arrivals.
func serveFakePeer(conn net.Conn, data []byte, pieceIndex int) error {
	var requestedBegins []int
	wantBlocks := (len(data) + BlockSize - 1) / BlockSize

	for len(requestedBegins) < wantBlocks {
		msg, err := peerwire.ReadMessage(conn)
		if err != nil {
			return err
		}
		if msg.ID != peerwire.MsgRequest {
			continue
		}
		begin := int(uint32(msg.Payload[4])<<24 | uint32(msg.Payload[5])<<16 | uint32(msg.Payload[6])<<8 | uint32(msg.Payload[7]))
		requestedBegins = append(requestedBegins, begin)
	}

	for i := len(requestedBegins) - 1; i >= 0; i-- {
		begin := requestedBegins[i]
		end := begin + BlockSize
		if end > len(data) {
			end = len(data)
		}
		payload := blockPayload(pieceIndex, begin, data[begin:end])
		if _, err := conn.Write((&peerwire.Message{ID: peerwire.MsgPiece, Payload: payload}).Serialize()); err != nil {
			return err
		}
	}
	return nil
}

func blockPayload(index, begin int, block []byte) []byte {
	payload := make([]byte, 8+len(block))
	payload[0], payload[1], payload[2], payload[3] = byte(index>>24), byte(index>>16), byte(index>>8), byte(index)
	payload[4], payload[5], payload[6], payload[7] = byte(begin>>24), byte(begin>>16), byte(begin>>8), byte(begin)
	copy(payload[8:], block)
	return payload
}
