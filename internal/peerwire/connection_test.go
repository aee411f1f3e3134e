package peerwire

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAwaitBitfieldOrExtensionReadsBitfieldFirst(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	pc := &PeerConnection{Conn: client, State: StateHandshaken}

	done := make(chan error, 1)
	go func() { done <- pc.awaitBitfieldOrExtension() }()

	_, err := server.Write((&Message{ID: MsgBitfield, Payload: []byte{0xff, 0x00}}).Serialize())
	require.NoError(t, err)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for bitfield")
	}
	assert.Equal(t, StateBitfieldReceived, pc.State)
	assert.True(t, pc.Bitfield.Has(0))
}

func TestAwaitBitfieldOrExtensionSeesExtensionHandshakeThenBitfield(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	pc := &PeerConnection{Conn: client, State: StateHandshaken}

	done := make(chan error, 1)
	go func() { done <- pc.awaitBitfieldOrExtension() }()

	_, err := server.Write(BuildExtensionHandshake(3))
	require.NoError(t, err)
	_, err = server.Write((&Message{ID: MsgBitfield, Payload: []byte{0x80}}).Serialize())
	require.NoError(t, err)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for bitfield")
	}
	require.NotNil(t, pc.Extension)
	id, ok := pc.PeerUTMetadataID()
	assert.True(t, ok)
	assert.EqualValues(t, 3, id)
}

func TestSendInterestedAdvancesState(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	pc := &PeerConnection{Conn: client, State: StateBitfieldReceived}
	go func() {
		buf := make([]byte, 64)
		server.Read(buf)
		server.Read(buf)
	}()
	require.NoError(t, pc.SendInterested())
	assert.Equal(t, StateInterested, pc.State)
}
