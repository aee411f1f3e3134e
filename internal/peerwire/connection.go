package peerwire

import (
	"fmt"
	"net"
	"time"

	"github.com/pkg/errors"
)

// State is a PeerConnection's position in its lifecycle (§4.4).
type State int

// Connection states, in the order a healthy connection passes through them.
const (
	StateConnected State = iota
	StateHandshaken
	StateBitfieldReceived
	StateInterested
	StateUnchoked
	StateDownloading
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateHandshaken:
		return "handshaken"
	case StateBitfieldReceived:
		return "bitfield_received"
	case StateInterested:
		return "interested"
	case StateUnchoked:
		return "unchoked"
	case StateDownloading:
		return "downloading"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// dialTimeout bounds the initial TCP connect (§4.4).
const dialTimeout = 5 * time.Second

// PeerConnection is a single TCP connection to a peer, advanced through
// the handshake and bitfield exchange before it is usable for downloads.
type PeerConnection struct {
	Conn      net.Conn
	Address   string
	PeerID    [20]byte
	Bitfield  Bitfield
	State     State
	Choked    bool
	Extension *ExtensionHandshake // nil if the peer doesn't support BEP 10
}

// Dial connects to address, performs the handshake, and reads back the
// peer's bitfield (or extension handshake, if it arrives first and the
// peer supports BEP 10 metadata exchange). It leaves the connection in
// StateBitfieldReceived on success, matching the teacher connection flow.
func Dial(address string, infoHash, localPeerID [20]byte) (*PeerConnection, error) {
	conn, err := net.DialTimeout("tcp", address, dialTimeout)
	if err != nil {
		return nil, errors.Wrapf(err, "peerwire: dial %s", address)
	}

	pc := &PeerConnection{Conn: conn, Address: address, Choked: true, State: StateConnected}

	if _, err := conn.Write(BuildHandshake(infoHash, localPeerID)); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "peerwire: send handshake")
	}
	received, err := ReadHandshake(conn, infoHash)
	if err != nil {
		conn.Close()
		return nil, err
	}
	pc.PeerID = received.PeerID
	pc.State = StateHandshaken

	if received.SupportsExtended {
		if _, err := conn.Write(BuildExtensionHandshake(extendedLocalUTMetadataID)); err != nil {
			conn.Close()
			return nil, errors.Wrap(err, "peerwire: send extension handshake")
		}
	}

	if err := pc.awaitBitfieldOrExtension(); err != nil {
		conn.Close()
		return nil, err
	}

	return pc, nil
}

// extendedLocalUTMetadataID is the id we ask peers to use when addressing
// ut_metadata messages to us.
const extendedLocalUTMetadataID = 1

// awaitBitfieldOrExtension reads messages until it has seen a bitfield
// (some peers send their extension handshake first).
func (pc *PeerConnection) awaitBitfieldOrExtension() error {
	for i := 0; i < 4; i++ {
		msg, err := ReadMessage(pc.Conn)
		if err != nil {
			return errors.Wrap(err, "peerwire: await bitfield")
		}
		switch msg.ID {
		case MsgBitfield:
			pc.Bitfield = Bitfield(msg.Payload)
			pc.State = StateBitfieldReceived
			return nil
		case MsgExtended:
			if len(msg.Payload) < 1 {
				continue
			}
			if msg.Payload[0] == 0 {
				hs, err := ParseExtensionHandshake(msg.Payload[1:])
				if err != nil {
					return err
				}
				pc.Extension = hs
			}
		case MsgHave:
			continue
		default:
			continue
		}
	}
	return fmt.Errorf("peerwire: no bitfield received from %s", pc.Address)
}

// SendInterested sends an unchoke followed by an interested message,
// advancing the state to StateInterested (§4.4).
func (pc *PeerConnection) SendInterested() error {
	if _, err := pc.Conn.Write(Unchoke()); err != nil {
		return errors.Wrap(err, "peerwire: send unchoke")
	}
	if _, err := pc.Conn.Write(Interested()); err != nil {
		return errors.Wrap(err, "peerwire: send interested")
	}
	pc.State = StateInterested
	return nil
}

// PeerUTMetadataID returns the numeric id the peer wants ut_metadata
// extended messages addressed to, and whether it advertised support.
func (pc *PeerConnection) PeerUTMetadataID() (uint8, bool) {
	if pc.Extension == nil {
		return 0, false
	}
	id, ok := pc.Extension.MessageIDs[UTMetadataName]
	return id, ok
}

// Close closes the underlying connection.
func (pc *PeerConnection) Close() error {
	pc.State = StateClosed
	return pc.Conn.Close()
}
