package peerwire

import (
	"crypto/sha1"
	"fmt"

	"github.com/tancredi/bitpeer/internal/bencode"
)

// UTMetadataName is the extension name peers advertise in the "m"
// dictionary of the extension handshake (BEP 9).
const UTMetadataName = "ut_metadata"

// ut_metadata message types (BEP 9).
const (
	metadataMsgRequest uint8 = iota
	metadataMsgData
	metadataMsgReject
)

// ExtensionHandshake is the decoded payload of a BEP 10 handshake.
type ExtensionHandshake struct {
	// MessageIDs maps extension name ("ut_metadata") to the numeric id
	// the peer wants it addressed by in extended messages.
	MessageIDs map[string]uint8
	// MetadataSize is the total size in bytes of the info dictionary,
	// present once the peer knows it.
	MetadataSize int
}

// BuildExtensionHandshake serialises the local BEP 10 handshake,
// advertising ut_metadata under the given local extended message id.
func BuildExtensionHandshake(localUTMetadataID uint8) []byte {
	body := bencode.Value{
		Kind: bencode.KindDict,
		Dict: map[string]bencode.Value{
			"m": {
				Kind: bencode.KindDict,
				Dict: map[string]bencode.Value{
					UTMetadataName: bencode.NewInt(int64(localUTMetadataID)),
				},
			},
		},
	}
	encoded := bencode.Encode(body)
	payload := make([]byte, 1+len(encoded))
	payload[0] = 0 // extended handshake id is always 0
	copy(payload[1:], encoded)
	return (&Message{ID: MsgExtended, Payload: payload}).Serialize()
}

// ParseExtensionHandshake decodes the bencoded body of an extended
// handshake message (the payload with the leading id byte stripped).
func ParseExtensionHandshake(body []byte) (*ExtensionHandshake, error) {
	v, _, err := bencode.Decode(body)
	if err != nil {
		return nil, fmt.Errorf("peerwire: decode extension handshake: %w", err)
	}
	if v.Kind != bencode.KindDict {
		return nil, fmt.Errorf("peerwire: extension handshake is not a dictionary")
	}

	mVal, ok := v.Dict["m"]
	if !ok || mVal.Kind != bencode.KindDict {
		return nil, fmt.Errorf("peerwire: extension handshake missing \"m\"")
	}
	ids := make(map[string]uint8, len(mVal.Dict))
	for name, idVal := range mVal.Dict {
		if idVal.Kind == bencode.KindInteger {
			ids[name] = uint8(idVal.Int)
		}
	}

	size := 0
	if sizeVal, ok := v.Dict["metadata_size"]; ok && sizeVal.Kind == bencode.KindInteger {
		size = int(sizeVal.Int)
	}

	return &ExtensionHandshake{MessageIDs: ids, MetadataSize: size}, nil
}

// BuildMetadataRequest builds an extended message requesting metadata
// piece index, addressed to the peer's advertised ut_metadata id.
func BuildMetadataRequest(peerUTMetadataID uint8, piece int) []byte {
	header := bencode.Value{
		Kind: bencode.KindDict,
		Dict: map[string]bencode.Value{
			"msg_type": bencode.NewInt(int64(metadataMsgRequest)),
			"piece":    bencode.NewInt(int64(piece)),
		},
	}
	encoded := bencode.Encode(header)
	payload := make([]byte, 1+len(encoded))
	payload[0] = peerUTMetadataID
	copy(payload[1:], encoded)
	return (&Message{ID: MsgExtended, Payload: payload}).Serialize()
}

// MetadataPiece is a decoded ut_metadata data message: the piece index
// and its raw info-dictionary bytes.
type MetadataPiece struct {
	Index int
	Data  []byte
}

// ErrMetadataRejected is returned by ParseMetadataMessage when the peer
// rejected the metadata request.
var ErrMetadataRejected = fmt.Errorf("peerwire: peer rejected metadata request")

// ParseMetadataMessage decodes an extended message body addressed to our
// local ut_metadata id. The body is the bencoded header immediately
// followed (with no delimiter) by the raw piece bytes for data messages.
func ParseMetadataMessage(body []byte) (*MetadataPiece, error) {
	header, consumed, err := bencode.Decode(body)
	if err != nil {
		return nil, fmt.Errorf("peerwire: decode metadata message: %w", err)
	}
	if header.Kind != bencode.KindDict {
		return nil, fmt.Errorf("peerwire: metadata message is not a dictionary")
	}

	msgType, ok := header.Dict["msg_type"]
	if !ok || msgType.Kind != bencode.KindInteger {
		return nil, fmt.Errorf("peerwire: metadata message missing \"msg_type\"")
	}
	if uint8(msgType.Int) == metadataMsgReject {
		return nil, ErrMetadataRejected
	}

	pieceVal, ok := header.Dict["piece"]
	if !ok || pieceVal.Kind != bencode.KindInteger {
		return nil, fmt.Errorf("peerwire: metadata message missing \"piece\"")
	}

	return &MetadataPiece{Index: int(pieceVal.Int), Data: body[consumed:]}, nil
}

// VerifyMetadata checks the assembled info dictionary bytes against the
// info-hash advertised by the originating magnet link (§4.4 invariant).
func VerifyMetadata(infoBytes []byte, wantInfoHash [20]byte) bool {
	return sha1.Sum(infoBytes) == wantInfoHash
}
