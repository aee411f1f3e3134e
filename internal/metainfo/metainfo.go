// Package metainfo builds the resolved torrent descriptor (§3 MetaInfo)
// from either a local .torrent file or the raw info dictionary bytes
// fetched dynamically over the peer metadata-exchange extension.
package metainfo

import (
	"os"

	"github.com/pkg/errors"

	"github.com/tancredi/bitpeer/internal/bencode"
)

// MetaInfo is the resolved torrent descriptor (§3).
type MetaInfo struct {
	TrackerURL  string
	Length      int64
	InfoHash    [20]byte
	PieceLength int64
	PieceHashes [][20]byte
	FileName    string
}

// Error kinds, per spec §7.
var ErrMetainfo = errors.New("metainfo: invalid torrent descriptor")

// NumPieces returns ceil(Length / PieceLength), matching len(PieceHashes).
func (m *MetaInfo) NumPieces() int {
	return len(m.PieceHashes)
}

// PieceSize returns the length in bytes of piece i: PieceLength for every
// piece but the last, whose length is Length - (NumPieces-1)*PieceLength.
func (m *MetaInfo) PieceSize(i int) int64 {
	if i == m.NumPieces()-1 {
		return m.Length - int64(i)*m.PieceLength
	}
	return m.PieceLength
}

// Load reads and parses a .torrent file at path.
func Load(path string) (*MetaInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "metainfo: read torrent file")
	}
	return Parse(data)
}

// Parse decodes a full metainfo document: a dictionary with an "announce"
// byte string and an "info" sub-dictionary. The info-hash is computed over
// the exact source bytes of the "info" value (§4.1).
func Parse(data []byte) (*MetaInfo, error) {
	root, infoHash, _, err := bencode.DecodeHashingKey(data, "info")
	if err != nil {
		return nil, errors.Wrap(err, "metainfo: decode")
	}
	if root.Kind != bencode.KindDict {
		return nil, errors.Wrap(ErrMetainfo, "root value is not a dictionary")
	}
	announce, ok := root.Dict["announce"]
	if !ok || announce.Kind != bencode.KindString {
		return nil, errors.Wrap(ErrMetainfo, "missing \"announce\"")
	}
	infoVal, ok := root.Dict["info"]
	if !ok || infoVal.Kind != bencode.KindDict {
		return nil, errors.Wrap(ErrMetainfo, "missing \"info\" dictionary")
	}

	m, err := fromInfoDict(infoVal)
	if err != nil {
		return nil, err
	}
	m.TrackerURL = announce.Str()
	m.InfoHash = infoHash
	return m, nil
}

// FromInfoBytes builds a MetaInfo from the raw bencode of an "info"
// dictionary fetched via the metadata-exchange extension (§4.4), plus the
// tracker URL taken from the originating magnet link. infoHash must
// already have been verified by the caller (SHA1(infoBytes) == magnet
// info-hash) — see the extension-protocol invariant in §4.4.
func FromInfoBytes(infoBytes []byte, infoHash [20]byte, trackerURL string) (*MetaInfo, error) {
	v, _, err := bencode.Decode(infoBytes)
	if err != nil {
		return nil, errors.Wrap(err, "metainfo: decode info dictionary")
	}
	m, err := fromInfoDict(v)
	if err != nil {
		return nil, err
	}
	m.InfoHash = infoHash
	m.TrackerURL = trackerURL
	return m, nil
}

func fromInfoDict(info bencode.Value) (*MetaInfo, error) {
	if info.Kind != bencode.KindDict {
		return nil, errors.Wrap(ErrMetainfo, "info value is not a dictionary")
	}

	lengthVal, ok := info.Dict["length"]
	if !ok || lengthVal.Kind != bencode.KindInteger || lengthVal.Int < 0 {
		return nil, errors.Wrap(ErrMetainfo, "missing or invalid \"length\"")
	}

	pieceLenVal, ok := info.Dict["piece length"]
	if !ok || pieceLenVal.Kind != bencode.KindInteger || pieceLenVal.Int <= 0 {
		return nil, errors.Wrap(ErrMetainfo, "missing or invalid \"piece length\"")
	}

	piecesVal, ok := info.Dict["pieces"]
	if !ok || piecesVal.Kind != bencode.KindString {
		return nil, errors.Wrap(ErrMetainfo, "missing \"pieces\"")
	}
	hashes, err := splitPieceHashes(piecesVal.Bytes)
	if err != nil {
		return nil, err
	}

	expected := ceilDiv(lengthVal.Int, pieceLenVal.Int)
	if int64(len(hashes)) != expected {
		return nil, errors.Wrapf(ErrMetainfo,
			"piece count %d does not match ceil(length/piece_length) = %d", len(hashes), expected)
	}

	fileName := ""
	if nameVal, ok := info.Dict["name"]; ok && nameVal.Kind == bencode.KindString {
		fileName = nameVal.Str()
	}

	return &MetaInfo{
		Length:      lengthVal.Int,
		PieceLength: pieceLenVal.Int,
		PieceHashes: hashes,
		FileName:    fileName,
	}, nil
}

func splitPieceHashes(pieces []byte) ([][20]byte, error) {
	if len(pieces)%20 != 0 {
		return nil, errors.Wrapf(ErrMetainfo, "\"pieces\" length %d is not a multiple of 20", len(pieces))
	}
	hashes := make([][20]byte, len(pieces)/20)
	for i := range hashes {
		copy(hashes[i][:], pieces[i*20:(i+1)*20])
	}
	return hashes, nil
}

func ceilDiv(a, b int64) int64 {
	if b == 0 {
		return 0
	}
	return (a + b - 1) / b
}
