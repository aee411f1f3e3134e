package downloader

import (
	"context"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/tancredi/bitpeer/internal/metainfo"
	"github.com/tancredi/bitpeer/internal/peerwire"
	"github.com/tancredi/bitpeer/internal/tracker"
)

// ErrNoPeersAvailable is returned when no peer could be handshaken with
// before the orchestrator attempted to partition work (§4.6, §7).
var ErrNoPeersAvailable = errors.New("downloader: no peers available")

// liveConnection pairs a usable peer connection with its address, for
// logging and error reporting.
type liveConnection struct {
	address string
	conn    *peerwire.PeerConnection
}

// connectAll dials and handshakes every candidate peer, discarding any
// that fail to connect. At least one live connection is required.
func connectAll(infoHash, peerID [20]byte, addrs []tracker.PeerAddress) []liveConnection {
	live := make([]liveConnection, 0, len(addrs))
	for _, addr := range addrs {
		pc, err := peerwire.Dial(string(addr), infoHash, peerID)
		if err != nil {
			continue
		}
		if err := pc.SendInterested(); err != nil {
			pc.Close()
			continue
		}
		live = append(live, liveConnection{address: string(addr), conn: pc})
	}
	return live
}

// partition splits [0, numPieces) into at most workers contiguous, roughly
// equal ranges (§4.6: "partition piece indices into contiguous per-peer
// chunks"). Empty ranges are omitted, so fewer than workers ranges are
// returned when numPieces < workers.
func partition(numPieces, workers int) [][2]int {
	if workers == 0 {
		return nil
	}
	ranges := make([][2]int, 0, workers)
	base := numPieces / workers
	extra := numPieces % workers
	start := 0
	for i := 0; i < workers; i++ {
		size := base
		if i < extra {
			size++
		}
		if size == 0 {
			continue
		}
		ranges = append(ranges, [2]int{start, start + size})
		start += size
	}
	return ranges
}

// DownloadFile fetches every piece of m from the given peers and returns
// the assembled file contents in piece order. At most one worker is
// spawned per live peer connection, each downloading a contiguous range of
// pieces; if any worker fails the whole download fails, and the other
// workers stop before starting their next piece (§4.6).
func DownloadFile(ctx context.Context, m *metainfo.MetaInfo, peerID [20]byte, addrs []tracker.PeerAddress) ([]byte, error) {
	live := connectAll(m.InfoHash, peerID, addrs)
	if len(live) == 0 {
		return nil, ErrNoPeersAvailable
	}
	defer func() {
		for _, lc := range live {
			lc.conn.Close()
		}
	}()

	ranges := partition(m.NumPieces(), len(live))
	file := make([]byte, m.Length)

	g, gctx := errgroup.WithContext(ctx)
	for i, r := range ranges {
		i, r := i, r
		pc := live[i].conn
		g.Go(func() error {
			for idx := r[0]; idx < r[1]; idx++ {
				if err := gctx.Err(); err != nil {
					return err
				}
				req := PieceRequest{Index: idx, Length: int(m.PieceSize(idx)), Hash: m.PieceHashes[idx]}
				data, err := DownloadPiece(pc, req)
				if err != nil {
					return errors.Wrapf(err, "downloader: peer %s piece %d", live[i].address, idx)
				}
				copy(file[int64(idx)*m.PieceLength:], data)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return file, nil
}

// DownloadSinglePiece fetches one piece, used by the single-piece CLI
// command (§4.7). It tries each connected peer in announce order, skipping
// peers whose bitfield lacks the piece, until one download succeeds.
func DownloadSinglePiece(m *metainfo.MetaInfo, peerID [20]byte, addrs []tracker.PeerAddress, index int) ([]byte, error) {
	if index < 0 || index >= m.NumPieces() {
		return nil, errors.Errorf("downloader: piece index %d out of range [0,%d)", index, m.NumPieces())
	}
	live := connectAll(m.InfoHash, peerID, addrs)
	if len(live) == 0 {
		return nil, ErrNoPeersAvailable
	}
	defer func() {
		for _, lc := range live {
			lc.conn.Close()
		}
	}()

	var lastErr error
	for _, lc := range live {
		if lc.conn.Bitfield != nil && !lc.conn.Bitfield.Has(index) {
			continue
		}
		req := PieceRequest{Index: index, Length: int(m.PieceSize(index)), Hash: m.PieceHashes[index]}
		data, err := DownloadPiece(lc.conn, req)
		if err != nil {
			lastErr = err
			continue
		}
		return data, nil
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, errors.New("downloader: no peer has the requested piece")
}
