// Command bitpeer is a minimal BitTorrent peer client: it can decode
// bencode, inspect torrent files and magnet links, and download single
// pieces or whole files from the peers a tracker hands back (§6).
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tancredi/bitpeer/internal/bencode"
	"github.com/tancredi/bitpeer/internal/clientid"
	"github.com/tancredi/bitpeer/internal/downloader"
	"github.com/tancredi/bitpeer/internal/magnet"
	"github.com/tancredi/bitpeer/internal/metainfo"
	"github.com/tancredi/bitpeer/internal/peerwire"
	"github.com/tancredi/bitpeer/internal/tracker"
)

func init() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: bitpeer <command> [args]")
		os.Exit(1)
	}

	command := os.Args[1]
	args := os.Args[2:]

	var err error
	switch command {
	case "decode":
		err = runDecode(args)
	case "info":
		err = runInfo(args)
	case "peers":
		err = runPeers(args)
	case "handshake":
		err = runHandshake(args)
	case "download_piece":
		err = runDownloadPiece(args)
	case "download":
		err = runDownload(args)
	case "magnet_parse":
		err = runMagnetParse(args)
	case "magnet_handshake":
		err = runMagnetHandshake(args)
	case "magnet_info":
		err = runMagnetInfo(args)
	case "magnet_download_piece":
		err = runMagnetDownloadPiece(args)
	case "magnet_download":
		err = runMagnetDownload(args)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", command)
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runDecode(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: decode <bencoded value>")
	}
	v, _, err := bencode.Decode([]byte(args[0]))
	if err != nil {
		return err
	}
	rendered, err := json.Marshal(v)
	if err != nil {
		return err
	}
	fmt.Println(string(rendered))
	return nil
}

func runInfo(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: info <torrent file>")
	}
	m, err := metainfo.Load(args[0])
	if err != nil {
		return err
	}
	printMetaInfo(m)
	return nil
}

func printMetaInfo(m *metainfo.MetaInfo) {
	fmt.Printf("Tracker URL: %s\n", m.TrackerURL)
	fmt.Printf("Length: %d\n", m.Length)
	fmt.Printf("Info Hash: %x\n", m.InfoHash)
	fmt.Printf("Piece Length: %d\n", m.PieceLength)
	fmt.Println("Piece Hashes:")
	for _, h := range m.PieceHashes {
		fmt.Printf("%x\n", h)
	}
}

func announcePeers(m *metainfo.MetaInfo) ([]tracker.PeerAddress, error) {
	id, err := clientid.New()
	if err != nil {
		return nil, err
	}
	return tracker.Announce(context.Background(), http.DefaultClient, tracker.AnnounceRequest{
		TrackerURL: m.TrackerURL,
		InfoHash:   m.InfoHash,
		PeerID:     id,
		Port:       6881,
		Left:       m.Length,
	})
}

func runPeers(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: peers <torrent file>")
	}
	m, err := metainfo.Load(args[0])
	if err != nil {
		return err
	}
	addrs, err := announcePeers(m)
	if err != nil {
		return err
	}
	for _, a := range addrs {
		fmt.Println(a)
	}
	return nil
}

func runHandshake(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: handshake <torrent file> <peer address>")
	}
	m, err := metainfo.Load(args[0])
	if err != nil {
		return err
	}
	id, err := clientid.New()
	if err != nil {
		return err
	}
	pc, err := peerwire.Dial(args[1], m.InfoHash, id)
	if err != nil {
		return err
	}
	defer pc.Close()
	fmt.Printf("Peer ID: %x\n", pc.PeerID)
	return nil
}

func runDownloadPiece(args []string) error {
	fs := flag.NewFlagSet("download_piece", flag.ExitOnError)
	out := fs.String("o", "", "output path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	rest := fs.Args()
	if len(rest) != 2 || *out == "" {
		return fmt.Errorf("usage: download_piece -o <output path> <torrent file> <piece index>")
	}
	m, err := metainfo.Load(rest[0])
	if err != nil {
		return err
	}
	var index int
	if _, err := fmt.Sscanf(rest[1], "%d", &index); err != nil {
		return fmt.Errorf("invalid piece index %q", rest[1])
	}

	id, err := clientid.New()
	if err != nil {
		return err
	}
	addrs, err := announcePeers(m)
	if err != nil {
		return err
	}
	data, err := downloader.DownloadSinglePiece(m, id, addrs, index)
	if err != nil {
		return err
	}
	if err := os.WriteFile(*out, data, 0o644); err != nil {
		return err
	}
	log.Info().Str("output", *out).Int("piece", index).Msg("piece downloaded")
	return nil
}

func runDownload(args []string) error {
	fs := flag.NewFlagSet("download", flag.ExitOnError)
	out := fs.String("o", "", "output path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	rest := fs.Args()
	if len(rest) != 1 || *out == "" {
		return fmt.Errorf("usage: download -o <output path> <torrent file>")
	}
	m, err := metainfo.Load(rest[0])
	if err != nil {
		return err
	}
	id, err := clientid.New()
	if err != nil {
		return err
	}
	addrs, err := announcePeers(m)
	if err != nil {
		return err
	}
	data, err := downloader.DownloadFile(context.Background(), m, id, addrs)
	if err != nil {
		return err
	}
	if err := os.WriteFile(*out, data, 0o644); err != nil {
		return err
	}
	log.Info().Str("output", *out).Int64("bytes", int64(len(data))).Msg("download complete")
	return nil
}

func runMagnetParse(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: magnet_parse <magnet link>")
	}
	l, err := magnet.Parse(args[0])
	if err != nil {
		return err
	}
	fmt.Printf("Tracker URL: %s\n", l.TrackerURL)
	fmt.Printf("Info Hash: %s\n", l.InfoHashHex())
	return nil
}

func runMagnetHandshake(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: magnet_handshake <magnet link>")
	}
	l, err := magnet.Parse(args[0])
	if err != nil {
		return err
	}
	peers, id, err := magnetPeers(l)
	if err != nil {
		return err
	}
	if len(peers) == 0 {
		return downloader.ErrNoPeersAvailable
	}
	pc, err := peerwire.Dial(string(peers[0]), l.InfoHash, id)
	if err != nil {
		return err
	}
	defer pc.Close()
	fmt.Printf("Peer ID: %x\n", pc.PeerID)
	utID, ok := pc.PeerUTMetadataID()
	if ok {
		fmt.Printf("Peer Metadata Extension ID: %d\n", utID)
	}
	return nil
}

func magnetPeers(l *magnet.Link) ([]tracker.PeerAddress, [20]byte, error) {
	id, err := clientid.New()
	if err != nil {
		return nil, id, err
	}
	peers, err := tracker.Announce(context.Background(), http.DefaultClient, tracker.AnnounceRequest{
		TrackerURL: l.TrackerURL,
		InfoHash:   l.InfoHash,
		PeerID:     id,
		Port:       6881,
		Left:       1,
	})
	return peers, id, err
}

// fetchMagnetMetaInfo resolves a magnet link into a full MetaInfo by
// handshaking one peer and running the ut_metadata exchange (§4.4).
func fetchMagnetMetaInfo(l *magnet.Link) (*metainfo.MetaInfo, []tracker.PeerAddress, [20]byte, error) {
	peers, id, err := magnetPeers(l)
	if err != nil {
		return nil, nil, id, err
	}
	if len(peers) == 0 {
		return nil, nil, id, downloader.ErrNoPeersAvailable
	}
	pc, err := peerwire.Dial(string(peers[0]), l.InfoHash, id)
	if err != nil {
		return nil, nil, id, err
	}
	defer pc.Close()

	infoBytes, err := fetchMetadata(pc, l.InfoHash)
	if err != nil {
		return nil, nil, id, err
	}
	m, err := metainfo.FromInfoBytes(infoBytes, l.InfoHash, l.TrackerURL)
	return m, peers, id, err
}

// fetchMetadata runs the ut_metadata request/response loop against an
// already-handshaken peer and returns the verified info dictionary bytes.
func fetchMetadata(pc *peerwire.PeerConnection, infoHash [20]byte) ([]byte, error) {
	utID, ok := pc.PeerUTMetadataID()
	if !ok {
		return nil, fmt.Errorf("peer does not support ut_metadata")
	}
	size := 0
	if pc.Extension != nil {
		size = pc.Extension.MetadataSize
	}

	var assembled []byte
	piece := 0
	for size == 0 || len(assembled) < size {
		if _, err := pc.Conn.Write(peerwire.BuildMetadataRequest(utID, piece)); err != nil {
			return nil, err
		}
		msg, err := peerwire.ReadMessage(pc.Conn)
		if err != nil {
			return nil, err
		}
		if msg.ID != peerwire.MsgExtended || len(msg.Payload) < 1 {
			continue
		}
		parsed, err := peerwire.ParseMetadataMessage(msg.Payload[1:])
		if err != nil {
			return nil, err
		}
		assembled = append(assembled, parsed.Data...)
		piece++
		if size == 0 {
			break
		}
	}
	if !peerwire.VerifyMetadata(assembled, infoHash) {
		return nil, fmt.Errorf("metadata failed info-hash verification")
	}
	return assembled, nil
}

func runMagnetInfo(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: magnet_info <magnet link>")
	}
	l, err := magnet.Parse(args[0])
	if err != nil {
		return err
	}
	m, _, _, err := fetchMagnetMetaInfo(l)
	if err != nil {
		return err
	}
	printMetaInfo(m)
	return nil
}

func runMagnetDownloadPiece(args []string) error {
	fs := flag.NewFlagSet("magnet_download_piece", flag.ExitOnError)
	out := fs.String("o", "", "output path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	rest := fs.Args()
	if len(rest) != 2 || *out == "" {
		return fmt.Errorf("usage: magnet_download_piece -o <output path> <magnet link> <piece index>")
	}
	l, err := magnet.Parse(rest[0])
	if err != nil {
		return err
	}
	var index int
	if _, err := fmt.Sscanf(rest[1], "%d", &index); err != nil {
		return fmt.Errorf("invalid piece index %q", rest[1])
	}
	m, addrs, id, err := fetchMagnetMetaInfo(l)
	if err != nil {
		return err
	}
	data, err := downloader.DownloadSinglePiece(m, id, addrs, index)
	if err != nil {
		return err
	}
	return os.WriteFile(*out, data, 0o644)
}

func runMagnetDownload(args []string) error {
	fs := flag.NewFlagSet("magnet_download", flag.ExitOnError)
	out := fs.String("o", "", "output path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	rest := fs.Args()
	if len(rest) != 1 || *out == "" {
		return fmt.Errorf("usage: magnet_download -o <output path> <magnet link>")
	}
	l, err := magnet.Parse(rest[0])
	if err != nil {
		return err
	}
	m, addrs, id, err := fetchMagnetMetaInfo(l)
	if err != nil {
		return err
	}
	data, err := downloader.DownloadFile(context.Background(), m, id, addrs)
	if err != nil {
		return err
	}
	return os.WriteFile(*out, data, 0o644)
}
