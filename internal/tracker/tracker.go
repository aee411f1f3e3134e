// Package tracker implements the HTTP tracker announce exchange (§4.3):
// build the announce request, issue the GET, and decode the compact peer
// list from the bencoded response.
package tracker

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"strconv"

	"github.com/pkg/errors"

	"github.com/tancredi/bitpeer/internal/bencode"
)

// Error kinds, per spec §4.3/§7.
var (
	ErrTrackerHTTP       = errors.New("tracker: http request failed")
	ErrTrackerDecode     = errors.New("tracker: could not decode response")
	ErrMalformedPeerList = errors.New("tracker: malformed peer list")
)

// PeerAddress is a peer's reachable address, "a.b.c.d:port" (§3).
type PeerAddress string

// AnnounceRequest carries the parameters of a single announce call (§4.3).
type AnnounceRequest struct {
	TrackerURL string
	InfoHash   [20]byte
	PeerID     [20]byte
	Port       int
	Uploaded   int64
	Downloaded int64
	Left       int64
}

// Announce issues the HTTP GET announce request and returns the peer
// list decoded from the compact "peers" field of the response.
func Announce(ctx context.Context, client *http.Client, req AnnounceRequest) ([]PeerAddress, error) {
	if client == nil {
		client = http.DefaultClient
	}

	announceURL, err := buildAnnounceURL(req)
	if err != nil {
		return nil, errors.Wrap(ErrTrackerHTTP, err.Error())
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, announceURL, nil)
	if err != nil {
		return nil, errors.Wrap(ErrTrackerHTTP, err.Error())
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, errors.Wrap(ErrTrackerHTTP, err.Error())
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Wrapf(ErrTrackerHTTP, "tracker responded with status %s", resp.Status)
	}

	body := make([]byte, 0, 4096)
	buf := make([]byte, 4096)
	for {
		n, rerr := resp.Body.Read(buf)
		body = append(body, buf[:n]...)
		if rerr != nil {
			break
		}
	}

	return parseAnnounceResponse(body)
}

func buildAnnounceURL(req AnnounceRequest) (string, error) {
	u, err := url.Parse(req.TrackerURL)
	if err != nil {
		return "", err
	}
	q := url.Values{
		"info_hash":  {string(req.InfoHash[:])},
		"peer_id":    {string(req.PeerID[:])},
		"port":       {strconv.Itoa(req.Port)},
		"uploaded":   {strconv.FormatInt(req.Uploaded, 10)},
		"downloaded": {strconv.FormatInt(req.Downloaded, 10)},
		"left":       {strconv.FormatInt(req.Left, 10)},
		"compact":    {"1"},
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func parseAnnounceResponse(body []byte) ([]PeerAddress, error) {
	v, _, err := bencode.Decode(body)
	if err != nil {
		return nil, errors.Wrap(ErrTrackerDecode, err.Error())
	}
	if v.Kind != bencode.KindDict {
		return nil, errors.Wrap(ErrTrackerDecode, "response is not a dictionary")
	}

	if failure, ok := v.Dict["failure reason"]; ok && failure.Kind == bencode.KindString {
		return nil, errors.Wrapf(ErrTrackerDecode, "tracker failure: %s", failure.Str())
	}

	peersVal, ok := v.Dict["peers"]
	if !ok || peersVal.Kind != bencode.KindString {
		return nil, errors.Wrap(ErrTrackerDecode, "response missing \"peers\"")
	}

	addrs, err := parseCompactPeers(peersVal.Bytes)
	if err != nil {
		return nil, err
	}

	// A compact peer list is not itself documented as duplicate-free;
	// absorb any accidental repeats before handing addresses back.
	c := NewCollector()
	c.Add(addrs)
	return c.Peers(), nil
}

// parseCompactPeers splits a compact peer string into PeerAddresses. Each
// group of 6 bytes is <4-byte IPv4><2-byte big-endian port> (§4.3).
func parseCompactPeers(peers []byte) ([]PeerAddress, error) {
	const peerSize = 6
	if len(peers)%peerSize != 0 {
		return nil, errors.Wrapf(ErrMalformedPeerList,
			"length %d is not a multiple of %d", len(peers), peerSize)
	}
	addrs := make([]PeerAddress, 0, len(peers)/peerSize)
	for i := 0; i < len(peers); i += peerSize {
		ip := net.IP(peers[i : i+4])
		port := int(peers[i+4])<<8 | int(peers[i+5])
		addrs = append(addrs, PeerAddress(net.JoinHostPort(ip.String(), strconv.Itoa(port))))
	}
	return addrs, nil
}

// Collector deduplicates peer addresses gathered from one or more
// announces, preserving first-seen order.
type Collector struct {
	seen  map[PeerAddress]bool
	peers []PeerAddress
}

// NewCollector returns an empty Collector.
func NewCollector() *Collector {
	return &Collector{seen: make(map[PeerAddress]bool)}
}

// Add appends the peers not already present and returns how many were new.
func (c *Collector) Add(peers []PeerAddress) int {
	added := 0
	for _, p := range peers {
		if !c.seen[p] {
			c.seen[p] = true
			c.peers = append(c.peers, p)
			added++
		}
	}
	return added
}

// Peers returns the deduplicated peer list collected so far.
func (c *Collector) Peers() []PeerAddress { return c.peers }
