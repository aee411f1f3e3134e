// Package magnet parses magnet URIs (BEP 9) into the minimal set of
// fields this client needs to bootstrap a download without a local
// .torrent file: the info-hash, a tracker URL, and a display name (§4.2).
package magnet

import (
	"encoding/hex"
	"net/url"
	"strings"

	"github.com/pkg/errors"
)

// ErrMalformedMagnet is returned for any violation of §4.2.
var ErrMalformedMagnet = errors.New("magnet: malformed magnet link")

// Link is a parsed magnet URI.
type Link struct {
	InfoHash    [20]byte
	TrackerURL  string
	DisplayName string
}

// Parse parses a "magnet:?..." URI. The required keys are xt
// (urn:btih:<40 hex chars>), tr (tracker URL) and dn (display name).
func Parse(raw string) (*Link, error) {
	if !strings.HasPrefix(raw, "magnet:?") {
		return nil, errors.Wrap(ErrMalformedMagnet, "missing \"magnet:?\" prefix")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, errors.Wrapf(ErrMalformedMagnet, "invalid URI: %s", err)
	}
	query := u.Query()

	xt := query.Get("xt")
	if xt == "" {
		return nil, errors.Wrap(ErrMalformedMagnet, "missing \"xt\" parameter")
	}
	const btihPrefix = "urn:btih:"
	if !strings.HasPrefix(xt, btihPrefix) {
		return nil, errors.Wrapf(ErrMalformedMagnet, "\"xt\" does not start with %q", btihPrefix)
	}
	hex40 := strings.TrimPrefix(xt, btihPrefix)
	if len(hex40) != 40 {
		return nil, errors.Wrapf(ErrMalformedMagnet, "info-hash hex has length %d, want 40", len(hex40))
	}
	decoded, err := hex.DecodeString(hex40)
	if err != nil {
		return nil, errors.Wrap(ErrMalformedMagnet, "invalid hex info-hash")
	}

	tracker := query.Get("tr")
	if tracker == "" {
		return nil, errors.Wrap(ErrMalformedMagnet, "missing \"tr\" parameter")
	}

	name := query.Get("dn")
	if name == "" {
		return nil, errors.Wrap(ErrMalformedMagnet, "missing \"dn\" parameter")
	}

	var hash [20]byte
	copy(hash[:], decoded)
	return &Link{
		InfoHash:    hash,
		TrackerURL:  tracker,
		DisplayName: name,
	}, nil
}

// InfoHashHex renders the info-hash as lowercase hex.
func (l *Link) InfoHashHex() string {
	return hex.EncodeToString(l.InfoHash[:])
}
