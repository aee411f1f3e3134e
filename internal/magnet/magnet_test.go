package magnet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleMagnet = "magnet:?xt=urn:btih:dd8255ecdc7ca55fb0bbf81323d87062db1f6d1c&dn=Big+Buck+Bunny&tr=http%3A%2F%2Ftracker.example%2Fannounce"

func TestParse(t *testing.T) {
	l, err := Parse(sampleMagnet)
	require.NoError(t, err)
	assert.Equal(t, "dd8255ecdc7ca55fb0bbf81323d87062db1f6d1c", l.InfoHashHex())
	assert.Equal(t, "http://tracker.example/announce", l.TrackerURL)
	assert.Equal(t, "Big Buck Bunny", l.DisplayName)
}

func TestParseRequiresMagnetPrefix(t *testing.T) {
	_, err := Parse("http://example.com")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformedMagnet)
}

func TestParseRequiresXt(t *testing.T) {
	_, err := Parse("magnet:?dn=foo&tr=http://tracker.example/announce")
	require.Error(t, err)
}

func TestParseRequiresTr(t *testing.T) {
	_, err := Parse("magnet:?xt=urn:btih:dd8255ecdc7ca55fb0bbf81323d87062db1f6d1c&dn=foo")
	require.Error(t, err)
}

func TestParseRequiresDn(t *testing.T) {
	_, err := Parse("magnet:?xt=urn:btih:dd8255ecdc7ca55fb0bbf81323d87062db1f6d1c&tr=http://tracker.example/announce")
	require.Error(t, err)
}

func TestParseRejectsShortHash(t *testing.T) {
	_, err := Parse("magnet:?xt=urn:btih:deadbeef&dn=foo&tr=http://tracker.example/announce")
	require.Error(t, err)
}

func TestParseRejectsNonHexHash(t *testing.T) {
	bad := "magnet:?xt=urn:btih:zz8255ecdc7ca55fb0bbf81323d87062db1f6d1c&dn=foo&tr=http://tracker.example/announce"
	_, err := Parse(bad)
	require.Error(t, err)
}
