package transport

import (
	"strings"
	"testing"

	ma "github.com/multiformats/go-multiaddr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLocator(t *testing.T) {
	tid := strings.Repeat("ab", 20)
	loc, err := ParseLocator("magnet:?xt=urn:btih:" + tid + "&dn=clip.mp4")
	require.NoError(t, err)
	assert.Equal(t, tid, loc.TransferID)
	assert.Equal(t, "clip.mp4", loc.Name)
	assert.Empty(t, loc.Peers)
}

func TestParseLocatorNormalizesCase(t *testing.T) {
	tid := strings.Repeat("AB", 20)
	loc, err := ParseLocator("magnet:?xt=urn:btih:" + tid)
	require.NoError(t, err)
	assert.Equal(t, strings.ToLower(tid), loc.TransferID)
}

func TestParseLocatorPeerHints(t *testing.T) {
	tid := strings.Repeat("cd", 20)
	addr := "/ip4/127.0.0.1/tcp/4001/p2p/12D3KooWDpJ7As7BWAwRMfu1VU2WCqNjvq387JEYKDBj4kx6nXTN"
	raw := "magnet:?xt=urn:btih:" + tid +
		"&x.pe=" + addr +
		"&x.pe=not-a-multiaddr"
	loc, err := ParseLocator(raw)
	require.NoError(t, err)
	// the bad hint is skipped, not fatal
	require.Len(t, loc.Peers, 1)
	assert.Equal(t, addr, loc.Peers[0].String())
}

func TestParseLocatorRejectsGarbage(t *testing.T) {
	for _, raw := range []string{
		"",
		"https://example.com/video.mp4",
		"magnet:?dn=no-transfer-id",
		"magnet:?xt=urn:btih:tooshort",
		"magnet:?xt=urn:btih:" + strings.Repeat("zz", 20),
	} {
		_, err := ParseLocator(raw)
		require.Error(t, err, raw)
		assert.True(t, IsCode(err, CodeBadLocator), raw)
	}
}

func TestLocatorStringRoundTrip(t *testing.T) {
	addr, err := ma.NewMultiaddr("/ip4/127.0.0.1/tcp/4001/p2p/12D3KooWDpJ7As7BWAwRMfu1VU2WCqNjvq387JEYKDBj4kx6nXTN")
	require.NoError(t, err)
	loc := &Locator{
		TransferID: strings.Repeat("0f", 20),
		Name:       "cat video.mp4",
		Peers:      []ma.Multiaddr{addr},
	}
	parsed, err := ParseLocator(loc.String())
	require.NoError(t, err)
	assert.Equal(t, loc.TransferID, parsed.TransferID)
	assert.Equal(t, loc.Name, parsed.Name)
	require.Len(t, parsed.Peers, 1)
	assert.Equal(t, addr.String(), parsed.Peers[0].String())
}

func TestSameTransferDifferentSpellings(t *testing.T) {
	tid := strings.Repeat("9a", 20)
	a, err := ParseLocator("magnet:?xt=urn:btih:" + tid + "&dn=one")
	require.NoError(t, err)
	b, err := ParseLocator("magnet:?dn=two&xt=urn:btih:" + strings.ToUpper(tid))
	require.NoError(t, err)
	assert.Equal(t, a.TransferID, b.TransferID)
}

func TestParseFallback(t *testing.T) {
	c, err := ParseFallback("QmYwAPJzv5CZsnA625s3Xf2nemtYgPpHdWEz79ojWnPbdG")
	require.NoError(t, err)
	assert.Equal(t, "QmYwAPJzv5CZsnA625s3Xf2nemtYgPpHdWEz79ojWnPbdG", c.String())

	_, err = ParseFallback("not-a-cid")
	require.Error(t, err)
	assert.True(t, IsCode(err, CodeBadLocator))
}
