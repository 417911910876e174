package transport

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/ipfs/go-cid"
	ma "github.com/multiformats/go-multiaddr"
)

var transferIDPattern = regexp.MustCompile(`^[a-f0-9]{40}$`)

// Locator is a parsed swarm-resolvable address. Different encodings of
// the same transfer (extra trackers, display names, reordered params)
// share one TransferID, which is what sessions are keyed by.
type Locator struct {
	TransferID string // 40-hex content fingerprint
	Name       string
	Peers      []ma.Multiaddr // dialable peer hints
}

// ParseLocator understands magnet-style URIs:
//
//	magnet:?xt=urn:btih:<40 hex>&dn=<name>&x.pe=<multiaddr>...
func ParseLocator(s string) (*Locator, error) {
	if !strings.HasPrefix(s, "magnet:?") {
		return nil, newError(CodeBadLocator, fmt.Sprintf("not a magnet URI: %q", s), nil)
	}
	values, err := url.ParseQuery(strings.TrimPrefix(s, "magnet:?"))
	if err != nil {
		return nil, newError(CodeBadLocator, "unparseable magnet query", err)
	}
	loc := &Locator{Name: values.Get("dn")}
	for _, xt := range values["xt"] {
		if id, ok := strings.CutPrefix(xt, "urn:btih:"); ok {
			loc.TransferID = strings.ToLower(id)
		}
	}
	if !transferIDPattern.MatchString(loc.TransferID) {
		return nil, newError(CodeBadLocator, fmt.Sprintf("bad transfer id %q", loc.TransferID), nil)
	}
	for _, pe := range values["x.pe"] {
		addr, err := ma.NewMultiaddr(pe)
		if err != nil {
			// a bad hint degrades the join, it doesn't fail the parse
			continue
		}
		loc.Peers = append(loc.Peers, addr)
	}
	return loc, nil
}

// String reassembles the canonical magnet form.
func (l *Locator) String() string {
	var b strings.Builder
	b.WriteString("magnet:?xt=urn:btih:")
	b.WriteString(l.TransferID)
	if l.Name != "" {
		b.WriteString("&dn=")
		b.WriteString(url.QueryEscape(l.Name))
	}
	for _, p := range l.Peers {
		b.WriteString("&x.pe=")
		b.WriteString(url.QueryEscape(p.String()))
	}
	return b.String()
}

// ParseFallback validates a content-addressed fallback locator.
func ParseFallback(s string) (cid.Cid, error) {
	c, err := cid.Decode(s)
	if err != nil {
		return cid.Undef, newError(CodeBadLocator, fmt.Sprintf("bad fallback locator %q", s), err)
	}
	return c, nil
}
