// Package urlnorm reduces URLs to a comparison key so that trivially
// different spellings of the same page are treated as one.
package urlnorm

import (
	"errors"
	"net"
	"net/url"
	"path"
	"sort"
	"strings"

	"golang.org/x/net/idna"
)

var (
	ErrEmpty       = errors.New("empty url")
	ErrMissingHost = errors.New("url has no host")
)

// trackingParams never change what a page renders.
var trackingParams = map[string]struct{}{
	"utm_source": {}, "utm_medium": {}, "utm_campaign": {}, "utm_term": {}, "utm_content": {},
	"gclid": {}, "fbclid": {}, "mc_cid": {}, "mc_eid": {}, "msclkid": {},
}

// Key returns the canonical form of raw: lower-case scheme and punycode
// host, no default port, credentials, fragment or tracking parameters, a
// cleaned path and sorted query.
func Key(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrEmpty
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if u.Host == "" {
		return "", ErrMissingHost
	}

	u.Scheme = strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	if puny, err := idna.Lookup.ToASCII(host); err == nil {
		host = puny
	}
	switch port := u.Port(); {
	case port == "", u.Scheme == "http" && port == "80", u.Scheme == "https" && port == "443":
		u.Host = host
	default:
		u.Host = net.JoinHostPort(host, port)
	}
	u.User = nil
	u.Fragment, u.RawFragment = "", ""

	p := path.Clean("/" + u.Path)
	u.Path, u.RawPath = p, ""

	q := u.Query()
	for k := range q {
		if _, ok := trackingParams[strings.ToLower(k)]; ok {
			q.Del(k)
		}
	}
	for _, vs := range q {
		sort.Strings(vs)
	}
	// Encode sorts by key.
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Same reports whether a and b share a Key. Input without a Key compares
// by exact text.
func Same(a, b string) bool {
	ka, errA := Key(a)
	kb, errB := Key(b)
	if errA != nil || errB != nil {
		return a == b
	}
	return ka == kb
}
