package mirror

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/cockroachdb/errors"
)

var (
	validRegion = regexp.MustCompile(`^[A-Z]{2}$`)
)

// RegionHint is an upper-case country code selecting a mirror list.
type RegionHint string

// MirrorURL is a normalized mirror base URL. It always ends with "/".
type MirrorURL string

// String implements fmt.Stringer.
func (m MirrorURL) String() string {
	return string(m)
}

// Origin returns the "scheme://host" part of the mirror URL.
func (m MirrorURL) Origin() string {
	u, err := url.Parse(string(m))
	if err != nil {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

// ParseRegionHints normalizes raw country codes given on the command line.
//
// Codes are case-insensitive and may be comma separated. Duplicates collapse
// to the first occurrence. A malformed code is rejected with
// ErrInvalidRegionHint before anything is fetched.
func ParseRegionHints(raw []string) ([]RegionHint, error) {
	var hints []RegionHint
	seen := make(map[RegionHint]bool)
	for _, arg := range raw {
		for _, code := range strings.Split(arg, ",") {
			code = strings.ToUpper(strings.TrimSpace(code))
			if code == "" {
				continue
			}
			if !validRegion.MatchString(code) {
				return nil, errors.WithHint(
					errors.Wrapf(ErrInvalidRegionHint, "%q", code),
					"region hints are two-letter country codes such as US or JP")
			}
			hint := RegionHint(code)
			if seen[hint] {
				continue
			}
			seen[hint] = true
			hints = append(hints, hint)
		}
	}
	return hints, nil
}

// normalizeURL validates a mirror base URL and appends the trailing slash
// needed for URL.ResolveReference.
func normalizeURL(raw string) (MirrorURL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", errors.Wrap(err, "invalid URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", errors.Newf("unsupported URL scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", errors.New("URL host is required")
	}
	if u.User != nil {
		return "", errors.New("URL userinfo is not allowed")
	}
	u.RawQuery = ""
	u.Fragment = ""
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
		if u.RawPath != "" {
			u.RawPath += "/"
		}
	}
	return MirrorURL(u.String()), nil
}

// NormalizeMirrorURL is the exported form of the URL rule applied to list
// entries.
func NormalizeMirrorURL(raw string) (MirrorURL, error) {
	return normalizeURL(raw)
}

// dedupe removes repeated URLs keeping the first occurrence of each.
func dedupe(urls []MirrorURL) []MirrorURL {
	seen := make(map[MirrorURL]bool, len(urls))
	out := make([]MirrorURL, 0, len(urls))
	for _, u := range urls {
		if seen[u] {
			continue
		}
		seen[u] = true
		out = append(out, u)
	}
	return out
}

// resolve returns the URL of a file below the mirror base.
func (m MirrorURL) resolve(p string) (string, error) {
	base, err := url.Parse(string(m))
	if err != nil {
		return "", err
	}
	return base.ResolveReference(&url.URL{Path: p}).String(), nil
}
