package mirror

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

const (
	userAgent         = "Debian APT-HTTP/1.3 (mirrorselect)"
	maxListBytes      = 16 * 1024 * 1024
	listFetchTimeout  = 30 * time.Second
	listVerifyTimeout = 10 * time.Second
)

// Source resolves region hints to candidate mirrors.
type Source interface {
	Resolve(ctx context.Context, hints []RegionHint) ([]MirrorURL, error)
}

// HTTPSource fetches newline-delimited mirror lists from a list service.
type HTTPSource struct {
	client *http.Client
	list   ListConfig
	cache  *ListCache
}

// NewHTTPSource creates a Source backed by the list service in lc.
// When cache is not nil the aggregated list is written into it.
func NewHTTPSource(lc ListConfig, client *http.Client, cache *ListCache) *HTTPSource {
	if client == nil {
		client = clonedTransport()
	}
	return &HTTPSource{
		client: client,
		list:   lc,
		cache:  cache,
	}
}

// Resolve returns the deduplicated candidate list for hints.
//
// With no hints the default geo-resolved list is used. Otherwise every hint is
// checked with a HEAD request before any list is downloaded, and the first
// unknown hint fails the whole call.
func (s *HTTPSource) Resolve(ctx context.Context, hints []RegionHint) ([]MirrorURL, error) {
	var listURLs []string
	if len(hints) == 0 {
		listURLs = append(listURLs, s.list.DefaultURL.String())
	} else {
		for _, hint := range hints {
			u := s.list.RegionURL(hint)
			if err := s.verify(ctx, hint, u); err != nil {
				return nil, err
			}
			listURLs = append(listURLs, u)
		}
	}

	var all []MirrorURL
	for _, u := range listURLs {
		urls, err := s.fetch(ctx, u)
		if err != nil {
			return nil, err
		}
		slog.Debug("mirror list fetched", "url", u, "mirrors", len(urls))
		all = append(all, urls...)
	}

	candidates := dedupe(all)
	if s.cache != nil {
		if err := s.cache.WriteList(candidates); err != nil {
			return nil, err
		}
	}
	return candidates, nil
}

// verify checks that the list resource for hint exists.
func (s *HTTPSource) verify(ctx context.Context, hint RegionHint, listURL string) error {
	ctx, cancel := context.WithTimeout(ctx, listVerifyTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, listURL, nil)
	if err != nil {
		return errors.Mark(errors.Wrapf(err, "region %s", hint), ErrInvalidRegionHint)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return errors.Mark(errors.Wrapf(err, "region %s", hint), ErrInvalidRegionHint)
	}
	closeRespBody(resp)

	if resp.StatusCode != http.StatusOK {
		return errors.WithHint(
			errors.Wrapf(ErrInvalidRegionHint, "region %s: status %d for %s", hint, resp.StatusCode, listURL),
			"check the country code; the list service has no mirror list for it")
	}
	return nil
}

// fetch downloads one mirror list and parses it.
func (s *HTTPSource) fetch(ctx context.Context, listURL string) ([]MirrorURL, error) {
	ctx, cancel := context.WithTimeout(ctx, listFetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, listURL, nil)
	if err != nil {
		return nil, errors.Wrap(err, "creating request")
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "fetching mirror list %s", listURL)
	}
	defer closeRespBody(resp)

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Newf("unexpected status %d for %s", resp.StatusCode, listURL)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxListBytes+1))
	if err != nil {
		return nil, errors.Wrapf(err, "reading mirror list %s", listURL)
	}
	if len(body) > maxListBytes {
		return nil, errors.Newf("mirror list %s exceeds %d bytes", listURL, maxListBytes)
	}
	return ParseMirrorList(body), nil
}

// ParseMirrorList parses a newline-delimited list of mirror base URLs.
// Blank lines, comments and malformed entries are skipped.
func ParseMirrorList(data []byte) []MirrorURL {
	var urls []MirrorURL
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		// some lists carry a tab separated status column
		if i := strings.IndexAny(line, " \t"); i >= 0 {
			line = line[:i]
		}
		u, err := normalizeURL(line)
		if err != nil {
			slog.Debug("skipping malformed mirror entry", "entry", line, "error", err)
			continue
		}
		urls = append(urls, u)
	}
	return urls
}

// closeRespBody closes HTTP response body.
func closeRespBody(resp *http.Response) {
	if err := resp.Body.Close(); err != nil {
		slog.Warn("failed to close response body", "error", err)
	}
}

// clonedTransport creates a new HTTP client with a private transport.
// Timeouts are controlled by request contexts.
func clonedTransport() *http.Client {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.MaxIdleConns = 100
	tr.MaxIdleConnsPerHost = 2
	tr.IdleConnTimeout = 90 * time.Second

	return &http.Client{
		Transport: tr,
		Timeout:   0,
	}
}

// NewHTTPClient returns the HTTP client shared by list fetches and probes.
func NewHTTPClient() *http.Client {
	return clonedTransport()
}
