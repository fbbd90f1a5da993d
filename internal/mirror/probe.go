package mirror

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"
)

// ProbeResult is the outcome of one speed probe.
// A failed probe has zero throughput.
type ProbeResult struct {
	Mirror     MirrorURL     `json:"mirror" yaml:"mirror"`
	Throughput float64       `json:"throughput_bytes_per_sec" yaml:"throughput_bytes_per_sec"`
	Succeeded  bool          `json:"succeeded" yaml:"succeeded"`
	Bytes      int64         `json:"bytes" yaml:"bytes"`
	Elapsed    time.Duration `json:"elapsed" yaml:"elapsed"`
}

// Prober measures the throughput of one mirror.
//
// Implementations must return within their own timeout and must not report
// failures as errors; a failure is a zero-throughput result.
type Prober interface {
	Probe(ctx context.Context, mirror MirrorURL) ProbeResult
}

// HTTPProbe downloads a fixed byte range of a large file from the mirror.
type HTTPProbe struct {
	client  *http.Client
	path    string
	bytes   int64
	timeout time.Duration
}

// NewHTTPProbe creates a Prober from the probe configuration.
func NewHTTPProbe(pc ProbeConfig, client *http.Client) *HTTPProbe {
	if client == nil {
		client = clonedTransport()
	}
	return &HTTPProbe{
		client:  client,
		path:    pc.Path,
		bytes:   pc.Bytes,
		timeout: pc.Timeout.Duration,
	}
}

// Probe makes exactly one ranged GET request and returns the achieved rate.
func (p *HTTPProbe) Probe(ctx context.Context, mirror MirrorURL) ProbeResult {
	result := ProbeResult{Mirror: mirror}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	n, elapsed, err := p.fetch(ctx, mirror)
	result.Bytes = n
	result.Elapsed = elapsed
	if err != nil && n > 0 && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		// the deadline cut a transfer that was already flowing
		err = nil
	}
	if err == nil && n == 0 {
		err = errors.New("empty response")
	}
	if err != nil {
		slog.Debug("probe failed", "mirror", mirror, "error", errors.Mark(err, ErrProbeFailure))
		return result
	}

	if secs := elapsed.Seconds(); secs > 0 {
		result.Throughput = float64(n) / secs
	}
	result.Succeeded = true
	return result
}

func (p *HTTPProbe) fetch(ctx context.Context, mirror MirrorURL) (int64, time.Duration, error) {
	target, err := mirror.resolve(p.path)
	if err != nil {
		return 0, 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return 0, 0, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Range", fmt.Sprintf("bytes=0-%d", p.bytes))

	start := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		return 0, time.Since(start), err
	}
	defer closeRespBody(resp)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		return 0, time.Since(start), errors.Newf("status %d for %s", resp.StatusCode, target)
	}

	// servers ignoring Range send the whole file
	n, err := io.Copy(io.Discard, io.LimitReader(resp.Body, p.bytes+1))
	return n, time.Since(start), err
}

// ProbeAll probes every candidate with at most maxConns probes in flight.
//
// The returned slice is in candidate order regardless of completion order.
// done, if not nil, is called from a single goroutine as results arrive.
func ProbeAll(ctx context.Context, prober Prober, candidates []MirrorURL, maxConns int, done func(ProbeResult)) []ProbeResult {
	results := make([]ProbeResult, len(candidates))
	if len(candidates) == 0 {
		return results
	}

	type indexed struct {
		idx    int
		result ProbeResult
	}
	ch := make(chan indexed, len(candidates))

	var group errgroup.Group
	group.SetLimit(max(1, min(len(candidates), maxConns)))

	go func() {
		for i, mirror := range candidates {
			group.Go(func() error {
				ch <- indexed{idx: i, result: prober.Probe(ctx, mirror)}
				return nil
			})
		}
		_ = group.Wait()
		close(ch)
	}()

	for r := range ch {
		results[r.idx] = r.result
		if done != nil {
			done(r.result)
		}
	}
	return results
}
