package mirror

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/cockroachdb/errors"
)

// RunRecord summarizes one ranking for the history store.
type RunRecord struct {
	StartedAt time.Time
	Regions   []RegionHint
	Results   []ProbeResult
	Ranked    []RankedMirror
	Selected  MirrorURL
}

// Recorder persists run summaries.
type Recorder interface {
	Record(ctx context.Context, run RunRecord) error
}

// ReleaseChecker confirms that a mirror serves a trusted release for suite.
type ReleaseChecker interface {
	Verify(ctx context.Context, mirror MirrorURL, suite string) error
}

// Outcome is what a pipeline run did.
type Outcome struct {
	Candidates []MirrorURL    `json:"candidates" yaml:"candidates"`
	Results    []ProbeResult  `json:"results" yaml:"results"`
	Ranked     []RankedMirror `json:"-" yaml:"-"`
	Top        []RankedMirror `json:"top" yaml:"top"`
	Selection  *Selection     `json:"selection,omitempty" yaml:"selection,omitempty"`
	Backup     *BackupRecord  `json:"backup,omitempty" yaml:"backup,omitempty"`
	Changed    int            `json:"changed_lines" yaml:"changed_lines"`
	Canceled   bool           `json:"canceled" yaml:"canceled"`
	Preview    []byte         `json:"-" yaml:"-"`
	RefreshErr error          `json:"-" yaml:"-"`
}

// Pipeline wires the components of one selection run together.
//
// A nil Policy stops after ranking. Nil Verifier, Recorder and Refresher
// skip their steps.
type Pipeline struct {
	Source    Source
	Prober    Prober
	Policy    SelectionPolicy
	Backups   *BackupManager
	Mutator   *Mutator
	Refresher IndexRefresher
	Verifier  ReleaseChecker
	Recorder  Recorder

	Regions  []RegionHint
	MaxConns int
	Top      int
	Backup   bool
	DryRun   bool

	// Started is called with the number of candidates before probing.
	Started func(total int)
	// Progress is called once per finished probe.
	Progress func(ProbeResult)

	now func() time.Time
}

// Execute runs discovery, probing, ranking, selection and the swap.
//
// Nothing is mutated before every probe has finished, or once ctx is done.
// A canceled selection returns a nil error with Outcome.Canceled set. A
// failed index refresh is reported in Outcome.RefreshErr and does not fail
// the run.
func (p *Pipeline) Execute(ctx context.Context) (*Outcome, error) {
	now := p.now
	if now == nil {
		now = time.Now
	}
	started := now()

	candidates, err := p.Source.Resolve(ctx, p.Regions)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, errors.WithHint(
			errors.Wrap(ErrNoMirrorsAvailable, "mirror lists are empty"),
			"try another --country or check list.default_url")
	}
	slog.Info("probing mirrors", "candidates", len(candidates), "max_conns", p.MaxConns)

	outcome := &Outcome{Candidates: candidates}
	if p.Started != nil {
		p.Started(len(candidates))
	}
	outcome.Results = ProbeAll(ctx, p.Prober, candidates, p.MaxConns, p.Progress)
	if err := ctx.Err(); err != nil {
		return outcome, errors.Wrap(err, "probing interrupted")
	}

	ranked, err := Rank(outcome.Results)
	if err != nil {
		return outcome, err
	}
	outcome.Ranked = ranked
	outcome.Top = Top(ranked, p.Top)

	if p.Policy == nil {
		p.record(ctx, started, outcome, "")
		return outcome, nil
	}

	sel, err := p.Policy.Select(ctx, outcome.Top)
	if err == nil && ctx.Err() != nil {
		return outcome, errors.Wrap(ctx.Err(), "selection interrupted")
	}
	p.record(ctx, started, outcome, sel.Mirror)
	if errors.Is(err, ErrCanceled) {
		slog.Info("selection canceled, configuration left unchanged")
		outcome.Canceled = true
		return outcome, nil
	}
	if err != nil {
		return outcome, err
	}
	outcome.Selection = &sel
	slog.Info("mirror selected", "mirror", sel.Mirror, "rank", sel.Rank)

	if p.Verifier != nil {
		content, err := os.ReadFile(p.Mutator.Path())
		if err != nil {
			return outcome, errors.Wrapf(err, "reading %s", p.Mutator.Path())
		}
		if err := p.Verifier.Verify(ctx, sel.Mirror, FirstSuite(content)); err != nil {
			return outcome, err
		}
	}

	if p.DryRun {
		preview, changed, err := p.Mutator.Preview(sel)
		if err != nil {
			return outcome, err
		}
		outcome.Preview = preview
		outcome.Changed = changed
		return outcome, nil
	}

	if err := ctx.Err(); err != nil {
		return outcome, errors.Wrap(err, "interrupted before the swap")
	}
	if p.Backup {
		record, err := p.Backups.Create(p.Mutator.Path())
		if err != nil {
			return outcome, err
		}
		outcome.Backup = record
	}

	changed, err := p.Mutator.Apply(sel)
	if err != nil {
		return outcome, err
	}
	outcome.Changed = changed

	if changed > 0 && p.Refresher != nil {
		if err := p.Refresher.Refresh(ctx); err != nil {
			slog.Warn("mirror switched but the package index was not refreshed", "error", err)
			outcome.RefreshErr = err
		}
	}
	return outcome, nil
}

func (p *Pipeline) record(ctx context.Context, started time.Time, outcome *Outcome, selected MirrorURL) {
	if p.Recorder == nil {
		return
	}
	err := p.Recorder.Record(ctx, RunRecord{
		StartedAt: started,
		Regions:   p.Regions,
		Results:   outcome.Results,
		Ranked:    outcome.Ranked,
		Selected:  selected,
	})
	if err != nil {
		slog.Warn("failed to record run history", "error", err)
	}
}

// Options are the per-invocation settings of Run and Benchmark.
type Options struct {
	Regions []string
	// Auto selects the fastest mirror and implies Backup.
	Auto   bool
	Backup bool
	DryRun bool
	// Top overrides probe.top when positive.
	Top int

	In     io.Reader
	Out    io.Writer
	Render RenderFunc

	Started  func(total int)
	Progress func(ProbeResult)
	Recorder Recorder
	Client   *http.Client
}

// Run selects a mirror and swaps it into the active configuration.
//
// Region hints are validated and privilege is checked before any network
// activity. Unless this is a dry run, a process lock on config.LockFile is
// held for the whole run.
func Run(ctx context.Context, config *Config, opts Options) (*Outcome, error) {
	hints, err := ParseRegionHints(opts.Regions)
	if err != nil {
		return nil, err
	}
	if !opts.DryRun {
		if err := RequirePrivilege(); err != nil {
			return nil, err
		}
		if config.LockFile != "" {
			release, err := AcquireLock(config.LockFile)
			if err != nil {
				return nil, err
			}
			defer release()
		}
	}

	p, cleanup, err := newPipeline(config, hints, opts)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	if opts.Auto {
		p.Policy = AutoSelect{}
	} else {
		p.Policy = &InteractiveSelect{In: opts.In, Out: opts.Out, Render: opts.Render}
	}
	p.Backups = NewBackupManager(config.BackupDir())
	p.Mutator = NewMutator(config.SourcesPath)
	p.Refresher = NewAptRefresher(config.Refresh)
	// automatic selection always keeps a backup
	p.Backup = opts.Backup || opts.Auto
	p.DryRun = opts.DryRun

	if config.Verify.Keyring != "" {
		verifier, err := NewReleaseVerifier(config.Verify.Keyring, opts.Client)
		if err != nil {
			return nil, err
		}
		p.Verifier = verifier
	}

	return p.Execute(ctx)
}

// Benchmark discovers, probes and ranks mirrors without selecting one.
// It needs no privilege and never touches the active configuration.
func Benchmark(ctx context.Context, config *Config, opts Options) (*Outcome, error) {
	hints, err := ParseRegionHints(opts.Regions)
	if err != nil {
		return nil, err
	}
	p, cleanup, err := newPipeline(config, hints, opts)
	if err != nil {
		return nil, err
	}
	defer cleanup()
	return p.Execute(ctx)
}

func newPipeline(config *Config, hints []RegionHint, opts Options) (*Pipeline, func(), error) {
	cache, err := NewListCache("")
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		if err := cache.Close(); err != nil {
			slog.Warn("failed to remove list cache", "error", err, "path", cache.Dir())
		}
	}

	client := opts.Client
	if client == nil {
		client = NewHTTPClient()
	}
	top := config.Probe.Top
	if opts.Top > 0 {
		top = opts.Top
	}

	return &Pipeline{
		Source:   NewHTTPSource(config.List, client, cache),
		Prober:   NewHTTPProbe(config.Probe, client),
		Recorder: opts.Recorder,
		Regions:  hints,
		MaxConns: config.Probe.MaxConns,
		Top:      top,
		Started:  opts.Started,
		Progress: opts.Progress,
	}, cleanup, nil
}
