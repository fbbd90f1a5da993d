package mirror

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
)

// Selection is the mirror chosen from the top list.
type Selection struct {
	Mirror MirrorURL `json:"mirror" yaml:"mirror"`
	Rank   int       `json:"rank" yaml:"rank"`
}

// SelectionPolicy chooses one mirror from the top list.
type SelectionPolicy interface {
	Select(ctx context.Context, top []RankedMirror) (Selection, error)

	// Automatic reports whether the policy chooses without user input.
	Automatic() bool
}

// AutoSelect picks the rank 1 mirror. It refuses with ErrNoMirrorsAvailable
// when no mirror answered its speed probe.
type AutoSelect struct{}

// Automatic implements SelectionPolicy.
func (AutoSelect) Automatic() bool { return true }

// Select implements SelectionPolicy.
func (AutoSelect) Select(_ context.Context, top []RankedMirror) (Selection, error) {
	if len(top) == 0 {
		return Selection{}, ErrNoMirrorsAvailable
	}
	if top[0].Throughput <= 0 {
		return Selection{}, errors.Wrap(ErrNoMirrorsAvailable, "no mirror answered the speed probe")
	}
	return Selection{Mirror: top[0].Mirror, Rank: top[0].Rank}, nil
}

// RenderFunc writes the numbered top list for an interactive prompt.
type RenderFunc func(w io.Writer, top []RankedMirror)

// InteractiveSelect asks the user for a 1-based index; 0 cancels.
type InteractiveSelect struct {
	In     io.Reader
	Out    io.Writer
	Render RenderFunc
}

// Automatic implements SelectionPolicy.
func (*InteractiveSelect) Automatic() bool { return false }

// Select implements SelectionPolicy.
//
// Exactly one line is read. Anything that is not an integer in [0, len(top)]
// is ErrInvalidSelection; there is no re-prompt. Answering 0 returns
// ErrCanceled, as does canceling ctx while the prompt waits.
func (s *InteractiveSelect) Select(ctx context.Context, top []RankedMirror) (Selection, error) {
	if len(top) == 0 {
		return Selection{}, ErrNoMirrorsAvailable
	}

	render := s.Render
	if render == nil {
		render = PlainRender
	}
	render(s.Out, top)
	fmt.Fprintf(s.Out, "  0) cancel\n")
	fmt.Fprintf(s.Out, "Select a mirror [0-%d]: ", len(top))

	line, err := readLine(ctx, s.In)
	if errors.Is(err, ErrCanceled) {
		fmt.Fprintln(s.Out)
		return Selection{}, err
	}
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return Selection{}, errors.Mark(errors.Wrap(err, "reading selection"), ErrInvalidSelection)
	}

	answer := strings.TrimSpace(line)
	idx, err := strconv.Atoi(answer)
	if err != nil {
		return Selection{}, errors.Wrapf(ErrInvalidSelection, "%q is not a number", answer)
	}
	if idx < 0 || idx > len(top) {
		return Selection{}, errors.Wrapf(ErrInvalidSelection, "%d is outside [0, %d]", idx, len(top))
	}
	if idx == 0 {
		return Selection{}, ErrCanceled
	}

	chosen := top[idx-1]
	if chosen.Throughput <= 0 {
		slog.Warn("selected mirror failed its speed probe", "mirror", chosen.Mirror)
	}
	return Selection{Mirror: chosen.Mirror, Rank: chosen.Rank}, nil
}

// readLine reads one line from r. The read itself cannot be interrupted, so
// on cancellation the reading goroutine is left behind until r yields.
func readLine(ctx context.Context, r io.Reader) (string, error) {
	type result struct {
		line string
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		line, err := bufio.NewReader(r).ReadString('\n')
		ch <- result{line, err}
	}()

	select {
	case <-ctx.Done():
		return "", errors.Wrap(ErrCanceled, ctx.Err().Error())
	case res := <-ch:
		return res.line, res.err
	}
}

// PlainRender writes the top list without any decoration.
func PlainRender(w io.Writer, top []RankedMirror) {
	for i, m := range top {
		fmt.Fprintf(w, "%3d) %-60s %12.0f B/s\n", i+1, m.Mirror, m.Throughput)
	}
}
