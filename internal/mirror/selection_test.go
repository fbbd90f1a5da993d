package mirror

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
)

var testTop = []RankedMirror{
	{Rank: 1, Mirror: "http://c/", Throughput: 1200},
	{Rank: 2, Mirror: "http://a/", Throughput: 500},
	{Rank: 3, Mirror: "http://b/", Throughput: 0},
}

func TestAutoSelect(t *testing.T) {
	t.Parallel()

	var policy SelectionPolicy = AutoSelect{}
	if !policy.Automatic() {
		t.Error("AutoSelect must be automatic")
	}
	sel, err := policy.Select(context.Background(), testTop)
	if err != nil {
		t.Fatal(err)
	}
	if sel.Mirror != "http://c/" || sel.Rank != 1 {
		t.Errorf("Select() = %+v, want rank 1 http://c/", sel)
	}
}

func TestAutoSelect_NothingAnswered(t *testing.T) {
	t.Parallel()

	top := []RankedMirror{{Rank: 1, Mirror: "http://a/"}, {Rank: 2, Mirror: "http://b/"}}
	if _, err := (AutoSelect{}).Select(context.Background(), top); !errors.Is(err, ErrNoMirrorsAvailable) {
		t.Errorf("Select() error = %v, want ErrNoMirrorsAvailable", err)
	}
	if _, err := (AutoSelect{}).Select(context.Background(), nil); !errors.Is(err, ErrNoMirrorsAvailable) {
		t.Errorf("Select(nil) error = %v, want ErrNoMirrorsAvailable", err)
	}
}

func TestInteractiveSelect(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		want    MirrorURL
		wantErr error
	}{
		{"first", "1\n", "http://c/", nil},
		{"second with spaces", "  2 \n", "http://a/", nil},
		{"no trailing newline", "2", "http://a/", nil},
		{"failed mirror is allowed", "3\n", "http://b/", nil},
		{"cancel", "0\n", "", ErrCanceled},
		{"out of range", "4\n", "", ErrInvalidSelection},
		{"negative", "-1\n", "", ErrInvalidSelection},
		{"not a number", "fast\n", "", ErrInvalidSelection},
		{"empty line", "\n", "", ErrInvalidSelection},
		{"end of input", "", "", ErrInvalidSelection},
		{"only first line is read", "x\n1\n", "", ErrInvalidSelection},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var out bytes.Buffer
			s := &InteractiveSelect{In: strings.NewReader(tt.input), Out: &out}
			sel, err := s.Select(context.Background(), testTop)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Select() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if sel.Mirror != tt.want {
				t.Errorf("Select() = %q, want %q", sel.Mirror, tt.want)
			}
		})
	}
}

func TestInteractiveSelect_Prompt(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	rendered := false
	s := &InteractiveSelect{
		In:  strings.NewReader("1\n"),
		Out: &out,
		Render: func(w io.Writer, top []RankedMirror) {
			rendered = true
			PlainRender(w, top)
		},
	}
	if s.Automatic() {
		t.Error("InteractiveSelect must not be automatic")
	}
	if _, err := s.Select(context.Background(), testTop); err != nil {
		t.Fatal(err)
	}
	if !rendered {
		t.Error("custom renderer was not used")
	}
	prompt := out.String()
	for _, want := range []string{"1) http://c/", "3) http://b/", "0) cancel", "[0-3]"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt %q does not contain %q", prompt, want)
		}
	}
}

func TestInteractiveSelect_CanceledWhileWaiting(t *testing.T) {
	t.Parallel()

	// nothing is ever written to the pipe
	r, w := io.Pipe()
	defer w.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	var out bytes.Buffer
	s := &InteractiveSelect{In: r, Out: &out}
	done := make(chan error, 1)
	go func() {
		_, err := s.Select(ctx, testTop)
		done <- err
	}()

	select {
	case err := <-done:
		if !errors.Is(err, ErrCanceled) {
			t.Errorf("Select() error = %v, want ErrCanceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Select() did not return after the context was canceled")
	}
}
