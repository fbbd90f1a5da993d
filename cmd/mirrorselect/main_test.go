package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/BurntSushi/toml"
	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"

	"github.com/mirrorctl/mirrorselect/internal/mirror"
)

func TestAnalyzeUndecoded(t *testing.T) {
	t.Parallel()

	keys := []toml.Key{
		{"Probe", "bytes"},
		{"Probe", "timeout"},
		{"backups", "dir"},
		{"probe", "colour"},
		{"mirrors", "ubuntu"},
	}
	suggestions, unknown := analyzeUndecoded(keys)

	want := []string{"Section 'Probe' should be 'probe'", "Section 'backups' should be 'backup'"}
	if strings.Join(suggestions, "|") != strings.Join(want, "|") {
		t.Errorf("suggestions = %q, want %q", suggestions, want)
	}
	if strings.Join(unknown, "|") != "probe.colour|mirrors.ubuntu" {
		t.Errorf("unknown = %q", unknown)
	}

	msg := formatUndecodedError(keys)
	for _, s := range []string{"case-sensitive", "probe.colour", "Section 'backups' should be 'backup'"} {
		if !strings.Contains(msg, s) {
			t.Errorf("formatUndecodedError() = %q, missing %q", msg, s)
		}
	}
}

func TestFormatError(t *testing.T) {
	t.Parallel()

	err := errors.WithHint(errors.Wrap(mirror.ErrPrivilegeRequired, "running as uid 1000"), "run with sudo")
	got := formatError(err, false)
	want := "running as uid 1000: elevated privilege required (hint: run with sudo)"
	if got != want {
		t.Errorf("formatError() = %q, want %q", got, want)
	}
}

func TestFormatThroughput(t *testing.T) {
	t.Parallel()

	tests := []struct {
		bps  float64
		want string
	}{
		{0, "failed"},
		{-1, "failed"},
		{512, "512 B/s"},
		{2 * 1024 * 1024, "2.0 MiB/s"},
	}
	for _, tt := range tests {
		if got := formatThroughput(tt.bps); got != tt.want {
			t.Errorf("formatThroughput(%v) = %q, want %q", tt.bps, got, tt.want)
		}
	}
}

func testOutcome() *mirror.Outcome {
	return &mirror.Outcome{
		Candidates: []mirror.MirrorURL{"http://a/", "http://b/"},
		Results: []mirror.ProbeResult{
			{Mirror: "http://a/", Throughput: 2048, Succeeded: true, Bytes: 2048},
			{Mirror: "http://b/"},
		},
		Top: []mirror.RankedMirror{
			{Rank: 1, Mirror: "http://a/", Throughput: 2048, Bucket: mirror.BucketOf(2048)},
			{Rank: 2, Mirror: "http://b/", Bucket: mirror.BucketFailed},
		},
	}
}

func TestWriteBenchmark(t *testing.T) {
	t.Parallel()

	t.Run("json", func(t *testing.T) {
		t.Parallel()
		var buf bytes.Buffer
		if err := writeBenchmark(&buf, "json", testOutcome()); err != nil {
			t.Fatal(err)
		}
		var decoded struct {
			Candidates []string `json:"candidates"`
			Top        []struct {
				Rank   int    `json:"rank"`
				Mirror string `json:"mirror"`
			} `json:"top"`
		}
		if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
			t.Fatalf("invalid JSON %q: %v", buf.String(), err)
		}
		if len(decoded.Candidates) != 2 || len(decoded.Top) != 2 || decoded.Top[0].Mirror != "http://a/" {
			t.Errorf("decoded = %+v", decoded)
		}
	})

	t.Run("yaml", func(t *testing.T) {
		t.Parallel()
		var buf bytes.Buffer
		if err := writeBenchmark(&buf, "yaml", testOutcome()); err != nil {
			t.Fatal(err)
		}
		var decoded map[string]any
		if err := yaml.Unmarshal(buf.Bytes(), &decoded); err != nil {
			t.Fatalf("invalid YAML %q: %v", buf.String(), err)
		}
		for _, key := range []string{"candidates", "results", "top", "changed_lines", "canceled"} {
			if _, ok := decoded[key]; !ok {
				t.Errorf("YAML output has no %q key", key)
			}
		}
	})

	t.Run("text", func(t *testing.T) {
		t.Parallel()
		var buf bytes.Buffer
		if err := writeBenchmark(&buf, "text", testOutcome()); err != nil {
			t.Fatal(err)
		}
		out := buf.String()
		for _, s := range []string{"1) http://a/", "2) http://b/", "failed", "2 candidates probed, 1 answered."} {
			if !strings.Contains(out, s) {
				t.Errorf("text output %q does not contain %q", out, s)
			}
		}
	})
}

func TestCheckOutputFormat(t *testing.T) {
	t.Parallel()

	for _, f := range []string{"text", "json", "yaml"} {
		if err := checkOutputFormat(f); err != nil {
			t.Errorf("checkOutputFormat(%q) = %v", f, err)
		}
	}
	if err := checkOutputFormat("xml"); err == nil {
		t.Error("checkOutputFormat(xml) should fail")
	}
}

func TestPrintOutcome(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	printOutcome(&buf, &mirror.Outcome{Canceled: true}, false)
	if !strings.Contains(buf.String(), "nothing changed") {
		t.Errorf("canceled output = %q", buf.String())
	}

	buf.Reset()
	printOutcome(&buf, nil, false)
	printOutcome(&buf, &mirror.Outcome{}, false)
	if buf.Len() != 0 {
		t.Errorf("output without a selection = %q, want none", buf.String())
	}
}
