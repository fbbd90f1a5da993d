package mirror

import (
	"bytes"
	"log/slog"
	"os"
	"regexp"
	"strings"

	"github.com/cockroachdb/errors"
)

var (
	// one-line format: deb [options] uri suite [component...]
	debLine = regexp.MustCompile(`^(\s*deb(?:-src)?\s+(?:\[[^\]]*\]\s*)?)([a-z][a-z0-9+.-]*://[^\s/]+)(\S*)(.*)$`)

	// deb822 format: URIs: uri [uri...]
	urisField   = regexp.MustCompile(`^(\s*URIs:[ \t]*)(\S.*?)([ \t\r]*)$`)
	suitesField = regexp.MustCompile(`^\s*Suites:[ \t]*(\S+)`)
	originURI   = regexp.MustCompile(`^[a-z][a-z0-9+.-]*://[^\s/]+(\S*)`)
)

// RewriteSources replaces the mirror base URI (scheme, host and path) of
// every deb and deb-src entry.
//
// In one-line entries the URI following "deb" (and its optional [options]
// block) is replaced; in deb822 stanzas the value of "URIs:" is. Everything
// else, including suites, components, comments and lines that do not match,
// is left byte-for-byte unchanged. It returns the new content and the number
// of changed lines.
func RewriteSources(content []byte, mirror MirrorURL) ([]byte, int) {
	lines := bytes.SplitAfter(content, []byte("\n"))
	var out bytes.Buffer
	out.Grow(len(content))
	changed := 0

	for _, raw := range lines {
		line := string(raw)
		eol := ""
		if strings.HasSuffix(line, "\n") {
			eol = "\n"
			line = strings.TrimSuffix(line, "\n")
		}

		rewritten := rewriteLine(line, mirror)
		if rewritten != line {
			changed++
		}
		out.WriteString(rewritten)
		out.WriteString(eol)
	}
	return out.Bytes(), changed
}

func rewriteLine(line string, mirror MirrorURL) string {
	if strings.HasPrefix(strings.TrimSpace(line), "#") {
		return line
	}

	if m := debLine.FindStringSubmatch(line); m != nil {
		return m[1] + mirrorFor(m[3], mirror) + m[4]
	}

	if m := urisField.FindStringSubmatch(line); m != nil {
		first := strings.Fields(m[2])[0]
		um := originURI.FindStringSubmatch(first)
		if um == nil {
			return line
		}
		return m[1] + mirrorFor(um[1], mirror) + m[3]
	}

	return line
}

// mirrorFor keeps the trailing-slash style of the path being replaced.
func mirrorFor(oldPath string, mirror MirrorURL) string {
	s := string(mirror)
	if !strings.HasSuffix(oldPath, "/") {
		return strings.TrimSuffix(s, "/")
	}
	return s
}

// FirstSuite returns the suite of the first deb entry, or "" if none is found.
func FirstSuite(content []byte) string {
	for _, line := range strings.Split(string(content), "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "#") {
			continue
		}
		if m := debLine.FindStringSubmatch(line); m != nil {
			fields := strings.Fields(m[4])
			if len(fields) > 0 {
				return fields[0]
			}
			continue
		}
		if m := suitesField.FindStringSubmatch(line); m != nil {
			return m[1]
		}
	}
	return ""
}

// Mutator rewrites the active configuration file.
type Mutator struct {
	path string
}

// NewMutator creates a Mutator for the configuration at path.
func NewMutator(path string) *Mutator {
	return &Mutator{path: path}
}

// Path returns the configuration file path.
func (m *Mutator) Path() string {
	return m.path
}

// Preview returns the rewritten content without touching the file.
func (m *Mutator) Preview(sel Selection) ([]byte, int, error) {
	content, err := os.ReadFile(m.path)
	if err != nil {
		return nil, 0, errors.Wrapf(err, "reading %s", m.path)
	}
	rewritten, changed := RewriteSources(content, sel.Mirror)
	return rewritten, changed, nil
}

// Apply points every deb entry of the configuration at the selected mirror.
// The file is replaced atomically; nothing is written if no line matches.
func (m *Mutator) Apply(sel Selection) (int, error) {
	st, err := os.Stat(m.path)
	if err != nil {
		return 0, errors.Wrapf(err, "stat %s", m.path)
	}
	rewritten, changed, err := m.Preview(sel)
	if err != nil {
		return 0, err
	}
	if changed == 0 {
		slog.Warn("no deb entries matched, configuration left unchanged", "path", m.path)
		return 0, nil
	}
	if err := writeFileAtomic(m.path, rewritten, st.Mode().Perm()); err != nil {
		return 0, errors.Wrapf(err, "writing %s", m.path)
	}
	slog.Info("mirror switched", "path", m.path, "mirror", sel.Mirror, "lines", changed)
	return changed, nil
}
