package source

import (
	"bufio"
	"io"
	"net/url"
	"os"
	"strings"

	appLog "icalsynchub/internal/log"
)

// DefaultLabel is the anonymization label used when a descriptor carries a
// fragment marker with no value.
const DefaultLabel = "Busy"

// Descriptor identifies one remote calendar feed.
type Descriptor struct {
	// URL is the feed endpoint with any label fragment removed.
	URL string
	// Label is the per-source anonymization label. Empty means unset, in
	// which case the configured global label applies.
	Label string
}

// ParseLine parses one source list line of the form
//
//	<url>[ ]#[<urlencoded label>]
//
// Comment lines (leading '#') and blank lines yield ok=false. A trailing
// fragment becomes the URL-decoded anonymization label; a bare '#' selects
// DefaultLabel; no fragment leaves Label unset. Malformed URLs are passed
// through uninterpreted and fail later at fetch time.
func ParseLine(line string) (Descriptor, bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return Descriptor{}, false
	}

	var d Descriptor
	if i := strings.Index(line, "#"); i >= 0 {
		d.URL = strings.TrimRight(line[:i], " \t")
		frag := line[i+1:]
		if frag == "" {
			d.Label = DefaultLabel
		} else if decoded, err := url.PathUnescape(frag); err == nil {
			d.Label = decoded
		} else {
			// Undecodable fragment: use it as-is rather than drop the label.
			d.Label = frag
		}
	} else {
		d.URL = line
	}

	if d.URL == "" {
		return Descriptor{}, false
	}
	return d, true
}

// ParseList reads descriptor lines from r, skipping comments and blanks.
func ParseList(r io.Reader) []Descriptor {
	var out []Descriptor
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if d, ok := ParseLine(sc.Text()); ok {
			out = append(out, d)
		}
	}
	return out
}

// LoadFile reads the sources file at path. A missing or empty file is not an
// error for the sync loop: it is logged and an empty list returned, so the
// cycle still publishes a structurally valid (empty) calendar.
func LoadFile(path string) []Descriptor {
	f, err := os.Open(path)
	if err != nil {
		appLog.Error("sources file not readable", err, "path", path)
		appLog.Info("expected format: one '<url>[ ]#[<urlencoded label>]' per line; '#'-prefixed lines are comments")
		return nil
	}
	defer f.Close()

	list := ParseList(f)
	if len(list) == 0 {
		appLog.Info("no valid calendar URLs found", "path", path)
	}
	return list
}
