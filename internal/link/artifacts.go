package link

import (
	"bytes"
	"errors"
	"html/template"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	appLog "icalsynchub/internal/log"
	"icalsynchub/internal/token"
)

// viewerTemplate is the static page published next to each token symlink. It
// intentionally contains nothing but the subscription link; event data is
// only ever in the calendar file itself.
const viewerTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="robots" content="noindex">
<title>Shared calendar</title>
</head>
<body>
<h1>Shared calendar</h1>
<p>This calendar link was issued for <strong>{{.Owner}}</strong>.</p>
<p><a href="{{.ICSName}}">Subscribe to the calendar feed</a></p>
</body>
</html>
`

var viewerTmpl = template.Must(template.New("viewer").Parse(viewerTemplate))

// Artifacts manages the per-token filesystem artifacts: a symlink
// `<token>.ics` pointing at the merged calendar and a static viewer page
// `<token>.html`. All operations are idempotent; an already-correct state is
// left untouched.
type Artifacts struct {
	// OutputDir is the published directory shared with the merged file.
	OutputDir string
	// MergedName is the merged calendar file name the symlinks target,
	// relative to OutputDir. May be empty in admin contexts where the
	// sync process generates the name; creation is then deferred to the
	// next sweep.
	MergedName string
}

func (a Artifacts) symlinkPath(tok string) string {
	return filepath.Join(a.OutputDir, tok+".ics")
}

func (a Artifacts) viewerPath(tok string) string {
	return filepath.Join(a.OutputDir, tok+".html")
}

// Exists reports whether both artifacts for t are present.
func (a Artifacts) Exists(t token.Token) bool {
	if _, err := os.Lstat(a.symlinkPath(t.Token)); err != nil {
		return false
	}
	if _, err := os.Stat(a.viewerPath(t.Token)); err != nil {
		return false
	}
	return true
}

// Ensure creates or repairs the artifacts for t. Returns whether anything
// was written.
func (a Artifacts) Ensure(t token.Token) (bool, error) {
	if a.MergedName == "" {
		appLog.Debug("merged filename unknown, deferring artifact creation to next sweep", "token", t.Token)
		return false, nil
	}

	linkChanged, err := a.ensureSymlink(t.Token)
	if err != nil {
		return linkChanged, err
	}
	pageChanged, err := a.ensureViewer(t)
	if err != nil {
		return linkChanged || pageChanged, err
	}

	if linkChanged || pageChanged {
		appLog.Info("link artifacts created", "token", t.Token, "owner", t.Owner)
	}
	return linkChanged || pageChanged, nil
}

// Remove deletes the artifacts for t. Missing artifacts are not an error.
// Returns whether anything was removed.
func (a Artifacts) Remove(t token.Token) (bool, error) {
	removed := false
	for _, path := range []string{a.symlinkPath(t.Token), a.viewerPath(t.Token)} {
		err := os.Remove(path)
		switch {
		case err == nil:
			removed = true
		case errors.Is(err, fs.ErrNotExist):
		default:
			return removed, err
		}
	}
	if removed {
		appLog.Info("link artifacts removed", "token", t.Token, "owner", t.Owner)
	}
	return removed, nil
}

// Reconcile brings the filesystem into agreement with the token set at now:
// artifacts exist exactly for tokens whose expiry is absent or still in the
// future. Per-token failures are logged and do not stop the pass.
func (a Artifacts) Reconcile(tokens []token.Token, now time.Time) {
	for _, t := range tokens {
		var err error
		if t.Active(now) {
			_, err = a.Ensure(t)
		} else {
			_, err = a.Remove(t)
		}
		if err != nil {
			appLog.Error("link reconcile failed for token", err, "token", t.Token, "owner", t.Owner)
		}
	}
}

func (a Artifacts) ensureSymlink(tok string) (bool, error) {
	link := a.symlinkPath(tok)

	cur, err := os.Readlink(link)
	switch {
	case err == nil && cur == a.MergedName:
		return false, nil
	case err == nil || !errors.Is(err, fs.ErrNotExist):
		// Wrong target, or something that is not a symlink at all.
		if err := os.Remove(link); err != nil {
			return false, err
		}
	}

	// Relative target: the symlink and the merged file share a directory.
	if err := os.Symlink(a.MergedName, link); err != nil {
		return true, err
	}
	return true, nil
}

func (a Artifacts) ensureViewer(t token.Token) (bool, error) {
	var buf bytes.Buffer
	data := struct {
		Owner   string
		ICSName string
	}{Owner: t.Owner, ICSName: t.Token + ".ics"}
	if err := viewerTmpl.Execute(&buf, data); err != nil {
		return false, err
	}

	path := a.viewerPath(t.Token)
	if existing, err := os.ReadFile(path); err == nil && bytes.Equal(existing, buf.Bytes()) {
		return false, nil
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return true, err
	}
	return true, nil
}
