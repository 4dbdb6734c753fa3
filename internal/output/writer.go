package output

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	appLog "icalsynchub/internal/log"
)

// Writer persists the merged calendar document. Writes are atomic from the
// viewpoint of external readers: content goes to a temp file in the same
// directory and is renamed over the final path, so the previously published
// file stays intact until the new one is complete.
type Writer struct {
	dir        string
	configured string

	once      sync.Once
	generated string
}

// NewWriter creates a Writer for dir. name may be empty, in which case a
// random file name is generated on first use and reused for every later
// write within this process, keeping shareable links stable across cycles.
func NewWriter(dir, name string) (*Writer, error) {
	if dir == "" {
		return nil, errors.New("output directory is empty")
	}
	// Unwritable or uncreatable output roots are startup-fatal.
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory %s: %w", dir, err)
	}
	return &Writer{dir: dir, configured: name}, nil
}

// Filename returns the merged calendar file name this Writer targets.
func (w *Writer) Filename() string {
	if w.configured != "" {
		return w.configured
	}
	w.once.Do(func() {
		buf := make([]byte, 16)
		if _, err := rand.Read(buf); err != nil {
			// rand.Read only fails when the OS entropy source is broken.
			panic(fmt.Sprintf("output: random filename: %v", err))
		}
		w.generated = hex.EncodeToString(buf) + ".ics"
		appLog.Info("generated merged calendar filename for this run", "filename", w.generated)
	})
	return w.generated
}

// Path returns the full path of the merged calendar file.
func (w *Writer) Path() string {
	return filepath.Join(w.dir, w.Filename())
}

// Write atomically persists content to the target path and returns it.
func (w *Writer) Write(content []byte) (string, error) {
	final := w.Path()

	tmp, err := os.CreateTemp(w.dir, ".icalsynchub-*.tmp")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return "", fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Chmod(tmpName, 0o644); err != nil {
		return "", fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpName, final); err != nil {
		return "", fmt.Errorf("publish %s: %w", final, err)
	}

	appLog.Debug("merged calendar written", "path", final, "bytes", len(content))
	return final, nil
}
