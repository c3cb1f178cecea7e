// Package archive writes the synthesized audio of interviewer turns to disk
// as WAV files laid out as <dir>/<session id>/<seq>.wav.
package archive

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/MrWong99/intervox/pkg/audio"
)

// Archive stores one WAV file per interviewer turn.
type Archive struct {
	dir string
}

// New returns an Archive rooted at dir, creating the directory if needed.
func New(dir string) (*Archive, error) {
	if dir == "" {
		return nil, errors.New("archive: directory is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("archive: create dir: %w", err)
	}
	return &Archive{dir: dir}, nil
}

// Dir returns the archive root.
func (a *Archive) Dir() string { return a.dir }

// Save writes pcm as <session>/<seq>.wav and returns that path relative to
// the archive root, using forward slashes. Empty pcm writes nothing and
// returns "".
func (a *Archive) Save(sessionID string, seq int, pcm []byte, f audio.Format) (string, error) {
	if len(pcm) == 0 {
		return "", nil
	}
	if sessionID == "" || strings.ContainsAny(sessionID, `/\`) || sessionID == "." || sessionID == ".." {
		return "", fmt.Errorf("archive: invalid session id %q", sessionID)
	}
	if err := f.Validate(); err != nil {
		return "", fmt.Errorf("archive: %w", err)
	}
	sessionDir := filepath.Join(a.dir, sessionID)
	if err := os.MkdirAll(sessionDir, 0o755); err != nil {
		return "", fmt.Errorf("archive: create session dir: %w", err)
	}

	name := fmt.Sprintf("%04d.wav", seq)
	file, err := os.Create(filepath.Join(sessionDir, name))
	if err != nil {
		return "", fmt.Errorf("archive: %w", err)
	}
	w := audio.NewWAVWriter(file, f)
	if err := w.Write(pcm); err != nil {
		file.Close()
		return "", fmt.Errorf("archive: %w", err)
	}
	if err := w.Close(); err != nil {
		file.Close()
		return "", fmt.Errorf("archive: %w", err)
	}
	if err := file.Close(); err != nil {
		return "", fmt.Errorf("archive: close: %w", err)
	}
	return path.Join(sessionID, name), nil
}

// Resolve maps a reference returned by Save back to an absolute file path.
func (a *Archive) Resolve(ref string) (string, error) {
	clean := path.Clean(ref)
	if ref == "" || path.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("archive: invalid reference %q", ref)
	}
	return filepath.Join(a.dir, filepath.FromSlash(clean)), nil
}
