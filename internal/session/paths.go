package session

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/neboloop/revapi/internal/capture"
)

const (
	// MetadataName is the fixed name of the run record next to the archive.
	MetadataName = "metadata.json"

	harDir     = "har"
	scriptsDir = "scripts"
)

// ErrInvalidRunID is returned for run ids that cannot be used as a
// directory name.
var ErrInvalidRunID = errors.New("invalid run id")

var runIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// ValidateRunID rejects empty ids and ids that would escape the run root.
func ValidateRunID(id string) error {
	if !runIDPattern.MatchString(id) {
		return fmt.Errorf("%w: %q", ErrInvalidRunID, id)
	}
	return nil
}

// Paths is the on-disk layout of one run.
type Paths struct {
	Root         string
	RunDir       string // <root>/har/<run_id>
	HARPath      string // <root>/har/<run_id>/recording.har
	MetadataPath string // <root>/har/<run_id>/metadata.json
	ScriptsDir   string // <root>/scripts/<run_id>
}

// NewPaths resolves the layout of run id under root.
func NewPaths(root, runID string) (Paths, error) {
	if err := ValidateRunID(runID); err != nil {
		return Paths{}, err
	}
	if root == "" {
		return Paths{}, errors.New("output root is required")
	}
	root, err := filepath.Abs(root)
	if err != nil {
		return Paths{}, fmt.Errorf("resolve output root: %w", err)
	}
	runDir := filepath.Join(root, harDir, runID)
	return Paths{
		Root:         root,
		RunDir:       runDir,
		HARPath:      filepath.Join(runDir, capture.ArchiveName),
		MetadataPath: filepath.Join(runDir, MetadataName),
		ScriptsDir:   filepath.Join(root, scriptsDir, runID),
	}, nil
}

// Ensure creates the run and scripts directories.
func (p Paths) Ensure() error {
	for _, dir := range []string{p.RunDir, p.ScriptsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

// Locate resolves a run id or a path to an archive, a metadata file or a
// run directory into the archive path.
func Locate(root, ref string) (string, error) {
	if info, err := os.Stat(ref); err == nil {
		if info.IsDir() {
			return filepath.Join(ref, capture.ArchiveName), nil
		}
		if filepath.Base(ref) == MetadataName {
			m, err := ReadMetadata(ref)
			if err != nil {
				return "", err
			}
			return m.HARFile, nil
		}
		return ref, nil
	}
	p, err := NewPaths(root, ref)
	if err != nil {
		return "", fmt.Errorf("%q is neither a file nor a run id: %w", ref, err)
	}
	return p.HARPath, nil
}
