package worker

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/amillerrr/abr-pipeline/internal/manifest"
	"github.com/amillerrr/abr-pipeline/internal/transcoder"
	"github.com/amillerrr/abr-pipeline/pkg/models"
)

// LockFileName is the name of the lock file held in the output root.
const LockFileName = ".abrd.lock"

// Layout maps sources to their directories in the output tree:
// <root>/<stem>/hls/... and <root>/<stem>/dash/...
type Layout struct {
	root string
}

// NewLayout creates a Layout rooted at root.
func NewLayout(root string) *Layout {
	return &Layout{root: filepath.Clean(root)}
}

// Root returns the output root.
func (l *Layout) Root() string {
	return l.root
}

// LockPath returns the path of the output root lock file.
func (l *Layout) LockPath() string {
	return filepath.Join(l.root, LockFileName)
}

// AssetID derives the asset identifier from the source file name without
// its extension. Sources with the same stem share an asset directory.
func AssetID(sourcePath string) string {
	base := filepath.Base(sourcePath)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// AssetDir returns the output directory of a source.
func (l *Layout) AssetDir(sourcePath string) string {
	return filepath.Join(l.root, AssetID(sourcePath))
}

// EnsureRoot creates the output root and verifies it is writable.
func (l *Layout) EnsureRoot() error {
	if err := os.MkdirAll(l.root, 0755); err != nil {
		return fmt.Errorf("failed to create output root: %w", err)
	}
	probe, err := os.CreateTemp(l.root, ".write-check-*")
	if err != nil {
		return fmt.Errorf("output root %s is not writable: %w", l.root, err)
	}
	name := probe.Name()
	probe.Close()
	return os.Remove(name)
}

// Prepare creates the asset directory. It is safe to call repeatedly.
func (l *Layout) Prepare(assetDir string) error {
	if err := os.MkdirAll(assetDir, 0755); err != nil {
		return fmt.Errorf("failed to create asset directory: %w", err)
	}
	return nil
}

// Completed reports whether assetDir already holds the top-level manifest
// of every format in target.
func Completed(assetDir string, target models.TargetFormat) bool {
	formats := target.Formats()
	if len(formats) == 0 {
		return false
	}
	for _, f := range formats {
		var path string
		switch f {
		case models.FormatHLS:
			path = filepath.Join(assetDir, transcoder.HLSDir, manifest.MasterPlaylistName)
		case models.FormatDASH:
			path = filepath.Join(assetDir, transcoder.DASHDir, "manifest.mpd")
		}
		info, err := os.Stat(path)
		if err != nil || info.Size() == 0 {
			return false
		}
	}
	return true
}
