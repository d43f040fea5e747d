package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/amillerrr/abr-pipeline/pkg/models"
)

// MasterPlaylistName is the file name of the HLS master playlist.
const MasterPlaylistName = "master.m3u8"

const masterHeader = "#EXTM3U\n#EXT-X-VERSION:3\n"

type variant struct {
	bandwidth int64
	width     int
	height    int
	uri       string
}

// WriteMasterPlaylist writes master.m3u8 into outputDir referencing every
// rendition, highest bandwidth first. Renditions with equal bandwidth keep
// their input order. It returns the playlist path.
func WriteMasterPlaylist(outputDir string, renditions []models.Rendition) (string, error) {
	if len(renditions) == 0 {
		return "", fmt.Errorf("%w: no renditions", models.ErrManifestWrite)
	}

	variants := make([]variant, 0, len(renditions))
	for _, r := range renditions {
		bw, err := Bandwidth(r.Profile)
		if err != nil {
			return "", fmt.Errorf("%w: %v", models.ErrManifestWrite, err)
		}
		uri, err := variantURI(outputDir, r)
		if err != nil {
			return "", fmt.Errorf("%w: %v", models.ErrManifestWrite, err)
		}
		variants = append(variants, variant{
			bandwidth: bw,
			width:     r.Profile.Width,
			height:    r.Profile.Height,
			uri:       uri,
		})
	}

	sort.SliceStable(variants, func(i, j int) bool {
		return variants[i].bandwidth > variants[j].bandwidth
	})

	var builder strings.Builder
	builder.WriteString(masterHeader)
	for _, v := range variants {
		builder.WriteString(fmt.Sprintf("#EXT-X-STREAM-INF:BANDWIDTH=%d,RESOLUTION=%dx%d\n",
			v.bandwidth, v.width, v.height))
		builder.WriteString(v.uri + "\n")
	}

	path := filepath.Join(outputDir, MasterPlaylistName)
	if err := writeFileAtomic(path, []byte(builder.String())); err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrManifestWrite, err)
	}
	return path, nil
}

// variantURI is the playlist path relative to the master playlist, using
// forward slashes. Renditions without a playlist path default to
// <profile>/playlist.m3u8.
func variantURI(outputDir string, r models.Rendition) (string, error) {
	if r.PlaylistPath == "" {
		return r.Profile.Name + "/playlist.m3u8", nil
	}
	if !filepath.IsAbs(r.PlaylistPath) && !strings.HasPrefix(filepath.Clean(r.PlaylistPath), filepath.Clean(outputDir)) {
		return filepath.ToSlash(r.PlaylistPath), nil
	}
	rel, err := filepath.Rel(outputDir, r.PlaylistPath)
	if err != nil {
		return "", fmt.Errorf("variant playlist %s: %w", r.PlaylistPath, err)
	}
	return filepath.ToSlash(rel), nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".master-*.m3u8")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Chmod(tmpPath, 0644); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}

// ValidateDASHManifest checks that the encoder produced a non-empty manifest.
func ValidateDASHManifest(path string) error {
	if path == "" {
		return fmt.Errorf("%w: no DASH manifest path", models.ErrManifestWrite)
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%w: DASH manifest: %v", models.ErrManifestWrite, err)
	}
	if info.IsDir() || info.Size() == 0 {
		return fmt.Errorf("%w: DASH manifest %s is empty", models.ErrManifestWrite, path)
	}
	return nil
}

// CreateOutputDirectories creates the per-profile variant directories. It is
// safe to call when they already exist.
func CreateOutputDirectories(hlsDir string, ladder []models.Profile) error {
	for _, p := range ladder {
		dirPath := filepath.Join(hlsDir, p.Name)
		if err := os.MkdirAll(dirPath, 0755); err != nil {
			return fmt.Errorf("failed to create HLS subdir %s: %w", p.Name, err)
		}
	}
	return nil
}
