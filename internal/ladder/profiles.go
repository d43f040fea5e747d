package ladder

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/amillerrr/abr-pipeline/pkg/models"
)

// defaultTable is the standard rendition table, ordered by ascending resolution.
var defaultTable = []models.Profile{
	{Name: "240p", Width: 426, Height: 240, VideoBitrate: "400k", MaxBitrate: "450k", BufferSize: "600k", AudioBitrate: "64k"},
	{Name: "360p", Width: 640, Height: 360, VideoBitrate: "800k", MaxBitrate: "900k", BufferSize: "1200k", AudioBitrate: "96k"},
	{Name: "480p", Width: 854, Height: 480, VideoBitrate: "1500k", MaxBitrate: "1650k", BufferSize: "2100k", AudioBitrate: "128k"},
	{Name: "720p", Width: 1280, Height: 720, VideoBitrate: "3000k", MaxBitrate: "3300k", BufferSize: "4200k", AudioBitrate: "128k"},
	{Name: "1080p", Width: 1920, Height: 1080, VideoBitrate: "5000k", MaxBitrate: "5500k", BufferSize: "7500k", AudioBitrate: "192k"},
}

// DefaultTable returns a copy of the standard rendition table.
func DefaultTable() []models.Profile {
	table := make([]models.Profile, len(defaultTable))
	copy(table, defaultTable)
	return table
}

// tableFile is the on-disk shape of a profile table.
type tableFile struct {
	Profiles []models.Profile `toml:"profile"`
}

// LoadTable reads a TOML profile table:
//
//	[[profile]]
//	name = "360p"
//	width = 640
//	height = 360
//	video_bitrate = "800k"
//	max_bitrate = "900k"
//	buffer_size = "1200k"
//	audio_bitrate = "96k"
//
// The result is sorted by ascending resolution.
func LoadTable(path string) ([]models.Profile, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open profile table: %w", err)
	}
	defer file.Close()

	var tf tableFile
	if err := toml.NewDecoder(file).Decode(&tf); err != nil {
		return nil, fmt.Errorf("parse profile table: %w", err)
	}

	if err := ValidateTable(tf.Profiles); err != nil {
		return nil, err
	}

	SortAscending(tf.Profiles)
	return tf.Profiles, nil
}

// validName matches names usable as an HLS variant name and a directory name.
var validName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// ValidateTable checks that every profile is complete and names are unique
// and path-safe.
func ValidateTable(table []models.Profile) error {
	if len(table) == 0 {
		return fmt.Errorf("%w: profile table is empty", models.ErrInvalidConfig)
	}

	var errs []string
	seen := make(map[string]bool, len(table))
	for i, p := range table {
		switch {
		case p.Name == "":
			errs = append(errs, fmt.Sprintf("profile %d: name is required", i))
		case !validName.MatchString(p.Name):
			errs = append(errs, fmt.Sprintf("profile %q: name may only contain letters, digits, '.', '_' and '-'", p.Name))
		case seen[p.Name]:
			errs = append(errs, fmt.Sprintf("profile %s: duplicate name", p.Name))
		}
		seen[p.Name] = true

		if p.Width <= 0 || p.Height <= 0 {
			errs = append(errs, fmt.Sprintf("profile %s: width and height must be positive", p.Name))
		}
		if p.VideoBitrate == "" || p.MaxBitrate == "" || p.BufferSize == "" || p.AudioBitrate == "" {
			errs = append(errs, fmt.Sprintf("profile %s: all bitrates are required", p.Name))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", models.ErrInvalidConfig, strings.Join(errs, "; "))
	}
	return nil
}

// SortAscending orders profiles by pixel count, keeping input order for ties.
func SortAscending(table []models.Profile) {
	sort.SliceStable(table, func(i, j int) bool {
		return table[i].Width*table[i].Height < table[j].Width*table[j].Height
	})
}

// Subset returns the profiles of table named in names, preserving table order.
// An empty names list returns the whole table.
func Subset(table []models.Profile, names []string) ([]models.Profile, error) {
	if len(names) == 0 {
		return table, nil
	}

	wanted := make(map[string]bool, len(names))
	for _, name := range names {
		if GetProfileByName(table, name) == nil {
			return nil, fmt.Errorf("%w: %s", models.ErrUnknownProfile, name)
		}
		wanted[name] = true
	}

	result := make([]models.Profile, 0, len(wanted))
	for _, p := range table {
		if wanted[p.Name] {
			result = append(result, p)
		}
	}
	return result, nil
}

// GetProfileByName returns the profile matching the given name, or nil if not found.
func GetProfileByName(table []models.Profile, name string) *models.Profile {
	for i := range table {
		if table[i].Name == name {
			return &table[i]
		}
	}
	return nil
}

// Names returns the profile names in order.
func Names(profiles []models.Profile) []string {
	names := make([]string, len(profiles))
	for i, p := range profiles {
		names[i] = p.Name
	}
	return names
}
