package manifest

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/amillerrr/abr-pipeline/pkg/models"
)

// BitrateToBps parses an encoder bitrate such as "400k", "1.5M" or "128000".
// A trailing k or K multiplies by 1000 and M by 1,000,000.
func BitrateToBps(bitrate string) (int64, error) {
	s := strings.TrimSpace(bitrate)
	if s == "" {
		return 0, fmt.Errorf("empty bitrate")
	}

	multiplier := 1.0
	switch s[len(s)-1] {
	case 'k', 'K':
		multiplier = 1e3
		s = s[:len(s)-1]
	case 'M':
		multiplier = 1e6
		s = s[:len(s)-1]
	}

	value, err := strconv.ParseFloat(s, 64)
	if err != nil || value < 0 || math.IsInf(value, 0) || math.IsNaN(value) {
		return 0, fmt.Errorf("invalid bitrate %q", bitrate)
	}

	return int64(math.Round(value * multiplier)), nil
}

// Bandwidth returns the combined video and audio bitrate of a profile in bits per second.
func Bandwidth(p models.Profile) (int64, error) {
	video, err := BitrateToBps(p.VideoBitrate)
	if err != nil {
		return 0, fmt.Errorf("profile %s video: %w", p.Name, err)
	}
	audio, err := BitrateToBps(p.AudioBitrate)
	if err != nil {
		return 0, fmt.Errorf("profile %s audio: %w", p.Name, err)
	}
	return video + audio, nil
}
