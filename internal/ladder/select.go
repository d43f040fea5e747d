package ladder

import "github.com/amillerrr/abr-pipeline/pkg/models"

// Select returns the rungs of table that do not upscale a source of the given
// dimensions, in table order. When no rung fits, the ladder is the single
// profile with the smallest width.
func Select(sourceWidth, sourceHeight int, table []models.Profile) []models.Profile {
	selected := make([]models.Profile, 0, len(table))
	for _, p := range table {
		if p.Width <= sourceWidth && p.Height <= sourceHeight {
			selected = append(selected, p)
		}
	}

	if len(selected) > 0 || len(table) == 0 {
		return selected
	}

	smallest := table[0]
	for _, p := range table[1:] {
		if p.Width < smallest.Width {
			smallest = p
		}
	}
	return []models.Profile{smallest}
}

// Lowest returns the lowest-resolution rung of a ladder.
func Lowest(ladder []models.Profile) (models.Profile, bool) {
	if len(ladder) == 0 {
		return models.Profile{}, false
	}
	lowest := ladder[0]
	for _, p := range ladder[1:] {
		if p.Width*p.Height < lowest.Width*lowest.Height {
			lowest = p
		}
	}
	return lowest, true
}
