// Package attributes - Turning network scores into binary pedestrian attributes.
package attributes

import (
	"github.com/chewxy/math32"

	"github.com/nvr-ai/go-par/config"
)

// NormalizeGroup keeps only the strongest attribute of a mutually exclusive group:
// the first maximum becomes 1 and every other member 0. NaN scores never win, so a
// group of one attribute is set to 1 unless its score is NaN.
//
// Arguments:
//   - pred: The scores, modified in place.
//   - g: The group to normalise.
func NormalizeGroup(pred []float32, g config.Group) {
	if g.Len() <= 0 {
		return
	}

	best := -1
	bestScore := math32.Inf(-1)
	for i := g.Start; i < g.End; i++ {
		if math32.IsNaN(pred[i]) {
			continue
		}
		if best < 0 || pred[i] > bestScore {
			best = i
			bestScore = pred[i]
		}
	}

	for i := g.Start; i < g.End; i++ {
		if i == best {
			pred[i] = 1
		} else {
			pred[i] = 0
		}
	}
}

// NormalizeGroups normalises every group in order. With thresholdSingletons set,
// groups of one attribute are skipped and left to the threshold.
func NormalizeGroups(pred []float32, groups []config.Group, thresholdSingletons bool) {
	for _, g := range groups {
		if thresholdSingletons && g.Len() == 1 {
			continue
		}
		NormalizeGroup(pred, g)
	}
}

// Binarize maps scores below threshold to 0 and the rest to 1.
//
// Arguments:
//   - pred: The scores.
//   - threshold: The decision threshold.
//
// Returns:
//   - []uint8: One 0/1 label per score.
func Binarize(pred []float32, threshold float32) []uint8 {
	labels := make([]uint8, len(pred))
	for i, p := range pred {
		if p < threshold || math32.IsNaN(p) {
			labels[i] = 0
		} else {
			labels[i] = 1
		}
	}
	return labels
}
