// Package evaluation - Label-based and instance-based accuracy of attribute predictions.
package evaluation

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/chewxy/math32"
)

// ReportFile is the name of the file WriteJSON creates.
const ReportFile = "report.json"

// AttributeResult holds the counts and accuracies of one attribute.
type AttributeResult struct {
	Name string `json:"name"`
	// Positives and Negatives count the known ground-truth labels.
	Positives int `json:"positives"`
	Negatives int `json:"negatives"`
	// TruePositives and TrueNegatives count the correct predictions among them.
	TruePositives int `json:"true_positives"`
	TrueNegatives int `json:"true_negatives"`
	// PositiveAccuracy is TP/P, zero when there are no positives.
	PositiveAccuracy float32 `json:"positive_accuracy"`
	// NegativeAccuracy is TN/N, zero when there are no negatives.
	NegativeAccuracy float32 `json:"negative_accuracy"`
	// Accuracy is the mean of the available terms above.
	Accuracy float32 `json:"accuracy"`
	// Scored is false when the attribute has no known labels at all.
	Scored bool `json:"scored"`
}

// InstanceResult holds the example-based metrics averaged over images.
type InstanceResult struct {
	Accuracy  float32 `json:"accuracy"`
	Precision float32 `json:"precision"`
	Recall    float32 `json:"recall"`
	F1        float32 `json:"f1"`
}

// Report is the outcome of an evaluation.
type Report struct {
	Database   string            `json:"database,omitempty"`
	Images     int               `json:"images"`
	MA         float32           `json:"mA"`
	Attributes []AttributeResult `json:"attributes"`
	Instance   InstanceResult    `json:"instance"`
}

// EvaluateMA scores binary predictions against ground truth.
//
// Labels of -1 are unknown and ignored. An attribute without positives (or without
// negatives) is scored on the remaining term alone, and an attribute with no known
// labels is left out of the mean.
//
// Arguments:
//   - preds: One 0/1 vector per image.
//   - labels: One 0/1/-1 vector per image, aligned with preds.
//   - names: The attribute names; may be nil.
//
// Returns:
//   - *Report: The per-attribute and instance metrics.
//   - error: An error if the inputs are not aligned.
func EvaluateMA(preds [][]uint8, labels [][]int8, names []string) (*Report, error) {
	if len(preds) != len(labels) {
		return nil, fmt.Errorf("have %d predictions for %d label vectors", len(preds), len(labels))
	}
	if len(preds) == 0 {
		return nil, fmt.Errorf("nothing to evaluate")
	}

	count := len(labels[0])
	if names != nil && len(names) != count {
		return nil, fmt.Errorf("have %d attribute names for %d attributes", len(names), count)
	}
	for i := range preds {
		if len(preds[i]) != count || len(labels[i]) != count {
			return nil, fmt.Errorf("image %d: prediction has %d values, labels %d, want %d",
				i, len(preds[i]), len(labels[i]), count)
		}
	}

	report := &Report{
		Images:     len(preds),
		Attributes: make([]AttributeResult, count),
	}

	for j := range report.Attributes {
		r := &report.Attributes[j]
		if names != nil {
			r.Name = names[j]
		}
		for i := range preds {
			switch labels[i][j] {
			case 1:
				r.Positives++
				if preds[i][j] == 1 {
					r.TruePositives++
				}
			case 0:
				r.Negatives++
				if preds[i][j] == 0 {
					r.TrueNegatives++
				}
			}
		}
		r.score()
	}

	var sum float32
	var scored int
	for _, r := range report.Attributes {
		if r.Scored {
			sum += r.Accuracy
			scored++
		}
	}
	if scored > 0 {
		report.MA = sum / float32(scored)
	}

	report.Instance = instanceMetrics(preds, labels)
	return report, nil
}

func (r *AttributeResult) score() {
	var terms float32
	if r.Positives > 0 {
		r.PositiveAccuracy = float32(r.TruePositives) / float32(r.Positives)
		r.Accuracy += r.PositiveAccuracy
		terms++
	}
	if r.Negatives > 0 {
		r.NegativeAccuracy = float32(r.TrueNegatives) / float32(r.Negatives)
		r.Accuracy += r.NegativeAccuracy
		terms++
	}
	if terms > 0 {
		r.Accuracy /= terms
		r.Scored = true
	}
}

// instanceMetrics computes accuracy |Y∩Ŷ|/|Y∪Ŷ|, precision and recall per image over
// the known labels, averages them, and derives F1 from the averaged precision and recall.
// Images with an empty union count as fully correct.
func instanceMetrics(preds [][]uint8, labels [][]int8) InstanceResult {
	var acc, prec, rec float32
	n := float32(len(preds))

	for i := range preds {
		var inter, union, predicted, actual float32
		for j, l := range labels[i] {
			if l != 0 && l != 1 {
				continue
			}
			p := preds[i][j] == 1
			y := l == 1
			if p {
				predicted++
			}
			if y {
				actual++
			}
			if p && y {
				inter++
			}
			if p || y {
				union++
			}
		}

		if union == 0 {
			acc++
		} else {
			acc += inter / union
		}
		if predicted > 0 {
			prec += inter / predicted
		}
		if actual > 0 {
			rec += inter / actual
		}
	}

	res := InstanceResult{
		Accuracy:  acc / n,
		Precision: prec / n,
		Recall:    rec / n,
	}
	if s := res.Precision + res.Recall; s > 0 && !math32.IsNaN(s) {
		res.F1 = 2 * res.Precision * res.Recall / s
	}
	return res
}

// WriteJSON writes the report to <dir>/report.json.
//
// Arguments:
//   - dir: The output directory, created if missing.
//
// Returns:
//   - string: The path written.
//   - error: An error if the file cannot be written.
func (r *Report) WriteJSON(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", dir, err)
	}

	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode report: %w", err)
	}

	path := filepath.Join(dir, ReportFile)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write report: %w", err)
	}
	return path, nil
}

// Summary renders the report as an aligned text table.
func (r *Report) Summary() string {
	var b strings.Builder

	w := tabwriter.NewWriter(&b, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(w, "attribute\tpos\tneg\tpos acc\tneg acc\tacc\t")
	for j, a := range r.Attributes {
		name := a.Name
		if name == "" {
			name = fmt.Sprintf("%d", j)
		}
		if !a.Scored {
			fmt.Fprintf(w, "%s\t%d\t%d\t-\t-\t-\t\n", name, a.Positives, a.Negatives)
			continue
		}
		fmt.Fprintf(w, "%s\t%d\t%d\t%.4f\t%.4f\t%.4f\t\n",
			name, a.Positives, a.Negatives, a.PositiveAccuracy, a.NegativeAccuracy, a.Accuracy)
	}
	w.Flush()

	fmt.Fprintf(&b, "mA: %.4f\n", r.MA)
	fmt.Fprintf(&b, "instance accuracy: %.4f precision: %.4f recall: %.4f F1: %.4f\n",
		r.Instance.Accuracy, r.Instance.Precision, r.Instance.Recall, r.Instance.F1)
	return b.String()
}
