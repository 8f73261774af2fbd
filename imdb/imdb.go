// Package imdb - Pedestrian image databases with optional attribute ground truth.
package imdb

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrUnlabeled is returned when ground truth is requested from a database without labels.
var ErrUnlabeled = errors.New("database has no labels")

// Label values. Unknown entries are ignored when scoring.
const (
	Negative int8 = 0
	Positive int8 = 1
	Unknown  int8 = -1
)

// Database is a read-only collection of pedestrian images.
type Database interface {
	// Name identifies the database in logs and result files.
	Name() string
	// TestIndices returns the image indices of the test partition, in evaluation order.
	TestIndices() []int
	// ImagePath returns the file of image i.
	ImagePath(i int) string
	// Attributes returns the attribute names in network output order.
	Attributes() []string
	// Labels returns the ground truth of image i.
	Labels(i int) ([]int8, error)
	// Labeled reports whether Labels can succeed.
	Labeled() bool
}

// TestLabels collects the ground truth of every test image in evaluation order.
//
// Arguments:
//   - db: The database.
//
// Returns:
//   - [][]int8: One label vector per test image.
//   - error: ErrUnlabeled or a lookup error.
func TestLabels(db Database) ([][]int8, error) {
	if !db.Labeled() {
		return nil, ErrUnlabeled
	}

	idx := db.TestIndices()
	labels := make([][]int8, len(idx))
	for k, i := range idx {
		l, err := db.Labels(i)
		if err != nil {
			return nil, err
		}
		labels[k] = l
	}
	return labels, nil
}

// IndexNames returns placeholder attribute names "attr_0" .. "attr_{n-1}" for
// databases that do not carry names.
func IndexNames(n int) []string {
	names := make([]string, n)
	for i := range names {
		names[i] = fmt.Sprintf("attr_%d", i)
	}
	return names
}
