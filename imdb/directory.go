package imdb

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// Extensions lists the image file extensions a Directory picks up.
var Extensions = []string{".jpg", ".jpeg", ".png", ".bmp"}

// Directory is an unlabelled database of every image file in one directory.
type Directory struct {
	dir   string
	names []string
	paths []string
}

// LoadDirectory lists the image files of dir, sorted by file name.
//
// Arguments:
//   - dir: Directory path containing image files.
//   - names: The attribute names to report.
//
// Returns:
//   - *Directory: The database.
//   - error: An error if the directory cannot be read or holds no images.
func LoadDirectory(dir string, names []string) (*Directory, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read image directory")
	}

	var paths []string
	for _, file := range files {
		if file.IsDir() {
			continue
		}
		if isImage(file.Name()) {
			paths = append(paths, filepath.Join(dir, file.Name()))
		}
	}
	if len(paths) == 0 {
		return nil, errors.Errorf("no images in %s", dir)
	}

	sort.Strings(paths)

	return &Directory{dir: dir, names: names, paths: paths}, nil
}

func isImage(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range Extensions {
		if ext == e {
			return true
		}
	}
	return false
}

// Name implements Database.
func (d *Directory) Name() string { return filepath.Base(d.dir) }

// TestIndices implements Database.
func (d *Directory) TestIndices() []int {
	idx := make([]int, len(d.paths))
	for i := range idx {
		idx[i] = i
	}
	return idx
}

// ImagePath implements Database.
func (d *Directory) ImagePath(i int) string { return d.paths[i] }

// Attributes implements Database.
func (d *Directory) Attributes() []string { return d.names }

// Labels implements Database.
func (d *Directory) Labels(int) ([]int8, error) { return nil, ErrUnlabeled }

// Labeled implements Database.
func (d *Directory) Labeled() bool { return false }
