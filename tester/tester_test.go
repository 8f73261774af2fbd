package tester

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/nvr-ai/go-par/attributes"
	"github.com/nvr-ai/go-par/config"
	"github.com/nvr-ai/go-par/images"
	"github.com/nvr-ai/go-par/imdb"
	"github.com/nvr-ai/go-par/inference"
	"github.com/nvr-ai/go-par/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// widthRecognizer predicts attribute w%3 for an image of width w.
type widthRecognizer struct {
	calls int
}

func (r *widthRecognizer) Recognize(_ context.Context, img *images.Image) ([]uint8, error) {
	r.calls++
	attrs := make([]uint8, 3)
	attrs[img.Width%3] = 1
	return attrs, nil
}

// sizeReader decodes "<w>.png" into a blank image w pixels wide.
func sizeReader(path string) (*images.Image, error) {
	var w int
	if _, err := fmt.Sscanf(filepath.Base(path), "%d.png", &w); err != nil {
		return nil, err
	}
	return images.NewImage(w, 4), nil
}

func testManifest(root string) *imdb.Manifest {
	return &imdb.Manifest{
		DBName: "rap_test",
		Root:   root,
		Names:  []string{"female", "young", "adult"},
		Images: []imdb.Entry{
			{Path: "3.png", Labels: []int8{1, 0, 0}},
			{Path: "4.png", Labels: []int8{0, 1, 0}},
			{Path: "5.png", Labels: []int8{0, 1, 0}},
			{Path: "6.png", Labels: []int8{1, 0, -1}},
			{Path: "7.png", Labels: []int8{0, 0, 1}},
		},
		Partitions: imdb.Partitions{Test: []int{0, 1, 2, 3, 4}},
	}
}

func TestTestNetLabelled(t *testing.T) {
	out := t.TempDir()
	core, logs := observer.New(zapcore.InfoLevel)

	rec := &widthRecognizer{}
	res, err := TestNet(context.Background(), rec, testManifest("/data"), Options{
		OutputDir:     out,
		ProgressEvery: 2,
		Reader:        sizeReader,
		Logger:        zap.New(core),
	})
	require.NoError(t, err)
	assert.Equal(t, 5, rec.calls)

	got := make([][]uint8, len(res.Predictions))
	for k, p := range res.Predictions {
		got[k] = p.Attributes
		assert.Equal(t, k, p.Index)
	}
	want := [][]uint8{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}, {1, 0, 0}, {0, 1, 0}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("predictions mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, filepath.Join("/data", "3.png"), res.Predictions[0].Path)

	saved, err := store.ReadAttributes(out)
	require.NoError(t, err)
	assert.Len(t, saved, 5)
	assert.Equal(t, filepath.Join(out, store.AttributesFile), res.AttributesPath)

	require.NotNil(t, res.Report)
	assert.FileExists(t, res.ReportPath)
	// female: 2/2 positives, 3/3 negatives; young: 1/2, 2/3; adult: 0/1, 2/3.
	assert.InDelta(t, (1.0+(0.5+2.0/3.0)/2+(0+2.0/3.0)/2)/3, res.Report.MA, 1e-6)

	var progress []string
	for _, entry := range logs.All() {
		if strings.HasPrefix(entry.Message, "recognize_attr:") {
			progress = append(progress, strings.Fields(entry.Message)[1])
		}
	}
	assert.Equal(t, []string{"2/5", "4/5"}, progress)

	names := make([]string, len(res.Timings))
	for i, s := range res.Timings {
		names[i] = s.Name
	}
	assert.Equal(t, []string{TimerRead, TimerRecognize}, names)
	assert.Equal(t, int64(5), res.Timings[1].Calls)
}

func TestTestNetUnlabelledWithVisAndStore(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"8.png", "9.png"} {
		require.NoError(t, images.SavePNG(filepath.Join(dir, name), images.NewImage(4, 4).NRGBA()))
	}
	db, err := imdb.LoadDirectory(dir, []string{"female", "young", "adult"})
	require.NoError(t, err)

	s, err := store.Open(filepath.Join(t.TempDir(), "results.db"))
	require.NoError(t, err)
	defer s.Close()

	out := filepath.Join(t.TempDir(), "out")
	res, err := TestNet(context.Background(), &widthRecognizer{}, db, Options{
		OutputDir: out,
		Vis:       true,
		Reader:    sizeReader,
		Store:     s,
		Run:       store.Run{Model: "head.yaml", Backend: "graph"},
	})
	require.NoError(t, err)

	assert.Nil(t, res.Report)
	assert.Empty(t, res.ReportPath)
	assert.NoFileExists(t, filepath.Join(out, "report.json"))
	assert.FileExists(t, filepath.Join(out, VisDir, "000000.png"))
	assert.FileExists(t, filepath.Join(out, VisDir, "000001.png"))

	run, err := s.GetRun(context.Background(), res.RunID)
	require.NoError(t, err)
	assert.Equal(t, filepath.Base(dir), run.Database)
	assert.Equal(t, "graph", run.Backend)
	assert.Equal(t, 2, run.Images)
	assert.True(t, run.Final)
	assert.Equal(t, float32(-1), run.MA)

	preds, err := s.Predictions(context.Background(), res.RunID)
	require.NoError(t, err)
	if diff := cmp.Diff(res.Predictions, preds); diff != "" {
		t.Errorf("stored predictions mismatch (-want +got):\n%s", diff)
	}
}

func TestTestNetWithRecognizer(t *testing.T) {
	cfg := config.Default()
	cfg.Test.Scales = []int{4}
	cfg.Test.MaxSize = 16
	cfg.Attributes.Count = 3
	cfg.Attributes.Groups = []config.Group{{Start: 0, End: 3}}

	// Three channels pooled to their means; attribute j follows channel j.
	head := &inference.HeadWeights{
		Weights: [][]float32{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}},
		Bias:    []float32{0, 0, 0},
	}
	net, err := inference.NewGraphNetwork(head, cfg.Attributes.OutputName)
	require.NoError(t, err)
	defer net.Close()

	rec, err := attributes.NewRecognizer(cfg, net)
	require.NoError(t, err)

	m := testManifest("/data")
	m.Images = m.Images[:1]
	m.Partitions.Test = []int{0}

	reader := func(string) (*images.Image, error) {
		img := images.NewImage(4, 4)
		// Red is far above its mean, so the third BGR channel wins.
		for y := 0; y < 4; y++ {
			for x := 0; x < 4; x++ {
				img.SetBGR(x, y, 0, 0, 255)
			}
		}
		return img, nil
	}

	res, err := TestNet(context.Background(), rec, m, Options{OutputDir: t.TempDir(), Reader: reader})
	require.NoError(t, err)
	assert.Equal(t, []uint8{0, 0, 1}, res.Predictions[0].Attributes)
}

func TestTestNetStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec := &widthRecognizer{}
	_, err := TestNet(ctx, rec, testManifest("/data"), Options{OutputDir: t.TempDir(), Reader: sizeReader})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, rec.calls)
}

func TestTestNetReadFailure(t *testing.T) {
	boom := errors.New("boom")
	out := t.TempDir()

	_, err := TestNet(context.Background(), &widthRecognizer{}, testManifest("/data"), Options{
		OutputDir: out,
		Reader:    func(string) (*images.Image, error) { return nil, boom },
	})
	assert.ErrorIs(t, err, boom)

	_, statErr := os.Stat(filepath.Join(out, store.AttributesFile))
	assert.True(t, os.IsNotExist(statErr))
}

type failingRecognizer struct{ err error }

func (f failingRecognizer) Recognize(context.Context, *images.Image) ([]uint8, error) {
	return nil, f.err
}

func TestTestNetRecognizeFailureStopsReader(t *testing.T) {
	boom := errors.New("boom")

	_, err := TestNet(context.Background(), failingRecognizer{boom}, testManifest("/data"), Options{
		OutputDir: t.TempDir(),
		Reader:    sizeReader,
		Prefetch:  1,
	})
	assert.ErrorIs(t, err, boom)
}
