package attributes

import (
	"context"
	"errors"
	"testing"

	"github.com/chewxy/math32"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/go-par/config"
	"github.com/nvr-ai/go-par/images"
	"github.com/nvr-ai/go-par/inference"
)

// mockNetwork returns a fixed per-level output and records the blobs it saw.
type mockNetwork struct {
	output inference.Output
	name   string
	err    error
	blobs  []*images.Blob
}

func (m *mockNetwork) Forward(_ context.Context, blob *images.Blob) (inference.Outputs, error) {
	m.blobs = append(m.blobs, blob)
	if m.err != nil {
		return nil, m.err
	}
	return inference.Outputs{m.name: m.output}, nil
}

func (m *mockNetwork) Close() error { return nil }

func TestNormalizeGroup(t *testing.T) {
	tests := []struct {
		name  string
		pred  []float32
		group config.Group
		want  []float32
	}{
		{
			name:  "single winner",
			pred:  []float32{0.9, 0.1, 0.7, 0.2, 0.4},
			group: config.Group{Start: 1, End: 4},
			want:  []float32{0.9, 0, 1, 0, 0.4},
		},
		{
			name:  "first maximum wins ties",
			pred:  []float32{0.3, 0.3, 0.1},
			group: config.Group{Start: 0, End: 3},
			want:  []float32{1, 0, 0},
		},
		{
			name:  "low scores still pick a winner",
			pred:  []float32{0.01, 0.02},
			group: config.Group{Start: 0, End: 2},
			want:  []float32{0, 1},
		},
		{
			name:  "negative logits",
			pred:  []float32{-3, -1, -2},
			group: config.Group{Start: 0, End: 3},
			want:  []float32{0, 1, 0},
		},
		{
			name:  "singleton always wins",
			pred:  []float32{0.2, 0.8},
			group: config.Group{Start: 0, End: 1},
			want:  []float32{1, 0.8},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			NormalizeGroup(tt.pred, tt.group)
			if diff := cmp.Diff(tt.want, tt.pred); diff != "" {
				t.Errorf("NormalizeGroup mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestNormalizeGroupSkipsNaN(t *testing.T) {
	pred := []float32{math32.NaN(), 0.4, 0.6}
	NormalizeGroup(pred, config.Group{Start: 0, End: 3})
	assert.Equal(t, []float32{0, 0, 1}, pred)
}

func TestNormalizeGroupsSingletons(t *testing.T) {
	groups := []config.Group{{Start: 0, End: 1}}

	pred := []float32{0.2, 0.8}
	NormalizeGroups(pred, groups, false)
	assert.Equal(t, []uint8{1, 1}, Binarize(pred, 0.5))

	pred = []float32{0.2, 0.8}
	NormalizeGroups(pred, groups, true)
	assert.Equal(t, []uint8{0, 1}, Binarize(pred, 0.5))

	pred = []float32{math32.NaN(), 0.8}
	NormalizeGroups(pred, groups, false)
	assert.Equal(t, []uint8{0, 1}, Binarize(pred, 0.5))
}

func TestBinarize(t *testing.T) {
	got := Binarize([]float32{0, 0.49, 0.5, 0.51, 1, math32.NaN()}, 0.5)
	assert.Equal(t, []uint8{0, 0, 1, 1, 1, 0}, got)
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Test.Scales = []int{8, 16}
	cfg.Test.MaxSize = 64
	cfg.Attributes.Count = 6
	cfg.Attributes.Groups = []config.Group{{Start: 0, End: 1}, {Start: 1, End: 4}}
	return cfg
}

func TestRecognizeAveragesLevelsThenNormalises(t *testing.T) {
	net := &mockNetwork{
		name: "pred_total",
		output: inference.Output{
			Shape: []int64{2, 6},
			Data: []float32{
				0.7, 0.2, 0.5, 0.1, 0.9, 0.1,
				0.5, 0.6, 0.3, 0.1, 0.3, 0.5,
			},
		},
	}

	r, err := NewRecognizer(testConfig(), net)
	require.NoError(t, err)

	img := images.NewImage(8, 16)
	scores, err := r.Scores(context.Background(), img)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float32{0.6, 0.4, 0.4, 0.1, 0.6, 0.3}, scores, 1e-6)

	got, err := r.Recognize(context.Background(), img)
	require.NoError(t, err)

	// Group [1,4) ties at 0.4: the first member wins. 4 and 5 are thresholded.
	if diff := cmp.Diff([]uint8{1, 1, 0, 0, 1, 0}, got); diff != "" {
		t.Errorf("Recognize mismatch (-want +got):\n%s", diff)
	}

	require.Len(t, net.blobs, 2)
	assert.Equal(t, [4]int{2, 3, 32, 16}, net.blobs[0].Shape)
}

func TestRecognizeSingletonGroup(t *testing.T) {
	net := &mockNetwork{
		name:   "pred_total",
		output: inference.Output{Shape: []int64{1, 6}, Data: []float32{0.1, 0.7, 0.2, 0.1, 0.3, 0.6}},
	}
	img := images.NewImage(8, 16)

	r, err := NewRecognizer(testConfig(), net)
	require.NoError(t, err)
	got, err := r.Recognize(context.Background(), img)
	require.NoError(t, err)
	assert.Equal(t, []uint8{1, 1, 0, 0, 0, 1}, got)

	cfg := testConfig()
	cfg.Attributes.ThresholdSingletons = true
	r, err = NewRecognizer(cfg, net)
	require.NoError(t, err)
	got, err = r.Recognize(context.Background(), img)
	require.NoError(t, err)
	assert.Equal(t, []uint8{0, 1, 0, 0, 0, 1}, got)
}

func TestRecognizeUsesRescaler(t *testing.T) {
	net := &mockNetwork{name: "pred_total", output: inference.Output{Shape: []int64{1, 6}, Data: make([]float32, 6)}}
	r, err := NewRecognizer(testConfig(), net)
	require.NoError(t, err)

	boom := errors.New("boom")
	calls := 0
	r.SetRescaler(func(*images.Image, float64, [3]float32) (images.Plane, error) {
		calls++
		return images.Plane{}, boom
	})

	_, err = r.Recognize(context.Background(), images.NewImage(8, 16))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestRecognizeErrors(t *testing.T) {
	img := images.NewImage(4, 4)

	failing := &mockNetwork{name: "pred_total", err: errors.New("boom")}
	r, err := NewRecognizer(testConfig(), failing)
	require.NoError(t, err)
	_, err = r.Recognize(context.Background(), img)
	assert.Error(t, err)

	wrongName := &mockNetwork{name: "pred_3", output: inference.Output{Shape: []int64{1, 6}, Data: make([]float32, 6)}}
	r, err = NewRecognizer(testConfig(), wrongName)
	require.NoError(t, err)
	_, err = r.Recognize(context.Background(), img)
	assert.ErrorIs(t, err, inference.ErrNoOutput)

	wrongCount := &mockNetwork{name: "pred_total", output: inference.Output{Shape: []int64{1, 5}, Data: make([]float32, 5)}}
	r, err = NewRecognizer(testConfig(), wrongCount)
	require.NoError(t, err)
	_, err = r.Recognize(context.Background(), img)
	assert.ErrorIs(t, err, inference.ErrShape)

	_, err = r.Recognize(context.Background(), &images.Image{})
	assert.Error(t, err)
}

func TestNewRecognizerValidates(t *testing.T) {
	cfg := testConfig()
	cfg.Test.Scales = nil
	_, err := NewRecognizer(cfg, &mockNetwork{})
	assert.Error(t, err)

	_, err = NewRecognizer(testConfig(), nil)
	assert.Error(t, err)
}

func TestPredictionPositive(t *testing.T) {
	p := Prediction{Attributes: []uint8{0, 1, 1, 0, 1}}
	assert.Equal(t, []int{1, 2, 4}, p.Positive())
}
