package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nvr-ai/go-par/config"
	"github.com/nvr-ai/go-par/images"
	"github.com/nvr-ai/go-par/inference"
)

func resetFlags(t *testing.T) {
	t.Helper()
	saved := []*string{&configPath, &backend, &modelPath, &weights, &imdbPath, &imageDir, &readerName, &resizer}
	values := make([]string, len(saved))
	for i, p := range saved {
		values[i] = *p
	}
	logger = zap.NewNop()
	t.Cleanup(func() {
		for i, p := range saved {
			*p = values[i]
		}
	})
}

func TestNewLogger(t *testing.T) {
	for _, tty := range []bool{true, false} {
		l, err := newLogger(true, tty)
		require.NoError(t, err)
		assert.True(t, l.Core().Enabled(zap.DebugLevel))
	}

	l, err := newLogger(false, false)
	require.NoError(t, err)
	assert.False(t, l.Core().Enabled(zap.DebugLevel))
}

func TestImageReader(t *testing.T) {
	for _, name := range []string{"", "go", "opencv", "GoCV"} {
		r, err := imageReader(name)
		require.NoError(t, err, name)
		assert.NotNil(t, r)
	}

	_, err := imageReader("vips")
	assert.Error(t, err)
}

func TestOpenDatabase(t *testing.T) {
	resetFlags(t)
	cfg := config.Default()
	cfg.Attributes.Count = 2
	cfg.Attributes.Groups = nil

	imdbPath, imageDir = "", ""
	_, err := openDatabase(cfg)
	assert.Error(t, err)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.jpg"), []byte("x"), 0o644))
	imageDir = dir
	db, err := openDatabase(cfg)
	require.NoError(t, err)
	assert.Equal(t, []string{"attr_0", "attr_1"}, db.Attributes())

	manifest := filepath.Join(dir, "rap.yaml")
	require.NoError(t, os.WriteFile(manifest, []byte("attributes: [a, b, c]\nimages:\n  - path: a.jpg\n    labels: [1, 0, 0]\n"), 0o644))
	imdbPath = manifest
	_, err = openDatabase(cfg)
	assert.Error(t, err, "attribute count mismatch")

	cfg.Attributes.Count = 3
	db, err = openDatabase(cfg)
	require.NoError(t, err)
	assert.True(t, db.Labeled())
}

func TestNewNetworkGraphBackend(t *testing.T) {
	resetFlags(t)
	cfg := config.Default()
	cfg.Attributes.Count = 2
	cfg.Attributes.Groups = nil

	backend = "graph"
	weights = ""
	_, _, err := newNetwork(cfg)
	assert.Error(t, err)

	weights = filepath.Join(t.TempDir(), "head.yaml")
	require.NoError(t, os.WriteFile(weights, []byte("weights:\n  - [1, 0]\n  - [0, 1]\n  - [0, 0]\nbias: [0, 0]\n"), 0o644))
	net, model, err := newNetwork(cfg)
	require.NoError(t, err)
	assert.Equal(t, weights, model)
	require.NoError(t, net.Close())

	cfg.Attributes.Count = 3
	_, _, err = newNetwork(cfg)
	assert.Error(t, err)

	backend = "tensorrt"
	_, _, err = newNetwork(cfg)
	assert.Error(t, err)

	backend = "onnx"
	modelPath = ""
	_, _, err = newNetwork(cfg)
	assert.Error(t, err)
}

func TestRescaler(t *testing.T) {
	for _, name := range []string{"", "go", "opencv"} {
		fn, err := rescaler(name)
		require.NoError(t, err)
		assert.NotNil(t, fn)
	}

	_, err := rescaler("lanczos")
	assert.Error(t, err)
}

type closingNetwork struct {
	closed bool
}

func (n *closingNetwork) Forward(context.Context, *images.Blob) (inference.Outputs, error) {
	return nil, nil
}

func (n *closingNetwork) Close() error {
	n.closed = true
	return nil
}

func TestReleaseNetwork(t *testing.T) {
	resetFlags(t)

	for _, b := range []string{"graph", "onnx"} {
		backend = b
		net := &closingNetwork{}
		releaseNetwork(net)
		assert.True(t, net.closed, b)
	}
}

type fixedRecognizer []uint8

func (f fixedRecognizer) Recognize(context.Context, *images.Image) ([]uint8, error) {
	return f, nil
}

func TestRecognizeImagesPrintsPositiveNames(t *testing.T) {
	resetFlags(t)

	var out bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&out)

	reader := func(string) (*images.Image, error) { return images.NewImage(2, 2), nil }
	err := recognizeImages(context.Background(), cmd, fixedRecognizer{1, 0, 1}, reader,
		[]string{"female", "young", "backpack"}, []string{"a.jpg", "b.jpg"})
	require.NoError(t, err)

	assert.Equal(t, "a.jpg: female, backpack\nb.jpg: female, backpack\n", out.String())
}
