// Package tester - Runs a recogniser over the test partition of an image database
// and reports its accuracy.
package tester

import (
	"context"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nvr-ai/go-par/attributes"
	"github.com/nvr-ai/go-par/evaluation"
	"github.com/nvr-ai/go-par/images"
	"github.com/nvr-ai/go-par/imdb"
	"github.com/nvr-ai/go-par/profiler"
	"github.com/nvr-ai/go-par/store"
)

// Timer names recorded during a run.
const (
	TimerRead      = "im_read"
	TimerRecognize = "recognize_attr"
)

// DefaultProgressEvery is the logging period, in images.
const DefaultProgressEvery = 100

// DefaultPrefetch is the number of decoded images that may wait for recognition.
const DefaultPrefetch = 2

// VisDir is the subdirectory of the output directory that receives annotated images.
const VisDir = "vis"

// AttributeRecognizer predicts the binary attributes of one image.
type AttributeRecognizer interface {
	Recognize(ctx context.Context, img *images.Image) ([]uint8, error)
}

// ResultStore records a run's predictions as they are produced.
type ResultStore interface {
	BeginRun(ctx context.Context, run store.Run) (int64, error)
	SavePrediction(ctx context.Context, runID int64, pred attributes.Prediction) error
	FinishRun(ctx context.Context, runID int64, mA float32) error
}

// Options control a test run.
type Options struct {
	// OutputDir receives attributes.json, report.json and the vis directory.
	OutputDir string
	// Vis writes an annotated copy of every test image.
	Vis bool
	// ProgressEvery is the logging period in images; DefaultProgressEvery when zero.
	ProgressEvery int
	// Reader decodes images; images.Read when nil.
	Reader images.Reader
	// Prefetch bounds the decoded images waiting for recognition; DefaultPrefetch when zero.
	Prefetch int
	// Store optionally records the run.
	Store ResultStore
	// Run carries the metadata recorded with the run.
	Run store.Run
	// Timers collects stage timings; a fresh registry when nil.
	Timers *profiler.Registry
	// Logger receives progress; zap.NewNop when nil.
	Logger *zap.Logger
}

func (o *Options) applyDefaults() {
	if o.ProgressEvery <= 0 {
		o.ProgressEvery = DefaultProgressEvery
	}
	if o.Reader == nil {
		o.Reader = images.Read
	}
	if o.Prefetch <= 0 {
		o.Prefetch = DefaultPrefetch
	}
	if o.Timers == nil {
		o.Timers = profiler.NewRegistry()
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
}

type loaded struct {
	index int
	path  string
	img   *images.Image
}

// Result is the outcome of a test run.
type Result struct {
	// Predictions are in test partition order.
	Predictions []attributes.Prediction
	// AttributesPath is the written attributes.json.
	AttributesPath string
	// Report is nil for unlabelled databases.
	Report *evaluation.Report
	// ReportPath is empty for unlabelled databases.
	ReportPath string
	// RunID is the store run, zero without a store.
	RunID int64
	// Timings are the stage timer snapshots.
	Timings []profiler.Stats
}

// TestNet recognises every test image of db, saves the predictions and, when db is
// labelled, evaluates them.
//
// Arguments:
//   - ctx: Cancels the run between images.
//   - rec: The recogniser.
//   - db: The image database.
//   - opts: Output and logging options.
//
// Returns:
//   - *Result: The predictions and, for labelled databases, the report.
//   - error: An error if an image cannot be processed, results cannot be saved, or ctx is done.
func TestNet(ctx context.Context, rec AttributeRecognizer, db imdb.Database, opts Options) (*Result, error) {
	opts.applyDefaults()
	logger := opts.Logger.With(zap.String("imdb", db.Name()))

	indices := db.TestIndices()
	total := len(indices)

	readTimer := opts.Timers.Get(TimerRead)
	recognizeTimer := opts.Timers.Get(TimerRecognize)

	res := &Result{Predictions: make([]attributes.Prediction, 0, total)}

	if opts.Store != nil {
		run := opts.Run
		run.Database = db.Name()
		id, err := opts.Store.BeginRun(ctx, run)
		if err != nil {
			return nil, fmt.Errorf("failed to begin run: %w", err)
		}
		res.RunID = id
	}

	names := db.Attributes()
	logger.Info("Testing network", zap.Int("images", total), zap.String("output_dir", opts.OutputDir))

	g, gctx := errgroup.WithContext(ctx)
	decoded := make(chan loaded, opts.Prefetch)

	// One reader keeps decoding ahead of the recogniser, so order is preserved.
	g.Go(func() error {
		defer close(decoded)
		for k, i := range indices {
			if err := gctx.Err(); err != nil {
				return fmt.Errorf("test run stopped after %d/%d images: %w", k, total, err)
			}

			path := db.ImagePath(i)
			stop := readTimer.Start()
			img, err := opts.Reader(path)
			stop()
			if err != nil {
				return fmt.Errorf("failed to read image %d: %w", i, err)
			}

			select {
			case decoded <- loaded{index: i, path: path, img: img}:
			case <-gctx.Done():
				return fmt.Errorf("test run stopped after %d/%d images: %w", k, total, gctx.Err())
			}
		}
		return nil
	})

	g.Go(func() error {
		k := 0
		for item := range decoded {
			if err := gctx.Err(); err != nil {
				return fmt.Errorf("test run stopped after %d/%d images: %w", k, total, err)
			}

			recognizeTimer.Tic()
			attrs, err := rec.Recognize(gctx, item.img)
			elapsed := recognizeTimer.Toc()
			if err != nil {
				return fmt.Errorf("failed to recognise image %s: %w", item.path, err)
			}

			pred := attributes.Prediction{
				Index:      item.index,
				Path:       item.path,
				Attributes: attrs,
				Duration:   elapsed,
			}
			res.Predictions = append(res.Predictions, pred)

			if opts.Store != nil {
				if err := opts.Store.SavePrediction(gctx, res.RunID, pred); err != nil {
					return err
				}
			}

			if opts.Vis {
				if err := visualize(opts.OutputDir, item.img, pred, names); err != nil {
					return err
				}
			}

			k++
			if k%opts.ProgressEvery == 0 {
				logger.Info(fmt.Sprintf("recognize_attr: %d/%d %.3fs", k, total, recognizeTimer.AverageTime().Seconds()),
					zap.Duration("avg", recognizeTimer.AverageTime()))
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	path, err := store.WriteAttributes(opts.OutputDir, res.Predictions)
	if err != nil {
		return nil, err
	}
	res.AttributesPath = path
	logger.Info("Saved attributes", zap.String("path", path))

	mA := float32(-1)
	if db.Labeled() {
		if err := evaluate(db, res); err != nil {
			return nil, err
		}
		if res.ReportPath, err = res.Report.WriteJSON(opts.OutputDir); err != nil {
			return nil, err
		}
		mA = res.Report.MA
		logger.Info("Evaluated attributes",
			zap.Float32("mA", res.Report.MA),
			zap.Float32("instance_accuracy", res.Report.Instance.Accuracy),
			zap.Float32("f1", res.Report.Instance.F1),
			zap.String("report", res.ReportPath))
		logger.Debug("Per-attribute accuracy\n" + res.Report.Summary())
	}

	if opts.Store != nil {
		if err := opts.Store.FinishRun(ctx, res.RunID, mA); err != nil {
			return nil, err
		}
	}

	res.Timings = opts.Timers.Snapshot()
	mem := profiler.ReadMemory()
	for _, s := range res.Timings {
		logger.Debug("Timing", zap.Stringer("timer", s))
	}
	logger.Debug("Memory", zap.String("alloc", profiler.FormatBytes(mem.Alloc)), zap.Uint32("gc_cycles", mem.NumGC))

	return res, nil
}

func evaluate(db imdb.Database, res *Result) error {
	labels, err := imdb.TestLabels(db)
	if err != nil {
		return err
	}

	preds := make([][]uint8, len(res.Predictions))
	for k, p := range res.Predictions {
		preds[k] = p.Attributes
	}

	report, err := evaluation.EvaluateMA(preds, labels, db.Attributes())
	if err != nil {
		return fmt.Errorf("failed to evaluate attributes: %w", err)
	}
	report.Database = db.Name()
	res.Report = report
	return nil
}

func visualize(outputDir string, img *images.Image, pred attributes.Prediction, names []string) error {
	var labels []string
	for _, j := range pred.Positive() {
		if j < len(names) {
			labels = append(labels, names[j])
		} else {
			labels = append(labels, fmt.Sprintf("attr_%d", j))
		}
	}

	path := filepath.Join(outputDir, VisDir, fmt.Sprintf("%06d.png", pred.Index))
	if err := images.SavePNG(path, images.Annotate(img, labels)); err != nil {
		return fmt.Errorf("failed to save visualisation: %w", err)
	}
	return nil
}
