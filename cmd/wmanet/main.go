// Command wmanet evaluates a pedestrian attribute network on an image database.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"

	"github.com/nvr-ai/go-par/attributes"
	"github.com/nvr-ai/go-par/config"
	"github.com/nvr-ai/go-par/images"
	"github.com/nvr-ai/go-par/images/cv"
	"github.com/nvr-ai/go-par/imdb"
	"github.com/nvr-ai/go-par/inference"
	"github.com/nvr-ai/go-par/inference/providers"
	"github.com/nvr-ai/go-par/store"
	"github.com/nvr-ai/go-par/tester"
)

var (
	// Global flags
	configPath string
	verbose    bool
	backend    string
	modelPath  string
	weights    string
	provider   string
	ortLibrary string
	readerName string
	resizer    string

	// test flags
	imdbPath  string
	imageDir  string
	outputDir string
	vis       bool
	resultsDB string
	prefetch  int

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "wmanet",
	Short: "Pedestrian attribute recognition evaluator",
	Long: `wmanet runs a pedestrian attribute network over an image pyramid of each
test image, keeps one attribute per exclusive group, thresholds the rest and
reports the mean accuracy (mA) against the database labels.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		logger, err = newLogger(verbose, term.IsTerminal(int(os.Stderr.Fd())))
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var testCmd = &cobra.Command{
	Use:   "test",
	Short: "Recognise every test image of a database and evaluate mA",
	Long: `Runs the network on the test partition of a manifest (--imdb) or on every
image of a directory (--dir), writes attributes.json to the output directory and,
for labelled databases, report.json with per-attribute and instance metrics.

Example:
  wmanet test --model wma.onnx --imdb rap.yaml --output-dir out/`,
	Args: cobra.NoArgs,
	RunE: runTest,
}

var recognizeCmd = &cobra.Command{
	Use:   "recognize [image...]",
	Short: "Print the attributes recognised in single images",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runRecognize,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configPath, "config", "c", "", "YAML settings overlaid on the defaults")
	pf.BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	pf.StringVar(&backend, "backend", "onnx", "Network backend: onnx or graph")
	pf.StringVar(&modelPath, "model", "", "ONNX model file (onnx backend)")
	pf.StringVar(&weights, "weights", "", "Head weights YAML (graph backend)")
	pf.StringVar(&provider, "provider", string(providers.CPUBackend), "ONNX Runtime execution provider")
	pf.StringVar(&ortLibrary, "ort-lib", "", "ONNX Runtime shared library")
	pf.StringVar(&readerName, "reader", "go", "Image decoder: go or opencv")
	pf.StringVar(&resizer, "resize", "go", "Pyramid resampler: go or opencv")
	pf.StringVar(&imdbPath, "imdb", "", "Database manifest YAML")

	tf := testCmd.Flags()
	tf.StringVar(&imageDir, "dir", "", "Directory of unlabelled images, used when --imdb is not set")
	tf.StringVarP(&outputDir, "output-dir", "o", "output", "Directory for attributes.json, report.json and vis/")
	tf.BoolVar(&vis, "vis", false, "Write annotated images")
	tf.StringVar(&resultsDB, "results-db", "", "SQLite database recording the run")
	tf.IntVar(&prefetch, "prefetch", tester.DefaultPrefetch, "Decoded images allowed to wait for recognition")

	rootCmd.AddCommand(testCmd, recognizeCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newLogger builds a production logger, with console encoding for terminals.
func newLogger(debug, tty bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if debug {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	if tty {
		cfg.Encoding = "console"
		cfg.EncoderConfig = zap.NewDevelopmentEncoderConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	return cfg.Build()
}

func loadConfig() (config.Config, error) {
	if configPath == "" {
		return config.Default(), nil
	}
	return config.Load(configPath)
}

// newNetwork opens the network selected by the backend flags.
func newNetwork(cfg config.Config) (inference.Network, string, error) {
	switch strings.ToLower(backend) {
	case "onnx":
		oc := inference.DefaultONNXConfig(modelPath)
		oc.Provider.Backend = providers.Backend(provider)
		oc.Provider.LibraryPath = ortLibrary
		net, err := inference.NewONNXNetwork(oc)
		if err != nil {
			return nil, "", err
		}
		return net, modelPath, nil
	case "graph":
		if weights == "" {
			return nil, "", fmt.Errorf("--weights is required for the graph backend")
		}
		w, err := inference.LoadHeadWeights(weights)
		if err != nil {
			return nil, "", err
		}
		if w.Attributes() != cfg.Attributes.Count {
			return nil, "", fmt.Errorf("head predicts %d attributes, settings expect %d", w.Attributes(), cfg.Attributes.Count)
		}
		net, err := inference.NewGraphNetwork(w, cfg.Attributes.OutputName)
		if err != nil {
			return nil, "", err
		}
		return net, weights, nil
	default:
		return nil, "", fmt.Errorf("unknown backend %q", backend)
	}
}

// releaseNetwork closes net and, for the onnx backend, the runtime environment.
func releaseNetwork(net inference.Network) {
	if err := net.Close(); err != nil {
		logger.Warn("Failed to close network", zap.Error(err))
	}
	if strings.EqualFold(backend, "onnx") {
		if err := providers.Shutdown(); err != nil {
			logger.Warn("Failed to shut down onnxruntime", zap.Error(err))
		}
	}
}

func rescaler(name string) (images.Rescaler, error) {
	switch strings.ToLower(name) {
	case "", "go":
		return images.RescalePlane, nil
	case "opencv", "gocv":
		return cv.Rescale, nil
	default:
		return nil, fmt.Errorf("unknown resampler %q", name)
	}
}

func imageReader(name string) (images.Reader, error) {
	switch strings.ToLower(name) {
	case "", "go":
		return images.Read, nil
	case "opencv", "gocv":
		return cv.Read, nil
	default:
		return nil, fmt.Errorf("unknown reader %q", name)
	}
}

// openDatabase prefers the manifest and falls back to an unlabelled directory.
func openDatabase(cfg config.Config) (imdb.Database, error) {
	switch {
	case imdbPath != "":
		m, err := imdb.LoadManifest(imdbPath)
		if err != nil {
			return nil, err
		}
		if len(m.Attributes()) != cfg.Attributes.Count {
			return nil, fmt.Errorf("database has %d attributes, settings expect %d", len(m.Attributes()), cfg.Attributes.Count)
		}
		return m, nil
	case imageDir != "":
		return imdb.LoadDirectory(imageDir, imdb.IndexNames(cfg.Attributes.Count))
	default:
		return nil, fmt.Errorf("one of --imdb or --dir is required")
	}
}

func newRecognizer() (*attributes.Recognizer, inference.Network, string, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, "", err
	}

	net, model, err := newNetwork(cfg)
	if err != nil {
		return nil, nil, "", err
	}

	rescale, err := rescaler(resizer)
	if err != nil {
		releaseNetwork(net)
		return nil, nil, "", err
	}

	rec, err := attributes.NewRecognizer(cfg, net)
	if err != nil {
		releaseNetwork(net)
		return nil, nil, "", err
	}
	rec.SetRescaler(rescale)
	return rec, net, model, nil
}

func runTest(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rec, net, model, err := newRecognizer()
	if err != nil {
		return err
	}
	defer releaseNetwork(net)

	db, err := openDatabase(rec.Config())
	if err != nil {
		return err
	}

	reader, err := imageReader(readerName)
	if err != nil {
		return err
	}

	opts := tester.Options{
		OutputDir: outputDir,
		Vis:       vis,
		Reader:    reader,
		Prefetch:  prefetch,
		Logger:    logger,
		Run:       store.Run{Model: model, Backend: backend},
	}

	if resultsDB != "" {
		s, err := store.Open(resultsDB)
		if err != nil {
			return err
		}
		defer s.Close()
		opts.Store = s
	}

	res, err := tester.TestNet(ctx, rec, db, opts)
	if err != nil {
		return err
	}

	if res.Report != nil {
		fmt.Fprint(cmd.OutOrStdout(), res.Report.Summary())
	}
	return nil
}

func runRecognize(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rec, net, _, err := newRecognizer()
	if err != nil {
		return err
	}
	defer releaseNetwork(net)

	names := imdb.IndexNames(rec.Config().Attributes.Count)
	if imdbPath != "" {
		db, err := openDatabase(rec.Config())
		if err != nil {
			return err
		}
		names = db.Attributes()
	}

	reader, err := imageReader(readerName)
	if err != nil {
		return err
	}

	return recognizeImages(ctx, cmd, rec, reader, names, args)
}

// recognizeImages prints one line per image: the path and its positive attributes.
func recognizeImages(ctx context.Context, cmd *cobra.Command, rec tester.AttributeRecognizer,
	reader images.Reader, names []string, paths []string,
) error {
	for _, path := range paths {
		img, err := reader(path)
		if err != nil {
			return err
		}

		attrs, err := rec.Recognize(ctx, img)
		if err != nil {
			return fmt.Errorf("failed to recognise %s: %w", path, err)
		}

		pred := attributes.Prediction{Path: path, Attributes: attrs}
		var labels []string
		for _, j := range pred.Positive() {
			labels = append(labels, names[j])
		}
		logger.Debug("Recognised image", zap.String("path", path), zap.Ints("positive", pred.Positive()))
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", path, strings.Join(labels, ", "))
	}
	return nil
}
