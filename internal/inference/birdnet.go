package inference

import (
	"bufio"
	"cmp"
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/tphakala/go-tflite"
	"golang.org/x/text/unicode/norm"

	"github.com/tphakala/birdnet-edge/internal/errors"
	"github.com/tphakala/birdnet-edge/internal/logger"
)

const (
	// BirdNETSampleRate is the input rate of the BirdNET analysis model
	BirdNETSampleRate = 48000
	// windowSeconds is the analysis window of the model
	windowSeconds = 3
	// minWindowFraction of a trailing window must be present for it to be analyzed
	minWindowFraction = 0.5
	defaultTopN       = 10
)

// BirdNETConfig configures the tflite backed model
type BirdNETConfig struct {
	ModelPath   string
	LabelPath   string
	Sensitivity float64 // sigmoid sensitivity, 1.0 is neutral
	Threads     int     // 0 for auto
	TopN        int     // detections kept per window
}

// BirdNETModel runs the BirdNET analysis model through TensorFlow Lite
type BirdNETModel struct {
	mu          sync.Mutex
	model       *tflite.Model
	interpreter *tflite.Interpreter
	labels      []RawDetection // parsed once, copied per window
	name        string
	sensitivity float64
	topN        int
}

// NewBirdNETModel loads the model and labels. A missing or corrupt model
// returns an error wrapping ErrModelFatal.
func NewBirdNETModel(cfg BirdNETConfig) (*BirdNETModel, error) {
	start := time.Now()
	log := GetLogger()

	if err := CheckModelFile(cfg.ModelPath); err != nil {
		return nil, err
	}

	labels, err := LoadLabels(cfg.LabelPath)
	if err != nil {
		return nil, err
	}

	modelData, err := os.ReadFile(cfg.ModelPath)
	if err != nil {
		return nil, modelFatal(err, cfg.ModelPath, "read_model")
	}

	model := tflite.NewModel(modelData)
	if model == nil {
		return nil, modelFatal(errors.NewStd("cannot load TensorFlow Lite model"), cfg.ModelPath, "load_model")
	}

	threads := ThreadCount(cfg.Threads)
	options := tflite.NewInterpreterOptions()
	options.SetNumThread(threads)
	options.SetErrorReporter(func(msg string, _ any) {
		GetLogger().Error("TFLite error", logger.String("message", msg))
	}, nil)
	defer options.Delete()

	interpreter := tflite.NewInterpreter(model, options)
	if interpreter == nil {
		model.Delete()
		return nil, modelFatal(errors.NewStd("cannot create interpreter"), cfg.ModelPath, "create_interpreter")
	}
	if status := interpreter.AllocateTensors(); status != tflite.OK {
		interpreter.Delete()
		model.Delete()
		return nil, modelFatal(fmt.Errorf("tensor allocation failed: %v", status), cfg.ModelPath, "allocate_tensors")
	}

	output := interpreter.GetOutputTensor(0)
	if output == nil || output.Dim(output.NumDims()-1) != len(labels) {
		interpreter.Delete()
		model.Delete()
		return nil, modelFatal(fmt.Errorf("model output does not match %d labels", len(labels)), cfg.ModelPath, "check_labels")
	}

	topN := cfg.TopN
	if topN <= 0 {
		topN = defaultTopN
	}
	sensitivity := cfg.Sensitivity
	if sensitivity <= 0 {
		sensitivity = 1.0
	}

	m := &BirdNETModel{
		model:       model,
		interpreter: interpreter,
		labels:      labelTemplates(labels),
		name:        modelName(cfg.ModelPath),
		sensitivity: sensitivity,
		topN:        topN,
	}

	log.Info("BirdNET model initialized",
		logger.String("model", m.name),
		logger.Int("labels", len(labels)),
		logger.Int("threads", threads),
		logger.Duration("elapsed", time.Since(start)))

	return m, nil
}

// CheckModelFile verifies the model file exists and is not empty
func CheckModelFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return modelFatal(err, path, "stat_model")
	}
	if info.IsDir() || info.Size() == 0 {
		return modelFatal(errors.NewStd("model file is empty or a directory"), path, "stat_model")
	}
	return nil
}

// LoadLabels reads one label per line, normalized to NFC
func LoadLabels(path string) ([]string, error) {
	f, err := os.Open(path) //nolint:gosec // path comes from configuration
	if err != nil {
		return nil, errors.New(fmt.Errorf("%w: %w", ErrModelFatal, err)).
			Component("inference").
			Category(errors.CategoryLabelLoad).
			Context("path", path).
			Build()
	}
	defer func() { _ = f.Close() }()

	var labels []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		labels = append(labels, norm.NFC.String(line))
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.New(fmt.Errorf("%w: %w", ErrModelFatal, err)).
			Component("inference").
			Category(errors.CategoryLabelLoad).
			Context("path", path).
			Build()
	}
	if len(labels) == 0 {
		return nil, errors.New(fmt.Errorf("%w: label file is empty", ErrModelFatal)).
			Component("inference").
			Category(errors.CategoryLabelLoad).
			Context("path", path).
			Build()
	}
	return labels, nil
}

// labelTemplates splits normalized labels into species names
func labelTemplates(labels []string) []RawDetection {
	out := make([]RawDetection, len(labels))
	for i, label := range labels {
		scientific, common := SplitLabel(label)
		out[i] = RawDetection{Label: label, ScientificName: scientific, CommonName: common}
	}
	return out
}

// Predict implements Model
func (m *BirdNETModel) Predict(ctx context.Context, samples []float32, sampleRate int) ([]RawDetection, error) {
	if sampleRate != BirdNETSampleRate {
		return nil, fmt.Errorf("unsupported sample rate %d Hz", sampleRate)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.interpreter == nil {
		return nil, fmt.Errorf("%w: interpreter released", ErrModelFatal)
	}

	best := make(map[string]RawDetection)
	for _, w := range analysisWindows(len(samples), sampleRate) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		input := m.interpreter.GetInputTensor(0)
		if input == nil {
			return nil, fmt.Errorf("%w: cannot get input tensor", ErrModelFatal)
		}
		buf := input.Float32s()
		n := copy(buf, samples[w.from:w.to])
		clear(buf[n:])

		if status := m.interpreter.Invoke(); status != tflite.OK {
			return nil, fmt.Errorf("tensor invoke failed: %v", status)
		}

		output := m.interpreter.GetOutputTensor(0)
		raw := output.Float32s()
		if len(raw) < len(m.labels) {
			return nil, fmt.Errorf("output tensor has %d values for %d labels", len(raw), len(m.labels))
		}

		windowDets := make([]RawDetection, len(m.labels))
		for i := range m.labels {
			windowDets[i] = m.labels[i]
			windowDets[i].Confidence = customSigmoid(float64(raw[i]), m.sensitivity)
			windowDets[i].Start = w.start
			windowDets[i].End = w.end
		}
		mergeBest(best, topDetections(windowDets, m.topN))
	}

	out := make([]RawDetection, 0, len(best))
	for _, d := range best {
		out = append(out, d)
	}
	return topDetections(out, len(out)), nil
}

// SampleRate implements Model
func (m *BirdNETModel) SampleRate() int { return BirdNETSampleRate }

// Name implements Model
func (m *BirdNETModel) Name() string { return m.name }

// Close releases the interpreter. Later Predict calls fail with ErrModelFatal.
func (m *BirdNETModel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.interpreter != nil {
		m.interpreter.Delete()
		m.interpreter = nil
	}
	if m.model != nil {
		m.model.Delete()
		m.model = nil
	}
	return nil
}

type window struct {
	from, to   int     // sample offsets
	start, end float64 // seconds
}

// analysisWindows splits n samples into consecutive model windows. A trailing
// window shorter than half the window size is dropped unless it is the only one.
func analysisWindows(n, sampleRate int) []window {
	size := windowSeconds * sampleRate
	var windows []window
	for from := 0; from < n; from += size {
		to := min(from+size, n)
		if to-from < int(float64(size)*minWindowFraction) && len(windows) > 0 {
			break
		}
		windows = append(windows, window{
			from:  from,
			to:    to,
			start: float64(from) / float64(sampleRate),
			end:   float64(from+size) / float64(sampleRate),
		})
	}
	return windows
}

// mergeBest keeps the highest confidence detection per label
func mergeBest(best map[string]RawDetection, detections []RawDetection) {
	for _, d := range detections {
		if cur, ok := best[d.Label]; !ok || d.Confidence > cur.Confidence {
			best[d.Label] = d
		}
	}
}

// topDetections sorts by confidence descending and keeps at most n
func topDetections(detections []RawDetection, n int) []RawDetection {
	slices.SortStableFunc(detections, func(x, y RawDetection) int {
		if c := cmp.Compare(y.Confidence, x.Confidence); c != 0 {
			return c
		}
		return strings.Compare(x.Label, y.Label)
	})
	if len(detections) > n {
		return detections[:n]
	}
	return detections
}

// customSigmoid applies a sigmoid with sensitivity adjustment
func customSigmoid(x, sensitivity float64) float64 {
	return 1.0 / (1.0 + math.Exp(-sensitivity*x))
}

// modelName derives a short model id from the file name
func modelName(path string) string {
	base := filepath.Base(path)
	if strings.HasPrefix(base, "BirdNET_") && strings.Contains(base, "_Model_") {
		return strings.SplitN(base, "_Model_", 2)[0]
	}
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func modelFatal(err error, path, op string) error {
	return errors.New(fmt.Errorf("%w: %w", ErrModelFatal, err)).
		Component("inference").
		Category(errors.CategoryModelLoad).
		Context("model_path", path).
		Context("operation", op).
		Build()
}
