// Package inference runs a species classifier over audio chunks.
//
// Model is the classifier boundary. Adapter wraps a Model with a timeout, a
// single execution slot and the confidence threshold, and maps model failures
// onto ErrInferenceTimeout, ErrInferenceError and ErrInferenceFatal.
package inference

import (
	"context"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// RawDetection is a single species prediction for a chunk
type RawDetection struct {
	Label          string  // raw model label
	ScientificName string  // part before the first underscore
	CommonName     string  // part after the first underscore
	Confidence     float64 // 0..1
	Start          float64 // seconds from chunk start
	End            float64 // seconds from chunk start
}

// Model is a species classifier.
//
// Predict receives mono samples normalized to -1..1. Implementations return
// an error wrapping ErrModelFatal when they can no longer run.
type Model interface {
	Predict(ctx context.Context, samples []float32, sampleRate int) ([]RawDetection, error)
	// SampleRate is the input rate the model expects, 0 for any
	SampleRate() int
	Name() string
	Close() error
}

// NewRawDetection builds a detection from a model label, splitting
// "Scientific name_Common name" labels and normalizing them to NFC.
func NewRawDetection(label string, confidence float64) RawDetection {
	label = norm.NFC.String(strings.TrimSpace(label))
	scientific, common := SplitLabel(label)
	return RawDetection{
		Label:          label,
		ScientificName: scientific,
		CommonName:     common,
		Confidence:     confidence,
	}
}

// SplitLabel splits a BirdNET label at the first underscore.
// Labels without an underscore are used for both names.
func SplitLabel(label string) (scientific, common string) {
	scientific, common, found := strings.Cut(label, "_")
	if !found {
		return label, label
	}
	return strings.TrimSpace(scientific), strings.TrimSpace(common)
}
