package inference

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitLabel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		label, scientific, common string
	}{
		{"Cardinalis cardinalis_Northern Cardinal", "Cardinalis cardinalis", "Northern Cardinal"},
		{"Engine_Engine", "Engine", "Engine"},
		{"Human vocal", "Human vocal", "Human vocal"},
		{"Parus major_Great Tit_extra", "Parus major", "Great Tit_extra"},
	}
	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			t.Parallel()
			s, c := SplitLabel(tt.label)
			assert.Equal(t, tt.scientific, s)
			assert.Equal(t, tt.common, c)
		})
	}
}

func TestNewRawDetectionNormalizesNFC(t *testing.T) {
	t.Parallel()

	decomposed := "Strix aluco_Po\u0308llo\u0308"
	d := NewRawDetection(decomposed, 0.5)
	assert.Equal(t, "P\u00f6ll\u00f6", d.CommonName)
	assert.Equal(t, "Strix aluco", d.ScientificName)
}

func TestLoadLabels(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "labels.txt")
	require.NoError(t, os.WriteFile(path, []byte("A a_Alpha\n\n B b_Beta \n"), 0o600))

	labels, err := LoadLabels(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"A a_Alpha", "B b_Beta"}, labels)

	decomposed := filepath.Join(t.TempDir(), "nfd.txt")
	require.NoError(t, os.WriteFile(decomposed, []byte("Strix aluco_Po\u0308llo\u0308\n"), 0o600))
	labels, err = LoadLabels(decomposed)
	require.NoError(t, err)
	assert.Equal(t, []string{"Strix aluco_P\u00f6ll\u00f6"}, labels)

	empty := filepath.Join(t.TempDir(), "empty.txt")
	require.NoError(t, os.WriteFile(empty, nil, 0o600))
	_, err = LoadLabels(empty)
	require.ErrorIs(t, err, ErrModelFatal)

	_, err = LoadLabels(filepath.Join(t.TempDir(), "missing.txt"))
	require.ErrorIs(t, err, ErrModelFatal)
}

func TestCheckModelFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.ErrorIs(t, CheckModelFile(filepath.Join(dir, "missing.tflite")), ErrModelFatal)
	require.ErrorIs(t, CheckModelFile(dir), ErrModelFatal)

	path := filepath.Join(dir, "model.tflite")
	require.NoError(t, os.WriteFile(path, []byte{1, 2, 3}, 0o600))
	require.NoError(t, CheckModelFile(path))
}

func TestNewBirdNETModelMissingModel(t *testing.T) {
	t.Parallel()

	_, err := NewBirdNETModel(BirdNETConfig{ModelPath: filepath.Join(t.TempDir(), "nope.tflite")})
	require.ErrorIs(t, err, ErrModelFatal)
}

func TestAnalysisWindows(t *testing.T) {
	t.Parallel()

	w := analysisWindows(3*48000, 48000)
	require.Len(t, w, 1)
	assert.InDelta(t, 0.0, w[0].start, 1e-9)
	assert.InDelta(t, 3.0, w[0].end, 1e-9)

	w = analysisWindows(10*48000, 48000)
	require.Len(t, w, 3, "one second tail is below half a window")
	assert.InDelta(t, 6.0, w[2].start, 1e-9)

	w = analysisWindows(8*48000, 48000)
	require.Len(t, w, 3)
	assert.Equal(t, 8*48000, w[2].to)

	w = analysisWindows(7*48000+24000, 48000)
	require.Len(t, w, 3, "a tail of exactly half a window is kept")
	assert.Equal(t, 7*48000+24000, w[2].to)
	assert.InDelta(t, 9.0, w[2].end, 1e-9, "the padded window spans the full model input")

	w = analysisWindows(48000, 48000)
	require.Len(t, w, 1, "a short chunk still gets one padded window")
}

func TestLabelTemplates(t *testing.T) {
	t.Parallel()

	tmpl := labelTemplates([]string{"Cardinalis cardinalis_Northern Cardinal", "Engine"})
	require.Len(t, tmpl, 2)
	assert.Equal(t, RawDetection{
		Label:          "Cardinalis cardinalis_Northern Cardinal",
		ScientificName: "Cardinalis cardinalis",
		CommonName:     "Northern Cardinal",
	}, tmpl[0])
	assert.Equal(t, "Engine", tmpl[1].ScientificName)
	assert.Equal(t, "Engine", tmpl[1].CommonName)

	// templates are copied by value per window
	det := tmpl[0]
	det.Confidence = 0.9
	assert.Zero(t, tmpl[0].Confidence)
}

func TestMergeBestAndTop(t *testing.T) {
	t.Parallel()

	best := map[string]RawDetection{}
	mergeBest(best, []RawDetection{{Label: "x", Confidence: 0.4, Start: 0}, {Label: "y", Confidence: 0.9}})
	mergeBest(best, []RawDetection{{Label: "x", Confidence: 0.8, Start: 3}, {Label: "y", Confidence: 0.1}})

	assert.InDelta(t, 0.8, best["x"].Confidence, 1e-9)
	assert.InDelta(t, 3.0, best["x"].Start, 1e-9)
	assert.InDelta(t, 0.9, best["y"].Confidence, 1e-9)

	all := []RawDetection{{Label: "b", Confidence: 0.5}, {Label: "a", Confidence: 0.5}, {Label: "c", Confidence: 0.9}}
	top := topDetections(all, 2)
	require.Len(t, top, 2)
	assert.Equal(t, "c", top[0].Label)
	assert.Equal(t, "a", top[1].Label)
}

func TestCustomSigmoid(t *testing.T) {
	t.Parallel()

	assert.InDelta(t, 0.5, customSigmoid(0, 1), 1e-9)
	assert.Greater(t, customSigmoid(2, 1.5), customSigmoid(2, 1.0))
}

func TestModelName(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "BirdNET_GLOBAL_6K_V2.4", modelName("/m/BirdNET_GLOBAL_6K_V2.4_Model_FP32.tflite"))
	assert.Equal(t, "custom", modelName("custom.tflite"))
}

func TestThreadCount(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 1, ThreadCount(1))
	assert.Positive(t, ThreadCount(0))
}
