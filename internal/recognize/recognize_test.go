package recognize

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/attendance/facepresence/internal/config"
	"github.com/attendance/facepresence/internal/index"
	"github.com/attendance/facepresence/internal/models"
	"github.com/attendance/facepresence/internal/vision"
)

type fakeProvider struct {
	faces []vision.DetectedFace
	err   error
}

func (f *fakeProvider) Detect(imageData []byte) ([]vision.DetectedFace, error) {
	return f.faces, f.err
}

func testConfig() config.RecognitionConfig {
	return config.RecognitionConfig{
		ConfidenceThreshold: 0.6,
		QMinRecognize:       0.5,
	}
}

func TestRecognizeReturnsMatchAboveThreshold(t *testing.T) {
	idx := index.New(2)
	person := uuid.New()
	_, err := idx.Add(person, []float32{1, 0})
	require.NoError(t, err)

	provider := &fakeProvider{faces: []vision.DetectedFace{
		{Quality: 0.9, Embedding: []float32{1, 0}, BBox: models.BBox{0, 0, 100, 100}},
	}}

	e := New(provider, idx, testConfig())
	matches, facesDetected, err := e.Recognize(context.Background(), "cam-1", []byte("frame"))
	require.NoError(t, err)
	require.Equal(t, 1, facesDetected)
	require.Len(t, matches, 1)
	require.Equal(t, person, matches[0].PersonID)
}

func TestRecognizeSkipsLowQualityFace(t *testing.T) {
	idx := index.New(2)
	person := uuid.New()
	_, err := idx.Add(person, []float32{1, 0})
	require.NoError(t, err)

	provider := &fakeProvider{faces: []vision.DetectedFace{
		{Quality: 0.1, Embedding: []float32{1, 0}},
	}}

	e := New(provider, idx, testConfig())
	matches, facesDetected, err := e.Recognize(context.Background(), "cam-1", []byte("frame"))
	require.NoError(t, err)
	require.Equal(t, 1, facesDetected)
	require.Empty(t, matches)
}

func TestRecognizeReturnsNoMatchBelowConfidenceThreshold(t *testing.T) {
	idx := index.New(2)
	person := uuid.New()
	_, err := idx.Add(person, []float32{1, 0})
	require.NoError(t, err)

	provider := &fakeProvider{faces: []vision.DetectedFace{
		// Near-orthogonal to the enrolled vector: low cosine similarity.
		{Quality: 0.9, Embedding: []float32{0, 1}},
	}}

	e := New(provider, idx, testConfig())
	matches, _, err := e.Recognize(context.Background(), "cam-1", []byte("frame"))
	require.NoError(t, err)
	require.Empty(t, matches)
}

func TestRecognizeDedupesSamePersonKeepingHigherConfidence(t *testing.T) {
	idx := index.New(2)
	person := uuid.New()
	_, err := idx.Add(person, []float32{1, 0})
	require.NoError(t, err)

	provider := &fakeProvider{faces: []vision.DetectedFace{
		{Quality: 0.9, Embedding: []float32{1, 0}, BBox: models.BBox{0, 0, 10, 10}},
		{Quality: 0.9, Embedding: []float32{0.99, 0.01}, BBox: models.BBox{20, 20, 30, 30}},
	}}

	e := New(provider, idx, testConfig())
	matches, facesDetected, err := e.Recognize(context.Background(), "cam-1", []byte("frame"))
	require.NoError(t, err)
	require.Equal(t, 2, facesDetected)
	require.Len(t, matches, 1)
	require.Equal(t, person, matches[0].PersonID)
}

func TestRecognizePropagatesDetectError(t *testing.T) {
	idx := index.New(2)
	provider := &fakeProvider{err: assert.AnError}

	e := New(provider, idx, testConfig())
	_, _, err := e.Recognize(context.Background(), "cam-1", []byte("frame"))
	require.Error(t, err)
}
