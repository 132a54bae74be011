// Package recognize implements the recognition engine (C5): given a single
// camera frame, it returns the best matching enrolled person for each face
// that clears the recognition thresholds.
package recognize

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/attendance/facepresence/internal/config"
	"github.com/attendance/facepresence/internal/index"
	"github.com/attendance/facepresence/internal/models"
	"github.com/attendance/facepresence/internal/observability"
	"github.com/attendance/facepresence/internal/vision"
)

// Engine is the recognition engine (C5). It is stateless across frames:
// all state it consults (the similarity index) is owned elsewhere.
type Engine struct {
	provider vision.EmbeddingProvider
	idx      *index.Index
	cfg      config.RecognitionConfig
}

func New(provider vision.EmbeddingProvider, idx *index.Index, cfg config.RecognitionConfig) *Engine {
	return &Engine{provider: provider, idx: idx, cfg: cfg}
}

// Recognize runs detection + embedding + search over a single frame and
// returns one Match per face that passes Q_MIN_RECOGNIZE and whose best
// search result clears CONFIDENCE_THRESHOLD. Per spec.md §5, if two faces
// in the same frame match the same person, only the higher-confidence one
// is kept and the collision is logged.
func (e *Engine) Recognize(ctx context.Context, cameraID string, frame []byte) ([]models.Match, int, error) {
	faces, err := e.provider.Detect(frame)
	if err != nil {
		return nil, 0, fmt.Errorf("detect faces: %w", err)
	}
	observability.FacesDetected.WithLabelValues(cameraID).Add(float64(len(faces)))

	best := make(map[uuid.UUID]models.Match)

	for _, face := range faces {
		if float64(face.Quality) < e.cfg.QMinRecognize {
			continue
		}

		searchTimer := prometheus.NewTimer(observability.IndexSearchDuration)
		results, err := e.idx.Search(face.Embedding, 1, float32(e.cfg.ConfidenceThreshold))
		searchTimer.ObserveDuration()
		if err != nil {
			return nil, len(faces), fmt.Errorf("search index: %w", err)
		}
		if len(results) == 0 {
			continue
		}

		top := results[0]
		match := models.Match{
			PersonID:   top.PersonID,
			Confidence: top.Score,
			BBox:       face.BBox,
		}

		if existing, ok := best[top.PersonID]; ok {
			slog.Warn("duplicate person match within frame, keeping higher confidence",
				"camera_id", cameraID, "person_id", top.PersonID,
				"existing_confidence", existing.Confidence, "new_confidence", match.Confidence)
			if match.Confidence > existing.Confidence {
				best[top.PersonID] = match
			}
			continue
		}
		best[top.PersonID] = match
	}

	matches := make([]models.Match, 0, len(best))
	for _, m := range best {
		matches = append(matches, m)
	}
	if len(matches) > 0 {
		observability.FacesRecognized.WithLabelValues(cameraID).Add(float64(len(matches)))
	}
	return matches, len(faces), nil
}
