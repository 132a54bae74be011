package vision

import (
	"fmt"
	"image"
	_ "image/png" // register PNG decoding alongside JPEG

	"github.com/attendance/facepresence/internal/models"
)

// DetectedFace is the tuple the embedding provider (C1) returns per face:
// a bounding box, a quality score, and a fixed-length unit-norm embedding.
type DetectedFace struct {
	BBox       models.BBox
	Quality    float32
	Embedding  []float32
}

// EmbeddingProvider is the opaque face-detector+embedder abstraction C4/C5
// program against. The shipped implementation (Provider, below) is backed
// by ONNX Runtime; it is not itself part of the specified core.
type EmbeddingProvider interface {
	Detect(imageData []byte) ([]DetectedFace, error)
}

// Provider is the ONNX-Runtime-backed EmbeddingProvider: RetinaFace for
// detection, ArcFace for embedding extraction.
type Provider struct {
	detector *Detector
	embedder *Embedder
}

// NewProvider loads both ONNX models from their paths.
func NewProvider(detectorModelPath, embedderModelPath string, detectionThreshold float32) (*Provider, error) {
	det, err := NewDetector(detectorModelPath, detectionThreshold, nil)
	if err != nil {
		return nil, fmt.Errorf("load detector: %w", err)
	}
	emb, err := NewEmbedder(embedderModelPath)
	if err != nil {
		det.Close()
		return nil, fmt.Errorf("load embedder: %w", err)
	}
	return &Provider{detector: det, embedder: emb}, nil
}

// Detect decodes imageData, runs face detection, and extracts an embedding
// for every detected face. The detector's confidence score doubles as the
// quality score the spec calls Q_MIN/A_MIN against.
func (p *Provider) Detect(imageData []byte) ([]DetectedFace, error) {
	img, err := decodeImage(imageData)
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	bounds := img.Bounds()
	origW, origH := bounds.Dx(), bounds.Dy()

	detInput := preprocessForDetection(img, p.detector.inputW, p.detector.inputH)
	detections, err := p.detector.Detect(detInput, origW, origH)
	if err != nil {
		return nil, fmt.Errorf("detect faces: %w", err)
	}

	faces := make([]DetectedFace, 0, len(detections))
	for _, d := range detections {
		crop := cropFace(img, d.BBox)
		if crop == nil {
			continue
		}
		embInput := preprocessForEmbedding(crop, p.embedder.inputW, p.embedder.inputH)
		embedding, err := p.embedder.Extract(embInput)
		if err != nil {
			continue
		}
		faces = append(faces, DetectedFace{
			BBox:      models.BBox(d.BBox),
			Quality:   d.Confidence,
			Embedding: embedding,
		})
	}
	return faces, nil
}

// Close releases the underlying ONNX sessions.
func (p *Provider) Close() {
	if p.detector != nil {
		p.detector.Close()
	}
	if p.embedder != nil {
		p.embedder.Close()
	}
}

func preprocessForDetection(img image.Image, targetW, targetH int) []float32 {
	return imageToFloat32CHW(img, targetW, targetH, [3]float32{127.5, 127.5, 127.5}, [3]float32{128.0, 128.0, 128.0})
}

func preprocessForEmbedding(img image.Image, targetW, targetH int) []float32 {
	return imageToFloat32CHW(img, targetW, targetH, [3]float32{127.5, 127.5, 127.5}, [3]float32{127.5, 127.5, 127.5})
}
