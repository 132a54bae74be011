// Package enroll implements the enrollment coordinator (C4): it turns raw
// reference images into index slots, keeping Postgres (C2) and the
// in-memory similarity index (C3) in sync.
package enroll

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/attendance/facepresence/internal/config"
	"github.com/attendance/facepresence/internal/index"
	"github.com/attendance/facepresence/internal/models"
	"github.com/attendance/facepresence/internal/storage"
	"github.com/attendance/facepresence/internal/vision"
)

// SkipReason is why one image in an enrollment batch was not used.
type SkipReason string

const (
	SkipDecode     SkipReason = "decode"
	SkipNoFace     SkipReason = "no-face"
	SkipMultiFace  SkipReason = "multi-face"
	SkipLowQuality SkipReason = "low-quality"
	SkipTimeout    SkipReason = "timeout"
)

// ErrPersonNotFound is returned when enroll is called for an unknown person.
var ErrPersonNotFound = fmt.Errorf("enroll: person not found")

// ErrTooManyImages is returned when the batch exceeds the configured cap.
var ErrTooManyImages = fmt.Errorf("enroll: image count exceeds configured cap")

// Summary is the result of one Enroll call, per spec.md §4.2.
type Summary struct {
	Successful      int
	SkipCounts      map[SkipReason]int
	NewReferenceIDs []uuid.UUID
}

// Coordinator is the enrollment coordinator (C4).
type Coordinator struct {
	db       *storage.PostgresStore
	images   *storage.MinIOStore
	provider vision.EmbeddingProvider
	idx      *index.Index
	cfg      config.RecognitionConfig

	locksMu sync.Mutex
	locks   map[uuid.UUID]*sync.Mutex
}

func New(db *storage.PostgresStore, images *storage.MinIOStore, provider vision.EmbeddingProvider, idx *index.Index, cfg config.RecognitionConfig) *Coordinator {
	return &Coordinator{
		db:       db,
		images:   images,
		provider: provider,
		idx:      idx,
		cfg:      cfg,
		locks:    make(map[uuid.UUID]*sync.Mutex),
	}
}

func (c *Coordinator) lockFor(personID uuid.UUID) *sync.Mutex {
	c.locksMu.Lock()
	defer c.locksMu.Unlock()
	l, ok := c.locks[personID]
	if !ok {
		l = &sync.Mutex{}
		c.locks[personID] = l
	}
	return l
}

// Enroll runs rawImages through the per-image pipeline in spec.md §4.2.
// At most one enrollment per person is in flight at a time; two different
// persons may enroll concurrently.
func (c *Coordinator) Enroll(ctx context.Context, person *models.Person, rawImages [][]byte) (Summary, error) {
	if person == nil {
		return Summary{}, ErrPersonNotFound
	}
	if len(rawImages) > c.cfg.MaxImagesPerPerson {
		return Summary{}, ErrTooManyImages
	}

	lock := c.lockFor(person.ID)
	lock.Lock()
	defer lock.Unlock()

	summary := Summary{SkipCounts: make(map[SkipReason]int)}

	for _, raw := range rawImages {
		refID, reason, err := c.enrollOne(ctx, person, raw)
		if err != nil {
			return Summary{}, err
		}
		if reason != "" {
			summary.SkipCounts[reason]++
			continue
		}
		summary.Successful++
		summary.NewReferenceIDs = append(summary.NewReferenceIDs, refID)
	}

	return summary, nil
}

// enrollOne runs steps 1-4 of spec.md §4.2 for a single image. A non-empty
// SkipReason means the image was skipped and no error is returned to the
// caller of Enroll; a non-nil error is an infrastructure failure that aborts
// the whole batch.
func (c *Coordinator) enrollOne(ctx context.Context, person *models.Person, raw []byte) (uuid.UUID, SkipReason, error) {
	imgCtx, cancel := context.WithTimeout(ctx, c.cfg.ImageProcessingTimeout)
	defer cancel()

	faces, err := detectWithTimeout(imgCtx, c.provider, raw)
	if err != nil {
		if imgCtx.Err() != nil {
			return uuid.UUID{}, SkipTimeout, nil
		}
		return uuid.UUID{}, SkipDecode, nil
	}

	if len(faces) == 0 {
		return uuid.UUID{}, SkipNoFace, nil
	}
	if len(faces) > 1 {
		return uuid.UUID{}, SkipMultiFace, nil
	}

	face := faces[0]
	area := bboxArea(face.BBox)
	if float64(face.Quality) < c.cfg.QMin || area < c.cfg.AMin {
		return uuid.UUID{}, SkipLowQuality, nil
	}

	imageKey := storage.ReferenceImageKey(person.ExternalID, uuid.NewString())
	if err := c.images.PutObject(ctx, imageKey, raw, "image/jpeg"); err != nil {
		return uuid.UUID{}, "", fmt.Errorf("store reference image: %w", err)
	}

	var refID uuid.UUID
	txErr := c.db.WithTx(ctx, func(tx pgx.Tx) error {
		ref, err := c.db.InsertReferenceEmbeddingTx(ctx, tx, person.ID, imageKey, face.Embedding)
		if err != nil {
			return err
		}
		refID = ref.ID
		return nil
	})
	if txErr != nil {
		return uuid.UUID{}, "", fmt.Errorf("enroll image: %w", txErr)
	}

	// The DB row is committed before the index add, per spec.md §4.2 step
	// 4's ordering: idx.Add is not part of the SQL transaction, so it must
	// run after Commit, not inside it. If it fails, the committed row has
	// no backing index slot, so compensate by deleting it.
	if _, err := c.idx.Add(person.ID, face.Embedding); err != nil {
		if delErr := c.db.DeleteReferenceEmbedding(ctx, refID); delErr != nil {
			return uuid.UUID{}, "", fmt.Errorf("index add: %w (compensating delete also failed: %v)", err, delErr)
		}
		return uuid.UUID{}, "", fmt.Errorf("index add: %w", err)
	}

	return refID, "", nil
}

func detectWithTimeout(ctx context.Context, provider vision.EmbeddingProvider, raw []byte) ([]vision.DetectedFace, error) {
	type result struct {
		faces []vision.DetectedFace
		err   error
	}
	ch := make(chan result, 1)
	go func() {
		faces, err := provider.Detect(raw)
		ch <- result{faces: faces, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		return r.faces, r.err
	}
}

func bboxArea(b models.BBox) float64 {
	w := float64(b[2] - b[0])
	h := float64(b[3] - b[1])
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// RemovePerson deletes every reference embedding and index slot owned by
// personID, used by the person-delete flow (spec.md §3's Person lifecycle).
// It returns the number of index slots removed.
func (c *Coordinator) RemovePerson(ctx context.Context, personID uuid.UUID) (int, error) {
	lock := c.lockFor(personID)
	lock.Lock()
	defer lock.Unlock()

	removed := c.idx.RemoveByPerson(personID)
	if err := c.db.DeletePerson(ctx, personID); err != nil {
		return removed, fmt.Errorf("remove person: %w", err)
	}
	return removed, nil
}
