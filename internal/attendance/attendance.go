// Package attendance implements the attendance gate (C6): it decides
// whether a recognition event becomes a new attendance record, an
// already-checked-in no-op, or a suppressed low-confidence match.
package attendance

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/attendance/facepresence/internal/config"
	"github.com/attendance/facepresence/internal/models"
	"github.com/attendance/facepresence/internal/observability"
	"github.com/attendance/facepresence/internal/storage"
)

// Gate is the attendance gate (C6).
type Gate struct {
	db     *storage.PostgresStore
	images *storage.MinIOStore
	cfg    config.AttendanceConfig
	loc    *time.Location
}

func New(db *storage.PostgresStore, images *storage.MinIOStore, cfg config.AttendanceConfig) (*Gate, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("attendance: load location %q: %w", cfg.Timezone, err)
	}
	return &Gate{db: db, images: images, cfg: cfg, loc: loc}, nil
}

// CalendarDay is calendar_day(now) from spec.md §9: the attendance day a
// timestamp falls on, in the configured time zone, with no DST guessing
// beyond what the IANA database already encodes.
func (g *Gate) CalendarDay(now time.Time) string {
	return now.In(g.loc).Format("2006-01-02")
}

// Record runs the attendance gate in spec.md §4.4: a match below
// ATTENDANCE_MIN is suppressed without touching storage; otherwise it
// attempts a day-scoped check-in insert and reports whether one already
// existed. snapshot may be nil, in which case no snapshot is stored.
func (g *Gate) Record(ctx context.Context, personID uuid.UUID, externalID string, confidence float32, now time.Time, snapshot []byte) (models.AttendanceOutcome, *models.AttendanceRecord, error) {
	if float64(confidence) < g.cfg.Min {
		return models.AttendanceSuppressed, nil, nil
	}

	day := g.CalendarDay(now)
	var snapshotKey string
	if snapshot != nil {
		snapshotKey = storage.SnapshotKey(externalID, now)
	}

	rec, alreadyExists, err := g.db.InsertAttendance(ctx, personID, day, now, confidence, snapshotKey)
	if err != nil {
		return models.AttendanceOutcome(""), nil, fmt.Errorf("record attendance: %w", err)
	}
	if alreadyExists {
		observability.AttendanceAlready.Inc()
		return models.AttendanceAlready, nil, nil
	}

	observability.AttendanceCreated.Inc()

	// The snapshot key is stored with the row whether or not the bytes
	// land; only write the object now that the row is committed, so a
	// crash between insert and upload leaves a dangling key rather than
	// an orphaned image.
	if snapshot != nil {
		if err := g.images.PutObject(ctx, snapshotKey, snapshot, "image/jpeg"); err != nil {
			return models.AttendanceCreated, rec, fmt.Errorf("store attendance snapshot: %w", err)
		}
	}

	return models.AttendanceCreated, rec, nil
}

func (g *Gate) ForDay(ctx context.Context, day string) ([]models.AttendanceRecord, error) {
	return g.db.AttendanceForDay(ctx, day)
}

func (g *Gate) ForPerson(ctx context.Context, personID uuid.UUID, from, to string) ([]models.AttendanceRecord, error) {
	return g.db.AttendanceForPerson(ctx, personID, from, to)
}

func (g *Gate) Statistics(ctx context.Context, from, to string) ([]models.DailyStat, error) {
	return g.db.AttendanceStatistics(ctx, from, to)
}
