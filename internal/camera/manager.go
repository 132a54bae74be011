package camera

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/attendance/facepresence/internal/attendance"
	"github.com/attendance/facepresence/internal/config"
	"github.com/attendance/facepresence/internal/hub"
	"github.com/attendance/facepresence/internal/models"
	"github.com/attendance/facepresence/internal/observability"
	"github.com/attendance/facepresence/internal/presence"
	"github.com/attendance/facepresence/internal/recognize"
	"github.com/attendance/facepresence/internal/storage"
)

// Manager owns the set of currently-running camera workers, generalizing
// the teacher's single-stream-map ingestion manager to the state-machine
// worker in this package.
type Manager struct {
	recognizer *recognize.Engine
	presence   *presence.Tracker
	attendance *attendance.Gate
	db         *storage.PostgresStore
	bus        *hub.Hub
	cfg        config.CameraConfig

	mu      sync.RWMutex
	workers map[uuid.UUID]*Worker
}

func NewManager(recognizer *recognize.Engine, pres *presence.Tracker, att *attendance.Gate, db *storage.PostgresStore, bus *hub.Hub, cfg config.CameraConfig) *Manager {
	return &Manager{
		recognizer: recognizer,
		presence:   pres,
		attendance: att,
		db:         db,
		bus:        bus,
		cfg:        cfg,
		workers:    make(map[uuid.UUID]*Worker),
	}
}

// StartCamera launches a worker for cam if one is not already running.
func (m *Manager) StartCamera(ctx context.Context, cam models.Camera) error {
	m.mu.Lock()
	if _, exists := m.workers[cam.ID]; exists {
		m.mu.Unlock()
		return fmt.Errorf("camera %s already running", cam.ID)
	}

	source := NewFFmpegSource(cam.SourceAddr, int(m.cfg.StreamMaxHz), 640)
	w := NewWorker(cam, source, m.recognizer, m.presence, m.attendance, m.db, m.bus, m.cfg)
	m.workers[cam.ID] = w
	m.mu.Unlock()

	observability.ActiveCameras.Inc()
	slog.Info("starting camera worker", "camera_id", cam.ID, "room_id", cam.RoomID)
	w.Start(ctx)
	return nil
}

// StopCamera stops and removes cam's worker. It is a no-op if the camera
// isn't running.
func (m *Manager) StopCamera(cameraID uuid.UUID) {
	m.mu.Lock()
	w, exists := m.workers[cameraID]
	if exists {
		delete(m.workers, cameraID)
	}
	m.mu.Unlock()

	if !exists {
		return
	}
	w.Stop()
	observability.ActiveCameras.Dec()
	slog.Info("stopped camera worker", "camera_id", cameraID)
}

// StopAll stops every running worker, used on shutdown.
func (m *Manager) StopAll() {
	m.mu.RLock()
	ids := make([]uuid.UUID, 0, len(m.workers))
	for id := range m.workers {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	for _, id := range ids {
		m.StopCamera(id)
	}
}

// Status returns the runtime status of cameraID's worker, or nil if it is
// not currently running.
func (m *Manager) Status(cameraID uuid.UUID) *models.WorkerStatus {
	m.mu.RLock()
	w, exists := m.workers[cameraID]
	m.mu.RUnlock()
	if !exists {
		return nil
	}
	status := w.Status()
	return &status
}

// IsRunning reports whether cameraID currently has a worker.
func (m *Manager) IsRunning(cameraID uuid.UUID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, exists := m.workers[cameraID]
	return exists
}

// ActiveCount returns the number of currently running camera workers.
func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.workers)
}
