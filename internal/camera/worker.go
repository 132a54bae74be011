// Package camera implements the camera worker (C7): for each active
// camera it pulls frames from a source, throttles them into a live
// preview stream and a recognition loop, and turns recognitions into
// attendance and presence updates.
package camera

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

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

func streamTopic(cameraID uuid.UUID) string { return "camera:" + cameraID.String() + ":stream" }
func eventsTopic(cameraID uuid.UUID) string { return "camera:" + cameraID.String() + ":events" }

// Worker runs one camera's state machine and frame loop.
type Worker struct {
	camera models.Camera
	source FrameSource

	recognizer *recognize.Engine
	presence   *presence.Tracker
	attendance *attendance.Gate
	db         *storage.PostgresStore
	bus        *hub.Hub
	cfg        config.CameraConfig

	mu       sync.Mutex
	state    models.CameraState
	lastErr  string
	frameN   int64

	latestMu  sync.Mutex
	latest    []byte
	latestVer uint64
	seenVer   uint64

	cooldownMu sync.Mutex
	cooldown   map[uuid.UUID]time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewWorker(cam models.Camera, source FrameSource, recognizer *recognize.Engine, pres *presence.Tracker, att *attendance.Gate, db *storage.PostgresStore, bus *hub.Hub, cfg config.CameraConfig) *Worker {
	return &Worker{
		camera:     cam,
		source:     source,
		recognizer: recognizer,
		presence:   pres,
		attendance: att,
		db:         db,
		bus:        bus,
		cfg:        cfg,
		state:      models.CameraOffline,
		cooldown:   make(map[uuid.UUID]time.Time),
	}
}

func (w *Worker) State() models.CameraState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *Worker) Status() models.WorkerStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	return models.WorkerStatus{
		CameraID:   w.camera.ID,
		Connected:  w.state == models.CameraStreaming,
		Running:    w.state != models.CameraStopped && w.state != models.CameraOffline,
		FPS:        w.cfg.RecognitionHz,
		FrameCount: w.frameN,
		State:      w.state,
	}
}

func (w *Worker) setState(s models.CameraState, lastErr string) {
	w.mu.Lock()
	prev := w.state
	w.state = s
	w.lastErr = lastErr
	w.mu.Unlock()
	if prev != s {
		observability.CameraState.WithLabelValues(w.camera.ID.String(), string(prev)).Set(0)
	}
	observability.CameraState.WithLabelValues(w.camera.ID.String(), string(s)).Set(1)
}

// Start begins the connect/stream/retry loop in a background goroutine and
// returns immediately.
func (w *Worker) Start(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	w.cancel = cancel

	w.wg.Add(2)
	go w.runLoop(ctx)
	go w.recognitionLoop(ctx)
}

// Stop stops the frame source, cancels the worker's context, and waits at
// most ShutdownGrace for the worker's goroutines to exit.
func (w *Worker) Stop() {
	if w.cancel == nil {
		return
	}
	w.source.Stop()
	w.cancel()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(w.cfg.ShutdownGrace):
		slog.Warn("camera worker did not stop within grace period", "camera_id", w.camera.ID)
	}
	w.setState(models.CameraStopped, "")
}

// runLoop owns the connect -> stream -> (fail) -> backoff -> reconnect state
// machine, grounded on the teacher's retry/backoff pattern for stream
// ingestion, generalized to run until explicitly stopped rather than giving
// up after a fixed retry count.
func (w *Worker) runLoop(ctx context.Context) {
	defer w.wg.Done()

	const maxBackoff = 30 * time.Second
	backoff := time.Second
	var firstFailure time.Time

	for {
		if ctx.Err() != nil {
			return
		}

		w.setState(models.CameraConnecting, "")
		runCtx, cancelRun := context.WithCancel(ctx)
		connectTimer := time.NewTimer(w.cfg.ConnectTimeout)

		started := make(chan struct{}, 1)
		runErr := make(chan error, 1)
		go func() {
			err := w.source.Run(runCtx, func(frame []byte) error {
				select {
				case started <- struct{}{}:
				default:
				}
				w.onFrame(frame)
				return nil
			})
			runErr <- err
		}()

		var connected bool
		select {
		case <-started:
			connected = true
			w.setState(models.CameraStreaming, "")
			firstFailure = time.Time{}
			backoff = time.Second
		case <-connectTimer.C:
		case err := <-runErr:
			if ctx.Err() != nil {
				connectTimer.Stop()
				cancelRun()
				return
			}
			w.recordFailure(err, &firstFailure)
		}
		connectTimer.Stop()

		if connected {
			err := <-runErr
			if ctx.Err() != nil {
				cancelRun()
				return
			}
			w.recordFailure(err, &firstFailure)
		}
		cancelRun()

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (w *Worker) recordFailure(err error, firstFailure *time.Time) {
	if firstFailure.IsZero() {
		*firstFailure = time.Now()
	}
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	if time.Since(*firstFailure) > w.cfg.PersistenceFailWindow {
		w.setState(models.CameraFailed, msg)
		slog.Error("camera persistently failing", "camera_id", w.camera.ID, "error", msg)
	} else {
		slog.Warn("camera frame source error, will retry", "camera_id", w.camera.ID, "error", msg)
	}
}

// onFrame is the source callback: it always offers the frame to the
// freshest-frame buffer consumed by recognitionLoop, and forwards every
// frame's raw bytes to the live preview stream. The preview rate is the
// source's own frame rate; Manager.StartCamera configures the ffmpeg source
// to emit at STREAM_MAX_HZ.
func (w *Worker) onFrame(frame []byte) {
	w.mu.Lock()
	w.frameN++
	w.mu.Unlock()
	observability.FramesProcessed.WithLabelValues(w.camera.ID.String()).Inc()

	w.latestMu.Lock()
	w.latest = frame
	w.latestVer++
	w.latestMu.Unlock()

	w.bus.Publish(streamTopic(w.camera.ID), frame)
}

// recognitionLoop runs at RECOGNITION_HZ, always operating on the freshest
// available frame and silently skipping a tick if no new frame has arrived.
func (w *Worker) recognitionLoop(ctx context.Context) {
	defer w.wg.Done()

	interval := time.Duration(float64(time.Second) / w.cfg.RecognitionHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			frame, ver := w.takeFrame()
			if frame == nil || ver == w.seenVer {
				continue
			}
			w.seenVer = ver
			w.processFrame(ctx, frame)
		}
	}
}

func (w *Worker) takeFrame() ([]byte, uint64) {
	w.latestMu.Lock()
	defer w.latestMu.Unlock()
	return w.latest, w.latestVer
}

func (w *Worker) processFrame(ctx context.Context, frame []byte) {
	matches, _, err := w.recognizer.Recognize(ctx, w.camera.ID.String(), frame)
	if err != nil {
		slog.Error("recognition failed", "camera_id", w.camera.ID, "error", err)
		return
	}
	if len(matches) == 0 {
		return
	}

	now := time.Now()
	event := models.RecognitionEvent{CameraID: w.camera.ID, Timestamp: now}

	for _, m := range matches {
		person, err := w.db.GetPerson(ctx, m.PersonID)
		if err != nil {
			slog.Error("lookup matched person", "person_id", m.PersonID, "error", err)
			continue
		}

		w.presence.Touch(w.camera.RoomID, person.ID, w.camera.ID, person.ExternalID, m.Confidence, now)

		if !w.coolingDownCleared(m.PersonID, now) {
			continue
		}

		outcome, rec, err := w.attendance.Record(ctx, person.ID, person.ExternalID, m.Confidence, now, frame)
		if err != nil {
			slog.Error("record attendance", "person_id", person.ID, "error", err)
			continue
		}

		rp := models.RecognizedPerson{
			PersonID:   person.ID,
			ExternalID: person.ExternalID,
			Confidence: m.Confidence,
		}
		switch outcome {
		case models.AttendanceCreated:
			rp.Status = models.RecognitionCheckedIn
			if rec != nil {
				t := rec.CheckInTime
				rp.CheckInTime = &t
			}
		case models.AttendanceAlready:
			rp.Status = models.RecognitionAlreadyIn
		default:
			rp.Status = models.RecognitionPresentOnly
		}
		event.Recognized = append(event.Recognized, rp)
	}

	if len(event.Recognized) == 0 {
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		slog.Error("marshal recognition event", "error", err)
		return
	}
	w.bus.Publish(eventsTopic(w.camera.ID), payload)
}

// coolingDownCleared reports whether personID is eligible for a new
// recognition event on this camera, and resets the cooldown clock if so.
func (w *Worker) coolingDownCleared(personID uuid.UUID, now time.Time) bool {
	w.cooldownMu.Lock()
	defer w.cooldownMu.Unlock()

	last, ok := w.cooldown[personID]
	if ok && now.Sub(last) < w.cfg.EventCooldown {
		return false
	}
	w.cooldown[personID] = now
	return true
}
