package camera

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/attendance/facepresence/internal/attendance"
	"github.com/attendance/facepresence/internal/config"
	"github.com/attendance/facepresence/internal/hub"
	"github.com/attendance/facepresence/internal/index"
	"github.com/attendance/facepresence/internal/models"
	"github.com/attendance/facepresence/internal/presence"
	"github.com/attendance/facepresence/internal/recognize"
	"github.com/attendance/facepresence/internal/vision"
)

// fakeSource emits one frame as soon as Run starts, then blocks until ctx
// is cancelled or Stop is called.
type fakeSource struct {
	mu      sync.Mutex
	stopped bool
	stopCh  chan struct{}
}

func newFakeSource() *fakeSource {
	return &fakeSource{stopCh: make(chan struct{})}
}

func (s *fakeSource) Run(ctx context.Context, cb FrameCallback) error {
	_ = cb([]byte("jpeg-bytes"))
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.stopCh:
		return nil
	}
}

func (s *fakeSource) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.stopped {
		s.stopped = true
		close(s.stopCh)
	}
}

type noFaceProvider struct{}

func (noFaceProvider) Detect(imageData []byte) ([]vision.DetectedFace, error) {
	return nil, nil
}

func newTestWorker(t *testing.T) (*Worker, *fakeSource, *hub.Hub) {
	t.Helper()

	cam := models.Camera{ID: uuid.New(), RoomID: uuid.New(), Name: "cam-1", SourceAddr: "fake://"}
	source := newFakeSource()

	idx := index.New(2)
	recognizer := recognize.New(noFaceProvider{}, idx, config.RecognitionConfig{ConfidenceThreshold: 0.6, QMinRecognize: 0.5})
	pres := presence.New(config.PresenceConfig{TTL: time.Minute, EvictionPeriod: time.Minute}, nil)
	gate, err := attendance.New(nil, nil, config.AttendanceConfig{Min: 0.6, Timezone: "UTC"})
	require.NoError(t, err)

	bus := hub.New(config.HubConfig{SubscriberQueue: 8})
	cfg := config.CameraConfig{
		RecognitionHz:         50,
		StreamMaxHz:           50,
		ConnectTimeout:        time.Second,
		ShutdownGrace:         time.Second,
		PersistenceFailWindow: time.Second,
		EventCooldown:         time.Second,
	}

	w := NewWorker(cam, source, recognizer, pres, gate, nil, bus, cfg)
	return w, source, bus
}

func TestWorkerStartPublishesStreamFrames(t *testing.T) {
	w, source, bus := newTestWorker(t)
	sub := bus.Subscribe(streamTopic(w.camera.ID))
	defer bus.Unsubscribe(sub)

	w.Start(context.Background())
	defer w.Stop()
	defer source.Stop()

	select {
	case msg := <-sub.C:
		require.Equal(t, []byte("jpeg-bytes"), msg.Payload)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a streamed frame")
	}

	require.Eventually(t, func() bool {
		return w.State() == models.CameraStreaming
	}, time.Second, 10*time.Millisecond)
}

func TestWorkerStopTransitionsToStopped(t *testing.T) {
	w, source, _ := newTestWorker(t)
	w.Start(context.Background())

	require.Eventually(t, func() bool {
		return w.State() == models.CameraStreaming
	}, time.Second, 10*time.Millisecond)

	source.Stop()
	w.Stop()
	require.Equal(t, models.CameraStopped, w.State())
}
