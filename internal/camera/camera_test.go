package camera

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/attendance/facepresence/internal/config"
)

func TestTopicNaming(t *testing.T) {
	id := uuid.New()
	require.Equal(t, "camera:"+id.String()+":stream", streamTopic(id))
	require.Equal(t, "camera:"+id.String()+":events", eventsTopic(id))
}

func newCooldownWorker(cooldown time.Duration) *Worker {
	return &Worker{
		cfg:      config.CameraConfig{EventCooldown: cooldown},
		cooldown: make(map[uuid.UUID]time.Time),
	}
}

func TestCoolingDownClearedFirstSightingAlwaysClears(t *testing.T) {
	w := newCooldownWorker(10 * time.Second)
	person := uuid.New()
	require.True(t, w.coolingDownCleared(person, time.Now()))
}

func TestCoolingDownClearedBlocksWithinWindow(t *testing.T) {
	w := newCooldownWorker(10 * time.Second)
	person := uuid.New()
	now := time.Now()

	require.True(t, w.coolingDownCleared(person, now))
	require.False(t, w.coolingDownCleared(person, now.Add(5*time.Second)))
}

func TestCoolingDownClearedAllowsAfterWindow(t *testing.T) {
	w := newCooldownWorker(10 * time.Second)
	person := uuid.New()
	now := time.Now()

	require.True(t, w.coolingDownCleared(person, now))
	require.True(t, w.coolingDownCleared(person, now.Add(11*time.Second)))
}

func TestCoolingDownClearedIsPerPerson(t *testing.T) {
	w := newCooldownWorker(10 * time.Second)
	p1, p2 := uuid.New(), uuid.New()
	now := time.Now()

	require.True(t, w.coolingDownCleared(p1, now))
	require.True(t, w.coolingDownCleared(p2, now))
}
