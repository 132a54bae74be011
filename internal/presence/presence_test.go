package presence

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/attendance/facepresence/internal/config"
	"github.com/attendance/facepresence/internal/models"
)

type fakeRoomNamer struct {
	names map[uuid.UUID]string
}

func (f *fakeRoomNamer) RoomName(roomID uuid.UUID) string {
	return f.names[roomID]
}

func testConfig() config.PresenceConfig {
	return config.PresenceConfig{TTL: 30 * time.Second, EvictionPeriod: time.Second}
}

func TestTouchThenSnapshot(t *testing.T) {
	tr := New(testConfig(), nil)
	room, person, camera := uuid.New(), uuid.New(), uuid.New()
	now := time.Now()

	tr.Touch(room, person, camera, "ext-1", 0.9, now)

	occupants := tr.Snapshot(room, now)
	require.Len(t, occupants, 1)
	require.Equal(t, person, occupants[0].PersonID)
	require.Equal(t, "ext-1", occupants[0].ExternalID)
	require.Equal(t, camera, occupants[0].CameraID)
}

func TestTouchOverwritesSameKey(t *testing.T) {
	tr := New(testConfig(), nil)
	room, person, camera := uuid.New(), uuid.New(), uuid.New()
	now := time.Now()

	tr.Touch(room, person, camera, "ext-1", 0.8, now)
	tr.Touch(room, person, camera, "ext-1", 0.95, now.Add(time.Second))

	occupants := tr.Snapshot(room, now.Add(time.Second))
	require.Len(t, occupants, 1)
	require.InDelta(t, 0.95, float64(occupants[0].Confidence), 1e-6)
}

func TestSnapshotAllCoversMultipleRooms(t *testing.T) {
	tr := New(testConfig(), nil)
	roomA, roomB := uuid.New(), uuid.New()
	now := time.Now()

	tr.Touch(roomA, uuid.New(), uuid.New(), "a1", 0.9, now)
	tr.Touch(roomB, uuid.New(), uuid.New(), "b1", 0.9, now)

	all := tr.SnapshotAll(now)
	require.Len(t, all, 2)
	require.Len(t, all[roomA], 1)
	require.Len(t, all[roomB], 1)
}

func TestLocateReturnsMostRecentRoomForPerson(t *testing.T) {
	tr := New(testConfig(), nil)
	person := uuid.New()
	roomA, roomB := uuid.New(), uuid.New()
	now := time.Now()

	tr.Touch(roomA, person, uuid.New(), "p", 0.9, now)
	tr.Touch(roomB, person, uuid.New(), "p", 0.9, now.Add(time.Second))

	room, ok := tr.Locate(person, now.Add(time.Second))
	require.True(t, ok)
	require.Equal(t, roomB, room)
}

func TestLocateReportsAbsentWhenNeverSeen(t *testing.T) {
	tr := New(testConfig(), nil)
	_, ok := tr.Locate(uuid.New(), time.Now())
	require.False(t, ok)
}

func TestSnapshotExcludesExpiredEntries(t *testing.T) {
	tr := New(testConfig(), nil)
	room, person := uuid.New(), uuid.New()
	now := time.Now()

	tr.Touch(room, person, uuid.New(), "p", 0.9, now)

	require.Empty(t, tr.Snapshot(room, now.Add(time.Minute)))
}

func TestEvictRemovesStaleEntries(t *testing.T) {
	cfg := config.PresenceConfig{TTL: time.Minute, EvictionPeriod: time.Second}
	tr := New(cfg, nil)
	room, person := uuid.New(), uuid.New()

	stale := time.Now().Add(-2 * time.Minute)
	tr.Touch(room, person, uuid.New(), "p", 0.9, stale)

	now := time.Now()
	tr.evict(now)

	require.Empty(t, tr.Snapshot(room, now))
}

func TestTouchOnlyEmitsOnAdd(t *testing.T) {
	room, person, camera := uuid.New(), uuid.New(), uuid.New()
	tr := New(testConfig(), nil)

	fires := 0
	tr.OnChange(func(models.PresenceDelta) { fires++ })

	now := time.Now()
	tr.Touch(room, person, camera, "p", 0.9, now)
	require.Equal(t, 1, fires)

	tr.Touch(room, person, camera, "p", 0.9, now.Add(time.Second))
	require.Equal(t, 1, fires, "refreshing an already-present entry must not re-emit")
}

func TestTouchEmitsAgainAfterExpiry(t *testing.T) {
	room, person := uuid.New(), uuid.New()
	tr := New(testConfig(), nil)

	fires := 0
	tr.OnChange(func(models.PresenceDelta) { fires++ })

	now := time.Now()
	tr.Touch(room, person, uuid.New(), "p", 0.9, now)
	require.Equal(t, 1, fires)

	later := now.Add(time.Minute)
	tr.Touch(room, person, uuid.New(), "p", 0.9, later)
	require.Equal(t, 2, fires, "re-touching after the TTL elapsed counts as an add, not a refresh")
}

func TestFullSnapshotDedupesPersonAcrossRooms(t *testing.T) {
	tr := New(testConfig(), nil)
	roomA, roomB, person := uuid.New(), uuid.New(), uuid.New()
	now := time.Now()

	tr.Touch(roomA, person, uuid.New(), "p", 0.9, now)
	tr.Touch(roomB, person, uuid.New(), "p", 0.9, now.Add(time.Second))

	snap := tr.FullSnapshot(now.Add(time.Second))
	require.Len(t, snap.Rooms, 2)
	require.Equal(t, 1, snap.TotalPeople)
}

func TestOnChangeFiresWithRoomName(t *testing.T) {
	room := uuid.New()
	namer := &fakeRoomNamer{names: map[uuid.UUID]string{room: "Lab 204"}}
	tr := New(testConfig(), namer)

	var got models.PresenceDelta
	tr.OnChange(func(delta models.PresenceDelta) {
		got = delta
	})

	tr.Touch(room, uuid.New(), uuid.New(), "p", 0.9, time.Now())

	require.Equal(t, room, got.RoomID)
	require.Equal(t, "Lab 204", got.RoomName)
	require.Equal(t, 1, got.TotalCount)
}
