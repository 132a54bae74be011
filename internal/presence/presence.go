// Package presence implements the presence tracker (C8): an in-memory
// record of who was last seen in which room, evicted on a TTL.
package presence

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/attendance/facepresence/internal/config"
	"github.com/attendance/facepresence/internal/models"
	"github.com/attendance/facepresence/internal/observability"
)

// AllRoomsTopic is the C9 topic a global aggregator republishes every
// per-room delta to, so a client can watch every room's occupancy without
// subscribing to each one individually.
const AllRoomsTopic = "rooms:all"

// AllRoomsRefreshTopic carries the periodic full-snapshot republish,
// published separately from AllRoomsTopic's per-change deltas so a
// subscriber can tell a refresh from a single room's delta.
const AllRoomsRefreshTopic = "rooms:all:refresh"

// RoomTopic is the per-room C9 topic a change notification for roomID is
// published to.
func RoomTopic(roomID uuid.UUID) string { return "room:" + roomID.String() }

type key struct {
	roomID   uuid.UUID
	personID uuid.UUID
}

type entry struct {
	externalID string
	cameraID   uuid.UUID
	lastSeen   time.Time
	confidence float32
}

// RoomNamer resolves a room id to its display name for outgoing deltas.
// Implemented by cmd/server's lazyRoomNamer and by handlers.RoomHandler,
// so presence does not import storage.
type RoomNamer interface {
	RoomName(roomID uuid.UUID) string
}

// Tracker is the presence tracker (C8): a single-lock
// (room_id, person_id) -> entry map with TTL eviction.
type Tracker struct {
	mu      sync.RWMutex
	entries map[key]entry
	cfg     config.PresenceConfig
	names   RoomNamer

	onChange func(models.PresenceDelta)
}

func New(cfg config.PresenceConfig, names RoomNamer) *Tracker {
	return &Tracker{
		entries: make(map[key]entry),
		cfg:     cfg,
		names:   names,
	}
}

// OnChange installs the callback invoked after every Touch/eviction that
// changes a room's occupant set. Must be called before Run.
func (t *Tracker) OnChange(fn func(models.PresenceDelta)) {
	t.onChange = fn
}

// Touch records personID as present in roomID as of now, via cameraID with
// the given match confidence. It is C8's sole write path. A room-change
// notification is emitted only when the entry is added — absent or expired
// before this call — not on a mere refresh of an already-present entry, so
// a continuously-seen person does not flood C9 with a delta on every tick.
func (t *Tracker) Touch(roomID, personID, cameraID uuid.UUID, externalID string, confidence float32, now time.Time) {
	k := key{roomID: roomID, personID: personID}
	cutoff := now.Add(-t.cfg.TTL)

	t.mu.Lock()
	prev, existed := t.entries[k]
	added := !existed || prev.lastSeen.Before(cutoff)
	t.entries[k] = entry{externalID: externalID, cameraID: cameraID, lastSeen: now, confidence: confidence}
	t.mu.Unlock()

	if added {
		t.emitRoom(roomID, now)
	}
}

// Snapshot returns the occupants of roomID as of now, excluding any entry
// whose last sighting is older than the configured TTL. Snapshots never
// return expired entries, even if the periodic eviction sweep hasn't yet
// caught up to them.
func (t *Tracker) Snapshot(roomID uuid.UUID, now time.Time) []models.PresenceOccupant {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.occupantsLocked(roomID, now)
}

// occupantsLocked must be called with t.mu held for reading or writing.
func (t *Tracker) occupantsLocked(roomID uuid.UUID, now time.Time) []models.PresenceOccupant {
	cutoff := now.Add(-t.cfg.TTL)
	var out []models.PresenceOccupant
	for k, e := range t.entries {
		if k.roomID != roomID {
			continue
		}
		if e.lastSeen.Before(cutoff) {
			continue
		}
		out = append(out, models.PresenceOccupant{
			PersonID:   k.personID,
			ExternalID: e.externalID,
			CameraID:   e.cameraID,
			LastSeen:   e.lastSeen,
			Confidence: e.confidence,
		})
	}
	return out
}

// SnapshotAll returns the current occupants of every room that has at least
// one non-expired entry as of now. Room ids are copied under the lock and
// occupants are gathered outside it so a slow caller never holds the lock
// across many rooms.
func (t *Tracker) SnapshotAll(now time.Time) map[uuid.UUID][]models.PresenceOccupant {
	t.mu.RLock()
	rooms := make(map[uuid.UUID]struct{})
	for k := range t.entries {
		rooms[k.roomID] = struct{}{}
	}
	t.mu.RUnlock()

	out := make(map[uuid.UUID][]models.PresenceOccupant, len(rooms))
	for roomID := range rooms {
		if occupants := t.Snapshot(roomID, now); len(occupants) > 0 {
			out[roomID] = occupants
		}
	}
	return out
}

// FullSnapshot returns every room with at least one non-expired occupant as
// of now, plus a global person count deduplicated across rooms by choosing
// each person's most recent entry, per §4.6's snapshot_all.
func (t *Tracker) FullSnapshot(now time.Time) models.AllPresenceSnapshot {
	t.mu.RLock()
	rooms := make(map[uuid.UUID]struct{})
	for k := range t.entries {
		rooms[k.roomID] = struct{}{}
	}
	t.mu.RUnlock()

	mostRecent := make(map[uuid.UUID]time.Time)
	var deltas []models.PresenceDelta
	for roomID := range rooms {
		occupants := t.Snapshot(roomID, now)
		if len(occupants) == 0 {
			continue
		}
		name := ""
		if t.names != nil {
			name = t.names.RoomName(roomID)
		}
		deltas = append(deltas, models.PresenceDelta{
			RoomID:     roomID,
			RoomName:   name,
			Occupants:  occupants,
			TotalCount: len(occupants),
		})
		for _, o := range occupants {
			if prev, ok := mostRecent[o.PersonID]; !ok || o.LastSeen.After(prev) {
				mostRecent[o.PersonID] = o.LastSeen
			}
		}
	}
	return models.AllPresenceSnapshot{Rooms: deltas, TotalPeople: len(mostRecent)}
}

// Locate returns the single room personID currently occupies as of now,
// picking whichever room holds the most recent last-seen entry when the
// person appears in more than one within TTL. The second return value is
// false if personID has no non-expired entry anywhere.
func (t *Tracker) Locate(personID uuid.UUID, now time.Time) (uuid.UUID, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	cutoff := now.Add(-t.cfg.TTL)
	var (
		best    uuid.UUID
		bestSeen time.Time
		found   bool
	)
	for k, e := range t.entries {
		if k.personID != personID {
			continue
		}
		if e.lastSeen.Before(cutoff) {
			continue
		}
		if !found || e.lastSeen.After(bestSeen) {
			best, bestSeen, found = k.roomID, e.lastSeen, true
		}
	}
	return best, found
}

// Run starts the periodic eviction sweep. It blocks until stop is closed, so
// callers should run it in its own goroutine.
func (t *Tracker) Run(stop <-chan struct{}) {
	ticker := time.NewTicker(t.cfg.EvictionPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			t.evict(now)
		}
	}
}

func (t *Tracker) evict(now time.Time) {
	cutoff := now.Add(-t.cfg.TTL)

	t.mu.Lock()
	changedRooms := make(map[uuid.UUID]struct{})
	for k, e := range t.entries {
		if e.lastSeen.Before(cutoff) {
			delete(t.entries, k)
			changedRooms[k.roomID] = struct{}{}
		}
	}
	t.mu.Unlock()

	for roomID := range changedRooms {
		t.emitRoom(roomID, now)
	}
}

func (t *Tracker) emitRoom(roomID uuid.UUID, now time.Time) {
	occupants := t.Snapshot(roomID, now)
	observability.PresenceRoomOccupants.WithLabelValues(roomID.String()).Set(float64(len(occupants)))

	if t.onChange == nil {
		return
	}
	name := ""
	if t.names != nil {
		name = t.names.RoomName(roomID)
	}
	t.onChange(models.PresenceDelta{
		RoomID:     roomID,
		RoomName:   name,
		Occupants:  occupants,
		TotalCount: len(occupants),
	})
}
