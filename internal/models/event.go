package models

import (
	"time"

	"github.com/google/uuid"
)

// BBox is a pixel-space bounding box, x1,y1,x2,y2.
type BBox [4]float32

// Match is the result of one face matched against the similarity index (C5).
type Match struct {
	PersonID   uuid.UUID
	Confidence float32
	BBox       BBox
}

// RecognitionStatus is the per-person disposition inside a RecognitionEvent.
type RecognitionStatus string

const (
	RecognitionCheckedIn  RecognitionStatus = "checked_in"
	RecognitionAlreadyIn  RecognitionStatus = "already_attended"
	RecognitionPresentOnly RecognitionStatus = "present_only"
)

// RecognitionEvent is published to the camera:<id> control channel whenever at
// least one recognition passed the worker's cooldown (C7 step 4b). On the
// camera WebSocket it is sent as the `data` field of a
// `{topic, seq, type: "recognition", data}` envelope; `recognized` and
// `timestamp` are not top-level fields of that message.
type RecognitionEvent struct {
	CameraID   uuid.UUID          `json:"camera_id"`
	Timestamp  time.Time          `json:"timestamp"`
	Recognized []RecognizedPerson `json:"recognized"`
}

// RecognizedPerson is one entry inside a RecognitionEvent's `recognized` list.
type RecognizedPerson struct {
	PersonID    uuid.UUID         `json:"person_id"`
	ExternalID  string            `json:"person"`
	Confidence  float32           `json:"confidence"`
	Status      RecognitionStatus `json:"status"`
	CheckInTime *time.Time        `json:"check_in_time,omitempty"`
}

// PresenceDelta is published to room:<id> whenever C8 reports a membership
// change; on the WebSocket it is the `data` field of a
// `{topic, seq, type: "presence_update", data}` envelope.
type PresenceDelta struct {
	RoomID     uuid.UUID          `json:"room_id"`
	RoomName   string             `json:"room_name"`
	Occupants  []PresenceOccupant `json:"occupants"`
	TotalCount int                `json:"total_count"`
}

// PresenceOccupant is one entry in a room presence snapshot.
type PresenceOccupant struct {
	PersonID   uuid.UUID `json:"person_id"`
	ExternalID string    `json:"external_id"`
	CameraID   uuid.UUID `json:"camera_id"`
	LastSeen   time.Time `json:"last_seen"`
	Confidence float32   `json:"confidence"`
}

// AllPresenceSnapshot is the payload of the all-rooms WebSocket surface's
// `initial_all_presence` and `all_presence_refresh` messages: every room's
// current occupants plus a global count deduplicated by person.
type AllPresenceSnapshot struct {
	Rooms       []PresenceDelta `json:"rooms"`
	TotalPeople int             `json:"total_people"`
}

// WorkerStatus mirrors the status text message published on a camera's WebSocket.
type WorkerStatus struct {
	CameraID   uuid.UUID   `json:"camera_id"`
	Connected  bool        `json:"connected"`
	Running    bool        `json:"running"`
	FPS        float64     `json:"fps"`
	FrameCount int64       `json:"frame_count"`
	State      CameraState `json:"state"`
}
