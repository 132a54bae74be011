package models

import "github.com/google/uuid"

// Room is a logical grouping of cameras.
type Room struct {
	ID     uuid.UUID
	Name   string
	Active bool
}

// CameraState is the camera worker's runtime status (C7). Never persisted.
type CameraState string

const (
	CameraOffline    CameraState = "offline"
	CameraConnecting CameraState = "connecting"
	CameraStreaming  CameraState = "streaming"
	CameraFailed     CameraState = "failed"
	CameraStopped    CameraState = "stopped"
)

// Camera is one frame source, owned by a room.
type Camera struct {
	ID          uuid.UUID
	RoomID      uuid.UUID
	Name        string
	SourceAddr  string
	Active      bool
	State       CameraState // runtime only, not persisted
	LastError   string
}
