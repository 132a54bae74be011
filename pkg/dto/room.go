package dto

import (
	"time"

	"github.com/google/uuid"

	"github.com/attendance/facepresence/internal/models"
)

// CreateRoomRequest is the body of POST /v1/rooms.
type CreateRoomRequest struct {
	Name string `json:"name" binding:"required"`
}

// RoomResponse is the JSON shape for a room, including its cameras' live
// runtime state (not persisted, read from the in-process camera manager).
type RoomResponse struct {
	ID      uuid.UUID        `json:"id"`
	Name    string           `json:"name"`
	Active  bool             `json:"active"`
	Cameras []CameraResponse `json:"cameras,omitempty"`
}

func NewRoomResponse(r *models.Room, cameras []CameraResponse) RoomResponse {
	return RoomResponse{ID: r.ID, Name: r.Name, Active: r.Active, Cameras: cameras}
}

// CreateCameraRequest is the body of POST /v1/rooms/{id}/cameras.
type CreateCameraRequest struct {
	Name       string `json:"name" binding:"required"`
	SourceAddr string `json:"source_addr" binding:"required"`
}

// CameraResponse is the JSON shape for a camera. State reflects the live
// worker status when one is running; LastError is not filled in by any
// handler.
type CameraResponse struct {
	ID         uuid.UUID          `json:"id"`
	RoomID     uuid.UUID          `json:"room_id"`
	Name       string             `json:"name"`
	SourceAddr string             `json:"source_addr"`
	Active     bool               `json:"active"`
	State      models.CameraState `json:"state"`
	LastError  string             `json:"last_error,omitempty"`
}

func NewCameraResponse(c *models.Camera) CameraResponse {
	return CameraResponse{
		ID:         c.ID,
		RoomID:     c.RoomID,
		Name:       c.Name,
		SourceAddr: c.SourceAddr,
		Active:     c.Active,
		State:      c.State,
		LastError:  c.LastError,
	}
}

// PresenceOccupantResponse is one entry in a room presence snapshot.
type PresenceOccupantResponse struct {
	PersonID   uuid.UUID `json:"person_id"`
	ExternalID string    `json:"external_id"`
	CameraID   uuid.UUID `json:"camera_id"`
	LastSeen   time.Time `json:"last_seen"`
	Confidence float32   `json:"confidence"`
}

// RoomPresenceResponse is the body of GET /v1/rooms/{id}/presence.
type RoomPresenceResponse struct {
	RoomID     uuid.UUID                  `json:"room_id"`
	RoomName   string                     `json:"room_name"`
	Occupants  []PresenceOccupantResponse `json:"occupants"`
	TotalCount int                        `json:"total_count"`
}

func NewPresenceOccupantResponses(occupants []models.PresenceOccupant) []PresenceOccupantResponse {
	out := make([]PresenceOccupantResponse, len(occupants))
	for i, o := range occupants {
		out[i] = PresenceOccupantResponse{
			PersonID:   o.PersonID,
			ExternalID: o.ExternalID,
			CameraID:   o.CameraID,
			LastSeen:   o.LastSeen,
			Confidence: o.Confidence,
		}
	}
	return out
}

// PresenceStatsResponse is the body of GET /v1/rooms/presence/stats.
type PresenceStatsResponse struct {
	TotalOccupants int            `json:"total_occupants"`
	PerRoom        map[string]int `json:"per_room"`
}
