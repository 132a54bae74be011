package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/attendance/facepresence/internal/camera"
	"github.com/attendance/facepresence/internal/control"
	"github.com/attendance/facepresence/internal/models"
	"github.com/attendance/facepresence/internal/presence"
	"github.com/attendance/facepresence/internal/storage"
	"github.com/attendance/facepresence/pkg/dto"
)

// RoomHandler implements /v1/rooms and /v1/rooms/{id}/presence, grounded on
// original_source/presence_service.py's endpoint shapes plus the spec's
// rooms/cameras CRUD.
type RoomHandler struct {
	db       *storage.PostgresStore
	manager  *camera.Manager
	presence *presence.Tracker
	bus      *control.Bus
}

func NewRoomHandler(db *storage.PostgresStore, manager *camera.Manager, pres *presence.Tracker, bus *control.Bus) *RoomHandler {
	return &RoomHandler{db: db, manager: manager, presence: pres, bus: bus}
}

// RoomName implements presence.RoomNamer. PresenceAll uses it to label each
// room; it looks the room up with context.Background().
func (h *RoomHandler) RoomName(roomID uuid.UUID) string {
	room, err := h.db.GetRoom(context.Background(), roomID)
	if err != nil {
		return ""
	}
	return room.Name
}

func (h *RoomHandler) CreateRoom(c *gin.Context) {
	var req dto.CreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	room, err := h.db.CreateRoom(c.Request.Context(), req.Name)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, dto.NewRoomResponse(room, nil))
}

func (h *RoomHandler) ListRooms(c *gin.Context) {
	rooms, err := h.db.ListRooms(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	out := make([]dto.RoomResponse, 0, len(rooms))
	for i := range rooms {
		cams, err := h.db.ListCamerasByRoom(c.Request.Context(), rooms[i].ID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		out = append(out, dto.NewRoomResponse(&rooms[i], h.cameraResponses(cams)))
	}
	c.JSON(http.StatusOK, out)
}

func (h *RoomHandler) GetRoom(c *gin.Context) {
	room, err := h.lookupRoom(c)
	if err != nil {
		return
	}
	cams, err := h.db.ListCamerasByRoom(c.Request.Context(), room.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, dto.NewRoomResponse(room, h.cameraResponses(cams)))
}

func (h *RoomHandler) DeleteRoom(c *gin.Context) {
	room, err := h.lookupRoom(c)
	if err != nil {
		return
	}

	cams, err := h.db.ListCamerasByRoom(c.Request.Context(), room.ID)
	if err == nil {
		for _, cam := range cams {
			h.manager.StopCamera(cam.ID)
		}
	}

	if err := h.db.DeleteRoom(c.Request.Context(), room.ID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *RoomHandler) CreateCamera(c *gin.Context) {
	room, err := h.lookupRoom(c)
	if err != nil {
		return
	}

	var req dto.CreateCameraRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	cam, err := h.db.CreateCamera(c.Request.Context(), room.ID, req.Name, req.SourceAddr)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, dto.NewCameraResponse(cam))
}

// StartCamera handles POST /v1/rooms/{id}/cameras/{cid}/start.
func (h *RoomHandler) StartCamera(c *gin.Context) {
	cam, err := h.lookupCamera(c)
	if err != nil {
		return
	}
	if err := h.bus.Publish(control.Command{Action: control.ActionStart, CameraID: cam.ID}); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusAccepted)
}

// StopCamera handles POST /v1/rooms/{id}/cameras/{cid}/stop.
func (h *RoomHandler) StopCamera(c *gin.Context) {
	cam, err := h.lookupCamera(c)
	if err != nil {
		return
	}
	if err := h.bus.Publish(control.Command{Action: control.ActionStop, CameraID: cam.ID}); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusAccepted)
}

// StartAll handles POST /v1/rooms/{id}/start-all.
func (h *RoomHandler) StartAll(c *gin.Context) {
	h.forEachCameraInRoom(c, control.ActionStart)
}

// StopAll handles POST /v1/rooms/{id}/stop-all.
func (h *RoomHandler) StopAll(c *gin.Context) {
	h.forEachCameraInRoom(c, control.ActionStop)
}

func (h *RoomHandler) forEachCameraInRoom(c *gin.Context, action control.Action) {
	room, err := h.lookupRoom(c)
	if err != nil {
		return
	}
	cams, err := h.db.ListCamerasByRoom(c.Request.Context(), room.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	for _, cam := range cams {
		_ = h.bus.Publish(control.Command{Action: action, CameraID: cam.ID})
	}
	c.Status(http.StatusAccepted)
}

// Presence handles GET /v1/rooms/{id}/presence.
func (h *RoomHandler) Presence(c *gin.Context) {
	room, err := h.lookupRoom(c)
	if err != nil {
		return
	}
	occupants := h.presence.Snapshot(room.ID, time.Now())
	c.JSON(http.StatusOK, dto.RoomPresenceResponse{
		RoomID:     room.ID,
		RoomName:   room.Name,
		Occupants:  dto.NewPresenceOccupantResponses(occupants),
		TotalCount: len(occupants),
	})
}

// PresenceAll handles GET /v1/rooms/presence/all.
func (h *RoomHandler) PresenceAll(c *gin.Context) {
	all := h.presence.SnapshotAll(time.Now())
	out := make([]dto.RoomPresenceResponse, 0, len(all))
	for roomID, occupants := range all {
		out = append(out, dto.RoomPresenceResponse{
			RoomID:     roomID,
			RoomName:   h.RoomName(roomID),
			Occupants:  dto.NewPresenceOccupantResponses(occupants),
			TotalCount: len(occupants),
		})
	}
	c.JSON(http.StatusOK, out)
}

// PresenceForStudent handles GET /v1/rooms/presence/student/{external_id}.
func (h *RoomHandler) PresenceForStudent(c *gin.Context) {
	externalID := c.Param("external_id")
	person, err := h.db.GetPersonByExternalID(c.Request.Context(), externalID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "student not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	roomID, ok := h.presence.Locate(person.ID, time.Now())
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "student not currently present in any room"})
		return
	}
	room, err := h.db.GetRoom(c.Request.Context(), roomID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, dto.NewRoomResponse(room, nil))
}

// PresenceStats handles GET /v1/rooms/presence/stats.
func (h *RoomHandler) PresenceStats(c *gin.Context) {
	all := h.presence.SnapshotAll(time.Now())
	perRoom := make(map[string]int, len(all))
	total := 0
	for roomID, occupants := range all {
		perRoom[roomID.String()] = len(occupants)
		total += len(occupants)
	}
	c.JSON(http.StatusOK, dto.PresenceStatsResponse{TotalOccupants: total, PerRoom: perRoom})
}

func (h *RoomHandler) cameraResponses(cams []models.Camera) []dto.CameraResponse {
	out := make([]dto.CameraResponse, len(cams))
	for i := range cams {
		cam := cams[i]
		if status := h.manager.Status(cam.ID); status != nil {
			cam.State = status.State
		}
		out[i] = dto.NewCameraResponse(&cam)
	}
	return out
}

func (h *RoomHandler) lookupRoom(c *gin.Context) (*models.Room, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid room id"})
		return nil, err
	}
	room, err := h.db.GetRoom(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return nil, err
	}
	return room, nil
}

func (h *RoomHandler) lookupCamera(c *gin.Context) (*models.Camera, error) {
	id, err := uuid.Parse(c.Param("cid"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid camera id"})
		return nil, err
	}
	cam, err := h.db.GetCamera(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "camera not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return nil, err
	}
	return cam, nil
}
