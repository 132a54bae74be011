// Package ws adapts the subscription hub (C9) onto gorilla/websocket for
// the service's two WebSocket surfaces: per-camera frame/event streams and
// the all-rooms presence stream.
package ws

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/google/uuid"

	"github.com/attendance/facepresence/internal/camera"
	"github.com/attendance/facepresence/internal/hub"
	"github.com/attendance/facepresence/internal/models"
	"github.com/attendance/facepresence/internal/presence"
	"github.com/attendance/facepresence/pkg/dto"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // development-friendly; no cross-origin WS restriction
	},
}

// statusPushPeriod is how often the camera-stream socket re-announces the
// worker's connected/running/fps/frame_count status.
const statusPushPeriod = 5 * time.Second

// Server upgrades incoming HTTP connections to the two WebSocket surfaces,
// relaying messages from the subscription hub to each client's socket.
type Server struct {
	bus      *hub.Hub
	cameras  *camera.Manager
	presence *presence.Tracker
}

func NewServer(bus *hub.Hub, cameras *camera.Manager, pres *presence.Tracker) *Server {
	return &Server{bus: bus, cameras: cameras, presence: pres}
}

// CameraStream handles GET /ws/cameras/{camera_id}/stream. It multiplexes
// the camera's raw frame stream (binary) and its recognition events (JSON)
// onto a single socket, interleaved with a periodic worker status message.
func (s *Server) CameraStream(c *gin.Context) {
	cameraID := c.Param("camera_id")
	if cameraID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "camera_id required"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Error("ws upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	frameSub := s.bus.Subscribe("camera:" + cameraID + ":stream")
	eventSub := s.bus.Subscribe("camera:" + cameraID + ":events")
	defer s.bus.Unsubscribe(frameSub)
	defer s.bus.Unsubscribe(eventSub)

	id, err := uuid.Parse(cameraID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid camera_id"})
		return
	}

	statusTicker := time.NewTicker(statusPushPeriod)
	defer statusTicker.Stop()

	done := watchForClose(conn)

	if !s.writeStatus(conn, id) {
		return
	}

	for {
		select {
		case <-done:
			return
		case msg := <-frameSub.C:
			if !writeBinaryFrame(conn, msg) {
				return
			}
		case msg := <-eventSub.C:
			if !writeEnvelope(conn, msg, "recognition") {
				return
			}
		case <-statusTicker.C:
			if !s.writeStatus(conn, id) {
				return
			}
		}
	}
}

// writeStatus sends the {type:"status", connected, running, fps,
// frame_count} message for cameraID.
func (s *Server) writeStatus(conn *websocket.Conn, cameraID uuid.UUID) bool {
	status := s.cameras.Status(cameraID)
	if status == nil {
		status = &models.WorkerStatus{CameraID: cameraID}
	}

	data, err := json.Marshal(dto.WSEnvelope{
		Topic: "camera:" + cameraID.String() + ":status",
		Type:  "status",
		Data:  status,
	})
	if err != nil {
		slog.Error("marshal ws status", "error", err)
		return true
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		if !strings.Contains(err.Error(), "use of closed network connection") {
			slog.Debug("ws status write failed, closing", "error", err)
		}
		return false
	}
	return true
}

// RoomsPresence handles GET /ws/rooms/all/presence: the all-rooms
// aggregator topic, carrying every room's occupancy delta and the
// periodic full refresh.
func (s *Server) RoomsPresence(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Error("ws upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	deltaSub := s.bus.Subscribe(presence.AllRoomsTopic)
	refreshSub := s.bus.Subscribe(presence.AllRoomsRefreshTopic)
	defer s.bus.Unsubscribe(deltaSub)
	defer s.bus.Unsubscribe(refreshSub)

	done := watchForClose(conn)

	if !s.writeInitialPresence(conn) {
		return
	}

	for {
		select {
		case <-done:
			return
		case msg := <-deltaSub.C:
			if !writeEnvelope(conn, msg, "presence_update") {
				return
			}
		case msg := <-refreshSub.C:
			if !writeEnvelope(conn, msg, "all_presence_refresh") {
				return
			}
		}
	}
}

// writeInitialPresence sends the {type:"initial_all_presence", rooms,
// total_people} message a newly connected client needs to converge without
// waiting for the next delta or periodic refresh.
func (s *Server) writeInitialPresence(conn *websocket.Conn) bool {
	snapshot := s.presence.FullSnapshot(time.Now())

	data, err := json.Marshal(dto.WSEnvelope{
		Topic: presence.AllRoomsTopic,
		Type:  "initial_all_presence",
		Data:  snapshot,
	})
	if err != nil {
		slog.Error("marshal initial presence snapshot", "error", err)
		return true
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		if !strings.Contains(err.Error(), "use of closed network connection") {
			slog.Debug("ws initial presence write failed, closing", "error", err)
		}
		return false
	}
	return true
}

// writeBinaryFrame sends a camera frame as a binary-opcode WS message — the
// raw JPEG bytes, no JSON wrapping — interleaved with the surface's text
// (status/recognition) messages.
func writeBinaryFrame(conn *websocket.Conn, msg hub.Message) bool {
	if err := conn.WriteMessage(websocket.BinaryMessage, msg.Payload); err != nil {
		if !strings.Contains(err.Error(), "use of closed network connection") {
			slog.Debug("ws frame write failed, closing", "error", err)
		}
		return false
	}
	return true
}

// writeEnvelope writes msg as a JSON text frame, embedding its
// already-JSON Payload unmodified via json.RawMessage.
func writeEnvelope(conn *websocket.Conn, msg hub.Message, msgType string) bool {
	env := dto.WSEnvelope{Topic: msg.Topic, Seq: msg.Seq, Type: msgType, Data: json.RawMessage(msg.Payload)}

	data, err := json.Marshal(env)
	if err != nil {
		slog.Error("marshal ws envelope", "error", err)
		return true
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		if !strings.Contains(err.Error(), "use of closed network connection") {
			slog.Debug("ws write failed, closing", "error", err)
		}
		return false
	}
	return true
}

// watchForClose reads (and discards) incoming messages so a client close
// or network error is detected promptly; the channel closes when that
// happens.
func watchForClose(conn *websocket.Conn) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
	return done
}
