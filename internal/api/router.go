package api

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/attendance/facepresence/internal/api/handlers"
	"github.com/attendance/facepresence/internal/api/ws"
	"github.com/attendance/facepresence/internal/attendance"
	"github.com/attendance/facepresence/internal/auth"
	"github.com/attendance/facepresence/internal/camera"
	"github.com/attendance/facepresence/internal/control"
	"github.com/attendance/facepresence/internal/enroll"
	"github.com/attendance/facepresence/internal/hub"
	"github.com/attendance/facepresence/internal/index"
	"github.com/attendance/facepresence/internal/presence"
	"github.com/attendance/facepresence/internal/recognize"
	"github.com/attendance/facepresence/internal/storage"
)

// RouterConfig bundles everything the HTTP/WS edge needs; cmd/server
// assembles one of these after every other component is wired up.
type RouterConfig struct {
	APIKey     string
	DB         *storage.PostgresStore
	MinIO      *storage.MinIOStore
	Bus        *control.Bus
	Hub        *hub.Hub
	Index      *index.Index
	Enroll     *enroll.Coordinator
	Recognizer *recognize.Engine
	Attendance *attendance.Gate
	Presence   *presence.Tracker
	Camera     *camera.Manager
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggingMiddleware())
	r.Use(cors.Default())

	// System endpoints (no auth)
	systemH := handlers.NewSystemHandler(cfg.DB, cfg.MinIO, cfg.Bus, cfg.Index)
	r.GET("/healthz", systemH.Healthz)
	r.GET("/readyz", systemH.Readyz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	wsServer := ws.NewServer(cfg.Hub, cfg.Camera, cfg.Presence)
	r.GET("/ws/cameras/:camera_id/stream", wsServer.CameraStream)
	r.GET("/ws/rooms/all/presence", wsServer.RoomsPresence)

	v1 := r.Group("/v1")
	v1.Use(auth.APIKeyMiddleware(cfg.APIKey))

	studentH := handlers.NewStudentHandler(cfg.DB, cfg.Enroll)
	v1.POST("/students/register", studentH.Register)
	v1.GET("/students", studentH.List)
	v1.GET("/students/:external_id", studentH.Get)
	v1.DELETE("/students/:external_id", studentH.Delete)
	v1.POST("/students/:external_id/upload-images", studentH.UploadImages)

	attendanceH := handlers.NewAttendanceHandler(cfg.DB, cfg.MinIO, cfg.Recognizer, cfg.Attendance)
	v1.POST("/attendance/check-in", attendanceH.CheckIn)
	v1.GET("/attendance/today", attendanceH.Today)
	v1.GET("/attendance/student/:external_id", attendanceH.ForStudent)
	v1.GET("/attendance/statistics", attendanceH.Statistics)

	roomH := handlers.NewRoomHandler(cfg.DB, cfg.Camera, cfg.Presence, cfg.Bus)
	v1.POST("/rooms", roomH.CreateRoom)
	v1.GET("/rooms", roomH.ListRooms)
	v1.GET("/rooms/:id", roomH.GetRoom)
	v1.DELETE("/rooms/:id", roomH.DeleteRoom)
	v1.POST("/rooms/:id/cameras", roomH.CreateCamera)
	v1.POST("/rooms/:id/cameras/:cid/start", roomH.StartCamera)
	v1.POST("/rooms/:id/cameras/:cid/stop", roomH.StopCamera)
	v1.POST("/rooms/:id/start-all", roomH.StartAll)
	v1.POST("/rooms/:id/stop-all", roomH.StopAll)
	v1.GET("/rooms/:id/presence", roomH.Presence)
	v1.GET("/rooms/presence/all", roomH.PresenceAll)
	v1.GET("/rooms/presence/student/:external_id", roomH.PresenceForStudent)
	v1.GET("/rooms/presence/stats", roomH.PresenceStats)

	return r
}
