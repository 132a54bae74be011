package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/google/uuid"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/attendance/facepresence/internal/api"
	"github.com/attendance/facepresence/internal/attendance"
	"github.com/attendance/facepresence/internal/camera"
	"github.com/attendance/facepresence/internal/config"
	"github.com/attendance/facepresence/internal/control"
	"github.com/attendance/facepresence/internal/enroll"
	"github.com/attendance/facepresence/internal/hub"
	"github.com/attendance/facepresence/internal/index"
	"github.com/attendance/facepresence/internal/models"
	"github.com/attendance/facepresence/internal/observability"
	"github.com/attendance/facepresence/internal/presence"
	"github.com/attendance/facepresence/internal/recognize"
	"github.com/attendance/facepresence/internal/storage"
	"github.com/attendance/facepresence/internal/vision"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting attendance service", "port", cfg.Server.Port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := storage.NewPostgresStore(ctx, cfg.Database)
	if err != nil {
		slog.Error("connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	minioStore, err := storage.NewMinIOStore(cfg.MinIO)
	if err != nil {
		slog.Error("connect to minio", "error", err)
		os.Exit(1)
	}
	if err := minioStore.EnsureBucket(ctx); err != nil {
		slog.Warn("ensure minio bucket", "error", err)
	}

	bus, err := control.Connect(cfg.NATS.URL)
	if err != nil {
		slog.Error("connect to nats", "error", err)
		os.Exit(1)
	}
	defer bus.Close()

	ort.SetSharedLibraryPath(getONNXLibPath())
	if err := ort.InitializeEnvironment(); err != nil {
		slog.Error("onnx runtime init failed", "error", err)
		os.Exit(1)
	}
	defer ort.DestroyEnvironment()

	provider, err := vision.NewProvider(
		cfg.Vision.ModelsDir+"/detector.onnx",
		cfg.Vision.ModelsDir+"/embedder.onnx",
		float32(cfg.Vision.DetectionThreshold),
	)
	if err != nil {
		slog.Error("load vision models", "error", err)
		os.Exit(1)
	}
	defer provider.Close()

	// Rebuild the similarity index (C3) from the on-disk snapshot, falling
	// back to a full Postgres scan when no snapshot is present yet.
	idx := index.New(models.EmbeddingDimension)
	if err := idx.Load(cfg.Storage.VectorsPath(), cfg.Storage.SlotsPath()); err != nil {
		slog.Warn("load index snapshot, rebuilding from postgres", "error", err)
	}
	if idx.Size() == 0 {
		if err := rebuildIndexFromStore(ctx, db, idx); err != nil {
			slog.Error("rebuild index from postgres", "error", err)
			os.Exit(1)
		}
	}
	slog.Info("similarity index ready", "size", idx.Size())

	enrollCoord := enroll.New(db, minioStore, provider, idx, cfg.Recognition)
	recognizer := recognize.New(provider, idx, cfg.Recognition)

	attendanceGate, err := attendance.New(db, minioStore, cfg.Attendance)
	if err != nil {
		slog.Error("init attendance gate", "error", err)
		os.Exit(1)
	}

	roomNamer := &lazyRoomNamer{db: db}
	presenceTracker := presence.New(cfg.Presence, roomNamer)

	subscriptionHub := hub.New(cfg.Hub)
	presenceTracker.OnChange(func(delta models.PresenceDelta) {
		payload, err := json.Marshal(delta)
		if err != nil {
			slog.Error("marshal presence delta", "error", err)
			return
		}
		// Publish the room-scoped delta on its own independently-ordered
		// topic, then act as the global aggregator by republishing the
		// same delta onto the all-rooms topic.
		subscriptionHub.Publish(presence.RoomTopic(delta.RoomID), payload)
		subscriptionHub.Publish(presence.AllRoomsTopic, payload)
	})

	cameraManager := camera.NewManager(recognizer, presenceTracker, attendanceGate, db, subscriptionHub, cfg.Camera)

	controlSub, err := bus.Subscribe(func(cmd control.Command) {
		cam, err := db.GetCamera(context.Background(), cmd.CameraID)
		if err != nil {
			slog.Error("control command: unknown camera", "camera_id", cmd.CameraID, "error", err)
			return
		}
		switch cmd.Action {
		case control.ActionStart:
			if err := cameraManager.StartCamera(context.Background(), *cam); err != nil {
				slog.Warn("start camera", "camera_id", cmd.CameraID, "error", err)
			}
		case control.ActionStop:
			cameraManager.StopCamera(cmd.CameraID)
		}
	})
	if err != nil {
		slog.Error("subscribe to control bus", "error", err)
		os.Exit(1)
	}
	defer controlSub.Unsubscribe()

	presenceStop := make(chan struct{})
	go presenceTracker.Run(presenceStop)

	refreshStop := make(chan struct{})
	go runPresenceRefresh(cfg.Presence.RefreshPeriod, presenceTracker, subscriptionHub, refreshStop)

	if err := resumeActiveCameras(ctx, db, cameraManager); err != nil {
		slog.Warn("resume active cameras", "error", err)
	}

	router := api.NewRouter(api.RouterConfig{
		APIKey:     cfg.Server.APIKey,
		DB:         db,
		MinIO:      minioStore,
		Bus:        bus,
		Hub:        subscriptionHub,
		Index:      idx,
		Enroll:     enrollCoord,
		Recognizer: recognizer,
		Attendance: attendanceGate,
		Presence:   presenceTracker,
		Camera:     cameraManager,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("API server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down...")
	close(presenceStop)
	close(refreshStop)
	cameraManager.StopAll()
	cancel()

	if err := idx.Persist(cfg.Storage.VectorsPath(), cfg.Storage.SlotsPath()); err != nil {
		slog.Error("persist index snapshot", "error", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	slog.Info("server stopped")
}

// rebuildIndexFromStore scans every reference embedding in Postgres and
// re-populates idx, used when no on-disk snapshot exists yet (first boot)
// or the snapshot failed to load.
func rebuildIndexFromStore(ctx context.Context, db *storage.PostgresStore, idx *index.Index) error {
	refs, err := db.ListAllReferenceEmbeddings(ctx)
	if err != nil {
		return fmt.Errorf("list reference embeddings: %w", err)
	}
	for _, ref := range refs {
		if _, err := idx.Add(ref.PersonID, ref.Embedding); err != nil {
			return fmt.Errorf("add embedding %s to index: %w", ref.ID, err)
		}
	}
	return nil
}

// resumeActiveCameras starts a worker for every camera whose Active flag
// survived a restart, so the fleet comes back up without an operator
// having to re-issue start commands for each room.
func resumeActiveCameras(ctx context.Context, db *storage.PostgresStore, mgr *camera.Manager) error {
	rooms, err := db.ListRooms(ctx)
	if err != nil {
		return fmt.Errorf("list rooms: %w", err)
	}
	for _, room := range rooms {
		cams, err := db.ListCamerasByRoom(ctx, room.ID)
		if err != nil {
			slog.Warn("list cameras for room", "room_id", room.ID, "error", err)
			continue
		}
		for _, cam := range cams {
			if !cam.Active {
				continue
			}
			if err := mgr.StartCamera(ctx, cam); err != nil {
				slog.Warn("resume camera", "camera_id", cam.ID, "error", err)
			}
		}
	}
	return nil
}

// runPresenceRefresh periodically rebroadcasts every room's full occupant
// snapshot, so a client that joins mid-session converges without waiting
// for the next Touch/eviction in any one room.
func runPresenceRefresh(period time.Duration, tracker *presence.Tracker, bus *hub.Hub, stop <-chan struct{}) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			snapshot := tracker.FullSnapshot(time.Now())
			payload, err := json.Marshal(snapshot)
			if err != nil {
				slog.Error("marshal presence refresh", "error", err)
				continue
			}
			bus.Publish(presence.AllRoomsRefreshTopic, payload)
		}
	}
}

// lazyRoomNamer implements presence.RoomNamer against Postgres. The tracker
// uses it to name rooms in every delta and full snapshot it builds, looking
// each room up with context.Background().
type lazyRoomNamer struct {
	db *storage.PostgresStore
}

func (r *lazyRoomNamer) RoomName(roomID uuid.UUID) string {
	room, err := r.db.GetRoom(context.Background(), roomID)
	if err != nil {
		return ""
	}
	return room.Name
}

// getONNXLibPath returns the ONNX Runtime shared library path.
func getONNXLibPath() string {
	switch runtime.GOOS {
	case "windows":
		return "onnxruntime.dll"
	case "linux":
		return "libonnxruntime.so"
	case "darwin":
		return "libonnxruntime.dylib"
	default:
		return "onnxruntime.dll"
	}
}
