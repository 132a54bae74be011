package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FramesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fd",
		Name:      "frames_processed_total",
		Help:      "Total number of frames pulled from a camera's frame source",
	}, []string{"camera_id"})

	FacesDetected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fd",
		Name:      "faces_detected_total",
		Help:      "Total number of faces detected",
	}, []string{"camera_id"})

	FacesRecognized = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fd",
		Name:      "faces_recognized_total",
		Help:      "Total number of faces matched against the similarity index",
	}, []string{"camera_id"})

	InferenceDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "fd",
		Name:      "inference_duration_seconds",
		Help:      "Duration of ML inference stages",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
	}, []string{"stage"})

	ActiveCameras = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "fd",
		Name:      "active_cameras",
		Help:      "Number of running camera workers, whatever their connection state",
	})

	CameraState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "fd",
		Name:      "camera_worker_state",
		Help:      "1 if the camera worker is currently in this state, else 0",
	}, []string{"camera_id", "state"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "fd",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "fd",
		Name:      "ws_connections",
		Help:      "Number of active WebSocket connections",
	})

	AttendanceCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "fd",
		Name:      "attendance_created_total",
		Help:      "Total number of attendance records created",
	})

	AttendanceAlready = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "fd",
		Name:      "attendance_already_total",
		Help:      "Total number of check-ins that found an existing record for the day",
	})

	PresenceRoomOccupants = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "fd",
		Name:      "presence_room_occupants",
		Help:      "Current occupant count per room",
	}, []string{"room_id"})

	IndexSize = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "fd",
		Name:      "index_size",
		Help:      "Current number of occupied slots in the similarity index",
	})

	IndexSearchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "fd",
		Name:      "index_search_duration_seconds",
		Help:      "Duration of similarity-index searches",
		Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 12),
	})

	HubDroppedMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fd",
		Name:      "hub_dropped_messages_total",
		Help:      "Total number of messages dropped for a slow subscriber",
	}, []string{"topic"})
)
