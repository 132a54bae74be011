package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	NATS        NATSConfig        `yaml:"nats"`
	MinIO       MinIOConfig       `yaml:"minio"`
	Storage     StorageConfig     `yaml:"storage"`
	Vision      VisionConfig      `yaml:"vision"`
	Recognition RecognitionConfig `yaml:"recognition"`
	Attendance  AttendanceConfig  `yaml:"attendance"`
	Camera      CameraConfig      `yaml:"camera"`
	Presence    PresenceConfig    `yaml:"presence"`
	Hub         HubConfig         `yaml:"hub"`
	Logging     LoggingConfig     `yaml:"logging"`
}

type ServerConfig struct {
	Port   int    `yaml:"port"`
	APIKey string `yaml:"api_key"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	MaxConns int    `yaml:"max_conns"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

type NATSConfig struct {
	URL string `yaml:"url"`
}

type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// StorageConfig covers on-disk state not owned by Postgres/MinIO: the
// similarity index's two persisted artifacts. FrameRetention (days) is
// read from the config file and defaulted, but nothing in the service uses
// it; no frame cleanup runs.
type StorageConfig struct {
	IndexDir       string `yaml:"index_dir"`
	FrameRetention int    `yaml:"frame_retention_days"`
}

func (s StorageConfig) VectorsPath() string { return s.IndexDir + "/vectors.bin" }
func (s StorageConfig) SlotsPath() string   { return s.IndexDir + "/slots.json" }

// VisionConfig configures the concrete ONNX-backed embedding provider (C1).
type VisionConfig struct {
	ModelsDir          string  `yaml:"models_dir"`
	DetectionThreshold float64 `yaml:"detection_threshold"`
}

// RecognitionConfig holds the thresholds named in spec.md §6.
type RecognitionConfig struct {
	ConfidenceThreshold   float64       `yaml:"confidence_threshold"`   // CONFIDENCE_THRESHOLD
	QMin                  float64       `yaml:"q_min"`                  // Q_MIN (enrollment)
	QMinRecognize         float64       `yaml:"q_min_recognize"`        // Q_MIN_RECOGNIZE
	AMin                  float64       `yaml:"a_min"`                  // A_MIN, bbox area in px^2
	ImageProcessingTimeout time.Duration `yaml:"image_processing_timeout"`
	MaxImagesPerPerson    int           `yaml:"max_images_per_person"`
}

// AttendanceConfig resolves the open question on the calendar-day time zone.
type AttendanceConfig struct {
	Min      float64 `yaml:"min"`      // ATTENDANCE_MIN, >= Recognition.ConfidenceThreshold
	Timezone string  `yaml:"timezone"` // IANA zone name, required
}

// CameraConfig governs the camera worker (C7) lifecycle and rate limits.
type CameraConfig struct {
	RecognitionHz         float64       `yaml:"recognition_hz"`
	StreamMaxHz           float64       `yaml:"stream_max_hz"`
	EventCooldown         time.Duration `yaml:"event_cooldown"`
	ConnectTimeout        time.Duration `yaml:"connect_timeout"`
	ShutdownGrace         time.Duration `yaml:"shutdown_grace"`
	PersistenceFailWindow time.Duration `yaml:"persistence_fail_window"`
}

// PresenceConfig governs the presence tracker (C8).
type PresenceConfig struct {
	TTL            time.Duration `yaml:"ttl"`
	EvictionPeriod time.Duration `yaml:"eviction_period"`
	RefreshPeriod  time.Duration `yaml:"refresh_period"`
}

// HubConfig governs the subscription hub (C9).
type HubConfig struct {
	SubscriberQueue int `yaml:"subscriber_queue"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads config from a YAML file, applies environment overrides, then
// fills in defaults for anything still unset.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(cfg)
	setDefaults(cfg)

	if cfg.Attendance.Timezone == "" {
		return nil, fmt.Errorf("config: attendance.timezone is required")
	}
	if _, err := time.LoadLocation(cfg.Attendance.Timezone); err != nil {
		return nil, fmt.Errorf("config: invalid attendance.timezone %q: %w", cfg.Attendance.Timezone, err)
	}
	if cfg.Attendance.Min < cfg.Recognition.ConfidenceThreshold {
		return nil, fmt.Errorf("config: attendance.min (%v) must be >= recognition.confidence_threshold (%v)",
			cfg.Attendance.Min, cfg.Recognition.ConfidenceThreshold)
	}

	return cfg, nil
}

func setDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = 20
	}
	if cfg.Storage.IndexDir == "" {
		cfg.Storage.IndexDir = "./data/index"
	}
	if cfg.Storage.FrameRetention == 0 {
		cfg.Storage.FrameRetention = 7
	}
	if cfg.Vision.DetectionThreshold == 0 {
		cfg.Vision.DetectionThreshold = 0.5
	}
	if cfg.Recognition.ConfidenceThreshold == 0 {
		cfg.Recognition.ConfidenceThreshold = 0.6
	}
	if cfg.Recognition.QMin == 0 {
		cfg.Recognition.QMin = 0.8
	}
	if cfg.Recognition.QMinRecognize == 0 {
		cfg.Recognition.QMinRecognize = 0.5
	}
	if cfg.Recognition.AMin == 0 {
		cfg.Recognition.AMin = 80 * 80
	}
	if cfg.Recognition.ImageProcessingTimeout == 0 {
		cfg.Recognition.ImageProcessingTimeout = 5 * time.Second
	}
	if cfg.Recognition.MaxImagesPerPerson == 0 {
		cfg.Recognition.MaxImagesPerPerson = 20
	}
	if cfg.Attendance.Min == 0 {
		cfg.Attendance.Min = cfg.Recognition.ConfidenceThreshold
	}
	if cfg.Camera.RecognitionHz == 0 {
		cfg.Camera.RecognitionHz = 3.0
	}
	if cfg.Camera.StreamMaxHz == 0 {
		cfg.Camera.StreamMaxHz = 10.0
	}
	if cfg.Camera.EventCooldown == 0 {
		cfg.Camera.EventCooldown = 10 * time.Second
	}
	if cfg.Camera.ConnectTimeout == 0 {
		cfg.Camera.ConnectTimeout = 10 * time.Second
	}
	if cfg.Camera.ShutdownGrace == 0 {
		cfg.Camera.ShutdownGrace = 5 * time.Second
	}
	if cfg.Camera.PersistenceFailWindow == 0 {
		cfg.Camera.PersistenceFailWindow = 30 * time.Second
	}
	if cfg.Presence.TTL == 0 {
		cfg.Presence.TTL = 30 * time.Second
	}
	if cfg.Presence.EvictionPeriod == 0 {
		cfg.Presence.EvictionPeriod = cfg.Presence.TTL / 2
	}
	if cfg.Presence.RefreshPeriod == 0 {
		cfg.Presence.RefreshPeriod = 15 * time.Second
	}
	if cfg.Hub.SubscriberQueue == 0 {
		cfg.Hub.SubscriberQueue = 32
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FD_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("FD_API_KEY"); v != "" {
		cfg.Server.APIKey = v
	}
	if v := os.Getenv("FD_DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("FD_DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = port
		}
	}
	if v := os.Getenv("FD_DB_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("FD_DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("FD_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("FD_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("FD_MINIO_ENDPOINT"); v != "" {
		cfg.MinIO.Endpoint = v
	}
	if v := os.Getenv("FD_MINIO_ACCESS_KEY"); v != "" {
		cfg.MinIO.AccessKey = v
	}
	if v := os.Getenv("FD_MINIO_SECRET_KEY"); v != "" {
		cfg.MinIO.SecretKey = v
	}
	if v := os.Getenv("FD_MINIO_BUCKET"); v != "" {
		cfg.MinIO.Bucket = v
	}
	if v := os.Getenv("FD_MODELS_DIR"); v != "" {
		cfg.Vision.ModelsDir = v
	}
	if v := os.Getenv("FD_INDEX_DIR"); v != "" {
		cfg.Storage.IndexDir = v
	}
	if v := os.Getenv("FD_ATTENDANCE_TIMEZONE"); v != "" {
		cfg.Attendance.Timezone = v
	}
	if v := os.Getenv("FD_CONFIDENCE_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Recognition.ConfidenceThreshold = f
		}
	}
}
