package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/yourorg/model-serve/internal/artifacts"
)

// Model names, also used as artifact names and metric labels.
const (
	ModelSentiment = "sentiment"
	ModelDisaster  = "disaster"
	ModelPose      = "pose"
)

type Config struct {
	Port     string
	LogLevel string
	Bucket   string

	Sentiment ModelConfig
	Disaster  ModelConfig
	Pose      ModelConfig
	// ImageProcessor identifies the preprocessing tokenizer for the pose model.
	ImageProcessor string

	ForceDownload    bool
	CompletionMarker bool

	S3 S3Config

	UploadBucket string
	PresignTTL   time.Duration

	InferenceURL     string
	InferenceTimeout time.Duration
	// Device pins the compute device ("cuda", "mps", "cpu"); empty means autodetect.
	Device string

	// LedgerDir enables the sync ledger when set.
	LedgerDir string

	Temporal TemporalConfig
}

type ModelConfig struct {
	RemotePrefix string
	LocalPath    string
}

type S3Config struct {
	Endpoint       string
	ForcePathStyle bool
	CallTimeout    time.Duration
}

type TemporalConfig struct {
	Address   string
	Namespace string
	TaskQueue string
}

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv builds a Config from environment variables only.
func FromEnv() (*Config, error) {
	bucket := getEnv("BUCKET_NAME", "mlops-with-kgp")
	cfg := &Config{
		Port:     getEnv("PORT", "8000"),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		Bucket:   bucket,
		Sentiment: ModelConfig{
			RemotePrefix: getEnv("S3_PREFIX_SENTIMENT_ANALYSIS", "ml-models/tinybert-sentiment-analysis/"),
			LocalPath:    getEnv("LOCAL_PATH_SENTIMENT_ANALYSIS", "ml-models/tinybert-sentiment-analysis/"),
		},
		Disaster: ModelConfig{
			RemotePrefix: getEnv("S3_PREFIX_DISASTER_TWEET", "ml-models/tinybert-disaster-tweet/"),
			LocalPath:    getEnv("LOCAL_PATH_DISASTER_TWEET", "ml-models/tinybert-disaster-tweet/"),
		},
		Pose: ModelConfig{
			RemotePrefix: getEnv("S3_PREFIX_POSE_ESTIMATION", "ml-models/vit-human-pose-classification/"),
			LocalPath:    getEnv("LOCAL_PATH_POSE_ESTIMATION", "ml-models/vit-human-pose-classification/"),
		},
		ImageProcessor:   getEnv("POSE_ESTIMATION_TOKENIZER", "google/vit-base-patch16-224-in21k"),
		ForceDownload:    getEnvBool("FORCE_DOWNLOAD", false),
		CompletionMarker: getEnvBool("ARTIFACT_COMPLETION_MARKER", false),
		S3: S3Config{
			Endpoint:       os.Getenv("AWS_ENDPOINT_URL_S3"),
			ForcePathStyle: getEnvBool("AWS_S3_FORCE_PATH_STYLE", false),
			CallTimeout:    getEnvDuration("S3_CALL_TIMEOUT", 0),
		},
		UploadBucket:     getEnv("UPLOAD_BUCKET", bucket),
		PresignTTL:       getEnvDuration("PRESIGN_TTL", time.Hour),
		InferenceURL:     getEnv("INFERENCE_URL", "http://localhost:8500"),
		InferenceTimeout: getEnvDuration("INFERENCE_TIMEOUT", 30*time.Second),
		Device:           strings.ToLower(os.Getenv("DEVICE")),
		LedgerDir:        os.Getenv("LEDGER_DIR"),
		Temporal: TemporalConfig{
			// Support both TEMPORAL_TARGET_HOST and TEMPORAL_ADDRESS for compatibility
			Address:   getEnv("TEMPORAL_TARGET_HOST", getEnv("TEMPORAL_ADDRESS", "localhost:7233")),
			Namespace: getEnv("TEMPORAL_NAMESPACE", "default"),
			TaskQueue: getEnv("TEMPORAL_TASK_QUEUE", "model-sync"),
		},
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Bucket == "" {
		return errors.New("BUCKET_NAME is required")
	}
	for _, d := range c.Descriptors() {
		if d.RemotePrefix == "" || d.LocalPath == "" {
			return fmt.Errorf("artifact %s: remote prefix and local path are required", d.Name)
		}
	}
	switch c.Device {
	case "", "cuda", "mps", "cpu":
	default:
		return fmt.Errorf("DEVICE %q: want cuda, mps or cpu", c.Device)
	}
	return nil
}

// Descriptors lists the served artifacts in sync order.
func (c *Config) Descriptors() []artifacts.Descriptor {
	return []artifacts.Descriptor{
		{Name: ModelSentiment, RemotePrefix: c.Sentiment.RemotePrefix, LocalPath: c.Sentiment.LocalPath},
		{Name: ModelDisaster, RemotePrefix: c.Disaster.RemotePrefix, LocalPath: c.Disaster.LocalPath},
		{Name: ModelPose, RemotePrefix: c.Pose.RemotePrefix, LocalPath: c.Pose.LocalPath},
	}
}

func getEnv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	v, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(key)))
	if err != nil {
		return def
	}
	return v
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(os.Getenv(key)))
	if err != nil {
		return def
	}
	return d
}
