package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv           string
	Port             string
	StoragePath      string
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	MaxUploadBytes   int64

	RateLimitPerWindow int
	RateLimitWindow    time.Duration
	RedisURL           string

	NATSURL     string
	NATSSubject string

	GoogleAPIKey        string
	GeminiBaseURL       string
	GeminiAnalyzeModel  string
	GeminiImageModel    string
	GeminiFallbackModel string

	HiggsfieldCredentials []HiggsfieldCredential
	HiggsfieldBaseURL     string
	HiggsfieldModel       string
	ImgBBAPIKey           string

	FFmpegPath  string
	PromptsFile string

	Pipeline PipelineConfig
}

// HiggsfieldCredential is one API key/secret pair.
type HiggsfieldCredential struct {
	APIKey string
	Secret string
}

// PipelineConfig carries the pipeline tuning knobs. Zero values fall back to
// the pipeline defaults.
type PipelineConfig struct {
	MinImages              int
	MaxImages              int
	UpscaleConcurrency     int
	MaxDegradedFrames      int
	SegmentConcurrency     int
	SegmentDurationSeconds int
	SubmitAttempts         int
	SegmentTimeout         time.Duration
	PollInitial            time.Duration
	PollMax                time.Duration
	PollMultiplier         float64
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:           getEnv("APP_ENV", "development"),
		Port:             getEnv("PORT", "8080"),
		StoragePath:      getEnv("STORAGE_PATH", "./data"),
		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 60)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 300)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		MaxUploadBytes:   int64(getEnvInt("MAX_UPLOAD_MB", 50)) << 20,

		RateLimitPerWindow: getEnvInt("RATE_LIMIT_PER_WINDOW", 1),
		RateLimitWindow:    time.Second * time.Duration(getEnvInt("RATE_LIMIT_WINDOW_SECONDS", 60)),
		RedisURL:           os.Getenv("REDIS_URL"),

		NATSURL:     os.Getenv("NATS_URL"),
		NATSSubject: getEnv("NATS_SUBJECT", "showcase.jobs"),

		GoogleAPIKey:        firstEnv("GOOGLE_API_KEY", "GEMINI_API_KEY"),
		GeminiBaseURL:       getEnv("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta"),
		GeminiAnalyzeModel:  os.Getenv("GEMINI_ANALYZE_MODEL"),
		GeminiImageModel:    os.Getenv("GEMINI_IMAGE_MODEL"),
		GeminiFallbackModel: os.Getenv("GEMINI_FALLBACK_MODEL"),

		HiggsfieldBaseURL: os.Getenv("HIGGSFIELD_BASE_URL"),
		HiggsfieldModel:   os.Getenv("HIGGSFIELD_MODEL"),
		ImgBBAPIKey:       os.Getenv("IMGBB_API_KEY"),

		FFmpegPath:  getEnv("FFMPEG_PATH", "ffmpeg"),
		PromptsFile: os.Getenv("PROMPTS_FILE"),

		Pipeline: PipelineConfig{
			MinImages:              getEnvInt("MIN_UPLOAD_IMAGES", 2),
			MaxImages:              getEnvInt("MAX_UPLOAD_IMAGES", 10),
			UpscaleConcurrency:     getEnvInt("UPSCALE_CONCURRENCY", 3),
			MaxDegradedFrames:      getEnvInt("MAX_DEGRADED_FRAMES", 2),
			SegmentConcurrency:     getEnvInt("SEGMENT_CONCURRENCY", 3),
			SegmentDurationSeconds: getEnvInt("SEGMENT_DURATION_SECONDS", 5),
			SubmitAttempts:         getEnvInt("SEGMENT_SUBMIT_ATTEMPTS", 3),
			SegmentTimeout:         time.Second * time.Duration(getEnvInt("SEGMENT_TIMEOUT_SECONDS", 900)),
			PollInitial:            time.Millisecond * time.Duration(getEnvInt("POLL_INITIAL_MS", 2000)),
			PollMax:                time.Millisecond * time.Duration(getEnvInt("POLL_MAX_MS", 10000)),
			PollMultiplier:         getEnvFloat("POLL_MULTIPLIER", 1.2),
		},
	}

	for _, suffix := range []string{"", "2"} {
		key := strings.TrimSpace(os.Getenv("HIGGSFIELD_API_KEY" + suffix))
		secret := strings.TrimSpace(os.Getenv("HIGGSFIELD_API_SECRET" + suffix))
		if key == "" && secret == "" {
			continue
		}
		if key == "" || secret == "" {
			return nil, fmt.Errorf("HIGGSFIELD_API_KEY%s and HIGGSFIELD_API_SECRET%s must be set together", suffix, suffix)
		}
		cfg.HiggsfieldCredentials = append(cfg.HiggsfieldCredentials, HiggsfieldCredential{APIKey: key, Secret: secret})
	}
	if len(cfg.HiggsfieldCredentials) > 0 && cfg.ImgBBAPIKey == "" {
		return nil, fmt.Errorf("IMGBB_API_KEY is required when Higgsfield credentials are set")
	}

	if cfg.RateLimitPerWindow <= 0 {
		return nil, fmt.Errorf("RATE_LIMIT_PER_WINDOW must be positive")
	}
	if cfg.RateLimitWindow <= 0 {
		return nil, fmt.Errorf("RATE_LIMIT_WINDOW_SECONDS must be positive")
	}
	if cfg.Pipeline.MinImages < 2 {
		return nil, fmt.Errorf("MIN_UPLOAD_IMAGES must be at least 2")
	}
	if cfg.Pipeline.MaxImages < cfg.Pipeline.MinImages {
		return nil, fmt.Errorf("MAX_UPLOAD_IMAGES must not be below MIN_UPLOAD_IMAGES")
	}

	return cfg, nil
}

// Synthetic reports whether the image vendor runs without an API key.
func (c *Config) Synthetic() bool {
	return c.GoogleAPIKey == ""
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			return v
		}
	}
	return ""
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}
