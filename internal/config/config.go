// Package config loads the single-source typed Settings record: every
// group of options is env-overridable, nothing else is read, and the
// result is immutable once Load returns.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Settings is the closed configuration record. The environment is the
// only configuration source; anything unset falls back to a default.
type Settings struct {
	// download_*
	DownloadMaxConcurrent   int
	DownloadTimeoutSeconds  int
	DownloadMaxSizeBytes    int64
	DownloadAllowedTypes    []string // empty = no content-type restriction

	// video_*
	VideoWidth      int
	VideoHeight     int
	VideoFPS        int
	VideoCodec      string
	VideoPixFmt     string
	AudioCodec      string
	AudioSampleRate int
	AudioChannels   int

	// audio_*
	AudioBGMVolumeDefault  float64
	AudioFadeInDefault     float64
	AudioFadeOutDefault    float64

	// text_*
	TextFontDefault  string
	TextSizeDefault  int
	TextColorDefault string

	// performance_*
	PerformanceMaxConcurrentSegments int
	PerformanceMaxMemoryMB           int
	SubprocessTimeoutMultiplier      float64

	// ai_*
	AIVideoEnabled       bool
	AIVideoProvider      string // "veo" | "xai" | ""
	AIEndpoint           string
	AIModel              string
	LLMEnabled           bool
	LLMModel             string

	// storage_*
	StorageBucket     string
	StorageRegion     string
	StorageKeyPattern string // e.g. "renders/%s/%d.mp4" (job id, unix timestamp)

	// stage toggles: alignment and upload are optional stages
	AlignmentEnabled bool
	UploadEnabled    bool

	// retry policy shared by the downloader, uploader, and remote-call helpers
	RetryMaxAttempts int
	RetryBaseDelayMS int
	RetryJitterFrac  float64

	// process wiring
	TempBaseDir       string
	APIPort           string
	WorkerEnabled     bool
	RedisURL          string
	OpenAIKey         string
	GeminiKey         string
	XAIAPIKey         string
	ForcedAlignerURL  string
	ImageSearchURL    string
	BlobSinkBaseURL   string
	BlobSinkAPIKey    string
}

func Load() (*Settings, error) {
	_ = godotenv.Load()

	s := &Settings{
		DownloadMaxConcurrent:  getEnvInt("DOWNLOAD_MAX_CONCURRENT", 6),
		DownloadTimeoutSeconds: getEnvInt("DOWNLOAD_TIMEOUT_SECONDS", 30),
		DownloadMaxSizeBytes:   getEnvInt64("DOWNLOAD_MAX_SIZE_BYTES", 200*1024*1024),
		DownloadAllowedTypes:   getEnvList("DOWNLOAD_ALLOWED_CONTENT_TYPES", nil),

		VideoWidth:      getEnvInt("VIDEO_WIDTH", 1080),
		VideoHeight:     getEnvInt("VIDEO_HEIGHT", 1920),
		VideoFPS:        getEnvInt("VIDEO_FPS", 30),
		VideoCodec:      getEnv("VIDEO_CODEC", "libx264"),
		VideoPixFmt:     getEnv("VIDEO_PIX_FMT", "yuv420p"),
		AudioCodec:      getEnv("AUDIO_CODEC", "aac"),
		AudioSampleRate: getEnvInt("AUDIO_SAMPLE_RATE", 44100),
		AudioChannels:   getEnvInt("AUDIO_CHANNELS", 2),

		AudioBGMVolumeDefault: getEnvFloat("AUDIO_BGM_VOLUME_DEFAULT", 0.25),
		AudioFadeInDefault:    getEnvFloat("AUDIO_FADE_IN_DEFAULT", 1.5),
		AudioFadeOutDefault:   getEnvFloat("AUDIO_FADE_OUT_DEFAULT", 2.0),

		TextFontDefault:  getEnv("TEXT_FONT_DEFAULT", "Arial"),
		TextSizeDefault:  getEnvInt("TEXT_SIZE_DEFAULT", 48),
		TextColorDefault: getEnv("TEXT_COLOR_DEFAULT", "white"),

		PerformanceMaxConcurrentSegments: getEnvInt("PERFORMANCE_MAX_CONCURRENT_SEGMENTS", 4),
		PerformanceMaxMemoryMB:           getEnvInt("PERFORMANCE_MAX_MEMORY_MB", 2048),
		SubprocessTimeoutMultiplier:      getEnvFloat("SUBPROCESS_TIMEOUT_MULTIPLIER", 10.0),

		AIVideoEnabled:  getEnvBool("AI_VIDEO_ENABLED", false),
		AIVideoProvider: getEnv("AI_VIDEO_PROVIDER", "veo"),
		AIEndpoint:      getEnv("AI_ENDPOINT", ""),
		AIModel:         getEnv("AI_MODEL", "veo-3.1-generate-preview"),
		LLMEnabled:      getEnvBool("LLM_ENABLED", false),
		LLMModel:        getEnv("LLM_MODEL", "gpt-4o-mini"),

		StorageBucket:     getEnv("STORAGE_BUCKET", "reelforge-renders"),
		StorageRegion:     getEnv("STORAGE_REGION", ""),
		StorageKeyPattern: getEnv("STORAGE_KEY_PATTERN", "renders/%s/%d.mp4"),

		AlignmentEnabled: getEnvBool("ALIGNMENT_ENABLED", true),
		UploadEnabled:    getEnvBool("UPLOAD_ENABLED", true),

		RetryMaxAttempts: getEnvInt("RETRY_MAX_ATTEMPTS", 4),
		RetryBaseDelayMS: getEnvInt("RETRY_BASE_DELAY_MS", 250),
		RetryJitterFrac:  getEnvFloat("RETRY_JITTER_FRACTION", 0.25),

		TempBaseDir:      getEnv("TEMP_BASE_DIR", "/tmp/reelforge"),
		APIPort:          getEnv("API_PORT", "8080"),
		WorkerEnabled:    getEnvBool("WORKER_ENABLED", true),
		RedisURL:         getEnv("REDIS_URL", "redis://localhost:6379"),
		OpenAIKey:        getEnv("OPENAI_API_KEY", ""),
		GeminiKey:        getEnv("GEMINI_API_KEY", ""),
		XAIAPIKey:        getEnv("XAI_API_KEY", ""),
		ForcedAlignerURL: getEnv("FORCED_ALIGNER_URL", ""),
		ImageSearchURL:   getEnv("IMAGE_SEARCH_URL", ""),
		BlobSinkBaseURL:  getEnv("BLOB_SINK_BASE_URL", ""),
		BlobSinkAPIKey:   getEnv("BLOB_SINK_API_KEY", ""),
	}

	if s.DownloadMaxConcurrent <= 0 {
		return nil, fmt.Errorf("DOWNLOAD_MAX_CONCURRENT must be positive")
	}
	if s.PerformanceMaxConcurrentSegments <= 0 {
		return nil, fmt.Errorf("PERFORMANCE_MAX_CONCURRENT_SEGMENTS must be positive")
	}
	if s.VideoWidth <= 0 || s.VideoHeight <= 0 || s.VideoFPS <= 0 {
		return nil, fmt.Errorf("VIDEO_WIDTH, VIDEO_HEIGHT and VIDEO_FPS must be positive")
	}
	if s.UploadEnabled && s.BlobSinkBaseURL == "" {
		return nil, fmt.Errorf("BLOB_SINK_BASE_URL is required when UPLOAD_ENABLED is true")
	}
	if s.AlignmentEnabled && s.ForcedAlignerURL == "" {
		return nil, fmt.Errorf("FORCED_ALIGNER_URL is required when ALIGNMENT_ENABLED is true")
	}

	return s, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	start := 0
	for i := 0; i <= len(value); i++ {
		if i == len(value) || value[i] == ',' {
			if i > start {
				out = append(out, value[start:i])
			}
			start = i + 1
		}
	}
	return out
}
