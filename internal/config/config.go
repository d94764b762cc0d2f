package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config 애플리케이션 전체 설정
type Config struct {
	Server    ServerConfig
	WebSocket WebSocketConfig
	CORS      CORSConfig
	Auth      AuthConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Log       LogConfig
	Meeting   MeetingConfig
	Recording RecordingConfig
	Transcode TranscodeConfig
}

// ServerConfig HTTP 서버 설정
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	BodyLimit    int
	MetricsPath  string // METRICS_PATH=off 이면 비활성
}

// WebSocketConfig WebSocket 관련 설정
type WebSocketConfig struct {
	ReadBufferSize  int
	WriteBufferSize int
	WriteTimeout    time.Duration
	SendQueueSize   int
}

// CORSConfig CORS 설정
type CORSConfig struct {
	AllowOrigins string
	AllowHeaders string
}

// AuthConfig 인증 설정
type AuthConfig struct {
	JWTSecret         string
	AccessTokenExpiry time.Duration
}

// DatabaseConfig PostgreSQL 연결 설정
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
	TimeZone string
}

// RedisConfig Redis 설정 (Addr 비어있으면 비활성)
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// Enabled Redis 사용 여부
func (c RedisConfig) Enabled() bool {
	return c.Addr != ""
}

// LogConfig 로깅 설정
type LogConfig struct {
	Level      string
	File       string
	MaxSize    int
	MaxBackups int
	MaxAge     int
}

// MeetingConfig 회의방 코디네이터 설정
type MeetingConfig struct {
	Store               string // postgres | memory
	UploadGracePeriod   time.Duration
	EndOnHostDisconnect bool
	CacheSize           int
	CacheTTL            time.Duration
	ChatHistoryTTL      time.Duration
	ChatHistoryLimit    int64
}

// RecordingConfig 녹화 청크/병합 설정
type RecordingConfig struct {
	RootDir                string
	ChunkExt               string
	MinChunkBytes          int
	MergeTimeout           time.Duration
	MergeWorkers           int
	ParticipantParallelism int
	ProbeChunks            bool
	CleanupAfterMerge      bool
	DeleteAfterDownload    bool
	CleanupDelay           time.Duration
}

// TranscodeConfig ffmpeg 출력 프로파일
type TranscodeConfig struct {
	Enabled      bool   `yaml:"-"`
	FFmpegPath   string `yaml:"ffmpeg_path"`
	ProfileFile  string `yaml:"-"`
	VideoCodec   string `yaml:"video_codec"`
	VideoBitrate string `yaml:"video_bitrate"`
	FrameRate    int    `yaml:"frame_rate"`
	Height       int    `yaml:"height"`
	AudioCodec   string `yaml:"audio_codec"`
	AudioBitrate string `yaml:"audio_bitrate"`
	SampleRate   int    `yaml:"sample_rate"`
	Preset       string `yaml:"preset"`
}

// Load 환경 변수에서 설정 로드
func Load() *Config {
	// .env 파일 로드 (없어도 에러 무시)
	if err := godotenv.Load(); err != nil {
		logrus.Info("ℹ️ No .env file found, using environment variables")
	}

	jwtSecret := getRequiredEnv("JWT_SECRET")
	if jwtSecret == "change-this-secret-in-production" {
		logrus.Fatal("🚨 CRITICAL: JWT_SECRET must be changed from default value in production!")
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", ":8080"),
			ReadTimeout:  getDuration("READ_TIMEOUT", 30*time.Second),
			WriteTimeout: getDuration("WRITE_TIMEOUT", 0),
			IdleTimeout:  getDuration("IDLE_TIMEOUT", 120*time.Second),
			BodyLimit:    getInt("BODY_LIMIT", 64*1024*1024),
			MetricsPath:  getEnv("METRICS_PATH", "/metrics"),
		},
		WebSocket: WebSocketConfig{
			ReadBufferSize:  getInt("WS_READ_BUFFER_SIZE", 16*1024),
			WriteBufferSize: getInt("WS_WRITE_BUFFER_SIZE", 16*1024),
			WriteTimeout:    getDuration("WS_WRITE_TIMEOUT", 5*time.Second),
			SendQueueSize:   getInt("WS_SEND_QUEUE_SIZE", 256),
		},
		CORS: CORSConfig{
			AllowOrigins: getEnv("CORS_ALLOW_ORIGINS", "*"),
			AllowHeaders: getEnv("CORS_ALLOW_HEADERS", "Origin, Content-Type, Accept, Authorization, Range"),
		},
		Auth: AuthConfig{
			JWTSecret:         jwtSecret,
			AccessTokenExpiry: getDuration("ACCESS_TOKEN_EXPIRY", 1*time.Hour),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "postgres"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			TimeZone: getEnv("DB_TIMEZONE", "UTC"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getInt("REDIS_DB", 0),
		},
		Log: LogConfig{
			Level:      getEnv("LOG_LEVEL", "info"),
			File:       getEnv("LOG_FILE", ""),
			MaxSize:    getInt("LOG_MAX_SIZE_MB", 100),
			MaxBackups: getInt("LOG_MAX_BACKUPS", 5),
			MaxAge:     getInt("LOG_MAX_AGE_DAYS", 14),
		},
		Meeting: MeetingConfig{
			Store:               getEnv("MEETING_STORE", "postgres"),
			UploadGracePeriod:   getDuration("MEETING_UPLOAD_GRACE_PERIOD", 3*time.Second),
			EndOnHostDisconnect: getBool("MEETING_END_ON_HOST_DISCONNECT", false),
			CacheSize:           getInt("MEETING_CACHE_SIZE", 1024),
			CacheTTL:            getDuration("MEETING_CACHE_TTL", 30*time.Second),
			ChatHistoryTTL:      getDuration("MEETING_CHAT_HISTORY_TTL", 24*time.Hour),
			ChatHistoryLimit:    int64(getInt("MEETING_CHAT_HISTORY_LIMIT", 200)),
		},
		Recording: RecordingConfig{
			RootDir:                getEnv("RECORDING_ROOT", "./recordings"),
			ChunkExt:               getEnv("RECORDING_CHUNK_EXT", "webm"),
			MinChunkBytes:          getInt("RECORDING_MIN_CHUNK_BYTES", 1024),
			MergeTimeout:           getDuration("RECORDING_MERGE_TIMEOUT", 10*time.Minute),
			MergeWorkers:           getInt("RECORDING_MERGE_WORKERS", 2),
			ParticipantParallelism: getInt("RECORDING_PARTICIPANT_PARALLELISM", 4),
			ProbeChunks:            getBool("RECORDING_PROBE_CHUNKS", true),
			CleanupAfterMerge:      getBool("RECORDING_CLEANUP_AFTER_MERGE", true),
			DeleteAfterDownload:    getBool("RECORDING_DELETE_AFTER_DOWNLOAD", true),
			CleanupDelay:           getDuration("RECORDING_CLEANUP_DELAY", 5*time.Second),
		},
		Transcode: DefaultTranscode(),
	}

	cfg.Transcode.Enabled = getBool("TRANSCODE_ENABLED", true)
	if cfg.Server.MetricsPath == "off" {
		cfg.Server.MetricsPath = ""
	}
	cfg.Transcode.FFmpegPath = getEnv("FFMPEG_PATH", cfg.Transcode.FFmpegPath)
	cfg.Transcode.ProfileFile = getEnv("TRANSCODE_PROFILE_FILE", "")
	if cfg.Transcode.ProfileFile != "" {
		if err := ApplyProfileFile(cfg.Transcode.ProfileFile, &cfg.Transcode); err != nil {
			logrus.Fatalf("🚨 CRITICAL: %v", err)
		}
	}

	return cfg
}

// DefaultTranscode 기본 출력 프로파일 (VP8/Opus WebM)
func DefaultTranscode() TranscodeConfig {
	return TranscodeConfig{
		Enabled:      true,
		FFmpegPath:   "ffmpeg",
		VideoCodec:   "libvpx",
		VideoBitrate: "1M",
		FrameRate:    30,
		Height:       720,
		AudioCodec:   "libopus",
		AudioBitrate: "128k",
		SampleRate:   48000,
		Preset:       "realtime",
	}
}

// ApplyProfileFile YAML 프로파일로 트랜스코드 설정 덮어쓰기 (지정된 필드만)
func ApplyProfileFile(path string, tc *TranscodeConfig) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read transcode profile: %w", err)
	}

	var override TranscodeConfig
	if err := yaml.Unmarshal(data, &override); err != nil {
		return fmt.Errorf("failed to parse transcode profile %s: %w", path, err)
	}

	if override.FFmpegPath != "" {
		tc.FFmpegPath = override.FFmpegPath
	}
	if override.VideoCodec != "" {
		tc.VideoCodec = override.VideoCodec
	}
	if override.VideoBitrate != "" {
		tc.VideoBitrate = override.VideoBitrate
	}
	if override.FrameRate > 0 {
		tc.FrameRate = override.FrameRate
	}
	if override.Height > 0 {
		tc.Height = override.Height
	}
	if override.AudioCodec != "" {
		tc.AudioCodec = override.AudioCodec
	}
	if override.AudioBitrate != "" {
		tc.AudioBitrate = override.AudioBitrate
	}
	if override.SampleRate > 0 {
		tc.SampleRate = override.SampleRate
	}
	if override.Preset != "" {
		tc.Preset = override.Preset
	}
	return nil
}

// getRequiredEnv 필수 환경 변수 조회 (없으면 Fatal)
func getRequiredEnv(key string) string {
	value := os.Getenv(key)
	if value == "" {
		logrus.Fatalf("🚨 CRITICAL: Required environment variable %s is not set!", key)
	}
	return value
}

// getEnv 환경 변수 조회 (기본값 지원)
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getInt 정수형 환경 변수 조회
func getInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getBool 불리언 환경 변수 조회
func getBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

// getDuration 시간 환경 변수 조회
func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		// 숫자만 있으면 초로 간주
		if !strings.ContainsAny(value, "smh") {
			if secs, err := strconv.Atoi(value); err == nil {
				return time.Duration(secs) * time.Second
			}
		}
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
