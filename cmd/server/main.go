package main

import (
	"os"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"meeting-backend/internal/cache"
	"meeting-backend/internal/config"
	"meeting-backend/internal/coordinator"
	"meeting-backend/internal/database"
	"meeting-backend/internal/lock"
	"meeting-backend/internal/logging"
	"meeting-backend/internal/presence"
	"meeting-backend/internal/recording"
	"meeting-backend/internal/registry"
	"meeting-backend/internal/scheduler"
	"meeting-backend/internal/server"
	"meeting-backend/internal/transcode"
)

func main() {
	// 설정 로드
	cfg := config.Load()
	logger := logging.NewLogger(cfg.Log)
	log := logging.Component(logger, "main")

	if err := os.MkdirAll(cfg.Recording.RootDir, 0o755); err != nil {
		log.Fatalf("❌ Recording directory unavailable: %v", err)
	}

	// 회의 저장소
	var (
		db    *gorm.DB
		store registry.Store
		err   error
	)
	switch cfg.Meeting.Store {
	case "memory":
		store = registry.NewMemoryStore()
		log.Info("ℹ️ Using in-memory meeting store")
	default:
		db, err = database.Connect(cfg.Database, logging.Component(logger, "gorm"))
		if err != nil {
			log.Fatalf("❌ Database connection failed: %v", err)
		}
		defer func() { _ = database.Close(db) }()

		if err := database.Ping(db); err != nil {
			log.Fatalf("❌ Database ping failed: %v", err)
		}
		log.Info("✅ Database connected successfully")
		store = registry.NewGormStore(db)
	}
	store = registry.NewCachedStore(store, cfg.Meeting.CacheSize, cfg.Meeting.CacheTTL)

	// Redis (선택): 채팅 기록, 병합 잠금, 프레즌스 미러
	var (
		redisClient *cache.RedisClient
		chat        coordinator.ChatHistory
		observer    presence.Observer
		locker      lock.Locker = lock.NewMemory(clock.New())
	)
	if cfg.Redis.Enabled() {
		redisClient, err = cache.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logging.Component(logger, "redis"))
		if err != nil {
			log.Warnf("⚠️ Redis unavailable, continuing without it: %v", err)
		} else {
			defer func() { _ = redisClient.Close() }()
			chat = redisClient
			locker = lock.NewRedis(redisClient.Raw(), "meeting:lock:", logging.Component(logger, "lock"))
			observer = presence.NewRedisMirror(redisClient.Raw(), uuid.NewString(), 2*time.Minute, logging.Component(logger, "presence"))
			log.Info("✅ Redis connected")
		}
	} else {
		log.Info("ℹ️ Redis not configured (chat history disabled)")
	}

	// 트랜스코더
	var tc transcode.Transcoder = transcode.Passthrough{}
	if cfg.Transcode.Enabled {
		tc = transcode.NewFFmpeg(cfg.Transcode, logging.Component(logger, "ffmpeg"))
	} else {
		log.Warn("⚠️ Transcoding disabled, merges append chunk bytes")
	}

	sched := scheduler.New(clock.New())
	rec := recording.NewService(cfg.Recording, tc, locker, sched, logging.Component(logger, "recording"))
	hub := coordinator.NewHub(
		store,
		presence.NewMap(observer),
		rec,
		sched,
		chat,
		cfg.Meeting,
		cfg.Recording.MergeWorkers,
		logging.Component(logger, "coordinator"),
	)

	// 서버 생성 및 설정
	srv := server.New(cfg, server.Deps{
		DB:        db,
		Redis:     redisClient,
		Hub:       hub,
		Recording: rec,
		Log:       logrus.NewEntry(logger),
	})
	srv.SetupMiddleware()
	srv.SetupRoutes()

	// 서버 시작
	if err := srv.Start(); err != nil {
		log.Fatalf("Server failed to start: %v", err)
	}
}
