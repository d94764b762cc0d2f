package server

import (
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/goccy/go-json"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"meeting-backend/internal/auth"
	"meeting-backend/internal/cache"
	"meeting-backend/internal/config"
	"meeting-backend/internal/coordinator"
	"meeting-backend/internal/handler"
	"meeting-backend/internal/middleware"
	"meeting-backend/internal/recording"
)

// Deps 서버가 사용하는 구성 요소. DB 와 Redis 는 선택.
type Deps struct {
	DB        *gorm.DB
	Redis     *cache.RedisClient
	Hub       *coordinator.Hub
	Recording *recording.Service
	Log       *logrus.Entry
}

// Server Fiber 서버 래퍼
type Server struct {
	app              *fiber.App
	cfg              *config.Config
	hub              *coordinator.Hub
	log              *logrus.Entry
	jwtManager       *auth.JWTManager
	meetingAccess    *middleware.MeetingMiddleware
	meetingHandler   *handler.MeetingHandler
	recordingHandler *handler.RecordingHandler
	roomWSHandler    *handler.RoomWSHandler
	healthHandler    *handler.HealthHandler
}

// New 새 서버 인스턴스 생성
func New(cfg *config.Config, deps Deps) *Server {
	app := fiber.New(fiber.Config{
		AppName:               "Meeting Backend",
		ServerHeader:          "Fiber",
		StrictRouting:         true,
		CaseSensitive:         true,
		ReadTimeout:           cfg.Server.ReadTimeout,
		WriteTimeout:          cfg.Server.WriteTimeout,
		IdleTimeout:           cfg.Server.IdleTimeout,
		Prefork:               false, // WebSocket과 호환성 문제로 비활성화
		ReadBufferSize:        16384, // 16KB - 큰 헤더 허용
		WriteBufferSize:       16384,
		BodyLimit:             cfg.Server.BodyLimit, // base64 청크 업로드
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
		DisableStartupMessage: true,
	})

	log := deps.Log.WithField("component", "server")

	return &Server{
		app:              app,
		cfg:              cfg,
		hub:              deps.Hub,
		log:              log,
		jwtManager:       auth.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenExpiry),
		meetingAccess:    middleware.NewMeetingMiddleware(deps.Hub),
		meetingHandler:   handler.NewMeetingHandler(deps.Hub, deps.Log.WithField("component", "meeting")),
		recordingHandler: handler.NewRecordingHandler(deps.Recording, deps.Hub.Runner(), deps.Log.WithField("component", "recording")),
		roomWSHandler:    handler.NewRoomWSHandler(deps.Hub, cfg.WebSocket, deps.Log.WithField("component", "ws")),
		healthHandler:    handler.NewHealthHandler(deps.DB, deps.Redis, cfg.Recording.RootDir),
	}
}

// App fiber 앱 반환 (테스트용)
func (s *Server) App() *fiber.App {
	return s.app
}

// JWT JWT 매니저 반환 (테스트에서 토큰 발급용)
func (s *Server) JWT() *auth.JWTManager {
	return s.jwtManager
}

// SetupMiddleware 미들웨어 설정
func (s *Server) SetupMiddleware() {
	// 패닉 복구
	s.app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))

	// 로깅 (logrus 로 전달)
	s.app.Use(logger.New(logger.Config{
		Format: "${status} | ${latency} | ${ip} | ${method} | ${path} | ${error}",
		Done: func(c *fiber.Ctx, logString []byte) {
			s.log.Debug(string(logString))
		},
		Output: io.Discard,
	}))

	if s.cfg.Server.MetricsPath != "" {
		prometheus := fiberprometheus.New("meeting_backend")
		prometheus.RegisterAt(s.app, s.cfg.Server.MetricsPath)
		s.app.Use(prometheus.Middleware)
	}

	// CORS
	s.app.Use(cors.New(cors.Config{
		AllowOrigins:     s.cfg.CORS.AllowOrigins,
		AllowHeaders:     s.cfg.CORS.AllowHeaders,
		AllowMethods:     "GET, POST, DELETE, OPTIONS",
		ExposeHeaders:    "Content-Range, Accept-Ranges, Content-Disposition",
		AllowCredentials: s.cfg.CORS.AllowOrigins != "*",
	}))
}

// SetupRoutes 라우트 설정
func (s *Server) SetupRoutes() {
	// 헬스체크 엔드포인트
	s.app.Get("/health", s.healthHandler.Check)
	s.app.Get("/health/live", s.healthHandler.Liveness)
	s.app.Get("/health/ready", s.healthHandler.Readiness)

	requireAuth := auth.AuthMiddleware(s.jwtManager)

	// Meeting 라우트 그룹 (인증 필요)
	meetingGroup := s.app.Group("/meetings", requireAuth)
	meetingGroup.Post("/create", s.meetingHandler.CreateMeeting)
	meetingGroup.Post("/join/:roomId", s.meetingHandler.JoinMeeting)
	meetingGroup.Post("/end/:roomId", s.meetingHandler.EndMeeting)
	meetingGroup.Get("/:roomId/messages", s.meetingAccess.RequireMembership(), s.meetingHandler.GetMessages)
	meetingGroup.Get("/:roomId", s.meetingHandler.GetMeeting)

	// Recording 라우트 그룹 (인증 필요)
	recordingGroup := s.app.Group("/recordings", requireAuth)
	recordingGroup.Post("/upload-chunk", s.recordingHandler.UploadChunk)
	recordingGroup.Get("/status/:roomId", s.recordingHandler.Status)
	recordingGroup.Post("/merge/:roomId", s.recordingHandler.Merge)
	recordingGroup.Get("/download/:roomId", s.recordingHandler.Download)
	recordingGroup.Delete("/:roomId", s.meetingAccess.RequireHost(), s.recordingHandler.Delete)

	// WebSocket 시그널링 엔드포인트 (?token= 또는 쿠키로 인증)
	s.app.Get("/ws/meeting",
		s.roomWSHandler.Upgrade,
		requireAuth,
		websocket.New(s.roomWSHandler.HandleWebSocket, s.roomWSHandler.Config()),
	)
}

// Start 서버 시작 (Graceful Shutdown 지원)
func (s *Server) Start() error {
	// Graceful Shutdown 설정
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		s.log.Info("🛑 Shutting down server...")
		if err := s.Shutdown(); err != nil {
			s.log.WithError(err).Error("Server shutdown error")
		}
	}()

	s.log.Infof("🚀 Meeting backend starting on %s", s.cfg.Server.Port)
	s.log.Infof("📡 WebSocket endpoint: ws://localhost%s/ws/meeting", s.cfg.Server.Port)

	return s.app.Listen(s.cfg.Server.Port)
}

// Shutdown 서버 종료. 연결을 닫은 뒤 예약된 작업과 병합 큐를 정리한다.
func (s *Server) Shutdown() error {
	err := s.app.ShutdownWithTimeout(30 * time.Second)
	s.hub.Close()
	return err
}
