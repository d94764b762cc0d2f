package handler

import (
	"context"
	"os"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"meeting-backend/internal/cache"
	"meeting-backend/internal/database"
)

// HealthHandler 헬스체크 핸들러. db 와 redis 는 설정되지 않았으면 nil 이다.
type HealthHandler struct {
	db           *gorm.DB
	redis        *cache.RedisClient
	recordingDir string
}

// NewHealthHandler HealthHandler 생성
func NewHealthHandler(db *gorm.DB, redis *cache.RedisClient, recordingDir string) *HealthHandler {
	return &HealthHandler{db: db, redis: redis, recordingDir: recordingDir}
}

// ComponentCheck 컴포넌트 상태
type ComponentCheck struct {
	Status  string `json:"status"`
	Latency string `json:"latency,omitempty"`
	Error   string `json:"error,omitempty"`
}

// HealthResponse 헬스체크 응답
type HealthResponse struct {
	Status    string                    `json:"status"`
	Timestamp string                    `json:"timestamp"`
	Checks    map[string]ComponentCheck `json:"checks"`
}

// Check 전체 상태 확인 (DB + Redis + 녹화 디렉토리)
func (h *HealthHandler) Check(c *fiber.Ctx) error {
	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().Format(time.RFC3339),
		Checks:    make(map[string]ComponentCheck),
	}

	// 1. Database 체크
	if h.db != nil {
		start := time.Now()
		if err := database.Ping(h.db); err != nil {
			response.Status = "unhealthy"
			response.Checks["database"] = ComponentCheck{Status: "unhealthy", Error: "database ping failed"}
		} else {
			response.Checks["database"] = ComponentCheck{Status: "healthy", Latency: time.Since(start).String()}
		}
	} else {
		response.Checks["database"] = ComponentCheck{Status: "not_configured"}
	}

	// 2. Redis 체크 (없어도 동작은 하므로 degraded)
	if h.redis != nil {
		start := time.Now()
		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		err := h.redis.Health(ctx)
		cancel()
		if err != nil {
			response.Checks["redis"] = ComponentCheck{Status: "degraded", Error: "redis unreachable"}
		} else {
			response.Checks["redis"] = ComponentCheck{Status: "healthy", Latency: time.Since(start).String()}
		}
	} else {
		response.Checks["redis"] = ComponentCheck{Status: "not_configured"}
	}

	// 3. 녹화 저장소
	if info, err := os.Stat(h.recordingDir); err != nil || !info.IsDir() {
		response.Status = "unhealthy"
		response.Checks["recordings"] = ComponentCheck{Status: "unhealthy", Error: "recording directory unavailable"}
	} else {
		response.Checks["recordings"] = ComponentCheck{Status: "healthy"}
	}

	statusCode := fiber.StatusOK
	if response.Status == "unhealthy" {
		statusCode = fiber.StatusServiceUnavailable
	}

	return c.Status(statusCode).JSON(response)
}

// Liveness K8s liveness probe용 (단순 체크)
func (h *HealthHandler) Liveness(c *fiber.Ctx) error {
	return c.SendString("OK")
}

// Readiness K8s readiness probe용 (DB 연결 체크)
func (h *HealthHandler) Readiness(c *fiber.Ctx) error {
	if h.db != nil {
		if err := database.Ping(h.db); err != nil {
			return c.Status(fiber.StatusServiceUnavailable).SendString("NOT READY")
		}
	}
	return c.SendString("READY")
}
