package main

import (
	"fmt"
	"log"
	"os"

	"meeting-backend/internal/config"
	"meeting-backend/internal/database"
	"meeting-backend/internal/logging"
	"meeting-backend/internal/model"
	"meeting-backend/internal/recording"
)

// 회의 테이블과 녹화 디렉토리 상태를 점검하는 운영용 도구
func main() {
	cfg := config.Load()
	logger := logging.NewLogger(cfg.Log)

	db, err := database.Connect(cfg.Database, logging.Component(logger, "gorm"))
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}
	defer func() { _ = database.Close(db) }()

	fmt.Println("✅ Connected to database")
	fmt.Println()

	type MeetingStats struct {
		Total  int64
		Active int64
		Ended  int64
	}
	var stats MeetingStats
	query := `
		SELECT
			COUNT(*) as total,
			COUNT(CASE WHEN is_active THEN 1 END) as active,
			COUNT(CASE WHEN NOT is_active THEN 1 END) as ended
		FROM meetings
	`
	if err := db.Raw(query).Scan(&stats).Error; err != nil {
		log.Fatal("Failed to get statistics:", err)
	}

	fmt.Println("📈 Meeting Statistics:")
	fmt.Printf("  - Total meetings: %d\n", stats.Total)
	fmt.Printf("  - Active: %d\n", stats.Active)
	fmt.Printf("  - Ended: %d\n", stats.Ended)
	fmt.Println()

	var meetings []model.Meeting
	if err := db.Preload("Participants").Where("is_active = ?", true).
		Order("created_at DESC").Limit(10).Find(&meetings).Error; err != nil {
		log.Fatal("Failed to get active meetings:", err)
	}

	fmt.Println("👥 Active Meetings (last 10):")
	for _, m := range meetings {
		fmt.Printf("  - Room: %s, Host: %s, Participants: %d, Created: %s\n",
			m.RoomID, m.HostUserID, len(m.Participants), m.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	fmt.Println()

	// 녹화 디렉토리에 남은 방 (회의 레코드가 없는 것은 고아)
	entries, err := os.ReadDir(cfg.Recording.RootDir)
	if err != nil {
		fmt.Printf("❌ Recording directory unavailable: %v\n", err)
		return
	}

	layout := recording.Layout{Root: cfg.Recording.RootDir, Ext: cfg.Recording.ChunkExt}
	fmt.Printf("🎬 Recording rooms in %s:\n", cfg.Recording.RootDir)
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		var count int64
		db.Model(&model.Meeting{}).Where("room_id = ?", e.Name()).Count(&count)

		final := "no"
		if _, err := os.Stat(layout.FinalPath(e.Name())); err == nil {
			final = "yes"
		}
		if count == 0 {
			fmt.Printf("  - %s (orphan, final: %s)\n", e.Name(), final)
		} else {
			fmt.Printf("  - %s (final: %s)\n", e.Name(), final)
		}
	}
}
