package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"meeting-backend/internal/auth"
	"meeting-backend/internal/config"
)

// 서버와 같은 JWT_SECRET 으로 액세스 토큰을 발급하는 운영/테스트용 도구.
// 사용자 인증은 외부 서비스가 담당하고, 이 도구는 로컬 점검에만 쓴다.
func main() {
	userID := flag.String("user", "", "user id (token subject)")
	nickname := flag.String("name", "", "display name")
	flag.Parse()

	if *userID == "" {
		fmt.Fprintln(os.Stderr, "usage: issue_token -user <id> [-name <display name>]")
		os.Exit(2)
	}
	if *nickname == "" {
		*nickname = *userID
	}

	cfg := config.Load()
	token, err := auth.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenExpiry).GenerateAccessToken(*userID, *nickname)
	if err != nil {
		log.Fatalf("Failed to issue token: %v", err)
	}

	fmt.Println(token)
}
