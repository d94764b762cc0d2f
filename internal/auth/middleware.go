package auth

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// tokenFrom Authorization 헤더, access_token 쿠키, token 쿼리 순으로 토큰 추출
func tokenFrom(c *fiber.Ctx) (string, error) {
	if authHeader := c.Get("Authorization"); authHeader != "" {
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			return "", errors.New("invalid authorization header format")
		}
		return parts[1], nil
	}
	if cookie := c.Cookies("access_token"); cookie != "" {
		return cookie, nil
	}
	// 브라우저 WebSocket 은 헤더를 못 붙이므로 쿼리 허용
	if q := c.Query("token"); q != "" {
		return q, nil
	}
	return "", errors.New("missing authorization token")
}

// AuthMiddleware JWT 인증 미들웨어
func AuthMiddleware(jwtManager *JWTManager) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token, err := tokenFrom(c)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": err.Error(),
				"code":  "UNAUTHORIZED",
			})
		}

		// 토큰 검증
		claims, err := jwtManager.ValidateAccessToken(token)
		if err != nil {
			if errors.Is(err, ErrExpiredToken) {
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
					"error": "token expired",
					"code":  "TOKEN_EXPIRED",
				})
			}
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "invalid token",
				"code":  "UNAUTHORIZED",
			})
		}

		// 사용자 정보를 컨텍스트에 저장
		c.Locals("userID", claims.UserID)
		c.Locals("nickname", claims.Nickname)
		c.Locals("claims", claims)

		return c.Next()
	}
}

// UserID 인증된 사용자 ID
func UserID(c *fiber.Ctx) string {
	id, _ := c.Locals("userID").(string)
	return id
}

// Nickname 인증된 사용자 닉네임
func Nickname(c *fiber.Ctx) string {
	name, _ := c.Locals("nickname").(string)
	return name
}
