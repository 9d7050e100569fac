package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt"
)

// DevUserID 是未配置 JWT 密钥时所有请求使用的用户（仅限开发环境）。
const DevUserID uint = 1

const userIDKey = "userID"

// AuthMiddleware 创建一个 Gin 中间件，用于验证 JWT 并把 sub 声明作为用户 ID。
// WebSocket 客户端无法设置请求头，因此也接受 ?token= 查询参数。
func AuthMiddleware(jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if jwtSecret == "" {
			c.Set(userIDKey, DevUserID)
			c.Next()
			return
		}

		tokenString := c.Query("token")
		if tokenString == "" {
			authHeader := c.GetHeader("Authorization")
			if authHeader == "" {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "请求未包含授权标头"})
				return
			}
			// 我们期望的格式是 "Bearer <token>"
			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "授权标头格式不正确"})
				return
			}
			tokenString = parts[1]
		}

		userID, err := ParseToken(jwtSecret, tokenString)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "无效的 token"})
			return
		}
		c.Set(userIDKey, userID)
		c.Next()
	}
}

// ParseToken 校验 token 并返回其中的用户 ID。
func ParseToken(jwtSecret, tokenString string) (uint, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		// 确保 token 的签名方法是我们期望的
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("非预期的签名方法")
		}
		return []byte(jwtSecret), nil
	})
	if err != nil {
		return 0, err
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return 0, errors.New("无效的 token")
	}
	sub, ok := claims["sub"].(float64) // JWT 解析数字时默认为 float64
	if !ok || sub < 1 {
		return 0, errors.New("无效的 token claims")
	}
	return uint(sub), nil
}

// IssueToken 为 userID 签发一个 HS256 token，供 CLI 与测试使用。
func IssueToken(jwtSecret string, userID uint, ttl time.Duration) (string, error) {
	if jwtSecret == "" {
		return "", fmt.Errorf("jwt secret is empty")
	}
	claims := jwt.MapClaims{
		"sub": userID,
		"iat": time.Now().Unix(),
	}
	if ttl != 0 {
		claims["exp"] = time.Now().Add(ttl).Unix()
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(jwtSecret))
}

// UserID 返回认证中间件写入的用户 ID。
func UserID(c *gin.Context) uint {
	return c.GetUint(userIDKey)
}
