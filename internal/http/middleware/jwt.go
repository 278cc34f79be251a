package middleware

import (
	"errors"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// AdminIDKey is the gin context key holding the authenticated admin id
const AdminIDKey = "admin_id"

// GenerateAdminToken signs an HS256 token for the admin with the given telegram id
func GenerateAdminToken(secret []byte, adminID int64, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"admin_id": adminID,
		"role":     "admin",
		"exp":      now.Add(ttl).Unix(),
		"iat":      now.Unix(),
		"nbf":      now.Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

// ParseAdminToken validates the token and returns the admin id it was issued for
func ParseAdminToken(secret []byte, tokenString string) (int64, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return secret, nil
	}, jwt.WithExpirationRequired())

	if err != nil || !token.Valid {
		return 0, errors.New("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return 0, errors.New("invalid claims")
	}
	if role, _ := claims["role"].(string); role != "admin" {
		return 0, errors.New("not an admin token")
	}

	adminID, ok := claims["admin_id"].(float64)
	if !ok {
		return 0, errors.New("admin_id not found")
	}

	return int64(adminID), nil
}

// AdminJWT requires a bearer token issued to one of adminIDs
func AdminJWT(secret []byte, adminIDs []int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		tokenString, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || tokenString == "" {
			AuthRejected.WithLabelValues("missing").Inc()
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}

		adminID, err := ParseAdminToken(secret, tokenString)
		if err != nil {
			AuthRejected.WithLabelValues("invalid").Inc()
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		if !slices.Contains(adminIDs, adminID) {
			AuthRejected.WithLabelValues("forbidden").Inc()
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "not an admin"})
			return
		}

		c.Set(AdminIDKey, adminID)
		c.Next()
	}
}
