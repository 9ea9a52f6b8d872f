package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"mall-system/internal/utils"
)

const claimsKey = "claims"

func unauthorized(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, gin.H{
		"success": false,
		"message": message,
		"error":   "UNAUTHORIZED",
	})
}

// JWTAuth validates the bearer token and stores its claims on the context.
func JWTAuth(issuer *utils.TokenIssuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			unauthorized(c, http.StatusUnauthorized, "Authorization header required")
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			unauthorized(c, http.StatusUnauthorized, "Authorization header must be a bearer token")
			return
		}

		claims, err := issuer.ParseToken(strings.TrimSpace(parts[1]))
		if err != nil {
			unauthorized(c, http.StatusUnauthorized, "Invalid or expired token")
			return
		}

		c.Set(claimsKey, claims)
		c.Next()
	}
}

// RequireRole lets through only principals holding one of roles.
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := Claims(c)
		if !ok {
			unauthorized(c, http.StatusUnauthorized, "Missing credentials")
			return
		}
		for _, r := range roles {
			if claims.Role == r {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
			"success": false,
			"message": "Insufficient permissions",
			"error":   "FORBIDDEN",
		})
	}
}

// RequireShop rejects shop principals whose token does not name a shop.
func RequireShop() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := Claims(c)
		if !ok || claims.ShopId == nil {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"success": false,
				"message": "Token is not bound to a shop",
				"error":   "FORBIDDEN",
			})
			return
		}
		c.Next()
	}
}

func Claims(c *gin.Context) (*utils.Claims, bool) {
	v, ok := c.Get(claimsKey)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*utils.Claims)
	return claims, ok
}
