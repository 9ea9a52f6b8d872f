package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"mall-system/internal/utils"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func ok(c *gin.Context) { c.Status(http.StatusOK) }

func serve(r *gin.Engine, method, path string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRateLimit(t *testing.T) {
	_, err := RateLimit("lots")
	require.Error(t, err)

	limit, err := RateLimit("2-M")
	require.NoError(t, err)

	r := gin.New()
	r.Use(limit)
	r.GET("/ping", ok)

	assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/ping", nil).Code)
	assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/ping", nil).Code)
	assert.Equal(t, http.StatusTooManyRequests, serve(r, http.MethodGet, "/ping", nil).Code)
}

func TestRoleAndShopGuards(t *testing.T) {
	issuer := utils.NewTokenIssuer("secret", time.Hour)
	shopID := int64(4)

	r := gin.New()
	r.Use(JWTAuth(issuer))
	r.GET("/admin", RequireRole(utils.RoleAdmin), ok)
	r.GET("/shop", RequireRole(utils.RoleShop), RequireShop(), func(c *gin.Context) {
		claims, found := Claims(c)
		require.True(t, found)
		c.JSON(http.StatusOK, gin.H{"shop": *claims.ShopId})
	})

	bearer := func(role string, shop *int64) map[string]string {
		tok, _, err := issuer.GenerateToken(1, "u", role, shop)
		require.NoError(t, err)
		return map[string]string{"Authorization": "Bearer " + tok}
	}

	assert.Equal(t, http.StatusUnauthorized, serve(r, http.MethodGet, "/admin", map[string]string{"Authorization": "Basic abc"}).Code)
	assert.Equal(t, http.StatusForbidden, serve(r, http.MethodGet, "/admin", bearer(utils.RoleBuyer, nil)).Code)
	assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/admin", bearer(utils.RoleAdmin, nil)).Code)

	assert.Equal(t, http.StatusForbidden, serve(r, http.MethodGet, "/shop", bearer(utils.RoleShop, nil)).Code)
	w := serve(r, http.MethodGet, "/shop", bearer(utils.RoleShop, &shopID))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"shop":4}`, w.Body.String())

	other := utils.NewTokenIssuer("other", time.Hour)
	tok, _, err := other.GenerateToken(1, "u", utils.RoleAdmin, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, serve(r, http.MethodGet, "/admin", map[string]string{"Authorization": "Bearer " + tok}).Code)
}

func TestRequestLogger(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)

	r := gin.New()
	r.Use(RequestLogger(zap.New(core)))
	r.GET("/ok", ok)
	r.GET("/missing", func(c *gin.Context) { c.Status(http.StatusNotFound) })

	w := serve(r, http.MethodGet, "/ok", nil)
	assert.NotEmpty(t, w.Header().Get(RequestIDHeader))

	w = serve(r, http.MethodGet, "/missing", map[string]string{RequestIDHeader: "req-1"})
	assert.Equal(t, "req-1", w.Header().Get(RequestIDHeader))

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.Equal(t, "req-1", entries[1].ContextMap()["request_id"])
}

func TestCORSPreflight(t *testing.T) {
	r := gin.New()
	r.Use(CORS())
	r.GET("/ok", ok)
	r.OPTIONS("/ok", ok)

	w := serve(r, http.MethodOptions, "/ok", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
