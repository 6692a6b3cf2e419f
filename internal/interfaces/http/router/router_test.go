package router

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/churchsync/chms-integration/internal/infrastructure/logger"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type pingRegistrar struct{}

func (pingRegistrar) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })
	rg.GET("/panic", func(c *gin.Context) { panic("boom") })
}

func TestRouterSetup(t *testing.T) {
	engine := gin.New()
	NewRouter(engine).Register(pingRegistrar{}).Setup()

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "pong", w.Body.String())
}

func TestRouterWithPrefix(t *testing.T) {
	engine := gin.New()
	NewRouter(engine, WithPrefix("/ops")).Register(pingRegistrar{}).Setup()

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ops/ping", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestNewEngine(t *testing.T) {
	engine := NewEngine(EngineConfig{ServiceName: "chms-integration", Mode: gin.TestMode}, zap.NewNop())
	NewRouter(engine).Register(pingRegistrar{}).Setup()

	t.Run("request id is echoed", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.Header.Set(logger.RequestIDHeader, "req-1")
		w := httptest.NewRecorder()
		engine.ServeHTTP(w, req)
		assert.Equal(t, "req-1", w.Header().Get(logger.RequestIDHeader))
	})

	t.Run("panics become 500", func(t *testing.T) {
		w := httptest.NewRecorder()
		engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))
		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
}
