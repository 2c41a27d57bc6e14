package handlers

import (
	"net/http"
	"strconv"
	"time"

	"water_monitor/internal/logger"
	"water_monitor/internal/metrics"
	"water_monitor/internal/service"

	"github.com/gin-gonic/gin"

	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

const statusOK = "ok"

// Handler wires HTTP layer to services and logging.
type Handler struct {
	services *service.Service
	log      *logger.Logger
}

// NewHandler constructs a new HTTP handler with dependencies.
func NewHandler(services *service.Service, log *logger.Logger) *Handler {
	return &Handler{services: services, log: log}
}

// InitRoutes builds and returns the Gin router with all routes registered.
func (h *Handler) InitRoutes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), h.accessLog)

	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	// Health endpoint
	router.GET("/health", h.health)

	// Auth endpoints
	h.registerAuthRoutes(router)

	// Versioned API endpoints (protected)
	h.registerAPIRoutes(router)

	// Live streams (HTTP upgrade) on the same port
	router.GET("/ws", h.wsConnect)

	return router
}

// accessLog records latency for every matched route. Websocket streams are
// long-lived and skipped.
func (h *Handler) accessLog(c *gin.Context) {
	start := time.Now()
	c.Next()

	route := c.FullPath()
	if route == "" || route == "/ws" {
		return
	}
	status := c.Writer.Status()
	elapsed := time.Since(start)
	metrics.HTTPRequests.WithLabelValues(route, strconv.Itoa(status)).Observe(elapsed.Seconds())
	if h.log != nil {
		h.log.Debugw("http_request", "method", c.Request.Method, "route", route, "status", status, "elapsed", elapsed)
	}
}

func (h *Handler) registerAuthRoutes(r *gin.Engine) {
	auth := r.Group("/auth")
	{
		auth.POST("/sign-up", h.signUp)
		auth.POST("/sign-in", h.signIn)
	}
}

func (h *Handler) registerAPIRoutes(r *gin.Engine) {
	api := r.Group("/api/v1", h.operatorIDMiddleware)
	{
		h.registerSensorRoutes(api)
		h.registerControlRoutes(api)
		h.registerLogRoutes(api)
	}
}

func (h *Handler) registerSensorRoutes(api *gin.RouterGroup) {
	sensors := api.Group("/sensors")
	{
		sensors.GET("/readings", h.getReadings)
		sensors.GET("/statuses", h.getStatuses)
		sensors.GET("/:name", h.getGauge)
		sensors.GET("/:name/history", h.getHistory)
	}
	api.GET("/system/parts", h.getSystemParts)
}

func (h *Handler) registerControlRoutes(api *gin.RouterGroup) {
	control := api.Group("/control")
	{
		control.GET("", h.getControl)
		// Body example: {"on": true}
		control.POST("/pumps", h.setAllPumps)
		control.POST("/pumps/:index", h.setPump)
		control.POST("/system", h.setSystem)
		control.POST("/servo", h.setServo)
		// Body example: {"command": "pause"}
		control.POST("/schedule", h.setSchedule)
	}
}

func (h *Handler) registerLogRoutes(api *gin.RouterGroup) {
	logs := api.Group("/logs")
	{
		logs.GET("/", h.getLogs)
	}
}

// Centralized error logging and response.
func (h *Handler) logAndJSONError(c *gin.Context, httpCode int, userMsg, logKey string, err error, kv ...interface{}) {
	if h.log != nil && err != nil {
		fields := append([]interface{}{"err", err}, kv...)
		h.log.Errorw(logKey, fields...)
	}
	c.JSON(httpCode, gin.H{"error": userMsg})
}

// @Summary      Health check
// @Tags         system
// @Produce      json
// @Success      200  {object}  map[string]string
// @Router       /health [get]
func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": statusOK,
	})
}
