package handlers

import (
	"errors"
	"net/http"

	"water_monitor/internal/classify"
	"water_monitor/internal/service"

	"github.com/gin-gonic/gin"
)

const errUnknownSensor = "unknown sensor; use ph, tds or turbidity"

// @Summary      Latest readings
// @Description  Last known TDS, pH and turbidity display values; empty before any data arrived.
// @Tags         sensors
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "readings"
// @Failure      401  {object}  map[string]string
// @Router       /api/v1/sensors/readings [get]
// @Security     BearerAuth
func (h *Handler) getReadings(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"readings": h.services.Telemetry.Readings()})
}

// @Summary      Sensor statuses
// @Description  Classified state per sensor; every sensor is Offline before any data arrived.
// @Tags         sensors
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "statuses"
// @Failure      401  {object}  map[string]string
// @Router       /api/v1/sensors/statuses [get]
// @Security     BearerAuth
func (h *Handler) getStatuses(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"statuses": h.services.Telemetry.Statuses()})
}

// @Summary      Sensor trend
// @Description  Last points of one sensor from the cached telemetry.
// @Tags         sensors
// @Produce      json
// @Param        name  path  string  true  "Sensor"  Enums(ph,tds,turbidity)
// @Success      200   {object}  map[string]interface{}  "sensor, points"
// @Failure      401   {object}  map[string]string
// @Failure      404   {object}  map[string]string
// @Router       /api/v1/sensors/{name}/history [get]
// @Security     BearerAuth
func (h *Handler) getHistory(c *gin.Context) {
	name := c.Param("name")
	points, err := h.services.Telemetry.History(name)
	if err != nil {
		if errors.Is(err, service.ErrUnknownSensor) {
			c.JSON(http.StatusNotFound, gin.H{"error": errUnknownSensor})
			return
		}
		h.logAndJSONError(c, http.StatusInternalServerError, "failed to load history", "history_failed", err, "sensor", name)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sensor": name, "points": points})
}

// @Summary      Sensor gauge
// @Description  Unit, display scale and normal range of one sensor.
// @Tags         sensors
// @Produce      json
// @Param        name  path  string  true  "Sensor"  Enums(ph,tds,turbidity)
// @Success      200   {object}  classify.Gauge
// @Failure      401   {object}  map[string]string
// @Failure      404   {object}  map[string]string
// @Router       /api/v1/sensors/{name} [get]
// @Security     BearerAuth
func (h *Handler) getGauge(c *gin.Context) {
	g, ok := classify.Lookup(c.Param("name"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": errUnknownSensor})
		return
	}
	c.JSON(http.StatusOK, g)
}

// @Summary      System parts
// @Tags         sensors
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "parts"
// @Failure      401  {object}  map[string]string
// @Router       /api/v1/system/parts [get]
// @Security     BearerAuth
func (h *Handler) getSystemParts(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"parts": h.services.Telemetry.SystemParts()})
}
