package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"water_monitor/internal/service"

	"github.com/gin-gonic/gin"
)

const (
	errFromInvalid = "invalid 'from' time; use RFC3339 or YYYY-MM-DD"
	errToInvalid   = "invalid 'to' time; use RFC3339 or YYYY-MM-DD"

	layoutDateTime = "2006-01-02 15:04:05"
	layoutDate     = "2006-01-02"
)

var queryTimeLayouts = []string{time.RFC3339, layoutDateTime, layoutDate}

// parseQueryTime accepts RFC3339, "YYYY-MM-DD HH:MM:SS" or "YYYY-MM-DD" and
// returns UTC. A date-only upper bound covers the whole day.
func parseQueryTime(s string, endOfDay bool) (time.Time, error) {
	for _, layout := range queryTimeLayouts {
		t, err := time.Parse(layout, s)
		if err != nil {
			continue
		}
		if endOfDay && layout == layoutDate {
			t = t.Add(24*time.Hour - time.Nanosecond)
		}
		return t.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("invalid time %q", s)
}

// logFilter reads from/to/type. The message is set when the query is invalid.
func logFilter(c *gin.Context) (service.LogFilter, string) {
	f := service.LogFilter{Type: c.Query("type")}
	if qs := strings.TrimSpace(c.Query("from")); qs != "" {
		t, err := parseQueryTime(qs, false)
		if err != nil {
			return f, errFromInvalid
		}
		f.From = t
	}
	if qs := strings.TrimSpace(c.Query("to")); qs != "" {
		t, err := parseQueryTime(qs, true)
		if err != nil {
			return f, errToInvalid
		}
		f.To = t
	}
	return f, ""
}

// @Summary      Command journal
// @Description  Operator commands, oldest first. Dates accept RFC3339, 'YYYY-MM-DD HH:MM:SS' or 'YYYY-MM-DD'; a date-only 'to' includes that whole day.
// @Tags         logs
// @Produce      json
// @Param        from  query   string  false  "Start of range"  example(2025-08-01)
// @Param        to    query   string  false  "End of range"  example(2025-08-31)
// @Param        type  query   string  false  "Entry type"  Enums(PUMP,ALL_PUMPS,SYSTEM,SERVO,SCHEDULE)
// @Success      200   {object}  map[string]interface{}  "count, events"
// @Failure      400   {object}  map[string]string
// @Failure      401   {object}  map[string]string
// @Failure      500   {object}  map[string]string
// @Router       /api/v1/logs [get]
// @Security     BearerAuth
func (h *Handler) getLogs(c *gin.Context) {
	f, msg := logFilter(c)
	if msg != "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": msg})
		return
	}

	events, err := h.services.EventLog.List(c.Request.Context(), f)
	if err != nil {
		if errors.Is(err, service.ErrInvalidTimeRange) || errors.Is(err, service.ErrUnknownEventType) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.logAndJSONError(c, http.StatusInternalServerError, "failed to load logs", "logs_list_failed", err,
			"from", f.From, "to", f.To, "type", f.Type)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"count":  len(events),
		"events": events,
	})
}
