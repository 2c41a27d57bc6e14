package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"water_monitor/internal/service"

	"github.com/gin-gonic/gin"
)

const (
	statusAccepted = "accepted"

	errSendCommand     = "failed to send command"
	errInvalidBodyPref = "invalid body: "
	errInvalidPumpPath = "invalid pump index; use 0 or 1"
)

// SwitchRequest turns a device switch on or off.
type SwitchRequest struct {
	On *bool `json:"on" binding:"required" example:"true"`
}

// ScheduleRequest carries a schedule keyword.
type ScheduleRequest struct {
	// Allowed: start, pause, resume, stop
	Command string `json:"command" binding:"required" example:"pause"`
}

func (h *Handler) bindSwitch(c *gin.Context) (bool, bool) {
	var req SwitchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errInvalidBodyPref + err.Error()})
		return false, false
	}
	return *req.On, true
}

// respondAccepted reports the command as accepted together with the state
// last received from the device; the write itself is not reflected until the
// device confirms it.
func (h *Handler) respondAccepted(c *gin.Context, extra gin.H) {
	resp := gin.H{"status": statusAccepted, "state": h.services.ControlState.State()}
	for k, v := range extra {
		resp[k] = v
	}
	c.JSON(http.StatusOK, resp)
}

// dispatch runs a command and maps its error: validation errors are 400,
// store failures 500.
func (h *Handler) dispatch(c *gin.Context, logKey string, extra gin.H, run func(ctx context.Context) error) {
	if err := run(c.Request.Context()); err != nil {
		if errors.Is(err, service.ErrInvalidPump) || errors.Is(err, service.ErrInvalidCommand) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.logAndJSONError(c, http.StatusInternalServerError, errSendCommand, logKey, err, "operator_id", operatorID(c))
		return
	}
	if h.log != nil {
		h.log.Infow("operator_command", "operator_id", operatorID(c), "path", c.FullPath())
	}
	h.respondAccepted(c, extra)
}

// @Summary      Control state
// @Description  Last known pumps, servo, system and schedule status.
// @Tags         control
// @Produce      json
// @Success      200  {object}  models.ControlState
// @Failure      401  {object}  map[string]string
// @Router       /api/v1/control [get]
// @Security     BearerAuth
func (h *Handler) getControl(c *gin.Context) {
	c.JSON(http.StatusOK, h.services.ControlState.State())
}

// @Summary      Switch one pump
// @Tags         control
// @Accept       json
// @Produce      json
// @Param        index  path  int            true  "Pump index"  Enums(0,1)
// @Param        body   body  SwitchRequest  true  "Switch payload"
// @Success      200    {object}  map[string]interface{}  "status, state"
// @Failure      400    {object}  map[string]string
// @Failure      401    {object}  map[string]string
// @Failure      500    {object}  map[string]string
// @Router       /api/v1/control/pumps/{index} [post]
// @Security     BearerAuth
func (h *Handler) setPump(c *gin.Context) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errInvalidPumpPath})
		return
	}
	on, ok := h.bindSwitch(c)
	if !ok {
		return
	}
	h.dispatch(c, "pump_command_failed", gin.H{"pump": index, "on": on}, func(ctx context.Context) error {
		return h.services.Commands.SetPumpState(ctx, index, on)
	})
}

// @Summary      Switch both pumps
// @Tags         control
// @Accept       json
// @Produce      json
// @Param        body  body  SwitchRequest  true  "Switch payload"
// @Success      200   {object}  map[string]interface{}  "status, state"
// @Failure      400   {object}  map[string]string
// @Failure      401   {object}  map[string]string
// @Failure      500   {object}  map[string]string
// @Router       /api/v1/control/pumps [post]
// @Security     BearerAuth
func (h *Handler) setAllPumps(c *gin.Context) {
	on, ok := h.bindSwitch(c)
	if !ok {
		return
	}
	h.dispatch(c, "all_pumps_command_failed", gin.H{"on": on}, func(ctx context.Context) error {
		return h.services.Commands.SetAllPumps(ctx, on)
	})
}

// @Summary      Switch the system
// @Tags         control
// @Accept       json
// @Produce      json
// @Param        body  body  SwitchRequest  true  "Switch payload"
// @Success      200   {object}  map[string]interface{}  "status, state"
// @Failure      400   {object}  map[string]string
// @Failure      401   {object}  map[string]string
// @Failure      500   {object}  map[string]string
// @Router       /api/v1/control/system [post]
// @Security     BearerAuth
func (h *Handler) setSystem(c *gin.Context) {
	on, ok := h.bindSwitch(c)
	if !ok {
		return
	}
	h.dispatch(c, "system_command_failed", gin.H{"on": on}, func(ctx context.Context) error {
		return h.services.Commands.SetSystemState(ctx, on)
	})
}

// @Summary      Switch the servomotor
// @Tags         control
// @Accept       json
// @Produce      json
// @Param        body  body  SwitchRequest  true  "Switch payload"
// @Success      200   {object}  map[string]interface{}  "status, state"
// @Failure      400   {object}  map[string]string
// @Failure      401   {object}  map[string]string
// @Failure      500   {object}  map[string]string
// @Router       /api/v1/control/servo [post]
// @Security     BearerAuth
func (h *Handler) setServo(c *gin.Context) {
	on, ok := h.bindSwitch(c)
	if !ok {
		return
	}
	h.dispatch(c, "servo_command_failed", gin.H{"on": on}, func(ctx context.Context) error {
		return h.services.Commands.SetServomotorState(ctx, on)
	})
}

// @Summary      Schedule command
// @Description  Writes start, pause, resume or stop for the device to act on.
// @Tags         control
// @Accept       json
// @Produce      json
// @Param        body  body  ScheduleRequest  true  "Command payload"
// @Success      200   {object}  map[string]interface{}  "status, state"
// @Failure      400   {object}  map[string]string
// @Failure      401   {object}  map[string]string
// @Failure      500   {object}  map[string]string
// @Router       /api/v1/control/schedule [post]
// @Security     BearerAuth
func (h *Handler) setSchedule(c *gin.Context) {
	var req ScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errInvalidBodyPref + err.Error()})
		return
	}
	h.dispatch(c, "schedule_command_failed", gin.H{"command": req.Command}, func(ctx context.Context) error {
		return h.services.Commands.SetControlCommand(ctx, req.Command)
	})
}
