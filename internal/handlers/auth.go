package handlers

import (
	"errors"
	"net/http"

	"water_monitor/internal/repository"
	"water_monitor/internal/service"

	"github.com/gin-gonic/gin"
)

const errInvalidCredentials = "invalid credentials"

// authCredentials is the body of both sign-up and sign-in.
type authCredentials struct {
	Username string `json:"username" binding:"required" example:"operator1"`
	Password string `json:"password" binding:"required" example:"s3cr3t"`
}

// bindCredentials writes a 400 and returns false when the body does not bind.
func (h *Handler) bindCredentials(c *gin.Context) (authCredentials, bool) {
	var in authCredentials
	if err := c.ShouldBindJSON(&in); err != nil {
		if h.log != nil {
			h.log.Infow("auth_bad_request_body", "err", err)
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": errInvalidBodyPref + err.Error()})
		return in, false
	}
	return in, true
}

// @Summary      Register an operator
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        input  body  authCredentials  true  "Operator credentials"
// @Success      200    {object}  map[string]interface{}  "id"
// @Failure      400    {object}  map[string]string
// @Failure      409    {object}  map[string]string
// @Failure      500    {object}  map[string]string
// @Router       /auth/sign-up [post]
func (h *Handler) signUp(c *gin.Context) {
	in, ok := h.bindCredentials(c)
	if !ok {
		return
	}

	id, err := h.services.SignUp(in.Username, in.Password)
	switch {
	case err == nil:
		if h.log != nil {
			h.log.Infow("operator_registered", "operator_id", id)
		}
		c.JSON(http.StatusOK, gin.H{"id": id})
	case errors.Is(err, service.ErrEmptyUsername), errors.Is(err, service.ErrInvalidPassword):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, repository.ErrOperatorExists):
		c.JSON(http.StatusConflict, gin.H{"error": "operator already exists"})
	default:
		h.logAndJSONError(c, http.StatusInternalServerError, "failed to register operator", "auth_sign_up_failed", err)
	}
}

// @Summary      Issue an access token
// @Description  The token guards every /api/v1 route; send it as "Authorization: Bearer <token>".
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        input  body  authCredentials  true  "Operator credentials"
// @Success      200    {object}  map[string]string  "token"
// @Failure      400    {object}  map[string]string
// @Failure      401    {object}  map[string]string
// @Failure      503    {object}  map[string]string
// @Router       /auth/sign-in [post]
func (h *Handler) signIn(c *gin.Context) {
	in, ok := h.bindCredentials(c)
	if !ok {
		return
	}

	token, err := h.services.GenerateToken(in.Username, in.Password)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"token": token})
	case errors.Is(err, service.ErrOperatorNotFound), errors.Is(err, service.ErrInvalidPassword):
		if h.log != nil {
			h.log.Infow("auth_sign_in_rejected", "username", in.Username)
		}
		c.JSON(http.StatusUnauthorized, gin.H{"error": errInvalidCredentials})
	case errors.Is(err, service.ErrNoSigningKey):
		h.logAndJSONError(c, http.StatusServiceUnavailable, "sign-in is not configured", "auth_no_signing_key", err)
	default:
		h.logAndJSONError(c, http.StatusInternalServerError, "failed to sign in", "auth_sign_in_failed", err)
	}
}
