package handler

import (
	"errors"
	"fundchat/backend/internal/chathub"
	"fundchat/backend/internal/directory"
	"fundchat/backend/internal/funding"
	"net/http"

	"github.com/gin-gonic/gin"
)

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, directory.ErrProjectNotFound), errors.Is(err, funding.ErrUnknownTransfer):
		return http.StatusNotFound
	case errors.Is(err, directory.ErrDirectoryUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, chathub.ErrAlreadyFrozen), errors.Is(err, chathub.ErrProjectIssue):
		return http.StatusConflict
	case errors.Is(err, funding.ErrInvalidAmount):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) fail(c *gin.Context, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		h.log.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
	}
	c.JSON(code, gin.H{"error": err.Error()})
}

// GetProject serves GET /projects/get-project?projectuid= as {"project": ...}.
func (h *Handler) GetProject(c *gin.Context) {
	uid := c.Query("projectuid")
	if uid == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "projectuid is required"})
		return
	}

	project, err := h.Directory.GetProject(c.Request.Context(), uid)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, directory.ProjectResponse{Project: project})
}

// UpdateProjectFund serves POST /projects/update-project-fund. Repeating a
// txid is accepted and changes nothing.
func (h *Handler) UpdateProjectFund(c *gin.Context) {
	if _, ok := credentials(c); !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "publickey header missing"})
		return
	}

	var update directory.FundUpdate
	if err := c.ShouldBindJSON(&update); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.validate.Struct(update); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.Directory.UpdateProjectFund(c.Request.Context(), update); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type markFrozenRequest struct {
	ProjectUID string `json:"projectuid" validate:"required"`
}

// MarkFrozen serves POST /projects/mark-frozen for remote hubs.
func (h *Handler) MarkFrozen(c *gin.Context) {
	if _, ok := credentials(c); !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "publickey header missing"})
		return
	}

	var req markFrozenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.validate.Struct(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.Directory.MarkFrozen(c.Request.Context(), req.ProjectUID); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
