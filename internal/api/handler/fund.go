package handler

import (
	"fundchat/backend/internal/directory"
	"fundchat/backend/internal/funding"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Amount's upper bound is funding.MaxAmount.
type beginFundingRequest struct {
	Amount int64  `json:"amount" validate:"gt=0,lte=9223372036854"`
	Funder string `json:"funder" validate:"max=128"`
}

type finishFundingRequest struct {
	TxID string `json:"txid" validate:"required,max=128"`
}

// BeginFunding serves POST /projects/:projectuid/fund. The response carries
// the transfer the wallet has to sign and the pending id to report back on.
func (h *Handler) BeginFunding(c *gin.Context) {
	var req beginFundingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.validate.Struct(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": funding.ErrInvalidAmount.Error()})
		return
	}

	ctx := c.Request.Context()
	if creds, ok := credentials(c); ok {
		ctx = directory.WithCredentials(ctx, creds)
		if req.Funder == "" {
			req.Funder = creds.PublicKey
		}
	}

	transfer, err := h.Funding.Begin(ctx, c.Param("projectuid"), req.Funder, req.Amount)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, transfer)
}

// GetTransfer serves GET /fund/:pending.
func (h *Handler) GetTransfer(c *gin.Context) {
	transfer, ok := h.Funding.Lookup(c.Param("pending"))
	if !ok {
		h.fail(c, funding.ErrUnknownTransfer)
		return
	}
	c.JSON(http.StatusOK, transfer)
}

// FinishFunding serves POST /fund/:pending/finish, the wallet's success callback.
func (h *Handler) FinishFunding(c *gin.Context) {
	var req finishFundingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.validate.Struct(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	id := c.Param("pending")
	if err := h.Rail.Resolve(id, req.TxID); err != nil {
		h.fail(c, err)
		return
	}

	transfer, ok := h.Funding.Lookup(id)
	switch {
	case !ok:
		h.fail(c, funding.ErrUnknownTransfer)
	case !transfer.Completed:
		c.JSON(http.StatusBadGateway, gin.H{"error": transfer.LastError, "transfer": transfer})
	default:
		c.JSON(http.StatusOK, transfer)
	}
}

// CancelFunding serves POST /fund/:pending/cancel.
func (h *Handler) CancelFunding(c *gin.Context) {
	if err := h.Rail.Reject(c.Param("pending")); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cancelled"})
}
