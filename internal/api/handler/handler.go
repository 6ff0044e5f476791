// Package handler exposes the hub, the project directory and funding over gin.
package handler

import (
	"fundchat/backend/internal/chathub"
	"fundchat/backend/internal/directory"
	"fundchat/backend/internal/funding"
	"fundchat/backend/internal/metrics"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

// Handler holds what the routes need.
type Handler struct {
	Hub       *chathub.ManagerService
	Directory directory.Service
	Funding   *funding.Service
	Rail      *funding.CallbackRail
	Tickets   *TicketIssuer
	Metrics   *metrics.Metrics

	validate *validator.Validate
	log      zerolog.Logger
}

func NewHandler(hub *chathub.ManagerService, dir directory.Service, fund *funding.Service, rail *funding.CallbackRail, tickets *TicketIssuer, m *metrics.Metrics, log zerolog.Logger) *Handler {
	return &Handler{
		Hub:       hub,
		Directory: dir,
		Funding:   fund,
		Rail:      rail,
		Tickets:   tickets,
		Metrics:   m,
		validate:  validator.New(),
		log:       log.With().Str("component", "http").Logger(),
	}
}

// Register mounts every route on r.
func (h *Handler) Register(r gin.IRouter) {
	r.POST("/auth/ticket", h.IssueTicket)
	r.GET("/ws", h.ServeWebSocket)

	projects := r.Group("/projects")
	projects.GET("/get-project", h.GetProject)
	projects.POST("/update-project-fund", h.UpdateProjectFund)
	projects.POST("/mark-frozen", h.MarkFrozen)
	projects.POST("/:projectuid/fund", h.BeginFunding)

	fund := r.Group("/fund")
	fund.GET("/:pending", h.GetTransfer)
	fund.POST("/:pending/finish", h.FinishFunding)
	fund.POST("/:pending/cancel", h.CancelFunding)

	if h.Metrics != nil {
		r.GET("/metrics", gin.WrapH(h.Metrics.Handler()))
	}
}
