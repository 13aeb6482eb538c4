package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"boligmarked/market/internal/api/middleware"
	"boligmarked/market/internal/models"
	"boligmarked/market/internal/services"
	"boligmarked/market/internal/views"
)

// IViewBuilder computes the composite read views.
type IViewBuilder interface {
	AgentCaseList(ctx context.Context, agentID string) ([]views.AgentCase, error)
	SellerDashboard(ctx context.Context, sellerID string) (*views.SellerDashboard, error)
	AdminOverview(ctx context.Context) (*views.AdminOverview, error)
}

// RestCaseHandler serves the read side of cases, offers and messages. Routes
// sit behind AuthMiddleware.
type RestCaseHandler struct {
	caseService    services.ICaseService
	offerService   services.IOfferService
	messageService services.IMessageService
	viewBuilder    IViewBuilder
}

// NewRestCaseHandler creates a new RestCaseHandler.
func NewRestCaseHandler(caseService services.ICaseService, offerService services.IOfferService, messageService services.IMessageService, viewBuilder IViewBuilder) *RestCaseHandler {
	return &RestCaseHandler{
		caseService:    caseService,
		offerService:   offerService,
		messageService: messageService,
		viewBuilder:    viewBuilder,
	}
}

func writeServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
	case errors.Is(err, services.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	default:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
	}
}

// ListCases handles GET /v1/cases. Sellers get their own cases, agents the
// browsable list merged with their state, admins everything.
func (h *RestCaseHandler) ListCases(c *gin.Context) {
	ctx := c.Request.Context()
	userID := middleware.UserID(c)

	switch middleware.Role(c) {
	case models.RoleAgent:
		list, err := h.viewBuilder.AgentCaseList(ctx, userID)
		if err != nil {
			writeServiceError(c, err)
			return
		}
		c.JSON(http.StatusOK, list)
	case models.RoleAdmin:
		list, err := h.caseService.GetAllCases(ctx)
		if err != nil {
			writeServiceError(c, err)
			return
		}
		c.JSON(http.StatusOK, list)
	default:
		list, err := h.caseService.GetCasesForUser(ctx, userID)
		if err != nil {
			writeServiceError(c, err)
			return
		}
		c.JSON(http.StatusOK, list)
	}
}

// GetCase handles GET /v1/cases/:id. Sellers only see their own cases;
// agents see only their own offers and messages on it.
func (h *RestCaseHandler) GetCase(c *gin.Context) {
	userID := middleware.UserID(c)
	role := middleware.Role(c)

	cs, err := h.caseService.GetCaseDetails(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	switch role {
	case models.RoleSeller:
		if cs.SellerID != userID {
			c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
	case models.RoleAgent:
		if cs.Status == models.CaseDraft {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
			return
		}
		cs.Offers = filterOffers(cs.Offers, userID)
		cs.Messages = filterMessages(cs.Messages, userID)
	}
	c.JSON(http.StatusOK, cs)
}

func filterOffers(in []models.Offer, agentID string) []models.Offer {
	out := make([]models.Offer, 0, 1)
	for _, o := range in {
		if o.AgentID == agentID {
			out = append(out, o)
		}
	}
	return out
}

func filterMessages(in []models.Message, userID string) []models.Message {
	out := make([]models.Message, 0, len(in))
	for _, m := range in {
		if m.FromUserID == userID || m.ToUserID == userID {
			out = append(out, m)
		}
	}
	return out
}

// GetCaseMessages handles GET /v1/cases/:id/messages?archived=true
func (h *RestCaseHandler) GetCaseMessages(c *gin.Context) {
	ctx := c.Request.Context()
	userID := middleware.UserID(c)
	role := middleware.Role(c)

	includeArchived, _ := strconv.ParseBool(c.DefaultQuery("archived", "false"))

	cs, err := h.caseService.GetCaseByID(ctx, c.Param("id"))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	if role == models.RoleSeller && cs.SellerID != userID {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}

	msgs, err := h.messageService.GetCaseMessages(ctx, cs.ID, includeArchived)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	if role == models.RoleAgent {
		msgs = filterMessages(msgs, userID)
	}
	c.JSON(http.StatusOK, msgs)
}

// GetInbox handles GET /v1/messages
func (h *RestCaseHandler) GetInbox(c *gin.Context) {
	msgs, err := h.messageService.GetMessagesForUser(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, msgs)
}

// GetMyOffers handles GET /v1/offers/mine (agents).
func (h *RestCaseHandler) GetMyOffers(c *gin.Context) {
	offers, err := h.offerService.GetOffersForAgent(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, offers)
}

// GetAgentStates handles GET /v1/agent/states (agents).
func (h *RestCaseHandler) GetAgentStates(c *gin.Context) {
	states, err := h.offerService.GetAgentCaseStates(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, states)
}

// GetSellerDashboard handles GET /v1/dashboard/seller (sellers).
func (h *RestCaseHandler) GetSellerDashboard(c *gin.Context) {
	d, err := h.viewBuilder.SellerDashboard(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}
