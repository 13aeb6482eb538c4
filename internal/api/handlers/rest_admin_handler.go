package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"boligmarked/market/internal/models"
	"boligmarked/market/internal/services"
	"boligmarked/market/internal/views"
)

// OverviewSource returns the most recent cached overview, if any.
type OverviewSource interface {
	Latest() (*views.AdminOverview, bool)
}

// RestAdminHandler serves admin reads. Routes sit behind AdminMiddleware.
type RestAdminHandler struct {
	userService services.IUserService
	viewBuilder IViewBuilder
	overview    OverviewSource
}

// NewRestAdminHandler creates a new RestAdminHandler. overview may be nil.
func NewRestAdminHandler(userService services.IUserService, viewBuilder IViewBuilder, overview OverviewSource) *RestAdminHandler {
	return &RestAdminHandler{userService: userService, viewBuilder: viewBuilder, overview: overview}
}

// ListUsers handles GET /v1/admin/users
func (h *RestAdminHandler) ListUsers(c *gin.Context) {
	users, err := h.userService.GetAll(c.Request.Context())
	if err != nil {
		writeServiceError(c, err)
		return
	}
	out := make([]models.User, 0, len(users))
	for i := range users {
		out = append(out, publicUser(&users[i]))
	}
	c.JSON(http.StatusOK, out)
}

// GetOverview handles GET /v1/admin/overview, preferring the watcher's cached
// value.
func (h *RestAdminHandler) GetOverview(c *gin.Context) {
	if h.overview != nil {
		if o, ok := h.overview.Latest(); ok && o != nil {
			c.JSON(http.StatusOK, o)
			return
		}
	}
	o, err := h.viewBuilder.AdminOverview(c.Request.Context())
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}
