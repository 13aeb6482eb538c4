package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"boligmarked/market/internal/api/handlers"
	"boligmarked/market/internal/api/middleware"
	"boligmarked/market/internal/captcha"
	"boligmarked/market/internal/config"
	"boligmarked/market/internal/email"
	"boligmarked/market/internal/events"
	"boligmarked/market/internal/models"
	"boligmarked/market/internal/services"
	"boligmarked/market/internal/storage"
	"boligmarked/market/internal/views"
	"boligmarked/market/internal/watch"
)

// Deps are the pieces the public router is built from.
type Deps struct {
	Services   *services.Services
	Views      *views.Builder
	Overview   *watch.Watcher[*views.AdminOverview] // optional
	Storage    storage.IS3Storage
	TaskClient handlers.IAsynqClient
	Bus        *events.Bus
}

// SetupRouter configures and returns the main Gin engine. ctx bounds the rate
// limiter's cleanup loop and open event streams.
func SetupRouter(ctx context.Context, cfg *config.Config, d Deps) *gin.Engine {
	r := gin.Default()

	rateLimiter := middleware.NewRateLimiterMiddleware(ctx, cfg.RateLimitBucketSize, cfg.RateLimitRefillRate)

	// Apply global middleware first (order matters)
	r.Use(middleware.CORSMiddleware())
	r.Use(rateLimiter.Limit())

	svc := d.Services
	jsonApiHandler := handlers.NewJsonApiHandler(cfg, d.TaskClient, d.Storage,
		svc.Users, svc.Cases, svc.Forms, svc.Offers, svc.Showings, svc.Messages)
	jsonApiHandler.SetCaptchaVerifier(captcha.NewTurnstileVerifier(cfg))
	restCaseHandler := handlers.NewRestCaseHandler(svc.Cases, svc.Offers, svc.Messages, d.Views)
	var overview handlers.OverviewSource
	if d.Overview != nil {
		overview = d.Overview
	}
	restAdminHandler := handlers.NewRestAdminHandler(svc.Users, d.Views, overview)
	eventsHandler := handlers.NewEventsHandler(ctx, d.Bus, cfg.SSEHeartbeat)

	v1 := r.Group("/v1")
	{
		// Mutations; access is checked per method.
		v1.POST("/api", jsonApiHandler.HandleRequest)

		v1.GET("/ping", func(c *gin.Context) {
			c.String(http.StatusOK, "pong")
		})

		authRequired := v1.Group("/")
		authRequired.Use(middleware.AuthMiddleware(cfg.JwtSecret))
		{
			authRequired.GET("/cases", restCaseHandler.ListCases)
			authRequired.GET("/cases/:id", restCaseHandler.GetCase)
			authRequired.GET("/cases/:id/messages", restCaseHandler.GetCaseMessages)
			authRequired.GET("/messages", restCaseHandler.GetInbox)
			authRequired.GET("/events", eventsHandler.Stream)

			authRequired.GET("/offers/mine", middleware.RequireRole(models.RoleAgent), restCaseHandler.GetMyOffers)
			authRequired.GET("/agent/states", middleware.RequireRole(models.RoleAgent), restCaseHandler.GetAgentStates)
			authRequired.GET("/dashboard/seller", middleware.RequireRole(models.RoleSeller), restCaseHandler.GetSellerDashboard)
		}

		adminRequired := v1.Group("/admin")
		adminRequired.Use(middleware.AuthMiddleware(cfg.JwtSecret), middleware.AdminMiddleware())
		{
			adminRequired.GET("/users", restAdminHandler.ListUsers)
			adminRequired.GET("/overview", restAdminHandler.GetOverview)
		}
	}

	return r
}

// SetupServiceRouter configures and returns the service Gin engine. rdb may be
// nil, in which case getTestEmail is unavailable.
func SetupServiceRouter(cfg *config.Config, rdb *redis.Client, shutdownChan chan<- struct{}) *gin.Engine {
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())

	r.POST("/api", func(c *gin.Context) {
		var req struct {
			Method    string          `json:"method"`
			Arguments json.RawMessage `json:"arguments"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid request format"})
			return
		}

		switch req.Method {
		case "shutdown":
			log.Println("Received shutdown command via Service API")
			c.JSON(http.StatusOK, gin.H{"success": true, "result": "Shutdown initiated"})
			select {
			case shutdownChan <- struct{}{}:
			default:
				log.Println("Shutdown channel already signaled or blocked.")
			}
		case "getTestEmail":
			if rdb == nil || !cfg.MockServices {
				c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "Mock email capture is disabled"})
				return
			}
			var args []string // ["kind", "email"]
			if err := json.Unmarshal(req.Arguments, &args); err != nil || len(args) != 2 {
				c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid arguments: expected JSON array [kind, email]"})
				return
			}
			kind, addr := email.Kind(args[0]), args[1]

			ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
			defer cancel()

			// Poll briefly; the worker may not have sent it yet.
			for i := 0; i < 10; i++ {
				msg, found, err := email.GetMockEmail(ctx, rdb, addr, kind)
				if err != nil {
					log.Printf("Service API: Error reading mock email for %s: %v", addr, err)
					c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Redis error"})
					return
				}
				if found {
					rdb.Del(ctx, email.MockEmailKey(addr, kind))
					c.JSON(http.StatusOK, gin.H{"success": true, "data": msg})
					return
				}
				time.Sleep(200 * time.Millisecond)
			}
			c.JSON(http.StatusNotFound, gin.H{"success": false, "error": fmt.Sprintf("Test email not found for %s (%s)", addr, kind)})

		default:
			c.JSON(http.StatusNotFound, gin.H{"success": false, "error": fmt.Sprintf("Unknown service method: %s", req.Method)})
		}
	})
	return r
}
