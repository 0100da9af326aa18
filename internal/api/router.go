package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"eventmarket/server/internal/api/handlers"
	"eventmarket/server/internal/api/middleware"
	"eventmarket/server/internal/config"
	"eventmarket/server/internal/email"
	"eventmarket/server/internal/models"
	"eventmarket/server/internal/services"
	"eventmarket/server/internal/storage"
	"eventmarket/server/internal/tasks"
)

// Services bundles what the public API is built from. Storage may be nil.
type Services struct {
	Users         services.IUserService
	Listings      services.IListingService
	Quotes        services.IQuoteService
	Conversations services.IConversationService
	Reviews       services.IReviewService
	Storage       storage.IS3Storage
	Dispatcher    *tasks.Dispatcher
}

// SetupRouter configures the main Gin engine. The returned func stops the rate limiter janitor.
func SetupRouter(cfg *config.Config, svc Services) (*gin.Engine, func()) {
	r := gin.Default()

	rateLimiter := middleware.NewRateLimiterMiddleware(cfg)

	// Order matters: CORS preflights must not consume tokens.
	r.Use(middleware.CORSMiddleware(cfg.CorsAllowedOrigin))
	r.Use(rateLimiter.Limit())

	jsonApiHandler := handlers.NewJsonApiHandler(
		cfg, svc.Users, svc.Listings, svc.Conversations, svc.Reviews, svc.Storage, svc.Dispatcher)
	restListingHandler := handlers.NewRestListingHandler(svc.Listings)
	restUserHandler := handlers.NewRestUserHandler(svc.Users, svc.Listings, svc.Reviews)
	restQuoteHandler := handlers.NewRestQuoteHandler(svc.Quotes, svc.Conversations, svc.Dispatcher)
	restConversationHandler := handlers.NewRestConversationHandler(svc.Conversations)

	v1 := r.Group("/v1")
	{
		v1.POST("/api", jsonApiHandler.HandleRequest)

		v1.GET("/listing/search", restListingHandler.SearchListings)
		v1.GET("/listing/:id", restListingHandler.GetListingByID)

		v1.GET("/user/:id", restUserHandler.GetUserByID)
		v1.GET("/user/:id/listing", restListingHandler.GetUserListings)
		v1.GET("/user/:id/reviews", restUserHandler.GetUserReviews)

		v1.GET("/ping", func(c *gin.Context) {
			c.String(http.StatusOK, "pong")
		})

		authRequired := v1.Group("/")
		authRequired.Use(middleware.AuthMiddleware(cfg.JwtSecret))
		{
			authRequired.GET("/inbox", restConversationHandler.GetInbox)
			authRequired.GET("/conversations", restConversationHandler.GetConversations)
			authRequired.GET("/conversations/:id/messages", restConversationHandler.GetMessages)

			authRequired.GET("/quotes", restQuoteHandler.ListQuotes)
			authRequired.GET("/quotes/:id", restQuoteHandler.GetQuote)
			authRequired.POST("/quotes/:id/:action", restQuoteHandler.Transition)
		}

		issuers := v1.Group("/quotes")
		issuers.Use(middleware.AuthMiddleware(cfg.JwtSecret), middleware.RoleMiddleware(models.RoleProvider, models.RoleBusiness))
		{
			issuers.POST("", restQuoteHandler.CreateQuote)
			issuers.DELETE("/:id", restQuoteHandler.DeleteQuote)
		}
	}

	return r, rateLimiter.Close
}

// SetupServiceRouter configures the internal service engine. rdb may be nil, in which case
// getTestEmail reports that no mock mailbox is available.
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
			fmt.Println("Received shutdown command via Service API")
			c.JSON(http.StatusOK, gin.H{"success": true, "result": "Shutdown initiated"})
			select {
			case shutdownChan <- struct{}{}:
				fmt.Println("Shutdown signal sent successfully.")
			default:
				fmt.Println("Shutdown channel already signaled or blocked.")
			}
		case "getTestEmail":
			getTestEmail(c, rdb, req.Arguments)
		default:
			c.JSON(http.StatusNotFound, gin.H{"success": false, "error": fmt.Sprintf("Unknown service method: %s", req.Method)})
		}
	})
	return r
}

// getTestEmail expects [kind, email] and polls the mock mailbox briefly. The entry is
// consumed on read.
func getTestEmail(c *gin.Context, rdb *redis.Client, rawArgs json.RawMessage) {
	if rdb == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "error": "Mock mailbox requires MOCK_SERVICES=true"})
		return
	}
	var args []string
	if err := json.Unmarshal(rawArgs, &args); err != nil || len(args) != 2 {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid arguments: expected JSON array [kind, email]"})
		return
	}
	redisKey := email.MockEmailKey(args[1], email.Kind(args[0]))

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()
	var emailJson string
	var getErr error
	for i := 0; i < 10; i++ {
		emailJson, getErr = rdb.GetDel(ctx, redisKey).Result()
		if getErr == nil {
			break
		}
		if !errors.Is(getErr, redis.Nil) {
			log.Printf("Service API: Error getting key %s from Redis: %v", redisKey, getErr)
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Redis error"})
			return
		}
		time.Sleep(200 * time.Millisecond)
	}
	if getErr != nil {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": fmt.Sprintf("Test email not found in Redis for key %s", redisKey)})
		return
	}

	var emailData map[string]interface{}
	if err := json.Unmarshal([]byte(emailJson), &emailData); err != nil {
		log.Printf("Service API: Error unmarshalling email data from key %s: %v", redisKey, err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Failed to parse stored email data"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": emailData})
}
