package api

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"flight-status-backend/config"
	"flight-status-backend/internal/mw"
)

// NewRouter creates and configures a new Gin router.
func NewRouter(handler *Handler, auth mw.Authenticator, cfg *config.ServerConfig) *gin.Engine {
	r := gin.Default()

	if cfg.RequestIPHeader != "" {
		r.TrustedPlatform = cfg.RequestIPHeader
	}
	if err := r.SetTrustedProxies(nil); err != nil {
		log.Printf("Warning: failed to reset trusted proxies: %v", err)
	}

	rateLimiter := mw.RateLimiter(rate.Limit(cfg.RateLimitPerSec), cfg.RateLimitBurst)
	requireAuth := mw.RequireAuth(auth)

	// API group
	api := r.Group("/api")
	api.Use(allowOrigins(cfg.AllowedOrigins))
	{
		// GET /api/push/vapid_public_key
		api.GET("/push/vapid_public_key", rateLimiter, handler.GetVAPIDPublicKey)

		// CORS preflight
		api.OPTIONS("/*path", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	}

	authed := api.Group("")
	authed.Use(requireAuth, rateLimiter)
	{
		// GET /api/flights/status?flightId=&bookingId=
		authed.GET("/flights/status", handler.StreamStatus)

		// GET|POST /api/flights/{flightId}/status
		authed.GET("/flights/:flightId/status", handler.GetFlightStatus)
		authed.POST("/flights/:flightId/status", handler.PostFlightStatus)

		authed.GET("/push/subscriptions", handler.GetSubscription)
		authed.PUT("/push/subscriptions", handler.PutSubscription)
		authed.DELETE("/push/subscriptions", handler.DeleteSubscription)
	}

	return r
}

// allowOrigins echoes allowed origins so browsers can open the event stream
// and send credentials cross-origin.
func allowOrigins(origins []string) gin.HandlerFunc {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[o] = true
	}
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" && (allowed[origin] || allowed["*"]) {
			h := c.Writer.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
			h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			h.Add("Vary", "Origin")
		}
		c.Next()
	}
}
