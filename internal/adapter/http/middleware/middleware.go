package middleware

import (
	"net/http"
	"time"

	"nostr-escrow-gateway/config"
	"nostr-escrow-gateway/internal/core/domain"
	"nostr-escrow-gateway/internal/core/ports"
	"nostr-escrow-gateway/pkg/response"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

func newRequestID() string {
	return uuid.New().String()
}

// Context keys
const (
	CtxIdentity  = "identity"
	CtxRequestID = "request_id"
)

// RequireNostrAuth verifies the request's identity assertion and attaches
// the caller identity to the gin context. Unauthenticated requests are
// rejected; trust-level enforcement stays in the services, which refuse
// weak identities on money-moving operations.
func RequireNostrAuth(verifier ports.IdentityVerifier, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, err := verifier.Verify(c.Request)
		if err != nil {
			log.Warn().Err(err).
				Str("path", c.Request.URL.Path).
				Msg("request authentication failed")
			response.Error(c, err)
			c.Abort()
			return
		}
		c.Set(CtxIdentity, identity)
		c.Next()
	}
}

// OptionalNostrAuth attaches the caller identity when the request carries a
// verifiable credential, and lets it proceed unauthenticated otherwise. The
// handler behind it decides what an anonymous caller may see.
func OptionalNostrAuth(verifier ports.IdentityVerifier, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, err := verifier.Verify(c.Request)
		if err != nil {
			log.Debug().Err(err).
				Str("path", c.Request.URL.Path).
				Msg("optional authentication skipped")
			c.Next()
			return
		}
		c.Set(CtxIdentity, identity)
		c.Next()
	}
}

// Identity extracts the verified caller identity from the gin context.
func Identity(c *gin.Context) (domain.Identity, bool) {
	v, ok := c.Get(CtxIdentity)
	if !ok {
		return domain.Identity{}, false
	}
	identity, ok := v.(domain.Identity)
	return identity, ok
}

// RequestID attaches a request id to the context for response envelopes
// and log correlation. An inbound X-Request-ID is honored.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = newRequestID()
		}
		c.Set(CtxRequestID, id)
		c.Header("X-Request-ID", id)
		c.Next()
	}
}

// RequestLogger creates a middleware that logs every HTTP request.
func RequestLogger(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)
		status := c.Writer.Status()

		event := log.Info()
		if status >= http.StatusInternalServerError {
			event = log.Error()
		} else if status >= http.StatusBadRequest {
			event = log.Warn()
		}

		event.
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("latency", latency).
			Str("client_ip", c.ClientIP()).
			Msg("http request")
	}
}

// Recovery creates a panic recovery middleware.
func Recovery(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Str("path", c.Request.URL.Path).Msg("panic recovered")
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error_code": "SYS_001",
					"message":    "Internal server error",
				})
			}
		}()
		c.Next()
	}
}

// MaxBodySize limits the request body to n bytes.
func MaxBodySize(n int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, n)
		c.Next()
	}
}

// CORS builds the CORS middleware from config. An empty origin list allows
// all origins; credentials are only allowed with an explicit list.
func CORS(cfg config.CORSConfig) gin.HandlerFunc {
	corsCfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Authorization", "Content-Type", "X-Request-ID", "X-Identity-Pubkey", "X-Identity-Signature"},
		ExposeHeaders: []string{"X-Request-ID", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		MaxAge:        12 * time.Hour,
	}
	if len(cfg.AllowedOrigins) == 0 {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = cfg.AllowedOrigins
		corsCfg.AllowCredentials = true
	}
	return cors.New(corsCfg)
}
