package middleware

import (
	"slices"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/GriffinCanCode/microhost/internal/infrastructure/config"
)

var exposedHeaders = []string{"Content-Length", "X-Request-ID"}

// CORS builds the cross-origin middleware for the control API. A "*" entry
// allows every origin; credentials are only allowed for explicit origins.
func CORS(cfg config.CORSConfig) gin.HandlerFunc {
	c := cors.Config{
		AllowMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders: []string{
			"Content-Type",
			"Content-Length",
			"Accept",
			"Origin",
			"Cache-Control",
			"X-Requested-With",
		},
		ExposeHeaders: exposedHeaders,
		MaxAge:        cfg.MaxAge,
	}
	if c.MaxAge <= 0 {
		c.MaxAge = 12 * time.Hour
	}

	if len(cfg.Origins) == 0 || slices.Contains(cfg.Origins, "*") {
		c.AllowAllOrigins = true
	} else {
		c.AllowOrigins = cfg.Origins
		c.AllowCredentials = true
	}
	return cors.New(c)
}
