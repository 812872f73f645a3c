package middleware

import (
	"net/http"

	"github.com/rs/cors"

	"mercator-hq/tollgate/pkg/config"
)

// CORS answers preflight requests and adds Cross-Origin Resource Sharing
// headers for browser clients. A disabled configuration returns the handler
// unchanged.
//
//	server:
//	  cors:
//	    enabled: true
//	    allowed_origins: ["https://app.example.com"]
//	    allow_credentials: true
func CORS(cfg config.CORSConfig) func(http.Handler) http.Handler {
	if !cfg.Enabled {
		return func(next http.Handler) http.Handler { return next }
	}

	c := cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   cfg.AllowedMethods,
		AllowedHeaders:   cfg.AllowedHeaders,
		ExposedHeaders:   cfg.ExposedHeaders,
		MaxAge:           cfg.MaxAge,
		AllowCredentials: cfg.AllowCredentials,
	})
	return c.Handler
}
