package http

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/layer-3/dair/service"
)

// SetupRouter sets up the Gin router. ws serves the validator channel.
func SetupRouter(
	authService *service.AuthService,
	placeService *service.PlaceService,
	ws http.Handler,
	corsOrigins []string,
) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	corsCfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}
	if len(corsOrigins) == 0 {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = corsOrigins
	}
	router.Use(cors.New(corsCfg))

	auth := NewAuthHandlers(authService)
	places := NewPlaceHandlers(placeService)

	v1 := router.Group("/v1")
	{
		user := v1.Group("/user")
		user.POST("/signin", auth.SignIn)
		user.POST("/refresh", auth.Refresh)
		user.POST("/logout", auth.Logout)

		protected := v1.Group("")
		protected.Use(AuthMiddleware(authService))
		protected.GET("/air-quality", places.ListPlaces)
		protected.POST("/place/create", places.CreatePlace)
	}

	if ws != nil {
		router.GET("/ws", gin.WrapH(ws))
	}
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return router
}
