package api

import (
	"github.com/gin-contrib/cors"
	"github.com/wb-go/wbf/ginext"

	"ticketgate/cmd/middleware"
	"ticketgate/internal/service"
	"ticketgate/internal/webhook"
)

type Routers struct {
	Service    service.Service
	Dispatcher *webhook.Dispatcher
}

func NewRouters(r *Routers) *ginext.Engine {
	app := ginext.New("release")

	app.Use(middleware.LoggingMiddleware())
	app.Use(middleware.MetricsMiddleware())
	app.Use(cors.Default())

	apiGroup := app.Group("/v1")

	apiGroup.POST("/events", r.Service.CreateEvent)
	apiGroup.GET("/events", r.Service.GetAllEvents)
	apiGroup.GET("/events/:id", r.Service.GetInfo)
	apiGroup.POST("/events/:id/register", r.Service.Register)

	apiGroup.POST("/registrations/:id/cancel", r.Service.Cancel)
	apiGroup.GET("/registrations/ticket/:code", r.Service.TicketLookup)

	// One route per gateway id; the dispatcher resolves the adapter.
	apiGroup.POST("/webhooks/:gateway", r.Dispatcher.Handle)

	app.GET("/health", func(c *ginext.Context) {
		c.JSON(200, map[string]string{"status": "ok"})
	})
	app.GET("/metrics", middleware.PrometheusHandler())

	return app
}
