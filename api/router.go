// Package api exposes the allocation store over HTTP. The coordinator is
// the primary consumer; the route shapes mirror the platform's REST
// conventions.
package api

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"goventry.io/ordering"
)

func NewRouter(svc ordering.Service, logger *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware("allocation-api"))

	h := NewHandler(svc, logger)

	r.GET("/health", h.HealthCheck)

	v1 := r.Group("/api/v1")
	{
		v1.GET("/stock/:productID", h.ListStock)
		v1.GET("/orders/:orderID/lines", h.ListOrderLines)
		v1.GET("/orders/:orderID/lines/:productID", h.GetOrderLine)
		v1.GET("/orders/:orderID/allocations", h.ListAllocations)
		v1.PUT("/orders/:orderID/allocations", h.UpsertAllocation)
		v1.DELETE("/orders/:orderID/allocations/:allocationID", h.DeleteAllocation)
	}

	return r
}
