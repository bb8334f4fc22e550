package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RouteRegistrar defines anything that can wire its routes into a Gin group.
type RouteRegistrar interface {
	// RegisterRoutes should add one or more routes on the provided router group.
	RegisterRoutes(rg *gin.RouterGroup)
}

// RegisterRoutes wires up the root endpoints and the API v1 group. Extra
// middleware runs on every route.
func RegisterRoutes(r *gin.Engine, regs []RouteRegistrar, mw ...gin.HandlerFunc) {
	// Global middleware
	r.Use(gin.Logger(), gin.Recovery())
	r.Use(mw...)

	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "Welcome to SmartSpider!"})
	})
	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// API v1
	api := r.Group("/api/v1")
	for _, reg := range regs {
		reg.RegisterRoutes(api)
	}
}
