package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/fuzumoe/smartspider-api/internal/proxy"
)

type ProxyHandler struct {
	proxies *proxy.Manager
}

func NewProxyHandler(m *proxy.Manager) *ProxyHandler { return &ProxyHandler{proxies: m} }

// @Summary Register proxies
// @Tags    proxies
// @Accept  json
// @Produce json
// @Param   input body map[string][]string true "{proxies}"
// @Success 202 {object} map[string]int "pool stats"
// @Router  /api/proxies [post]
func (h *ProxyHandler) Add(c *gin.Context) {
	var in struct {
		Proxies []string `json:"proxies" binding:"required,min=1"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	h.proxies.AddAll(c.Request.Context(), in.Proxies)
	c.JSON(http.StatusAccepted, h.proxies.Stats())
}

// @Summary List proxies with health state
// @Tags    proxies
// @Produce json
// @Success 200 {array} proxy.Info
// @Router  /api/proxies [get]
func (h *ProxyHandler) List(c *gin.Context) {
	c.JSON(http.StatusOK, h.proxies.List())
}

// @Summary Pool statistics
// @Tags    proxies
// @Produce json
// @Success 200 {object} proxy.Stats
// @Router  /api/proxies/stats [get]
func (h *ProxyHandler) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, h.proxies.Stats())
}

// @Summary Re-check every proxy
// @Tags    proxies
// @Produce json
// @Success 200 {object} proxy.Stats
// @Router  /api/proxies/check [post]
func (h *ProxyHandler) CheckAll(c *gin.Context) {
	h.proxies.CheckAll(c.Request.Context())
	c.JSON(http.StatusOK, h.proxies.Stats())
}

// @Summary Drop banned and failing proxies
// @Tags    proxies
// @Produce json
// @Success 200 {object} map[string]int "{removed}"
// @Router  /api/proxies/cleanup [post]
func (h *ProxyHandler) Cleanup(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"removed": h.proxies.Cleanup()})
}

// @Summary Remove one proxy
// @Tags    proxies
// @Produce json
// @Param   url query string true "proxy URL"
// @Success 200 {object} map[string]string "removed"
// @Router  /api/proxies [delete]
func (h *ProxyHandler) Remove(c *gin.Context) {
	url := c.Query("url")
	if url == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "url query parameter is required"})
		return
	}
	if !h.proxies.Remove(url) {
		c.JSON(http.StatusNotFound, gin.H{"error": "proxy not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "removed"})
}

func (h *ProxyHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/proxies", h.Add)
	rg.GET("/proxies", h.List)
	rg.DELETE("/proxies", h.Remove)
	rg.GET("/proxies/stats", h.Stats)
	rg.POST("/proxies/check", h.CheckAll)
	rg.POST("/proxies/cleanup", h.Cleanup)
}
