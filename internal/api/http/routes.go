package http

import (
	"github.com/gin-gonic/gin"
)

// Register mounts the host API on router
func (h *Handlers) Register(router gin.IRouter) {
	router.GET("/", h.Root)
	router.GET("/health", h.Health)

	api := router.Group("/api")
	api.GET("/apps", h.ListApps)
	api.GET("/apps/:name", h.GetApp)
	api.POST("/apps/:name/mount", h.MountApp)
	api.POST("/apps/:name/unmount", h.UnmountApp)
	api.POST("/apps/:name/hide", h.HideApp)
	api.GET("/active", h.ListActive)
	api.POST("/unmount-all", h.UnmountAll)
	api.POST("/prefetch", h.Prefetch)
	api.GET("/page", h.Page)

	api.POST("/bus/global", h.PublishGlobal)
	api.GET("/bus/global/:event", h.LastGlobal)
	api.DELETE("/bus/global/:event", h.UnsubscribeGlobal)
	api.POST("/bus/apps/:name", h.PublishApp)
	api.GET("/bus/apps/:name/:event", h.LastApp)
	api.DELETE("/bus/apps/:name/:event", h.UnsubscribeApp)
}
