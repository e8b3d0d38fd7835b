package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/microhost/internal/domain/app"
	"github.com/GriffinCanCode/microhost/internal/domain/assets"
	"github.com/GriffinCanCode/microhost/internal/domain/container"
	"github.com/GriffinCanCode/microhost/internal/infrastructure/config"
	"github.com/GriffinCanCode/microhost/internal/infrastructure/logging"
	"github.com/GriffinCanCode/microhost/internal/shared/types"
)

// unmountTimeout bounds how long a request waits for a terminal event
const unmountTimeout = 30 * time.Second

// Handlers contains all HTTP handlers
type Handlers struct {
	manager   *app.Manager
	page      *container.Page
	fetcher   *assets.HTTPFetcher
	scheduler *assets.Scheduler
	metrics   *HandlerMetrics
	logger    *logging.Logger
}

// NewHandlers creates a new handler set. fetcher and scheduler are
// optional and only feed the status endpoints.
func NewHandlers(
	manager *app.Manager,
	page *container.Page,
	fetcher *assets.HTTPFetcher,
	scheduler *assets.Scheduler,
	metrics *HandlerMetrics,
	logger *logging.Logger,
) *Handlers {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Handlers{
		manager:   manager,
		page:      page,
		fetcher:   fetcher,
		scheduler: scheduler,
		metrics:   metrics,
		logger:    logger.Named("http"),
	}
}

// MountRequest attaches a new container for an application
type MountRequest struct {
	URL     string                 `json:"url" binding:"required"`
	Options map[string]interface{} `json:"options"`
}

// PublishRequest publishes data on a bus channel
type PublishRequest struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data" binding:"required"`
}

// Root handles the service banner
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"service": "microhost",
		"version": "0.1.0",
	})
}

// Health handles detailed health check
func (h *Handlers) Health(c *gin.Context) {
	resp := gin.H{
		"status":       "healthy",
		"orchestrator": h.manager.Stats(),
	}
	if h.scheduler != nil {
		resp["prefetch_pending"] = h.scheduler.Pending()
	}
	if h.fetcher != nil {
		breakers := make(map[string]string)
		for host, state := range h.fetcher.BreakerStates() {
			breakers[host] = state.String()
		}
		resp["breakers"] = breakers
	}
	c.JSON(http.StatusOK, resp)
}

// ListApps lists every registered application
func (h *Handlers) ListApps(c *gin.Context) {
	apps := h.manager.ListAll()
	if apps == nil {
		apps = []types.AppInfo{}
	}
	c.JSON(http.StatusOK, gin.H{
		"apps":  apps,
		"stats": h.manager.Stats(),
	})
}

// ListActive lists the names of active applications
func (h *Handlers) ListActive(c *gin.Context) {
	excludeHidden := false
	if raw := c.Query("exclude_hidden"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "exclude_hidden must be a boolean"})
			return
		}
		excludeHidden = v
	}

	names := h.manager.ListActive(excludeHidden)
	if names == nil {
		names = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"apps": names})
}

// GetApp returns one application snapshot
func (h *Handlers) GetApp(c *gin.Context) {
	name := c.Param("name")
	info, ok := h.manager.Get(name)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": app.ErrNotFound.Error(), "name": name})
		return
	}
	c.JSON(http.StatusOK, info)
}

// MountApp creates a container in the host page and attaches it
func (h *Handlers) MountApp(c *gin.Context) {
	done := h.metrics.Track("mount")
	name := c.Param("name")

	var req MountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		done("invalid")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	base, _ := h.manager.Declared(name)
	opts, err := config.NormalizeOptionMap(req.Options, types.AppOptions{
		Name:          name,
		URL:           req.URL,
		EscapeGlobals: base.EscapeGlobals,
		ExcludeAssets: base.ExcludeAssets,
		Fetch:         base.Fetch,
		Hooks:         base.Hooks,
	})
	if err != nil {
		done("invalid")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	// Lists cannot travel as attributes
	if len(opts.EscapeGlobals) > 0 || len(opts.ExcludeAssets) > 0 {
		if err := h.manager.Declare(opts); err != nil {
			done("invalid")
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	el := h.page.CreateElement(ContainerAttributes(opts))
	if err := h.page.Append(c.Request.Context(), el); err != nil {
		status := mountErrorStatus(err)
		done("error")
		h.logger.Warn("Mount failed", zap.String("app", opts.Name), zap.Error(err))
		resp := gin.H{"error": err.Error()}
		if info, ok := h.manager.Get(opts.Name); ok && status != http.StatusConflict {
			resp["app"] = info
		}
		c.JSON(status, resp)
		return
	}

	done("success")
	info, _ := h.manager.Get(opts.Name)
	c.JSON(http.StatusOK, gin.H{"success": true, "app": info})
}

// UnmountApp tears an application down
func (h *Handlers) UnmountApp(c *gin.Context) {
	done := h.metrics.Track("unmount")
	name := c.Param("name")

	opts, ok := bindUnmountOptions(c)
	if !ok {
		done("invalid")
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), unmountTimeout)
	defer cancel()

	found, err := h.manager.UnmountApp(ctx, name, opts)
	if err != nil {
		done("error")
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": err.Error(), "name": name})
		return
	}
	done("success")
	c.JSON(http.StatusOK, gin.H{"success": found, "name": name})
}

// UnmountAll tears every application down, one after another
func (h *Handlers) UnmountAll(c *gin.Context) {
	done := h.metrics.Track("unmount_all")
	opts, ok := bindUnmountOptions(c)
	if !ok {
		done("invalid")
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), unmountTimeout)
	defer cancel()

	if err := h.manager.UnmountAll(ctx, opts); err != nil {
		done("error")
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": err.Error()})
		return
	}
	done("success")
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// HideApp detaches a mounted application while keeping it alive
func (h *Handlers) HideApp(c *gin.Context) {
	name := c.Param("name")
	el, ok := h.page.Find(name)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "container not found", "name": name})
		return
	}

	el.SetAttribute(types.AttrKeepAlive, "")
	if err := el.Remove(c.Request.Context()); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "name": name})
		return
	}

	info, _ := h.manager.Get(name)
	c.JSON(http.StatusOK, gin.H{"success": info.KeepAlive == types.KeepAliveHidden, "app": info})
}

// Prefetch queues applications for idle-time loading
func (h *Handlers) Prefetch(c *gin.Context) {
	var items []app.PrefetchItem
	if err := c.ShouldBindJSON(&items); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.manager.Prefetch(c.Request.Context(), items); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"queued": len(items)})
}

// Page renders the host document
func (h *Handlers) Page(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(h.page.HTML()))
}

func bindUnmountOptions(c *gin.Context) (types.UnmountOptions, bool) {
	var opts types.UnmountOptions
	if c.Request.ContentLength == 0 {
		return opts, true
	}
	if err := c.ShouldBindJSON(&opts); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return opts, false
	}
	return opts, true
}

func mountErrorStatus(err error) int {
	switch {
	case errors.Is(err, config.ErrInvalidName), errors.Is(err, config.ErrInvalidURL):
		return http.StatusBadRequest
	case errors.Is(err, app.ErrAlreadyMounted), errors.Is(err, container.ErrAlreadyConnected):
		return http.StatusConflict
	default:
		return http.StatusBadGateway
	}
}

// ContainerAttributes renders options as container attributes
func ContainerAttributes(opts types.AppOptions) map[string]string {
	attrs := map[string]string{
		types.AttrName: opts.Name,
		types.AttrURL:  opts.URL,
	}
	flags := map[string]bool{
		"shadow":           opts.Shadow,
		"inline":           opts.Inline,
		"disable-scopecss": opts.DisableScopeCSS,
		"disable-sandbox":  opts.DisableSandbox,
		"ssr":              opts.SSR,
		"keep-alive":       opts.KeepAlive,
		"umd":              opts.UMD,
	}
	for attr, on := range flags {
		if on {
			attrs[attr] = ""
		}
	}
	if opts.BaseRoute != "" {
		attrs["baseroute"] = opts.BaseRoute
	}
	return attrs
}
