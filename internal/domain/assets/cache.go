package assets

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/saintfish/chardet"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/GriffinCanCode/microhost/internal/infrastructure/logging"
	"github.com/GriffinCanCode/microhost/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/microhost/internal/shared/types"
)

var (
	ErrFetchFailed = errors.New("asset fetch failed")
	ErrNoFetcher   = errors.New("no fetch function configured")
)

// Status is the fetch status of a cache entry
type Status string

const (
	StatusPending Status = "pending"
	StatusDone    Status = "done"
	StatusError   Status = "error"
)

// Entry is an immutable snapshot of one cached resource. The cache
// replaces entries instead of mutating them.
type Entry struct {
	URL         string
	Content     []byte
	ContentType string
	Charset     string
	Status      Status
	Err         error
	FetchedAt   time.Time
}

// Text returns the content as a string
func (e *Entry) Text() string {
	return string(e.Content)
}

// Cache is the process-wide read-through asset cache
type Cache struct {
	entries  cmap.ConcurrentMap[string, *Entry]
	inflight singleflight.Group
	fetch    types.FetchFunc
	logger   *logging.Logger
	metrics  *monitoring.Metrics
}

// NewCache creates a cache. fetch is the default used when a request does
// not bring its own.
func NewCache(fetch types.FetchFunc, logger *logging.Logger) *Cache {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Cache{
		entries: cmap.New[*Entry](),
		fetch:   fetch,
		logger:  logger.Named("assets"),
	}
}

// WithMetrics adds metrics tracking to the cache
func (c *Cache) WithMetrics(metrics *monitoring.Metrics) *Cache {
	c.metrics = metrics
	return c
}

// Get returns the entry for url, fetching it on a miss. fetch overrides
// the default fetch function when non-nil. Concurrent misses for the same
// url share one fetch; the shared fetch is detached from the cancellation
// of whichever caller started it.
func (c *Cache) Get(ctx context.Context, url string, fetch types.FetchFunc) (*Entry, error) {
	if e, ok := c.entries.Get(url); ok && e.Status == StatusDone {
		c.metrics.RecordAssetRequest("hit")
		return e, nil
	}

	if fetch == nil {
		fetch = c.fetch
	}
	if fetch == nil {
		return nil, ErrNoFetcher
	}

	fetchCtx := context.WithoutCancel(ctx)
	v, err, shared := c.inflight.Do(url, func() (interface{}, error) {
		if e, ok := c.entries.Get(url); ok && e.Status == StatusDone {
			return e, nil
		}
		return c.load(fetchCtx, url, fetch)
	})
	if shared {
		c.metrics.RecordAssetRequest("shared")
	} else {
		c.metrics.RecordAssetRequest("miss")
	}

	entry, _ := v.(*Entry)
	return entry, err
}

func (c *Cache) load(ctx context.Context, url string, fetch types.FetchFunc) (*Entry, error) {
	c.entries.Set(url, &Entry{URL: url, Status: StatusPending})

	data, err := fetch(ctx, url)
	if err != nil {
		wrapped := fmt.Errorf("%w: %s: %v", ErrFetchFailed, url, err)
		failed := &Entry{URL: url, Status: StatusError, Err: wrapped, FetchedAt: time.Now()}
		c.entries.Set(url, failed)
		c.metrics.RecordAssetFetch("error")
		c.logger.Warn("Asset fetch failed", zap.String("url", url), zap.Error(err))
		return failed, wrapped
	}

	contentType, charset := detect(url, data)
	done := &Entry{
		URL:         url,
		Content:     data,
		ContentType: contentType,
		Charset:     charset,
		Status:      StatusDone,
		FetchedAt:   time.Now(),
	}
	c.entries.Set(url, done)
	c.metrics.RecordAssetFetch("done")
	return done, nil
}

// Peek returns the current entry for url without fetching
func (c *Cache) Peek(url string) (*Entry, bool) {
	return c.entries.Get(url)
}

// Has reports whether url is cached and fetched successfully
func (c *Cache) Has(url string) bool {
	e, ok := c.entries.Get(url)
	return ok && e.Status == StatusDone
}

// Delete evicts url
func (c *Cache) Delete(url string) {
	c.entries.Remove(url)
}

// Len returns the number of entries in any status
func (c *Cache) Len() int {
	return c.entries.Count()
}

var extensionTypes = map[string]string{
	".css":  "text/css",
	".js":   "application/javascript",
	".mjs":  "application/javascript",
	".html": "text/html",
	".htm":  "text/html",
	".json": "application/json",
	".svg":  "image/svg+xml",
}

// detect derives content type and charset. Extensions win for text
// formats that content sniffing cannot tell apart.
func detect(url string, data []byte) (string, string) {
	clean := url
	if i := strings.IndexAny(clean, "?#"); i >= 0 {
		clean = clean[:i]
	}

	contentType, ok := extensionTypes[strings.ToLower(path.Ext(clean))]
	if !ok {
		contentType = mimetype.Detect(data).String()
		if i := strings.Index(contentType, ";"); i >= 0 {
			contentType = contentType[:i]
		}
	}

	if !isText(contentType) || len(data) == 0 {
		return contentType, ""
	}
	result, err := chardet.NewTextDetector().DetectBest(data)
	if err != nil {
		return contentType, ""
	}
	return contentType, result.Charset
}

func isText(contentType string) bool {
	return strings.HasPrefix(contentType, "text/") ||
		contentType == "application/javascript" ||
		contentType == "application/json" ||
		contentType == "image/svg+xml"
}
