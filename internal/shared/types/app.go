package types

import (
	"context"
	"strings"
	"time"
)

// LifecycleState represents application lifecycle states
type LifecycleState string

const (
	StateCreated    LifecycleState = "created"
	StateLoading    LifecycleState = "loading"
	StateLoadFailed LifecycleState = "load_failed"
	StateMounted    LifecycleState = "mounted"
	StateUnmount    LifecycleState = "unmount"
)

// KeepAliveState is orthogonal to LifecycleState and only meaningful for
// applications mounted with keep-alive enabled
type KeepAliveState string

const (
	KeepAliveNone   KeepAliveState = ""
	KeepAliveHidden KeepAliveState = "keep_alive_hidden"
	KeepAliveShown  KeepAliveState = "keep_alive_shown"
)

// Lifecycle event names dispatched on the container
const (
	EventCreated     = "created"
	EventBeforeMount = "beforemount"
	EventMounted     = "mounted"
	EventUnmount     = "unmount"
	EventError       = "error"
	EventBeforeShow  = "beforeshow"
	EventAfterShow   = "aftershow"
	EventAfterHidden = "afterhidden"
)

// Container marker attributes read and rewritten across teardown
const (
	AttrName      = "name"
	AttrURL       = "url"
	AttrDestroy   = "destroy"
	AttrDestory   = "destory" // legacy misspelling, still honored
	AttrKeepAlive = "keep-alive"
	AttrClearData = "clear-data"
)

// FetchFunc retrieves raw content for a resource URL
type FetchFunc func(ctx context.Context, url string) ([]byte, error)

// LifecycleHooks are optional callbacks invoked alongside container events
type LifecycleHooks struct {
	Created     func(name string)
	BeforeMount func(name string)
	Mounted     func(name string)
	Unmount     func(name string)
	Error       func(name string, err error)
	BeforeShow  func(name string)
	AfterShow   func(name string)
	AfterHidden func(name string)
}

// AppOptions is the normalized per-application configuration
type AppOptions struct {
	Name            string   `json:"name" yaml:"name" toml:"name" validate:"required,max=128,appname"`
	URL             string   `json:"url" yaml:"url" toml:"url" validate:"required,url"`
	Shadow          bool     `json:"shadow,omitempty" yaml:"shadow" toml:"shadow"`
	Inline          bool     `json:"inline,omitempty" yaml:"inline" toml:"inline"`
	DisableScopeCSS bool     `json:"disable_scope_css,omitempty" yaml:"disable_scope_css" toml:"disable_scope_css"`
	DisableSandbox  bool     `json:"disable_sandbox,omitempty" yaml:"disable_sandbox" toml:"disable_sandbox"`
	SSR             bool     `json:"ssr,omitempty" yaml:"ssr" toml:"ssr"`
	KeepAlive       bool     `json:"keep_alive,omitempty" yaml:"keep_alive" toml:"keep_alive"`
	UMD             bool     `json:"umd,omitempty" yaml:"umd" toml:"umd"`
	BaseRoute       string   `json:"base_route,omitempty" yaml:"base_route" toml:"base_route"`
	EscapeGlobals   []string `json:"escape_globals,omitempty" yaml:"escape_globals" toml:"escape_globals"`
	ExcludeAssets   []string `json:"exclude_assets,omitempty" yaml:"exclude_assets" toml:"exclude_assets"`

	Fetch FetchFunc      `json:"-" yaml:"-" toml:"-"`
	Hooks LifecycleHooks `json:"-" yaml:"-" toml:"-"`
}

// UnmountOptions are the host-requested teardown flags
type UnmountOptions struct {
	Destroy         bool `json:"destroy"`
	ClearAliveState bool `json:"clear_alive_state"`
	ClearData       bool `json:"clear_data"`
}

// AppInfo is a read-only snapshot of an application
type AppInfo struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	URL        string         `json:"url"`
	State      LifecycleState `json:"state"`
	KeepAlive  KeepAliveState `json:"keep_alive_state,omitempty"`
	IsPrefetch bool           `json:"is_prefetch"`
	Sandboxed  bool           `json:"sandboxed"`
	CreatedAt  time.Time      `json:"created_at"`
	MountedAt  *time.Time     `json:"mounted_at,omitempty"`
}

// Stats contains orchestrator statistics
type Stats struct {
	TotalApps    int `json:"total_apps"`
	MountedApps  int `json:"mounted_apps"`
	HiddenApps   int `json:"hidden_apps"`
	PrefetchApps int `json:"prefetch_apps"`
	CachedAssets int `json:"cached_assets"`
}

// FormatAppName normalizes an application name: lowercase, trimmed, and
// restricted to [a-z0-9_-]. An empty result means the name is invalid.
func FormatAppName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		}
	}
	return b.String()
}
