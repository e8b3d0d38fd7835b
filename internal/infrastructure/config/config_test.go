package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/microhost/internal/shared/types"
)

type attrMap map[string]string

func (a attrMap) GetAttribute(name string) (string, bool) {
	v, ok := a[name]
	return v, ok
}

func (a attrMap) names() []string {
	out := make([]string, 0, len(a))
	for k := range a {
		out = append(out, k)
	}
	return out
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PORT", "9100")
	t.Setenv("PREFETCH_IDLE_WINDOW", "50ms")
	t.Setenv("SCRIPT_TIMEOUT", "2s")
	t.Setenv("FETCH_RETRIES", "0")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "9100", cfg.Server.Port)
	assert.Equal(t, 50*time.Millisecond, cfg.Prefetch.IdleWindow)
	assert.Equal(t, 2*time.Second, cfg.Sandbox.ScriptTimeout)
	assert.Equal(t, 2, cfg.Prefetch.Workers)
	assert.Equal(t, 0, cfg.Fetch.Retries)
	assert.Equal(t, []string{"*"}, cfg.CORS.Origins)
}

func TestLoadListsAndLimits(t *testing.T) {
	t.Setenv("CORS_ORIGINS", "http://a.test,http://b.test")
	t.Setenv("API_RPS", "0")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.CORS.Origins)
	assert.Zero(t, cfg.Limits.RPS)
	assert.Equal(t, 200, cfg.Limits.Burst)
}

func TestNormalizeOptions(t *testing.T) {
	tests := []struct {
		name    string
		opts    types.AppOptions
		want    string
		wantErr error
	}{
		{name: "lowercases and strips", opts: types.AppOptions{Name: " My App! ", URL: "http://localhost:3000/"}, want: "myapp"},
		{name: "empty after format", opts: types.AppOptions{Name: "!!!", URL: "http://localhost:3000/"}, wantErr: ErrInvalidName},
		{name: "missing url", opts: types.AppOptions{Name: "app"}, wantErr: ErrInvalidURL},
		{name: "relative url", opts: types.AppOptions{Name: "app", URL: "not a url"}, wantErr: ErrInvalidURL},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeOptions(tt.opts)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Name)
		})
	}
}

func TestParseContainerOptionsLegacySpellings(t *testing.T) {
	attrs := attrMap{
		"name":            "Shop",
		"url":             "http://localhost:3001/",
		"disableScopecss": "",
		"disable-sandbox": "true",
		"keep-alive":      "",
		"shadowDOM":       "false",
	}

	opts, err := ParseContainerOptions(attrs, attrs.names(), types.AppOptions{})
	require.NoError(t, err)
	assert.Equal(t, "shop", opts.Name)
	assert.True(t, opts.DisableScopeCSS)
	assert.True(t, opts.DisableSandbox)
	assert.True(t, opts.KeepAlive)
	assert.False(t, opts.Shadow)
}

func TestNormalizeOptionMap(t *testing.T) {
	opts, err := NormalizeOptionMap(map[string]interface{}{
		"name":           "Billing",
		"url":            "http://localhost:3002/",
		"disableSandbox": true,
		"escape_globals": []interface{}{"__HOST_THEME__"},
	}, types.AppOptions{})
	require.NoError(t, err)
	assert.Equal(t, "billing", opts.Name)
	assert.True(t, opts.DisableSandbox)
	assert.Equal(t, []string{"__HOST_THEME__"}, opts.EscapeGlobals)
}

func TestParseManifest(t *testing.T) {
	yamlDoc := []byte(`
apps:
  - name: Dashboard
    url: http://localhost:3001/
    keep_alive: true
prefetch:
  - name: reports
    url: http://localhost:3003/
global_assets:
  css:
    - http://cdn.local/reset.css
`)
	m, err := ParseManifest(yamlDoc, ".yaml")
	require.NoError(t, err)
	require.Len(t, m.Apps, 1)
	assert.Equal(t, "dashboard", m.Apps[0].Name)
	assert.True(t, m.Apps[0].KeepAlive)
	assert.Len(t, m.Prefetch, 1)
	assert.Equal(t, []string{"http://cdn.local/reset.css"}, m.GlobalAssets.CSS)

	opts, ok := m.Lookup("dashboard")
	assert.True(t, ok)
	assert.Equal(t, "http://localhost:3001/", opts.URL)

	tomlDoc := []byte(`
[[apps]]
name = "orders"
url = "http://localhost:3004/"
disable_sandbox = true
`)
	m, err = ParseManifest(tomlDoc, ".toml")
	require.NoError(t, err)
	require.Len(t, m.Apps, 1)
	assert.True(t, m.Apps[0].DisableSandbox)

	_, err = ParseManifest(tomlDoc, ".ini")
	assert.Error(t, err)
}
