package sandbox

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScopeTwoTierResolution(t *testing.T) {
	shared := NewSharedGlobals()
	shared.Set("theme", "dark")

	scope := NewScope(shared, nil)

	v, ok := scope.Get("theme")
	assert.True(t, ok)
	assert.Equal(t, "dark", v)

	scope.Set("theme", "light")
	v, _ = scope.Get("theme")
	assert.Equal(t, "light", v)
	hostValue, _ := shared.Get("theme")
	assert.Equal(t, "dark", hostValue, "local writes must not reach the shared store")

	scope.Reset()
	v, _ = scope.Get("theme")
	assert.Equal(t, "dark", v)
}

func TestScopeEscapeAllowList(t *testing.T) {
	shared := NewSharedGlobals()
	a := NewScope(shared, []string{"__APP_BUS_*"})
	b := NewScope(shared, nil)

	tests := []struct {
		key     string
		escapes bool
	}{
		{"location", true},
		{"history", true},
		{"__MICRO_APP_SHARED__", true},
		{"__APP_BUS_state", true},
		{"document", false},
		{"myGlobal", false},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			assert.Equal(t, tt.escapes, a.Escapes(tt.key))
		})
	}

	a.Set("location", "/orders")
	a.Set("__APP_BUS_state", 1)
	a.Set("private", true)

	v, ok := b.Get("location")
	assert.True(t, ok)
	assert.Equal(t, "/orders", v)

	v, ok = b.Get("__APP_BUS_state")
	assert.True(t, ok, "escaped writes are visible to every scope")
	assert.Equal(t, 1, v)

	assert.False(t, b.Has("private"))
	assert.True(t, a.HasLocal("private"))
}

func TestScopeDeleteAndKeys(t *testing.T) {
	shared := NewSharedGlobals()
	shared.Set("host", 1)
	scope := NewScope(shared, nil)

	scope.Set("a", 1)
	scope.Set("history", "h")
	assert.Equal(t, []string{"a", "history", "host"}, scope.Keys())

	scope.Delete("a")
	scope.Delete("history")
	assert.False(t, scope.Has("a"))
	_, ok := shared.Get("history")
	assert.False(t, ok)
	assert.Equal(t, []string{"host"}, scope.Keys())
}

func TestScopeInvalidPatternIgnored(t *testing.T) {
	scope := NewScope(nil, []string{"[", ""})
	assert.False(t, scope.Escapes("["))
	assert.NotNil(t, scope.Shared())
}
