package sandbox

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStyleScoperSelectors(t *testing.T) {
	scoper := NewStyleScoper("orders", nil)
	prefix := "micro-app[name=orders]"

	tests := []struct {
		name     string
		selector string
		want     string
	}{
		{"class", ".btn", prefix + " .btn"},
		{"descendant", "div > p", prefix + " div > p"},
		{"body maps to container", "body", prefix},
		{"html body chain", "html body .x", prefix + " .x"},
		{"root", ":root", prefix},
		{"body with class", "body.dark .x", prefix + ".dark .x"},
		{"already scoped", prefix + " .y", prefix + " .y"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, scoper.scopeSelector(tt.selector))
		})
	}
}

func TestStyleScoperSheet(t *testing.T) {
	scoper := NewStyleScoper("orders", nil)

	out := scoper.Scope(`
		.a, .b { color: red; }
		@media (max-width: 600px) { .c { display: none; } }
		@keyframes spin { from { opacity: 0; } to { opacity: 1; } }
		@font-face { font-family: x; src: url(x.woff); }
	`, "inline")

	assert.Contains(t, out, "micro-app[name=orders] .a, micro-app[name=orders] .b {")
	assert.Contains(t, out, "micro-app[name=orders] .c {")
	assert.Contains(t, out, "@keyframes spin")
	assert.NotContains(t, out, "micro-app[name=orders] from")
	assert.Contains(t, out, "@font-face")

	scoped, ok := scoper.Lookup(".c")
	require.True(t, ok)
	assert.Equal(t, "micro-app[name=orders] .c", scoped)
	assert.Equal(t, 3, scoper.Len())
}

func TestStyleScoperIsolatesApps(t *testing.T) {
	a := NewStyleScoper("a", nil).Scope(".title { color: red; }", "a.css")
	b := NewStyleScoper("b", nil).Scope(".title { color: blue; }", "b.css")

	assert.True(t, strings.HasPrefix(a, "micro-app[name=a] .title"))
	assert.True(t, strings.HasPrefix(b, "micro-app[name=b] .title"))
}

func TestStyleScoperEmpty(t *testing.T) {
	scoper := NewStyleScoper("a", nil)
	assert.Equal(t, "  ", scoper.Scope("  ", "empty.css"))
	assert.Equal(t, "micro-app[name=a] .x {}", scoper.Scope(".x {}", "empty-rule.css"))
}
