package sandbox

import (
	"strings"
	"sync"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const hostPage = `<html><head><title>host</title></head><body>
	<p id="host" class="item">host</p>
	<micro-app name="a">
		<micro-app-head><style>.x{}</style></micro-app-head>
		<micro-app-body>
			<p id="first" class="item">one</p>
			<p class="item other">two</p>
		</micro-app-body>
	</micro-app>
</body></html>`

func newTestDOM(t *testing.T) (*goquery.Document, *DOMScope) {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(hostPage))
	require.NoError(t, err)
	return doc, NewDOMScope(doc.Find("micro-app[name=a]"), &sync.Mutex{})
}

func TestDOMScopeQuery(t *testing.T) {
	_, dom := newTestDOM(t)

	tests := []struct {
		name     string
		selector string
		wantLen  int
	}{
		{"class selector", ".item", 2},
		{"tag selector", "p", 2},
		{"ID outside container", "#host", 0},
		{"ID inside container", "#first", 1},
		{"body rewrite", "body p", 2},
		{"head rewrite", "head style", 1},
		{"html root", "html", 1},
		{"invalid selector", "p[", 0},
		{"empty selector", "", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantLen, dom.QueryAll(tt.selector).Length())
		})
	}
}

func TestDOMScopeLookups(t *testing.T) {
	_, dom := newTestDOM(t)

	assert.Equal(t, 1, dom.ByID("first").Length())
	assert.Equal(t, 0, dom.ByID("host").Length())
	assert.Equal(t, 1, dom.ByClass("other").Length())
	assert.Equal(t, 2, dom.ByTag("p").Length())
	assert.Equal(t, 1, dom.Head().Length())
	assert.Equal(t, 1, dom.Body().Length())
	assert.Equal(t, "one", dom.Text(dom.Query(".item")))
}

func TestDOMScopeChanges(t *testing.T) {
	doc, dom := newTestDOM(t)

	sel := dom.ByID("first")
	dom.SetAttr(sel, "#first", "data-state", "on")
	dom.SetText(sel, "#first", "changed")

	v, ok := doc.Find("#first").Attr("data-state")
	assert.True(t, ok)
	assert.Equal(t, "on", v)
	assert.Equal(t, "changed", doc.Find("#first").Text())

	changes := dom.Changes()
	require.Len(t, changes, 2)
	assert.Equal(t, "set_attribute", changes[0].Type)
	assert.Equal(t, "set_text", changes[1].Type)
}
