package source

import (
	"bytes"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/bmatcuk/doublestar/v4"
)

// Markers honored on extracted elements
const (
	AttrExclude = "exclude"
	AttrIgnore  = "ignore"
)

// Style is a style sheet referenced or embedded by the entry document
type Style struct {
	URL  string
	Text string
}

// Inline reports whether the sheet was embedded in the document
func (s Style) Inline() bool {
	return s.URL == ""
}

// Script is a script referenced or embedded by the entry document
type Script struct {
	URL    string
	Text   string
	Module bool
	Async  bool
	Defer  bool
}

// Inline reports whether the script was embedded in the document
func (s Script) Inline() bool {
	return s.URL == ""
}

// Source is the extracted entry document
type Source struct {
	URL        string
	PublicPath string
	Head       string
	Body       string
	Styles     []Style
	Scripts    []Script
	Excluded   []string
}

// Options control extraction
type Options struct {
	SSR bool
	// Exclude holds doublestar patterns matched against resolved asset URLs
	Exclude []string
}

// Extract parses html fetched from entryURL. Extracted elements are
// replaced with comments so the rendered template keeps its shape.
func Extract(entryURL string, html []byte, opts Options) (*Source, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse entry document: %w", err)
	}

	src := &Source{
		URL:        entryURL,
		PublicPath: PublicPath(entryURL, opts.SSR),
	}

	doc.Find("link").Each(func(_ int, s *goquery.Selection) {
		src.extractLink(s, opts)
	})
	doc.Find("style").Each(func(_ int, s *goquery.Selection) {
		if excluded(s) {
			s.Remove()
			return
		}
		if _, ok := s.Attr(AttrIgnore); ok {
			return
		}
		src.Styles = append(src.Styles, Style{Text: s.Text()})
		s.ReplaceWithHtml("<!--style extracted by micro-app-->")
	})
	doc.Find("script").Each(func(_ int, s *goquery.Selection) {
		src.extractScript(s, opts)
	})

	src.Head, err = doc.Find("head").Html()
	if err != nil {
		return nil, fmt.Errorf("failed to render head: %w", err)
	}
	src.Body, err = doc.Find("body").Html()
	if err != nil {
		return nil, fmt.Errorf("failed to render body: %w", err)
	}
	return src, nil
}

func (src *Source) extractLink(s *goquery.Selection, opts Options) {
	if excluded(s) {
		s.Remove()
		return
	}
	href, ok := s.Attr("href")
	if !ok {
		return
	}
	abs := Resolve(src.PublicPath, href)
	rel := strings.ToLower(strings.TrimSpace(s.AttrOr("rel", "")))

	switch {
	case rel == "stylesheet":
		if _, ok := s.Attr(AttrIgnore); ok {
			s.SetAttr("href", abs)
			return
		}
		if matchAny(opts.Exclude, abs) {
			src.Excluded = append(src.Excluded, abs)
			s.ReplaceWithHtml("<!--link excluded by micro-app-->")
			return
		}
		src.Styles = append(src.Styles, Style{URL: abs})
		s.ReplaceWithHtml(fmt.Sprintf("<!--link %s extracted by micro-app-->", escapeComment(abs)))
	case rel == "preload" || rel == "prefetch" || rel == "modulepreload":
		s.Remove()
	default:
		s.SetAttr("href", abs)
	}
}

func (src *Source) extractScript(s *goquery.Selection, opts Options) {
	if excluded(s) {
		s.Remove()
		return
	}
	if _, ok := s.Attr(AttrIgnore); ok {
		return
	}

	kind := strings.ToLower(strings.TrimSpace(s.AttrOr("type", "")))
	module := kind == "module"
	if !module && kind != "" && kind != "text/javascript" && kind != "application/javascript" {
		return
	}
	if _, ok := s.Attr("nomodule"); ok {
		s.Remove()
		return
	}

	script := Script{Module: module}
	_, script.Async = s.Attr("async")
	_, script.Defer = s.Attr("defer")

	if srcAttr, ok := s.Attr("src"); ok && strings.TrimSpace(srcAttr) != "" {
		abs := Resolve(src.PublicPath, srcAttr)
		if matchAny(opts.Exclude, abs) {
			src.Excluded = append(src.Excluded, abs)
			s.ReplaceWithHtml("<!--script excluded by micro-app-->")
			return
		}
		script.URL = abs
		s.ReplaceWithHtml(fmt.Sprintf("<!--script %s extracted by micro-app-->", escapeComment(abs)))
	} else {
		script.Text = s.Text()
		s.ReplaceWithHtml("<!--inline script extracted by micro-app-->")
	}
	src.Scripts = append(src.Scripts, script)
}

// AssetURLs returns the URLs of every external style sheet and script
func (src *Source) AssetURLs() []string {
	urls := make([]string, 0, len(src.Styles)+len(src.Scripts))
	for _, s := range src.Styles {
		if !s.Inline() {
			urls = append(urls, s.URL)
		}
	}
	for _, s := range src.Scripts {
		if !s.Inline() {
			urls = append(urls, s.URL)
		}
	}
	return urls
}

// PublicPath is the directory relative asset URLs resolve against. Outside
// SSR mode an extension-less entry path is treated as a directory.
func PublicPath(entryURL string, ssr bool) string {
	u, err := url.Parse(entryURL)
	if err != nil {
		return entryURL
	}
	u.RawQuery = ""
	u.Fragment = ""

	p := u.Path
	if p == "" {
		p = "/"
	}
	if !ssr && !strings.HasSuffix(p, "/") && path.Ext(p) == "" {
		p += "/"
	}
	u.Path = p[:strings.LastIndex(p, "/")+1]
	return u.String()
}

// Resolve makes ref absolute against base. URLs with a scheme, data and
// blob URLs are returned unchanged.
func Resolve(base, ref string) string {
	ref = strings.TrimSpace(ref)
	r, err := url.Parse(ref)
	if err != nil || r.IsAbs() {
		return ref
	}
	b, err := url.Parse(base)
	if err != nil {
		return ref
	}
	return b.ResolveReference(r).String()
}

func excluded(s *goquery.Selection) bool {
	_, ok := s.Attr(AttrExclude)
	return ok
}

// matchAny tests target and its host-relative path against patterns. A
// pattern without glob characters matches as a substring.
func matchAny(patterns []string, target string) bool {
	candidates := []string{target}
	if u, err := url.Parse(target); err == nil && u.Path != "" {
		candidates = append(candidates, strings.TrimPrefix(u.Path, "/"))
	}

	for _, p := range patterns {
		if p == "" {
			continue
		}
		if !strings.ContainsAny(p, "*?[{") {
			if strings.Contains(target, p) {
				return true
			}
			continue
		}
		for _, c := range candidates {
			if ok, _ := doublestar.Match(p, c); ok {
				return true
			}
		}
	}
	return false
}

func escapeComment(s string) string {
	return strings.ReplaceAll(s, "--", "%2D%2D")
}
