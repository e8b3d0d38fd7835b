package sandbox

import (
	"fmt"
	"strings"
	"sync"

	"github.com/aymerick/douceur/css"
	"github.com/aymerick/douceur/parser"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/microhost/internal/infrastructure/logging"
)

// StyleScoper rewrites style sheets so every rule only matches inside one
// application's container
type StyleScoper struct {
	prefix string
	logger *logging.Logger

	mu    sync.RWMutex
	table map[string]string // Protected by mu
}

// NewStyleScoper creates a scoper for app
func NewStyleScoper(app string, logger *logging.Logger) *StyleScoper {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &StyleScoper{
		prefix: ContainerSelector(app),
		logger: logger,
		table:  make(map[string]string),
	}
}

// ContainerSelector is the selector matching the container of app
func ContainerSelector(app string) string {
	return fmt.Sprintf("micro-app[name=%s]", app)
}

// Prefix returns the selector every rule is confined to
func (s *StyleScoper) Prefix() string {
	return s.prefix
}

// Scope rewrites text. Unparseable text is returned unchanged.
func (s *StyleScoper) Scope(text, source string) string {
	if strings.TrimSpace(text) == "" {
		return text
	}

	sheet, err := parser.Parse(text)
	if err != nil {
		s.logger.Warn("Failed to parse style sheet, leaving it unscoped",
			zap.String("source", source),
			zap.Error(err),
		)
		return text
	}

	var b strings.Builder
	for i, rule := range sheet.Rules {
		s.scopeRule(rule)
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(renderRule(rule))
	}
	return b.String()
}

// Lookup returns the scoped form of an original selector
func (s *StyleScoper) Lookup(selector string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.table[strings.TrimSpace(selector)]
	return v, ok
}

// Len returns the number of selectors scoped so far
func (s *StyleScoper) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.table)
}

func (s *StyleScoper) scopeRule(rule *css.Rule) {
	switch rule.Kind {
	case css.QualifiedRule:
		for i, sel := range rule.Selectors {
			rule.Selectors[i] = s.scopeSelector(sel)
		}
	case css.AtRule:
		switch rule.Name {
		case "@media", "@supports", "@document":
			for _, child := range rule.Rules {
				s.scopeRule(child)
			}
		}
	}
}

func (s *StyleScoper) scopeSelector(selector string) string {
	selector = strings.TrimSpace(selector)

	s.mu.RLock()
	scoped, ok := s.table[selector]
	s.mu.RUnlock()
	if ok {
		return scoped
	}

	scoped = s.prefixSelector(selector)
	s.mu.Lock()
	s.table[selector] = scoped
	s.mu.Unlock()
	return scoped
}

func (s *StyleScoper) prefixSelector(selector string) string {
	if strings.HasPrefix(selector, s.prefix) {
		return selector
	}

	fields := strings.Fields(selector)
	rest := fields[:0]
	suffix := ""
	for i, f := range fields {
		if len(rest) == 0 && suffix == "" {
			if tail, ok := rootTail(f); ok {
				if tail != "" {
					suffix = tail
				}
				continue
			}
		}
		rest = append(rest, fields[i])
	}

	out := s.prefix + suffix
	if len(rest) > 0 {
		out += " " + strings.Join(rest, " ")
	}
	return out
}

// rootTail matches compounds naming the document root (html, body,
// :root) and returns whatever follows the tag, such as ".dark"
func rootTail(compound string) (string, bool) {
	for _, tag := range []string{":root", "html", "body"} {
		if compound == tag {
			return "", true
		}
		if strings.HasPrefix(compound, tag) && strings.ContainsRune(".#[:", rune(compound[len(tag)])) {
			return compound[len(tag):], true
		}
	}
	return "", false
}

func renderRule(rule *css.Rule) string {
	if rule.Kind == css.QualifiedRule && len(rule.Declarations) == 0 {
		return strings.Join(rule.Selectors, ", ") + " {}"
	}
	return rule.String()
}
