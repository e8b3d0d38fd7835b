package config

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/GriffinCanCode/microhost/internal/shared/types"
)

var (
	ErrInvalidName = errors.New("invalid application name")
	ErrInvalidURL  = errors.New("invalid application url")
)

// Attributes is the raw attribute view of a container element.
type Attributes interface {
	GetAttribute(name string) (string, bool)
}

// legacyBoolFields maps every accepted spelling to its canonical option.
var legacyBoolFields = map[string]string{
	"shadow":            "shadow",
	"shadowdom":         "shadow",
	"inline":            "inline",
	"disable-scopecss":  "disable_scope_css",
	"disablescopecss":   "disable_scope_css",
	"disable_scope_css": "disable_scope_css",
	"disable-sandbox":   "disable_sandbox",
	"disablesandbox":    "disable_sandbox",
	"disable_sandbox":   "disable_sandbox",
	"ssr":               "ssr",
	"keep-alive":        "keep_alive",
	"keepalive":         "keep_alive",
	"keep_alive":        "keep_alive",
	"umd":               "umd",
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		_ = validate.RegisterValidation("appname", func(fl validator.FieldLevel) bool {
			v := fl.Field().String()
			return v != "" && types.FormatAppName(v) == v
		})
	})
	return validate
}

// NormalizeOptions canonicalizes the name and validates the options.
func NormalizeOptions(opts types.AppOptions) (types.AppOptions, error) {
	raw := opts.Name
	opts.Name = types.FormatAppName(opts.Name)
	if opts.Name == "" {
		return opts, fmt.Errorf("%w: %q", ErrInvalidName, raw)
	}
	opts.URL = strings.TrimSpace(opts.URL)

	if err := validatorInstance().Struct(opts); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				if fe.Field() == "URL" {
					return opts, fmt.Errorf("%w: %q", ErrInvalidURL, opts.URL)
				}
			}
		}
		return opts, fmt.Errorf("%w: %v", ErrInvalidName, err)
	}
	return opts, nil
}

// ParseContainerOptions builds options from container attributes. Boolean
// flags are present-means-true unless the value is "false"; legacy
// spellings are folded into canonical fields.
func ParseContainerOptions(attrs Attributes, names []string, base types.AppOptions) (types.AppOptions, error) {
	opts := base
	if v, ok := attrs.GetAttribute(types.AttrName); ok {
		opts.Name = v
	}
	if v, ok := attrs.GetAttribute(types.AttrURL); ok {
		opts.URL = v
	}
	if v, ok := attrs.GetAttribute("baseroute"); ok {
		opts.BaseRoute = v
	}

	for _, attr := range names {
		canonical, ok := legacyBoolFields[strings.ToLower(attr)]
		if !ok {
			continue
		}
		v, _ := attrs.GetAttribute(attr)
		setBoolOption(&opts, canonical, v != "false")
	}

	return NormalizeOptions(opts)
}

// NormalizeOptionMap maps a loosely-typed option map (manifest entries,
// JSON bodies) onto AppOptions.
func NormalizeOptionMap(m map[string]interface{}, base types.AppOptions) (types.AppOptions, error) {
	opts := base
	for key, value := range m {
		lower := strings.ToLower(key)
		switch lower {
		case "name":
			opts.Name, _ = value.(string)
		case "url":
			opts.URL, _ = value.(string)
		case "baseroute", "base_route", "base-route":
			opts.BaseRoute, _ = value.(string)
		case "escape_globals", "escapeglobals":
			opts.EscapeGlobals = toStrings(value)
		case "exclude_assets", "excludeassets":
			opts.ExcludeAssets = toStrings(value)
		default:
			if canonical, ok := legacyBoolFields[lower]; ok {
				b, _ := value.(bool)
				setBoolOption(&opts, canonical, b)
			}
		}
	}
	return NormalizeOptions(opts)
}

func setBoolOption(opts *types.AppOptions, canonical string, v bool) {
	switch canonical {
	case "shadow":
		opts.Shadow = v
	case "inline":
		opts.Inline = v
	case "disable_scope_css":
		opts.DisableScopeCSS = v
	case "disable_sandbox":
		opts.DisableSandbox = v
	case "ssr":
		opts.SSR = v
	case "keep_alive":
		opts.KeepAlive = v
	case "umd":
		opts.UMD = v
	}
}

func toStrings(v interface{}) []string {
	switch vv := v.(type) {
	case []string:
		return vv
	case []interface{}:
		out := make([]string, 0, len(vv))
		for _, item := range vv {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		return strings.Split(vv, ",")
	}
	return nil
}
