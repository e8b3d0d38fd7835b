// Package source extracts the template, style sheets and scripts of an
// application's entry document.
package source
