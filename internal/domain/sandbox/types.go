package sandbox

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrScriptTimeout = errors.New("script execution timeout exceeded")
	ErrReleased      = errors.New("sandbox context released")
	ErrNotStarted    = errors.New("sandbox context not started")
)

// Config defines sandbox configuration
type Config struct {
	Timeout       time.Duration // Execution timeout per script or callback
	EnableConsole bool          // Capture console.log/warn/error/info
	MaxCallStack  int           // Maximum JS call stack depth
}

// DefaultConfig returns the default sandbox configuration
func DefaultConfig() Config {
	return Config{
		Timeout:       5 * time.Second,
		EnableConsole: true,
		MaxCallStack:  1024,
	}
}

// Options describes the application a context runs
type Options struct {
	Name          string
	URL           string
	PublicPath    string
	BaseRoute     string
	EscapeGlobals []string
	UMD           bool
	// Raw runs scripts directly against the VM global scope
	Raw bool
}

// Script is one executable unit extracted from the entry document
type Script struct {
	URL    string
	Source string
	Inline bool
	Module bool
}

// Result holds execution result
type Result struct {
	Value    interface{}   // Return value
	Console  []LogEntry    // Console output
	Duration time.Duration // Execution time
}

// LogEntry represents console output
type LogEntry struct {
	Level   string    // log, warn, error, info
	Message string    // Log message
	Time    time.Time // Timestamp
}

// StopOptions control what an unmount releases
type StopOptions struct {
	ClearData bool
	Destroy   bool
}

// ScriptError is a failure caught at the sandbox boundary
type ScriptError struct {
	App    string
	Script string
	Err    error
}

func (e *ScriptError) Error() string {
	if e.Script == "" {
		return fmt.Sprintf("app %s: %v", e.App, e.Err)
	}
	return fmt.Sprintf("app %s: script %s: %v", e.App, e.Script, e.Err)
}

func (e *ScriptError) Unwrap() error {
	return e.Err
}

// DOMChange represents a DOM modification made by application code
type DOMChange struct {
	Type     string      // set_attribute, set_text, set_html
	Selector string      // Selector the element was found with
	Property string      // Property name
	Value    interface{} // New value
}
