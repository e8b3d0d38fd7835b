// Package logging wraps uber/zap for the host.
//
// Production loggers write JSON lines; development loggers write colored
// console output. Every domain package accepts a *Logger and falls back to
// NewNop when given nil.
//
//	logger, err := logging.NewProduction("info")
//	logger.ForApp("shop").Warn("app does not exist")
package logging
