package logger

import (
	"github.com/teranos/hubrun/sym"
	"go.uber.org/zap"
)

// Symbol-aware logging helpers.
// These log with the glyph as a structured field, not in the message, so logs
// stay queryable by symbol and the console encoder can render it as a prefix.
//
// Usage:
//
//	logger.PulseInfow("Batch completed", "batch_id", id)

// PulseInfow logs an info message with the Pulse symbol (꩜)
func PulseInfow(msg string, keysAndValues ...interface{}) {
	SymbolInfow(sym.Pulse, msg, keysAndValues...)
}

// PulseWarnw logs a warning message with the Pulse symbol (꩜)
func PulseWarnw(msg string, keysAndValues ...interface{}) {
	if Logger != nil {
		Logger.Warnw(msg, append([]interface{}{FieldSymbol, sym.Pulse}, keysAndValues...)...)
	}
}

// PulseOpenInfow logs an info message with the PulseOpen symbol (✿)
// Used for batch start and worker spawn
func PulseOpenInfow(msg string, keysAndValues ...interface{}) {
	SymbolInfow(sym.PulseOpen, msg, keysAndValues...)
}

// PulseCloseWarnw logs a warning with the PulseClose symbol (❀)
// Used for cancellation and shutdown
func PulseCloseWarnw(msg string, keysAndValues ...interface{}) {
	if Logger != nil {
		Logger.Warnw(msg, append([]interface{}{FieldSymbol, sym.PulseClose}, keysAndValues...)...)
	}
}

// SymbolInfow logs an info message tagged with an arbitrary glyph
func SymbolInfow(symbol, msg string, keysAndValues ...interface{}) {
	if Logger != nil {
		Logger.Infow(msg, append([]interface{}{FieldSymbol, symbol}, keysAndValues...)...)
	}
}

// WithSymbol returns a logger that tags every record with symbol
func WithSymbol(l *zap.SugaredLogger, symbol string) *zap.SugaredLogger {
	return l.With(FieldSymbol, symbol)
}
