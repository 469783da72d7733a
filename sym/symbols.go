// Package sym defines the glyphs hubrun uses to tag log lines, CLI output and events.
// These symbols are stable across the CLI, the server event stream and the logs.
package sym

// Primary glyphs, one per command family.
const (
	AM    = "≡" // am: configuration and credentials
	Pulse = "꩜" // pulse: batch runs, workers, polling
	Hub   = "⟶" // hub: calls to the remote task service
)

// Lifecycle and infrastructure glyphs.
const (
	PulseOpen  = "✿" // batch start, worker spawn
	PulseClose = "❀" // batch end, cancellation, shutdown
	DB         = "⊔" // ledger and call tracking storage
	Output     = "▤" // saved output files
)

// SymbolToCommand maps a glyph to the CLI command that owns it.
var SymbolToCommand = map[string]string{
	AM:    "am",
	Pulse: "run",
	Hub:   "balance",
	DB:    "budget",
}

// CommandToSymbol is the reverse of SymbolToCommand.
var CommandToSymbol = map[string]string{
	"am":      AM,
	"run":     Pulse,
	"balance": Hub,
	"budget":  DB,
}

// ForCommand returns the glyph for a command, or an empty string.
func ForCommand(cmd string) string {
	return CommandToSymbol[cmd]
}
