package sym

import (
	"testing"
	"unicode/utf8"
)

func TestSymbolToCommandAndCommandToSymbolAreBidirectional(t *testing.T) {
	for symbol, cmd := range SymbolToCommand {
		got, ok := CommandToSymbol[cmd]
		if !ok {
			t.Errorf("SymbolToCommand has %q → %q, but CommandToSymbol has no entry for %q", symbol, cmd, cmd)
			continue
		}
		if got != symbol {
			t.Errorf("bidirectional mismatch: SymbolToCommand[%q] = %q, but CommandToSymbol[%q] = %q", symbol, cmd, cmd, got)
		}
	}
	if len(SymbolToCommand) != len(CommandToSymbol) {
		t.Errorf("table sizes differ: %d vs %d", len(SymbolToCommand), len(CommandToSymbol))
	}
}

func TestGlyphsAreSingleRunes(t *testing.T) {
	for _, g := range []string{AM, Pulse, Hub, PulseOpen, PulseClose, DB, Output} {
		if n := utf8.RuneCountInString(g); n != 1 {
			t.Errorf("glyph %q has %d runes, want 1", g, n)
		}
	}
}

func TestForCommand(t *testing.T) {
	if got := ForCommand("run"); got != Pulse {
		t.Errorf("ForCommand(run) = %q, want %q", got, Pulse)
	}
	if got := ForCommand("nope"); got != "" {
		t.Errorf("ForCommand(nope) = %q, want empty", got)
	}
}
