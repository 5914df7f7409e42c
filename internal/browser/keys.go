package browser

import "github.com/chromedp/chromedp/kb"

// namedKeys maps the hotkey identifiers the decision model emits to the raw
// key strings the CDP keyboard layer expects.
var namedKeys = map[string]string{
	"Enter":      kb.Enter,
	"Return":     kb.Enter,
	"Tab":        kb.Tab,
	"Escape":     kb.Escape,
	"Esc":        kb.Escape,
	"Backspace":  kb.Backspace,
	"Delete":     kb.Delete,
	"ArrowUp":    kb.ArrowUp,
	"ArrowDown":  kb.ArrowDown,
	"ArrowLeft":  kb.ArrowLeft,
	"ArrowRight": kb.ArrowRight,
	"Home":       kb.Home,
	"End":        kb.End,
	"PageUp":     kb.PageUp,
	"PageDown":   kb.PageDown,
	"Space":      " ",
}

// resolveKeyName translates a named key to its raw form. Unknown names pass
// through unchanged so single printable characters still work as hotkeys.
func resolveKeyName(name string) string {
	if raw, ok := namedKeys[name]; ok {
		return raw
	}
	return name
}
