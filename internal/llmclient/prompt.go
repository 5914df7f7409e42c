package llmclient

import (
	"fmt"
	"strings"

	"github.com/xkilldash9x/webpilot/api/schemas"
	"github.com/xkilldash9x/webpilot/internal/agent"
)

// systemPrompt fixes the model's role and the exact reply contract. The
// parameter names mirror the action vocabulary one-to-one so the parser
// never needs to translate.
const systemPrompt = `You are a web browsing agent. You are given a user task, the
history of actions already taken, and a screenshot of the current page. Decide the
single next action that makes the most progress on the task.

Reply with exactly one JSON object and nothing else:

{
  "thought": "<short reasoning for this step>",
  "action": "<one of the action names below>",
  "params": { <only the parameters the action needs> }
}

Actions and their required parameters:
- "click":        {"start_region": [x1, y1, x2, y2]}  click the center of the box
- "double_click": {"start_region": [x1, y1, x2, y2]}
- "right_click":  {"start_region": [x1, y1, x2, y2]}
- "drag":         {"start_region": [...], "end_region": [...]}  press, move, release
- "type":         {"text": "..."}  end the text with \n to press Enter after typing
- "hotkey":       {"key_name": "Enter"}  a single named key such as Enter, Tab, Escape
- "scroll":       {"start_region": [...], "scroll_delta": [dx, dy]}  positive dy scrolls down
- "wait":         {}  pause briefly and observe again
- "switch_tab":   {"tab_index": 0}  omit tab_index to switch to the newest tab
- "finished":     {"answer": "..."}  the task is complete; answer is optional
- "call_user":    {"question": "..."}  you are blocked and need the user's input

Rules:
- Coordinates are pixel positions on the screenshot.
- Click an input field before typing into it.
- Use "call_user" for logins, CAPTCHAs, payments, or any ambiguity you cannot
  resolve from the page alone.
- Use "finished" only when the task is genuinely done.`

// historyWindow bounds how many recent steps are replayed to the model.
const historyWindow = 10

func renderUserPrompt(state *schemas.PageState, instruction string, history []agent.HistoryEntry) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Task: %s\n\n", instruction)

	fmt.Fprintf(&sb, "Current page:\n  URL: %s\n  Title: %s\n\n", state.URL, state.Title)

	sb.WriteString("Previous steps:\n")
	start := 0
	if len(history) > historyWindow {
		start = len(history) - historyWindow
		fmt.Fprintf(&sb, "  (%d earlier steps omitted)\n", start)
	}
	for _, entry := range history[start:] {
		fmt.Fprintf(&sb, "  %d. %s", entry.Step, entry.Action.Kind)
		if entry.Thought != "" {
			fmt.Fprintf(&sb, " (%s)", entry.Thought)
		}
		sb.WriteString("\n")
	}

	sb.WriteString("\nThe screenshot of the current page follows. Decide the next action.")
	return sb.String()
}
