// Package schemas holds the data shapes shared between the browser layer,
// the executor, and the loop controller.
package schemas

// MouseButton mirrors the CDP mouse button strings.
type MouseButton string

const (
	MouseButtonLeft  MouseButton = "left"
	MouseButtonRight MouseButton = "right"
)

// PageState is one observation of the active page: everything the decision
// collaborator gets to see for a step.
type PageState struct {
	URL         string `json:"url"`
	Title       string `json:"title"`
	Markup      string `json:"-"`
	ScriptText  string `json:"-"`
	VisibleText string `json:"-"`
	Screenshot  []byte `json:"-"`
}

// PageInfo describes one open tab in the session, in opening order.
type PageInfo struct {
	Index    int    `json:"index"`
	TargetID string `json:"target_id"`
	URL      string `json:"url"`
	Title    string `json:"title"`
}

// DispatchResult reports what an action dispatch did to the page set. The
// executor compares the open-page count before and after every non-marker
// action so a popup opened by a click is never silently missed.
type DispatchResult struct {
	PagesBefore   int        `json:"pages_before"`
	PagesAfter    int        `json:"pages_after"`
	NewPageOpened bool       `json:"new_page_opened"`
	Pages         []PageInfo `json:"pages,omitempty"`
}
